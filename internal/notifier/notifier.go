package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/bandroomhq/settlement/internal/core/events"
)

// Notifier bridges ledger events to the external notification service over
// a webhook. Delivery is fire-and-forget: retries happen here with backoff,
// and a delivery that still fails is logged and dropped, never propagated
// back to the transition that produced the event.
type Notifier struct {
	webhookURL   string
	client       *http.Client
	logger       *slog.Logger
	maxRetryTime time.Duration
}

func New(webhookURL string, requestTimeout, maxRetryTime time.Duration, logger *slog.Logger) *Notifier {
	return &Notifier{
		webhookURL:   webhookURL,
		client:       &http.Client{Timeout: requestTimeout},
		logger:       logger,
		maxRetryTime: maxRetryTime,
	}
}

// Register subscribes the notifier to every settlement event type.
func (n *Notifier) Register(bus *events.EventBus) {
	for _, eventType := range events.AllSettlementEventTypes {
		bus.Subscribe(eventType, n.Handle)
	}
}

func (n *Notifier) Handle(ctx context.Context, event events.Event) error {
	if n.webhookURL == "" {
		n.logger.Debug("notifier webhook not configured, dropping event", "event_type", event.EventType())
		return nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"id":          event.EventID(),
		"type":        event.EventType(),
		"occurred_at": event.OccurredAt(),
		"payload":     event.Payload(),
	})
	if err != nil {
		n.logger.Error("failed to marshal event", "error", err, "event_id", event.EventID())
		return nil
	}

	operation := func() (struct{}, error) {
		return struct{}{}, n.post(ctx, body)
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(n.maxRetryTime),
	)
	if err != nil {
		n.logger.Error("notification delivery failed, dropping event",
			"error", err,
			"event_id", event.EventID(),
			"event_type", event.EventType())
		return nil
	}

	n.logger.Info("notification delivered", "event_id", event.EventID(), "event_type", event.EventType())
	return nil
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("webhook rejected event: %d", resp.StatusCode))
	}
	return nil
}
