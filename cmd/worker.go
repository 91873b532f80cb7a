package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bandroomhq/settlement/internal"
	bandpg "github.com/bandroomhq/settlement/internal/band/postgres"
	"github.com/bandroomhq/settlement/internal/core/events"
	"github.com/bandroomhq/settlement/internal/donation"
	donationpg "github.com/bandroomhq/settlement/internal/donation/postgres"
	"github.com/bandroomhq/settlement/internal/notifier"
	"github.com/bandroomhq/settlement/internal/payment"
	paymentpg "github.com/bandroomhq/settlement/internal/payment/postgres"
	"github.com/bandroomhq/settlement/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start and manage the background workers: the auto-confirm sweeper, the recurring donation scheduler, and the event bus.`,
}

// Auto-confirm sweeper command
var sweeperWorkerCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Start the auto-confirm sweeper",
	Long:  `Start the sweeper that auto-confirms pending payments whose counterparty window has elapsed`,
	Run: func(cmd *cobra.Command, args []string) {
		startSweeperWorker()
	},
}

// Recurring donation scheduler command
var schedulerWorkerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Start the recurring donation scheduler",
	Long:  `Start the scheduler that generates due installments and marks overdue ones missed`,
	Run: func(cmd *cobra.Command, args []string) {
		startSchedulerWorker()
	},
}

// Event Bus worker command
var eventWorkerCmd = &cobra.Command{
	Use:   "events",
	Short: "Start event bus worker",
	Long:  `Start the event bus and forward settlement events to the configured webhook`,
	Run: func(cmd *cobra.Command, args []string) {
		startEventWorker()
	},
}

var (
	sweepInterval    time.Duration
	scheduleInterval time.Duration
)

type workerDeps struct {
	config          *internal.Config
	paymentService  *payment.Service
	donationService *donation.Service
	cleanup         func()
}

func initWorkerDeps() (*workerDeps, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize orm: %w", err)
	}

	lg := logger.L()

	eventBus := events.NewEventBus(lg)
	if config.Notifier.WebhookURL != "" {
		wh := notifier.New(config.Notifier.WebhookURL, config.Notifier.RequestTimeout, config.Notifier.MaxRetryTime, lg)
		wh.Register(eventBus)
	}

	directory := bandpg.NewBandDirectory(gormDB)

	paymentRepo := paymentpg.NewPaymentRepository(gormDB)
	paymentService := payment.NewService(paymentRepo, directory, eventBus, lg, config.Settlement.AutoConfirmWindow)

	donationRepo := donationpg.NewDonationRepository(gormDB)
	donationService := donation.NewService(donationRepo, directory, eventBus, lg, config.Settlement.SubmissionGrace, config.Settlement.MissedThreshold)

	return &workerDeps{
		config:          config,
		paymentService:  paymentService,
		donationService: donationService,
		cleanup: func() {
			_ = db.Close()
		},
	}, nil
}

func startSweeperWorker() {
	deps, err := initWorkerDeps()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize worker: %v\n", err)
		os.Exit(1)
	}
	defer deps.cleanup()

	lg := logger.L()

	interval := deps.config.Settlement.SweepInterval
	if sweepInterval > 0 {
		interval = sweepInterval
	}

	sweeper := payment.NewSweeper(deps.paymentService, lg, interval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sweeper.Run(ctx)

	// run one pass immediately so a restart never delays overdue confirmations
	sweeper.Tick(ctx, time.Now())

	lg.Info("sweeper worker is running. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	lg.Info("received signal, shutting down sweeper worker", "signal", sig)
	cancel()
	lg.Info("sweeper worker shutdown complete")
}

func startSchedulerWorker() {
	deps, err := initWorkerDeps()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize worker: %v\n", err)
		os.Exit(1)
	}
	defer deps.cleanup()

	lg := logger.L()

	interval := deps.config.Settlement.ScheduleInterval
	if scheduleInterval > 0 {
		interval = scheduleInterval
	}

	scheduler := donation.NewScheduler(deps.donationService, lg, interval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go scheduler.Run(ctx)

	// catch up on installments missed while the worker was down
	scheduler.Tick(ctx, time.Now())

	lg.Info("scheduler worker is running. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	lg.Info("received signal, shutting down scheduler worker", "signal", sig)
	cancel()
	lg.Info("scheduler worker shutdown complete")
}

func startEventWorker() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	lg := logger.L()

	eventBus := events.NewEventBus(lg)

	if config.Notifier.WebhookURL != "" {
		wh := notifier.New(config.Notifier.WebhookURL, config.Notifier.RequestTimeout, config.Notifier.MaxRetryTime, lg)
		wh.Register(eventBus)
	} else {
		for _, eventType := range events.AllSettlementEventTypes {
			eventBus.Subscribe(eventType, func(ctx context.Context, event events.Event) error {
				lg.Info("received settlement event",
					"event_id", event.EventID(),
					"event_type", event.EventType(),
					"payload", event.Payload())
				return nil
			})
		}
	}

	lg.Info("event bus worker started. Waiting for events...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	lg.Info("received signal, shutting down event bus", "signal", sig)
	lg.Info("event bus shutdown complete")
}

func init() {
	sweeperWorkerCmd.Flags().DurationVar(&sweepInterval, "interval", 0, "Sweep interval (overrides config)")
	schedulerWorkerCmd.Flags().DurationVar(&scheduleInterval, "interval", 0, "Schedule interval (overrides config)")

	workerCmd.AddCommand(sweeperWorkerCmd)
	workerCmd.AddCommand(schedulerWorkerCmd)
	workerCmd.AddCommand(eventWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
