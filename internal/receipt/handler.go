package receipt

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/bandroomhq/settlement/internal"
	"github.com/bandroomhq/settlement/internal/transport"
	"github.com/bandroomhq/settlement/pkg/logger"
)

type ServiceAPI interface {
	Attach(ctx context.Context, paymentID, uploaderID int64, dto AttachReceiptDTO) (*Receipt, error)
	List(ctx context.Context, paymentID int64) ([]*Receipt, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger.L()),
		Service:     service,
	}
}

func (h *Handler) AttachReceipt(w http.ResponseWriter, r *http.Request) {
	actorID := internal.UserIDFromContext(r.Context())
	if actorID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	paymentID, ok := h.paymentID(w, r)
	if !ok {
		return
	}

	var dto AttachReceiptDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("AttachReceipt: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rc, err := h.Service.Attach(r.Context(), paymentID, actorID, dto)
	if err != nil {
		h.Logger.Error("AttachReceipt: service error", "error", err, "payment_id", paymentID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, rc)
}

func (h *Handler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	actorID := internal.UserIDFromContext(r.Context())
	if actorID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	paymentID, ok := h.paymentID(w, r)
	if !ok {
		return
	}

	receipts, err := h.Service.List(r.Context(), paymentID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"receipts": receipts,
	})
}

func (h *Handler) paymentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.WriteError(w, http.StatusBadRequest, "invalid payment ID")
		return 0, false
	}
	return id, true
}
