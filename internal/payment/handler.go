package payment

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
	RecordPayment(ctx context.Context, bandID, initiatorID int64, dto RecordPaymentDTO) (*ManualPayment, error)
	ConfirmPayment(ctx context.Context, bandID, paymentID, actorID int64) (*ManualPayment, error)
	DisputePayment(ctx context.Context, bandID, paymentID, actorID int64, dto DisputePaymentDTO) (*ManualPayment, error)
	ResolvePayment(ctx context.Context, bandID, paymentID, governorID int64, dto ResolvePaymentDTO) (*ManualPayment, error)
	GetPayment(ctx context.Context, bandID, paymentID, actorID int64) (*ManualPayment, error)
	ListPayments(ctx context.Context, bandID int64, status string, limit, offset int) ([]*ManualPayment, error)
	PendingConfirmations(ctx context.Context, userID int64) ([]*ManualPayment, error)
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

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	actorID := internal.UserIDFromContext(r.Context())
	if actorID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	bandID, ok := h.bandID(w, r)
	if !ok {
		return
	}

	var dto RecordPaymentDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("RecordPayment: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.Service.RecordPayment(r.Context(), bandID, actorID, dto)
	if err != nil {
		h.Logger.Error("RecordPayment: service error", "error", err, "band_id", bandID, "actor_id", actorID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	actorID := internal.UserIDFromContext(r.Context())
	if actorID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	bandID, ok := h.bandID(w, r)
	if !ok {
		return
	}
	paymentID, ok := h.paymentID(w, r)
	if !ok {
		return
	}

	p, err := h.Service.GetPayment(r.Context(), bandID, paymentID, actorID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	actorID := internal.UserIDFromContext(r.Context())
	if actorID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	bandID, ok := h.bandID(w, r)
	if !ok {
		return
	}

	status := r.URL.Query().Get("status")
	limit, offset := pagination(r)

	payments, err := h.Service.ListPayments(r.Context(), bandID, status, limit, offset)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"payments": payments,
		"limit":    limit,
		"offset":   offset,
	})
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	actorID := internal.UserIDFromContext(r.Context())
	if actorID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	bandID, ok := h.bandID(w, r)
	if !ok {
		return
	}
	paymentID, ok := h.paymentID(w, r)
	if !ok {
		return
	}

	p, err := h.Service.ConfirmPayment(r.Context(), bandID, paymentID, actorID)
	if err != nil {
		h.Logger.Error("ConfirmPayment: service error", "error", err, "payment_id", paymentID, "actor_id", actorID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) DisputePayment(w http.ResponseWriter, r *http.Request) {
	actorID := internal.UserIDFromContext(r.Context())
	if actorID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	bandID, ok := h.bandID(w, r)
	if !ok {
		return
	}
	paymentID, ok := h.paymentID(w, r)
	if !ok {
		return
	}

	var dto DisputePaymentDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("DisputePayment: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.Service.DisputePayment(r.Context(), bandID, paymentID, actorID, dto)
	if err != nil {
		h.Logger.Error("DisputePayment: service error", "error", err, "payment_id", paymentID, "actor_id", actorID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) ResolvePayment(w http.ResponseWriter, r *http.Request) {
	actorID := internal.UserIDFromContext(r.Context())
	if actorID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	bandID, ok := h.bandID(w, r)
	if !ok {
		return
	}
	paymentID, ok := h.paymentID(w, r)
	if !ok {
		return
	}

	var dto ResolvePaymentDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("ResolvePayment: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.Service.ResolvePayment(r.Context(), bandID, paymentID, actorID, dto)
	if err != nil {
		h.Logger.Error("ResolvePayment: service error", "error", err, "payment_id", paymentID, "actor_id", actorID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, p)
}

// PendingConfirmations lists the records awaiting the calling user's
// counterparty action across all bands.
func (h *Handler) PendingConfirmations(w http.ResponseWriter, r *http.Request) {
	actorID := internal.UserIDFromContext(r.Context())
	if actorID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	payments, err := h.Service.PendingConfirmations(r.Context(), actorID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"payments": payments,
	})
}

func (h *Handler) bandID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "bandID")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.WriteError(w, http.StatusBadRequest, "invalid band ID")
		return 0, false
	}
	return id, true
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

func pagination(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	return limit, offset
}
