package donation

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
	CreateAdHoc(ctx context.Context, bandID, donorID int64, dto CreateDonationDTO) (*Donation, error)
	SubmitPayment(ctx context.Context, bandID, donationID, actorID int64, dto SubmitDonationDTO) (*Donation, error)
	ConfirmDonation(ctx context.Context, bandID, donationID, actorID int64, dto ConfirmDonationDTO) (*Donation, error)
	RejectDonation(ctx context.Context, bandID, donationID, actorID int64, dto RejectDonationDTO) (*Donation, error)
	ListDonations(ctx context.Context, bandID int64, status string, limit, offset int) ([]*Donation, error)
	CreateRecurring(ctx context.Context, bandID, donorID int64, dto CreateRecurringDTO) (*RecurringDonation, error)
	PauseRecurring(ctx context.Context, bandID, recurringID, actorID int64) (*RecurringDonation, error)
	ResumeRecurring(ctx context.Context, bandID, recurringID, actorID int64) (*RecurringDonation, error)
	CancelRecurring(ctx context.Context, bandID, recurringID, actorID int64) (*RecurringDonation, error)
	DonorSummary(ctx context.Context, donorID int64) (*DonorSummary, error)
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

func (h *Handler) CreateDonation(w http.ResponseWriter, r *http.Request) {
	actorID := internal.UserIDFromContext(r.Context())
	if actorID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	bandID, ok := h.bandID(w, r)
	if !ok {
		return
	}

	var dto CreateDonationDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("CreateDonation: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := h.Service.CreateAdHoc(r.Context(), bandID, actorID, dto)
	if err != nil {
		h.Logger.Error("CreateDonation: service error", "error", err, "band_id", bandID, "donor_id", actorID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, d)
}

func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	actorID := internal.UserIDFromContext(r.Context())
	if actorID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	bandID, ok := h.bandID(w, r)
	if !ok {
		return
	}
	donationID, ok := h.donationID(w, r)
	if !ok {
		return
	}

	var dto SubmitDonationDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("SubmitPayment: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := h.Service.SubmitPayment(r.Context(), bandID, donationID, actorID, dto)
	if err != nil {
		h.Logger.Error("SubmitPayment: service error", "error", err, "donation_id", donationID, "actor_id", actorID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) ConfirmDonation(w http.ResponseWriter, r *http.Request) {
	actorID := internal.UserIDFromContext(r.Context())
	if actorID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	bandID, ok := h.bandID(w, r)
	if !ok {
		return
	}
	donationID, ok := h.donationID(w, r)
	if !ok {
		return
	}

	var dto ConfirmDonationDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("ConfirmDonation: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := h.Service.ConfirmDonation(r.Context(), bandID, donationID, actorID, dto)
	if err != nil {
		h.Logger.Error("ConfirmDonation: service error", "error", err, "donation_id", donationID, "actor_id", actorID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) RejectDonation(w http.ResponseWriter, r *http.Request) {
	actorID := internal.UserIDFromContext(r.Context())
	if actorID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	bandID, ok := h.bandID(w, r)
	if !ok {
		return
	}
	donationID, ok := h.donationID(w, r)
	if !ok {
		return
	}

	var dto RejectDonationDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("RejectDonation: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := h.Service.RejectDonation(r.Context(), bandID, donationID, actorID, dto)
	if err != nil {
		h.Logger.Error("RejectDonation: service error", "error", err, "donation_id", donationID, "actor_id", actorID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) ListDonations(w http.ResponseWriter, r *http.Request) {
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

	donations, err := h.Service.ListDonations(r.Context(), bandID, status, limit, offset)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"donations": donations,
		"limit":     limit,
		"offset":    offset,
	})
}

func (h *Handler) CreateRecurring(w http.ResponseWriter, r *http.Request) {
	actorID := internal.UserIDFromContext(r.Context())
	if actorID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	bandID, ok := h.bandID(w, r)
	if !ok {
		return
	}

	var dto CreateRecurringDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("CreateRecurring: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rd, err := h.Service.CreateRecurring(r.Context(), bandID, actorID, dto)
	if err != nil {
		h.Logger.Error("CreateRecurring: service error", "error", err, "band_id", bandID, "donor_id", actorID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, rd)
}

func (h *Handler) PauseRecurring(w http.ResponseWriter, r *http.Request) {
	h.recurringTransition(w, r, h.Service.PauseRecurring)
}

func (h *Handler) ResumeRecurring(w http.ResponseWriter, r *http.Request) {
	h.recurringTransition(w, r, h.Service.ResumeRecurring)
}

func (h *Handler) CancelRecurring(w http.ResponseWriter, r *http.Request) {
	h.recurringTransition(w, r, h.Service.CancelRecurring)
}

func (h *Handler) recurringTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, bandID, recurringID, actorID int64) (*RecurringDonation, error)) {
	actorID := internal.UserIDFromContext(r.Context())
	if actorID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	bandID, ok := h.bandID(w, r)
	if !ok {
		return
	}
	recurringID, ok := h.recurringID(w, r)
	if !ok {
		return
	}

	rd, err := fn(r.Context(), bandID, recurringID, actorID)
	if err != nil {
		h.Logger.Error("recurring transition: service error", "error", err, "recurring_id", recurringID, "actor_id", actorID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, rd)
}

// DonorSummary aggregates the calling user's giving position across bands.
func (h *Handler) DonorSummary(w http.ResponseWriter, r *http.Request) {
	actorID := internal.UserIDFromContext(r.Context())
	if actorID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	summary, err := h.Service.DonorSummary(r.Context(), actorID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, summary)
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

func (h *Handler) donationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.WriteError(w, http.StatusBadRequest, "invalid donation ID")
		return 0, false
	}
	return id, true
}

func (h *Handler) recurringID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.WriteError(w, http.StatusBadRequest, "invalid recurring donation ID")
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
