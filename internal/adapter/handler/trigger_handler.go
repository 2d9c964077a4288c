// Package handler exposes the engine's entry points over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/srgjo27/batch_invite/internal/core/domain"
	"github.com/srgjo27/batch_invite/internal/core/services"
	"github.com/srgjo27/batch_invite/internal/platform/validation"
)

const defaultPreviewLimit = 20

type TriggerHandler struct {
	engine *services.Engine
}

func NewTriggerHandler(engine *services.Engine) *TriggerHandler {
	return &TriggerHandler{engine: engine}
}

type statusRequest struct {
	Status string `json:"status" validate:"required,event_status"`
}

type cancelRequest struct {
	Decision string `json:"decision" validate:"required,decision"`
}

type overrideRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type overrideResponse struct {
	Status         domain.EventStatus `json:"status"`
	ManualOverride bool               `json:"manual_override"`
}

type confirmRequest struct {
	PaymentRef string `json:"payment_ref" validate:"omitempty,max=255"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &domain.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

// bind decodes the body into dst and runs its validate tags.
func bind(r *http.Request, dst any) error {
	if err := decodeJSON(r, dst); err != nil {
		return err
	}
	return validation.Struct(dst)
}

// writeError maps the domain error taxonomy onto HTTP statuses. Anything
// unclassified is logged and reported as a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *domain.ValidationError
		state      *domain.InvalidStateError
		transition *domain.InvalidTransitionError
		gateway    *domain.GatewayError
	)

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &state), errors.As(err, &transition),
		errors.Is(err, domain.ErrConcurrencyConflict), errors.Is(err, domain.ErrEventFull):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &gateway):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, r, &domain.ValidationError{Field: name, Reason: "not a uuid"})
		return uuid.Nil, false
	}
	return id, true
}

// PublishEvent handles POST /events/{id}/publish.
func (h *TriggerHandler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	result, err := h.engine.OnEventPublished(r.Context(), eventID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// FireCoolOff handles POST /events/{id}/cool-off/fire.
func (h *TriggerHandler) FireCoolOff(w http.ResponseWriter, r *http.Request) {
	eventID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	if !h.engine.OnCoolOffFired(r.Context(), eventID) {
		writeError(w, r, &domain.InvalidStateError{Entity: "cool-off", State: string(h.engine.Scheduler().State(eventID)), Reason: "no batch is pending"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"state": string(h.engine.Scheduler().State(eventID))})
}

// ChangeStatus handles POST /events/{id}/status.
func (h *TriggerHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	eventID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var req statusRequest
	if err := bind(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	status, err := domain.ParseEventStatus(req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.engine.OnEventStatusChanged(r.Context(), eventID, status); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// SetOverride handles POST /events/{id}/override.
func (h *TriggerHandler) SetOverride(w http.ResponseWriter, r *http.Request) {
	eventID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var req overrideRequest
	if err := bind(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	event, err := h.engine.SetManualOverride(r.Context(), eventID, *req.Enabled)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, overrideResponse{Status: event.Status, ManualOverride: event.ManualOverride})
}

// PreviewWaitlist handles GET /events/{id}/waitlist?limit=N.
func (h *TriggerHandler) PreviewWaitlist(w http.ResponseWriter, r *http.Request) {
	eventID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	limit := defaultPreviewLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, &domain.ValidationError{Field: "limit", Reason: "must be a non-negative integer"})
			return
		}
		limit = n
	}

	entries, err := h.engine.Waitlist().NextEligible(r.Context(), eventID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.WaitlistEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// JoinWaitlist handles POST /waitlist.
func (h *TriggerHandler) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	var req services.JoinWaitlistRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	entry, err := h.engine.Waitlist().Join(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

// PrioritizeEntry handles POST /waitlist/{id}/priority.
func (h *TriggerHandler) PrioritizeEntry(w http.ResponseWriter, r *http.Request) {
	entryID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	entry, err := h.engine.Waitlist().SetManualPriority(r.Context(), entryID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// CancelAttendee handles POST /attendees/{id}/cancel.
func (h *TriggerHandler) CancelAttendee(w http.ResponseWriter, r *http.Request) {
	attendeeID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var req cancelRequest
	if err := bind(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	decision, err := domain.ParseDecision(req.Decision)
	if err != nil {
		writeError(w, r, err)
		return
	}

	outcome, err := h.engine.OnCancellationRequested(r.Context(), attendeeID, decision)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// ConfirmPayment handles POST /payments/{ref}/confirm.
func (h *TriggerHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	var req confirmRequest
	if r.ContentLength != 0 {
		if err := bind(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	auth, err := h.engine.ConfirmPayment(r.Context(), ref, req.PaymentRef)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, auth)
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
