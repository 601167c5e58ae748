// Package api exposes the deadline service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/deadlines/internal/db"
	"github.com/lalithlochan/deadlines/internal/deadline"
	"github.com/lalithlochan/deadlines/internal/offsets"
)

// DeadlineService is implemented by deadline.Service.
type DeadlineService interface {
	CreateDeadline(ctx context.Context, req deadline.CreateRequest) (*deadline.CreateResult, error)
	AddCustomReminder(ctx context.Context, tenantID string, eventID uuid.UUID, when, message string) ([]time.Time, error)
	ConfigureDigest(ctx context.Context, tenantID string, dest db.Destination, hhmm, tz string) (*deadline.ConfigureResult, error)
	SetTimezone(ctx context.Context, tenantID, tz string) (*deadline.ConfigureResult, error)
	GetDeadline(ctx context.Context, tenantID string, id uuid.UUID) (*deadline.Deadline, error)
	ListDeadlines(ctx context.Context, tenantID string, from, to time.Time) ([]*db.DeadlineEvent, error)
	DeleteDeadline(ctx context.Context, tenantID string, id uuid.UUID) error
}

// CreateDeadlineRequest is the body of POST /v1/deadlines
type CreateDeadlineRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Due         string         `json:"due"` // RFC3339 or "YYYY-MM-DD HH:MM" in timezone
	Timezone    string         `json:"timezone"`
	Destination db.Destination `json:"destination"`
	Offsets     string         `json:"offsets"` // e.g. "3d,24h,4h"
	CreatedBy   string         `json:"created_by"`
}

// AddReminderRequest is the body of POST /v1/deadlines/{id}/reminders
type AddReminderRequest struct {
	When    string `json:"when"` // duration list or RFC3339 instant
	Message string `json:"message"`
}

// ConfigureDigestRequest is the body of PUT /v1/digest
type ConfigureDigestRequest struct {
	Destination db.Destination `json:"destination"`
	Time        string         `json:"time"`
	Timezone    string         `json:"timezone"`
}

// SetTimezoneRequest is the body of PUT /v1/timezone
type SetTimezoneRequest struct {
	Timezone string `json:"timezone"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger *zap.Logger
	svc    DeadlineService
}

func NewHandler(logger *zap.Logger, svc DeadlineService) *Handler {
	return &Handler{logger: logger, svc: svc}
}

// Routes mounts the tenant-scoped endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Use(RequireTenant)

	r.Post("/deadlines", h.CreateDeadline)
	r.Get("/deadlines", h.ListDeadlines)
	r.Get("/deadlines/{id}", h.GetDeadline)
	r.Delete("/deadlines/{id}", h.DeleteDeadline)
	r.Post("/deadlines/{id}/reminders", h.AddReminder)

	r.Put("/digest", h.ConfigureDigest)
	r.Put("/timezone", h.SetTimezone)
}

// CreateDeadline handles POST /v1/deadlines
func (h *Handler) CreateDeadline(w http.ResponseWriter, r *http.Request) {
	var req CreateDeadlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Due == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "due is required")
		return
	}

	res, err := h.svc.CreateDeadline(r.Context(), deadline.CreateRequest{
		TenantID:    tenantFrom(r.Context()),
		Name:        req.Name,
		Description: req.Description,
		DueText:     req.Due,
		Timezone:    req.Timezone,
		Destination: req.Destination,
		Offsets:     req.Offsets,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to create deadline", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, res)
}

// ListDeadlines handles GET /v1/deadlines?from=...&to=...
func (h *Handler) ListDeadlines(w http.ResponseWriter, r *http.Request) {
	from, err := queryTime(r, "from")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid from", "from must be RFC3339")
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid to", "to must be RFC3339")
		return
	}

	events, err := h.svc.ListDeadlines(r.Context(), tenantFrom(r.Context()), from, to)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list deadlines", err)
		return
	}
	if events == nil {
		events = []*db.DeadlineEvent{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  events,
		"count": len(events),
	})
}

// GetDeadline handles GET /v1/deadlines/{id}
func (h *Handler) GetDeadline(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deadlineID(w, r)
	if !ok {
		return
	}

	d, err := h.svc.GetDeadline(r.Context(), tenantFrom(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get deadline", err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

// DeleteDeadline handles DELETE /v1/deadlines/{id}
func (h *Handler) DeleteDeadline(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deadlineID(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteDeadline(r.Context(), tenantFrom(r.Context()), id); err != nil {
		h.writeServiceError(w, r, "Failed to delete deadline", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddReminder handles POST /v1/deadlines/{id}/reminders
func (h *Handler) AddReminder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deadlineID(w, r)
	if !ok {
		return
	}

	var req AddReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	added, err := h.svc.AddCustomReminder(r.Context(), tenantFrom(r.Context()), id, req.When, req.Message)
	if err != nil {
		h.writeServiceError(w, r, "Failed to add reminder", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"fire_times": added,
	})
}

// ConfigureDigest handles PUT /v1/digest
func (h *Handler) ConfigureDigest(w http.ResponseWriter, r *http.Request) {
	var req ConfigureDigestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	res, err := h.svc.ConfigureDigest(r.Context(), tenantFrom(r.Context()), req.Destination, req.Time, req.Timezone)
	if err != nil {
		h.writeServiceError(w, r, "Failed to configure digest", err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// SetTimezone handles PUT /v1/timezone
func (h *Handler) SetTimezone(w http.ResponseWriter, r *http.Request) {
	var req SetTimezoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	res, err := h.svc.SetTimezone(r.Context(), tenantFrom(r.Context()), req.Timezone)
	if err != nil {
		h.writeServiceError(w, r, "Failed to set timezone", err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) deadlineID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid deadline ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

// writeServiceError maps service errors onto problem responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, title string, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Deadline not found", "")
	case errors.Is(err, offsets.ErrInvalidDuration),
		errors.Is(err, deadline.ErrInvalidTime),
		errors.Is(err, deadline.ErrInvalidTimezone),
		errors.Is(err, deadline.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, "invalid_request", title, err.Error())
	case errors.Is(err, deadline.ErrTooSoon):
		h.writeError(w, http.StatusUnprocessableEntity, "too_soon", title, err.Error())
	case errors.Is(err, offsets.ErrNoValidTrigger):
		h.writeError(w, http.StatusUnprocessableEntity, "no_valid_trigger", title, err.Error())
	default:
		h.logger.Error(title,
			zap.Error(err),
			zap.String("tenant_id", tenantFrom(r.Context())),
			zap.String("path", r.URL.Path),
		)
		h.writeError(w, http.StatusInternalServerError, "internal_error", title, "")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

// writeError writes an error response in problem+json format
func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	writeProblem(w, status, errType, title, detail)
}

func writeProblem(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
