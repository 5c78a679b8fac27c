package subscriptions

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/bissquit/event-notifications/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrValidation, Status: http.StatusBadRequest},
	{Error: ErrSubscriptionData, Status: http.StatusBadRequest},
	{Error: ErrSubscriptionNotFound, Status: http.StatusNotFound, Message: "subscription not found"},
}

// Handler handles HTTP requests for the subscriptions module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new subscriptions handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers subscription routes. Requires httputil.ClientIDMiddleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/subscriptions", func(r chi.Router) {
		r.Get("/", h.ListSubscriptions)
		r.Post("/", h.CreateSubscription)
		r.Get("/types/{eventType}", h.ListSubscriptionsByEventType)
		r.Get("/{id}", h.GetSubscription)
		r.Put("/{id}", h.UpdateSubscription)
		r.Delete("/{id}", h.DeleteSubscription)
	})
}

// SubscriptionRequest is the subscription request body. The whole body is
// kept as the subscription's request data.
type SubscriptionRequest struct {
	CallbackURL *string  `json:"callbackUrl" validate:"omitempty,url"`
	Version     *string  `json:"version" validate:"omitempty,max=255"`
	EventTypes  []string `json:"eventTypes" validate:"omitempty,dive,required,max=255"`
}

// CreateSubscription handles POST /subscriptions.
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	req, raw, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	sub, err := h.service.CreateSubscription(r.Context(), CreateSubscriptionInput{
		ClientID:    httputil.GetClientID(r.Context()),
		CallbackURL: req.CallbackURL,
		SpecVersion: req.Version,
		EventTypes:  req.EventTypes,
		RequestData: raw,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, sub)
}

// ListSubscriptions handles GET /subscriptions.
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.ListSubscriptions(r.Context(), httputil.GetClientID(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, subs)
}

// ListSubscriptionsByEventType handles GET /subscriptions/types/{eventType}.
func (h *Handler) ListSubscriptionsByEventType(w http.ResponseWriter, r *http.Request) {
	eventType := chi.URLParam(r, "eventType")

	subs, err := h.service.ListSubscriptionsByEventType(r.Context(), httputil.GetClientID(r.Context()), eventType)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, subs)
}

// GetSubscription handles GET /subscriptions/{id}.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.service.GetSubscription(r.Context(), httputil.GetClientID(r.Context()), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, sub)
}

// UpdateSubscription handles PUT /subscriptions/{id}.
func (h *Handler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	clientID := httputil.GetClientID(r.Context())

	req, raw, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	updated, err := h.service.UpdateSubscription(r.Context(), UpdateSubscriptionInput{
		ID:          id,
		ClientID:    clientID,
		CallbackURL: req.CallbackURL,
		EventTypes:  req.EventTypes,
		RequestData: raw,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	if !updated {
		httputil.HandleError(r.Context(), w, ErrSubscriptionNotFound, errorMappings)
		return
	}

	sub, err := h.service.GetSubscription(r.Context(), clientID, id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, sub)
}

// DeleteSubscription handles DELETE /subscriptions/{id}.
func (h *Handler) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := h.service.DeleteSubscription(r.Context(), httputil.GetClientID(r.Context()), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	if !deleted {
		httputil.HandleError(r.Context(), w, ErrSubscriptionNotFound, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request) (SubscriptionRequest, json.RawMessage, bool) {
	var req SubscriptionRequest

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "read request body")
		return req, nil, false
	}

	if err := json.Unmarshal(raw, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return req, nil, false
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return req, nil, false
	}

	return req, raw, true
}
