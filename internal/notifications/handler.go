package notifications

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/bissquit/event-notifications/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// ResourceIDHeader carries the resource a created notification originates from.
const ResourceIDHeader = "X-Resource-ID"

const resourceIDForbiddenChars = "!@#$%&*()'+,./:;<=>?[]^_`{|}"

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrValidation, Status: http.StatusBadRequest},
	{Error: ErrLongPollingUnsupported, Status: http.StatusBadRequest},
	{Error: ErrNotificationNotFound, Status: http.StatusNotFound, Message: "notification not found"},
}

// Handler handles HTTP requests for notification creation and polling.
type Handler struct {
	service          *Service
	polling          *PollingService
	defaultMaxEvents int
	validator        *validator.Validate
}

// NewHandler creates a new notifications handler.
// defaultMaxEvents is used when a poll does not set maxEvents.
func NewHandler(service *Service, polling *PollingService, defaultMaxEvents int) *Handler {
	return &Handler{
		service:          service,
		polling:          polling,
		defaultMaxEvents: defaultMaxEvents,
		validator:        validator.New(),
	}
}

// RegisterRoutes registers notification routes. Requires httputil.ClientIDMiddleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/events", h.CreateEvents)
	r.Post("/events/poll", h.PollEvents)
}

// CreateEventsResponse is returned for a created notification.
type CreateEventsResponse struct {
	NotificationID string `json:"notificationsID"`
}

// PollEventsRequest represents the aggregated polling request body.
type PollEventsRequest struct {
	Ack               []string            `json:"ack" validate:"dive,required"`
	SetErrs           map[string]SetError `json:"setErrs" validate:"dive"`
	MaxEvents         *int                `json:"maxEvents" validate:"omitempty,gte=0"`
	ReturnImmediately *bool               `json:"returnImmediately"`
}

// SetError is an error report for one delivered notification.
type SetError struct {
	Err         string `json:"err" validate:"required,max=255"`
	Description string `json:"description"`
}

// PollEventsResponse represents the aggregated polling response body.
type PollEventsResponse struct {
	Sets          map[string]string `json:"sets"`
	MoreAvailable bool              `json:"moreAvailable"`
	Count         int               `json:"count"`
}

// CreateEvents handles POST /events.
// The body is a JSON object of event type to payload, or a form field
// "request" holding the base64 encoding of that object.
func (h *Handler) CreateEvents(w http.ResponseWriter, r *http.Request) {
	clientID := httputil.GetClientID(r.Context())
	resourceID := r.Header.Get(ResourceIDHeader)

	if resourceID == "" {
		httputil.Error(w, http.StatusBadRequest, "missing "+ResourceIDHeader+" header")
		return
	}
	if strings.ContainsAny(resourceID, resourceIDForbiddenChars) {
		httputil.Error(w, http.StatusBadRequest, "resource id must not contain special characters")
		return
	}

	events, err := decodeEvents(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.service.CreateNotification(r.Context(), CreateNotificationInput{
		ClientID:   clientID,
		ResourceID: resourceID,
		Events:     events,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusCreated, CreateEventsResponse{NotificationID: id})
}

// PollEvents handles POST /events/poll.
func (h *Handler) PollEvents(w http.ResponseWriter, r *http.Request) {
	var req PollEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	pollReq := PollRequest{
		ClientID:          httputil.GetClientID(r.Context()),
		Ack:               req.Ack,
		Errors:            make(map[string]ErrorReport, len(req.SetErrs)),
		MaxEvents:         h.defaultMaxEvents,
		ReturnImmediately: true,
	}
	for id, e := range req.SetErrs {
		pollReq.Errors[id] = ErrorReport{Code: e.Err, Description: e.Description}
	}
	if req.MaxEvents != nil {
		pollReq.MaxEvents = *req.MaxEvents
	}
	if req.ReturnImmediately != nil {
		pollReq.ReturnImmediately = *req.ReturnImmediately
	}

	resp, err := h.polling.PollEvents(r.Context(), pollReq)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	if resp == nil {
		httputil.HandleError(r.Context(), w, ErrLongPollingUnsupported, errorMappings)
		return
	}

	status := http.StatusOK
	if resp.Status == PollStatusNotFound {
		status = http.StatusNotFound
	}

	httputil.JSON(w, status, PollEventsResponse{
		Sets:          resp.Sets,
		MoreAvailable: resp.MoreAvailable(),
		Count:         resp.Count,
	})
}

func decodeEvents(r *http.Request) (map[string]json.RawMessage, error) {
	var raw []byte

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		encoded := r.FormValue("request")
		if encoded == "" {
			return nil, errors.New("missing request parameter")
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, errors.New("request parameter is not valid base64")
		}
		raw = decoded
	} else {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, errors.New("read request body")
		}
		raw = body
	}

	var events map[string]json.RawMessage
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, errors.New("invalid json")
	}
	return events, nil
}
