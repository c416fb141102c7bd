package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hirewire/whatsapp-agent/internal/events"
	"github.com/hirewire/whatsapp-agent/internal/store"
	"github.com/hirewire/whatsapp-agent/pkg/logging"
)

// EventSink processes one trigger event end to end.
type EventSink interface {
	HandleEvent(ctx context.Context, ev events.TriggerEvent) error
}

// Deduper suppresses redelivered event ids.
type Deduper interface {
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
}

// EventsHandler is the intake for trigger events (webhook deliveries and
// externally scheduled timers alike).
type EventsHandler struct {
	sink    EventSink
	deduper Deduper
	logger  *logging.Logger
}

func NewEventsHandler(sink EventSink, deduper Deduper, logger *logging.Logger) *EventsHandler {
	if sink == nil {
		panic("httpapi: event sink required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &EventsHandler{sink: sink, deduper: deduper, logger: logger}
}

type eventResponse struct {
	Status  string `json:"status"`
	EventID string `json:"eventId,omitempty"`
}

// Intake handles POST /v1/events. Events are processed synchronously;
// redeliveries of an already-seen event id return 202 without re-running
// automation.
func (h *EventsHandler) Intake(w http.ResponseWriter, r *http.Request) {
	var ev events.TriggerEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.logger.Error("failed to decode event", "error", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if ev.ID == "" || ev.ConversationID == "" || ev.Type == "" {
		http.Error(w, "id, type and conversationId are required", http.StatusBadRequest)
		return
	}

	if h.deduper != nil {
		fresh, err := h.deduper.MarkProcessed(r.Context(), ev.ID)
		if err != nil {
			h.logger.Error("event dedupe check failed", "error", err, "event_id", ev.ID)
			http.Error(w, "dedupe check failed", http.StatusInternalServerError)
			return
		}
		if !fresh {
			h.logger.Info("duplicate event ignored", "event_id", ev.ID)
			writeJSON(w, http.StatusAccepted, eventResponse{Status: "duplicate", EventID: ev.ID})
			return
		}
	}

	if err := h.sink.HandleEvent(r.Context(), ev); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("event processing failed", "error", err, "event_id", ev.ID)
		http.Error(w, "event processing failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, eventResponse{Status: "processed", EventID: ev.ID})
}

// Health handles GET /healthz.
func (h *EventsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
