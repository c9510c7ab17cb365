package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"chatpush-go/internal/models"
	"chatpush-go/internal/push"

	"github.com/rs/zerolog/log"
)

// Enqueuer accepts intents for asynchronous delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, intent models.NotificationIntent) error
}

// Presence records who is viewing a location.
type Presence interface {
	TouchPresence(ctx context.Context, location, userID string) error
	LeavePresence(ctx context.Context, location, userID string) error
}

type Handler struct {
	Queue          Enqueuer
	Engine         push.Deliverer
	Presence       Presence
	VAPIDPublicKey string
	WebhookSecret  string
}

// NewHandler wires the HTTP surface. queue and engine are nil when VAPID
// keys are not configured; the push endpoints then answer 503.
func NewHandler(queue Enqueuer, engine push.Deliverer, presence Presence, vapidPublicKey, webhookSecret string) *Handler {
	return &Handler{
		Queue:          queue,
		Engine:         engine,
		Presence:       presence,
		VAPIDPublicKey: vapidPublicKey,
		WebhookSecret:  webhookSecret,
	}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.HealthHandler)
	mux.HandleFunc("GET /api/push/vapid-public-key", h.GetVAPIDKeyHandler)
	mux.HandleFunc("POST /api/push/notify", h.NotifyHandler)
	mux.HandleFunc("POST /api/push/deliver", h.DeliverHandler)
	mux.HandleFunc("POST /api/push/presence", h.PresenceHandler)
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"push_configured": h.Engine != nil,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
