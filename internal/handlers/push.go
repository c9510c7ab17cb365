package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"chatpush-go/internal/models"
	"chatpush-go/internal/push"

	"github.com/rs/zerolog/log"
)

// GetVAPIDKeyHandler returns the public VAPID key clients subscribe with
func (h *Handler) GetVAPIDKeyHandler(w http.ResponseWriter, r *http.Request) {
	if h.VAPIDPublicKey == "" {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": h.VAPIDPublicKey})
}

// decodeIntent reads and validates a notify request body
func (h *Handler) decodeIntent(w http.ResponseWriter, r *http.Request) (models.NotificationIntent, bool) {
	if !validateSharedSecret(r, h.WebhookSecret) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return models.NotificationIntent{}, false
	}

	var req models.NotifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return models.NotificationIntent{}, false
	}
	intent, err := req.Intent()
	if err != nil {
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), models.ErrInvalidIntent.Error()+": "))
		return models.NotificationIntent{}, false
	}
	return intent, true
}

// NotifyHandler queues a notification and returns without waiting for
// delivery.
func (h *Handler) NotifyHandler(w http.ResponseWriter, r *http.Request) {
	if h.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	intent, ok := h.decodeIntent(w, r)
	if !ok {
		return
	}
	if err := h.Queue.Enqueue(r.Context(), intent); err != nil {
		log.Error().Err(err).Msg("failed to queue notification")
		writeError(w, http.StatusInternalServerError, "Failed to queue notification")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "status": "queued"})
}

// DeliverHandler delivers synchronously and reports every outcome.
func (h *Handler) DeliverHandler(w http.ResponseWriter, r *http.Request) {
	if h.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	intent, ok := h.decodeIntent(w, r)
	if !ok {
		return
	}
	result, err := h.Engine.Deliver(r.Context(), intent)
	if err != nil {
		log.Error().Err(err).Msg("push delivery failed")
		if errors.Is(err, push.ErrResolve) {
			writeError(w, http.StatusBadGateway, "Failed to resolve recipients")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to deliver notification")
		return
	}
	if result.Attempted == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "no subscriptions", "result": result})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": result.OK(), "result": result})
}

// PresenceHandler records a heartbeat or departure for a location
func (h *Handler) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	if !validateSharedSecret(r, h.WebhookSecret) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	var req struct {
		UserID   string `json:"userId"`
		Location string `json:"location"`
		Present  *bool  `json:"present"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.UserID == "" || req.Location == "" {
		writeError(w, http.StatusBadRequest, "userId and location are required")
		return
	}

	var err error
	if req.Present != nil && !*req.Present {
		err = h.Presence.LeavePresence(r.Context(), req.Location, req.UserID)
	} else {
		err = h.Presence.TouchPresence(r.Context(), req.Location, req.UserID)
	}
	if err != nil {
		log.Error().Err(err).Str("location", req.Location).Msg("failed to record presence")
		writeError(w, http.StatusInternalServerError, "Failed to record presence")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
