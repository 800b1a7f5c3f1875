package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"spc-alerts-go/internal/retry"
)

// GetVAPIDKeyHandler returns the public VAPID key clients subscribe with.
func (h *Handler) GetVAPIDKeyHandler(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"publicKey": h.Push.PublicKey(),
	})
}

// SubscribePushHandler saves a push subscription. Upsert on user_id: a user
// re-subscribing from a new device replaces the previous subscription.
func (h *Handler) SubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	setCORS(w)

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		UserID   string `json:"user_id"`
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.UserID == "" || req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "user_id, endpoint and keys are required")
		return
	}

	var id int64
	err := retry.Do(r.Context(), 3, 250*time.Millisecond, func() error {
		sub, err := h.Subs.SaveSubscription(r.Context(), req.UserID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth)
		if err != nil {
			return err
		}
		id = sub.ID
		return nil
	})
	if err != nil {
		log.Printf("Failed to save subscription: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to save subscription")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

// UnsubscribePushHandler removes a user's stored subscription. Removing a
// subscription that does not exist is fine.
func (h *Handler) UnsubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	setCORS(w)

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.Subs.DeleteSubscriptionForUser(r.Context(), req.UserID); err != nil {
		log.Printf("Failed to delete subscription for user %s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "Failed to delete subscription")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
