package handlers

import (
	"encoding/json"
	"net/http"

	"spc-alerts-go/internal/push"
	"spc-alerts-go/internal/store"
)

type Handler struct {
	Incidents store.IncidentStore
	Subs      store.SubscriptionStore
	Push      *push.Service
}

func NewHandler(incidents store.IncidentStore, subs store.SubscriptionStore, pushSvc *push.Service) *Handler {
	return &Handler{
		Incidents: incidents,
		Subs:      subs,
		Push:      pushSvc,
	}
}

// setCORS makes the API callable from the PWA served on another origin.
func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// requestOrigin returns the origin used to absolutize relative asset paths
// in notification payloads. The Origin header wins when the PWA calls from
// another host; otherwise we fall back to the host this request hit.
func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" && origin != "null" {
		return origin
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	if r.Host == "" {
		return ""
	}
	return scheme + "://" + r.Host
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
