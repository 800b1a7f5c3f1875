package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"spc-alerts-go/internal/models"
	"spc-alerts-go/internal/push"
)

// WebhookHandler ingests an incident report. Payloads come from assorted
// monitoring tools and citizen report forms, so parsing is permissive: JSON
// first, form fields as fallback. A stored incident also triggers a
// broadcast push to every subscriber.
func (h *Handler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// Read the body once so the form fallback still has it after a failed
	// JSON parse.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		body = nil
	}

	// Try JSON first
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		// Fallback: form-encoded
		if form, err := url.ParseQuery(string(body)); err == nil && len(form) > 0 {
			payload = make(map[string]any)
			for k, v := range form {
				if len(v) > 0 {
					payload[k] = v[0]
				}
			}
		} else {
			payload = map[string]any{"raw": "unparseable payload"}
		}
	}

	source := getString(payload["source"])
	if source == "" {
		source = r.URL.Query().Get("source")
	}
	if source == "" {
		source = "unknown"
	}

	level := getString(payload["level"])
	if level == "" {
		level = getString(payload["severity"])
	}
	if level == "" {
		level = "info"
	}

	title := getString(payload["title"])
	if title == "" {
		title = getString(payload["event"])
	}
	if title == "" {
		title = "Incident reported"
	}

	var message string
	for _, key := range []string{"message", "description", "detail"} {
		if v, ok := payload[key]; ok {
			message = getString(v)
			if message != "" {
				break
			}
		}
	}
	if message == "" {
		buf, _ := json.MarshalIndent(payload, "", "  ")
		message = string(buf)
	}

	inc, err := h.Incidents.AddIncident(r.Context(), source, level, title, message)
	if err != nil {
		log.Println("Failed to add incident:", err)
		http.Error(w, "Failed to add incident", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"status":     "ok",
		"id":         inc.ID,
		"created_at": inc.CreatedAt.Format(time.RFC3339),
	}

	// Fan the incident out to all subscribers. A push failure must not
	// fail the ingestion that already happened.
	if h.Push.Configured() {
		res, err := h.Push.Dispatch(r.Context(), &push.DispatchRequest{
			Title:   title,
			Body:    message,
			URL:     fmt.Sprintf("/incidents/%d", inc.ID),
			Urgency: urgencyForLevel(level),
			Data:    map[string]any{"incident_id": inc.ID, "source": source, "level": level},
		}, requestOrigin(r))
		if err != nil {
			log.Printf("Broadcast for incident %d failed: %v", inc.ID, err)
		} else {
			resp["push"] = map[string]any{
				"delivered_to": res.Delivered,
				"failed":       res.Failed,
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// urgencyForLevel maps incident severity onto the push urgency hint.
func urgencyForLevel(level string) string {
	switch level {
	case "critical", "error", "high":
		return "high"
	case "low", "debug":
		return "low"
	default:
		return "normal"
	}
}

// IncidentsHandler lists incidents, optionally filtered by q/level/source.
func (h *Handler) IncidentsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	level := r.URL.Query().Get("level")
	source := r.URL.Query().Get("source")

	var incidents []models.Incident
	var err error
	if query == "" && level == "" && source == "" {
		incidents, err = h.Incidents.GetIncidents(r.Context())
	} else {
		incidents, err = h.Incidents.SearchIncidents(r.Context(), query, level, source)
	}
	if err != nil {
		log.Println("Search error:", err)
		http.Error(w, "Search failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

// SSEHandler streams new incidents to the PWA as server-sent events.
func (h *Handler) SSEHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// Subscribe to Redis channel
	pubsub := h.Incidents.Subscribe(r.Context())
	defer pubsub.Close()

	ch := pubsub.Channel()

	fmt.Fprintf(w, "data: %s\n\n", "connected")
	w.(http.Flusher).Flush()

	for {
		select {
		case msg := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", msg.Payload)
			w.(http.Flusher).Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func getString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		// json numbers
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
