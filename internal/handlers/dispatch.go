package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"spc-alerts-go/internal/push"
)

type dispatchResponse struct {
	Success            bool                 `json:"success"`
	Message            string               `json:"message,omitempty"`
	DeliveredTo        int                  `json:"delivered_to"`
	Failed             int                  `json:"failed"`
	TotalSubscriptions int                  `json:"total_subscriptions"`
	NotificationType   string               `json:"notification_type"`
	TargetedUsers      []string             `json:"targeted_users"`
	Errors             []push.DeliveryError `json:"errors,omitempty"`
}

// DispatchHandler fans a notification out to the targeted subscriptions
// (or all of them) and reports the settled per-subscription outcome.
func (h *Handler) DispatchHandler(w http.ResponseWriter, r *http.Request) {
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

	if !h.Push.Configured() {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "push notifications are not configured",
			"type":  "configuration",
		})
		return
	}

	var req push.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	res, err := h.Push.Dispatch(r.Context(), &req, requestOrigin(r))
	if err != nil {
		if errors.Is(err, push.ErrMissingTitle) || errors.Is(err, push.ErrMissingBody) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("Dispatch failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := dispatchResponse{
		Success:            true,
		DeliveredTo:        res.Delivered,
		Failed:             res.Failed,
		TotalSubscriptions: res.Total,
		NotificationType:   string(res.Mode),
		TargetedUsers:      req.UserIDs,
		Errors:             res.Errors,
	}

	// Nobody to notify is an expected steady state, not an error. Still
	// say which kind of nobody it was.
	if res.Total == 0 {
		if res.Mode == push.ModeTargeted {
			resp.Message = "no subscriptions found for the requested users"
		} else {
			resp.Message = "no subscriptions stored"
		}
	}

	log.Printf("Dispatch complete: %s, delivered=%d failed=%d total=%d",
		res.Mode, res.Delivered, res.Failed, res.Total)

	writeJSON(w, http.StatusOK, resp)
}
