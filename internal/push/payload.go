package push

import (
	"errors"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
)

// Defaults applied when the caller leaves the optional fields empty. These
// paths are served out of the PWA's static bundle.
const (
	DefaultIcon  = "/static/icons/icon-192.png"
	DefaultBadge = "/static/icons/badge-72.png"
	DefaultURL   = "/"
)

var (
	ErrMissingTitle = errors.New("title is required")
	ErrMissingBody  = errors.New("body is required")
)

// DispatchRequest is the body of a dispatch call: the notification fields
// plus the optional targeting list. An absent or empty UserIDs means
// broadcast to every stored subscription.
type DispatchRequest struct {
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Icon    string         `json:"icon,omitempty"`
	Badge   string         `json:"badge,omitempty"`
	Image   string         `json:"image,omitempty"`
	URL     string         `json:"url,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Urgency string         `json:"urgency,omitempty"`
	UserIDs []string       `json:"user_ids,omitempty"`
}

// Payload is the message delivered to the service worker, byte for byte.
// Tag and Timestamp are stamped fresh per dispatch so repeated notifications
// don't collapse into one on the device.
type Payload struct {
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Icon      string          `json:"icon"`
	Badge     string          `json:"badge"`
	Image     string          `json:"image,omitempty"`
	URL       string          `json:"url"`
	Data      map[string]any  `json:"data,omitempty"`
	Urgency   webpush.Urgency `json:"urgency"`
	Tag       string          `json:"tag"`
	Timestamp int64           `json:"timestamp"`
}

// BuildPayload merges the request with defaults and rewrites relative asset
// paths against the request origin. The device renders the notification
// outside the page context, so relative URLs would resolve wrong there.
func BuildPayload(req *DispatchRequest, origin string) (*Payload, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, ErrMissingTitle
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, ErrMissingBody
	}

	p := &Payload{
		Title:     req.Title,
		Body:      req.Body,
		Icon:      req.Icon,
		Badge:     req.Badge,
		Image:     req.Image,
		URL:       req.URL,
		Data:      req.Data,
		Urgency:   normalizeUrgency(req.Urgency),
		Tag:       "spc-alert-" + uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
	}

	if p.Icon == "" {
		p.Icon = DefaultIcon
	}
	if p.Badge == "" {
		p.Badge = DefaultBadge
	}
	if p.URL == "" {
		p.URL = DefaultURL
	}

	p.Icon = absoluteURL(origin, p.Icon)
	p.Badge = absoluteURL(origin, p.Badge)
	p.URL = absoluteURL(origin, p.URL)
	if p.Image != "" {
		p.Image = absoluteURL(origin, p.Image)
	}

	return p, nil
}

func normalizeUrgency(u string) webpush.Urgency {
	switch webpush.Urgency(u) {
	case webpush.UrgencyVeryLow, webpush.UrgencyLow, webpush.UrgencyNormal, webpush.UrgencyHigh:
		return webpush.Urgency(u)
	default:
		return webpush.UrgencyNormal
	}
}

func absoluteURL(origin, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if origin == "" {
		return path
	}
	return strings.TrimSuffix(origin, "/") + "/" + strings.TrimPrefix(path, "/")
}
