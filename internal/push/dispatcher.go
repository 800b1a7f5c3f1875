package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"spc-alerts-go/internal/models"
	"spc-alerts-go/internal/store"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// pushTTL tells the push service how long to hold an undelivered
	// message for an offline device.
	pushTTL = 24 * 60 * 60 // seconds

	sendTimeout = 30 * time.Second
)

// DeliveryError records a single failed send.
type DeliveryError struct {
	SubscriptionID int64  `json:"id"`
	UserID         string `json:"user_id"`
	Message        string `json:"error"`
	StatusCode     int    `json:"statusCode,omitempty"`
}

// Result is the settled outcome of a fan-out. Delivered + Failed always
// equals Total.
type Result struct {
	Delivered int
	Failed    int
	Total     int
	Mode      Mode
	Errors    []DeliveryError
}

// Config carries the VAPID signing material for the push service.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact address sent to push relays; webpush-go
	// adds the mailto: prefix itself.
	Subscriber string
}

// Service resolves targets and fans a notification out to their push
// endpoints.
type Service struct {
	subs     store.SubscriptionStore
	resolver *Resolver
	cfg      Config
	client   *http.Client
}

func NewService(subs store.SubscriptionStore, cfg Config) *Service {
	return &Service{
		subs:     subs,
		resolver: &Resolver{Subs: subs},
		cfg:      cfg,
		client:   &http.Client{Timeout: sendTimeout},
	}
}

// Configured reports whether the service holds a usable VAPID key pair.
func (s *Service) Configured() bool {
	return s.cfg.VAPIDPublicKey != "" && s.cfg.VAPIDPrivateKey != ""
}

// PublicKey returns the VAPID public key handed to subscribing clients.
func (s *Service) PublicKey() string {
	return s.cfg.VAPIDPublicKey
}

// Dispatch builds the payload, resolves the target subscriptions and sends
// to each one concurrently. Every subscription is attempted; one failure
// never blocks or cancels another. The returned Result is complete only
// after all sends have settled.
//
// A validation failure (BuildPayload) or a store query failure aborts
// before any network call. Per-subscription failures are collected into the
// Result, not returned as an error.
func (s *Service) Dispatch(ctx context.Context, req *DispatchRequest, origin string) (*Result, error) {
	payload, err := BuildPayload(req, origin)
	if err != nil {
		return nil, err
	}

	targets, mode, err := s.resolver.Resolve(ctx, req.UserIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve subscriptions: %w", err)
	}

	res := &Result{Mode: mode, Total: len(targets)}
	if len(targets) == 0 {
		return res, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	timer := prometheus.NewTimer(dispatchDuration)
	defer timer.ObserveDuration()

	// Once the fan-out starts it runs to completion: a caller hanging up
	// must not cancel sends already in flight. Individual sends still time
	// out at the HTTP-client layer.
	ctx = context.WithoutCancel(ctx)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, sub := range targets {
		wg.Add(1)
		go func(sub models.PushSubscription) {
			defer wg.Done()

			status, err := s.send(ctx, &sub, body, payload.Urgency)
			if err == nil {
				deliveredTotal.Inc()
				mu.Lock()
				res.Delivered++
				mu.Unlock()
				return
			}

			// Endpoint permanently gone: drop the subscription. A failed
			// delete is logged and swallowed, the dispatch itself is
			// already accounted for.
			if status == http.StatusNotFound || status == http.StatusGone {
				if delErr := s.subs.DeleteSubscription(ctx, sub.ID); delErr != nil {
					log.Printf("Failed to delete stale subscription %d: %v", sub.ID, delErr)
				} else {
					cleanedTotal.Inc()
					log.Printf("Removed stale subscription %d (user %s, status %d)", sub.ID, sub.UserID, status)
				}
			}

			failedTotal.Inc()
			mu.Lock()
			res.Failed++
			res.Errors = append(res.Errors, DeliveryError{
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				Message:        err.Error(),
				StatusCode:     status,
			})
			mu.Unlock()
		}(sub)
	}
	wg.Wait()

	return res, nil
}

// send delivers the encrypted payload to one subscription. The returned
// status code is zero when the failure happened before the push service
// answered (malformed subscription, network error).
func (s *Service) send(ctx context.Context, sub *models.PushSubscription, body []byte, urgency webpush.Urgency) (int, error) {
	if err := sub.Validate(); err != nil {
		return 0, err
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             pushTTL,
		Urgency:         urgency,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, fmt.Errorf("push service returned status %d", resp.StatusCode)
}
