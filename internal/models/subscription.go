package models

import (
	"errors"
	"time"
)

// PushSubscription is a browser push subscription as handed to us by the
// PWA client: the push-service endpoint plus the encryption key material.
type PushSubscription struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"keys_p256dh"` // Mapped from keys.p256dh
	Auth      string    `json:"keys_auth"`   // Mapped from keys.auth
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks that the subscription carries everything needed to
// encrypt and deliver a message. A row failing this is undeliverable and
// should be counted as a failure without a network call.
func (s *PushSubscription) Validate() error {
	if s.Endpoint == "" {
		return errors.New("subscription has no endpoint")
	}
	if s.P256dh == "" || s.Auth == "" {
		return errors.New("subscription is missing encryption keys")
	}
	return nil
}
