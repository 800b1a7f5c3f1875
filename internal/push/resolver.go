package push

import (
	"context"

	"spc-alerts-go/internal/models"
	"spc-alerts-go/internal/store"
)

// Mode says how the subscription set was selected.
type Mode string

const (
	ModeBroadcast Mode = "broadcast"
	ModeTargeted  Mode = "targeted"
)

// Resolver turns an optional user-ID list into the set of subscriptions to
// notify. Users without a stored subscription are silently skipped; an empty
// result is not an error.
type Resolver struct {
	Subs store.SubscriptionStore
}

func (r *Resolver) Resolve(ctx context.Context, userIDs []string) ([]models.PushSubscription, Mode, error) {
	if len(userIDs) == 0 {
		subs, err := r.Subs.GetSubscriptions(ctx)
		return subs, ModeBroadcast, err
	}

	subs, err := r.Subs.GetSubscriptionsForUsers(ctx, userIDs)
	return subs, ModeTargeted, err
}
