package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"spc-alerts-go/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	incidentTTL = 30 * 24 * time.Hour // 30 days
)

// IncidentStore handles incident report operations (Redis)
type IncidentStore interface {
	AddIncident(ctx context.Context, source, level, title, message string) (models.Incident, error)
	GetIncidents(ctx context.Context) ([]models.Incident, error)
	SearchIncidents(ctx context.Context, query, level, source string) ([]models.Incident, error)
	Subscribe(ctx context.Context) *redis.PubSub
}

// SubscriptionStore handles push subscription persistence (PostgreSQL).
// One active subscription per user: SaveSubscription upserts on user_id, so
// re-subscribing from a new device replaces the previous row.
type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, userID, endpoint, p256dh, auth string) (models.PushSubscription, error)
	GetSubscriptions(ctx context.Context) ([]models.PushSubscription, error)
	GetSubscriptionsForUsers(ctx context.Context, userIDs []string) ([]models.PushSubscription, error)
	DeleteSubscription(ctx context.Context, id int64) error
	DeleteSubscriptionForUser(ctx context.Context, userID string) error
	CountSubscriptions(ctx context.Context) (int, error)
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(opts *redis.Options) *RedisStore {
	rdb := redis.NewClient(opts)
	return &RedisStore{client: rdb}
}

func (s *RedisStore) AddIncident(ctx context.Context, source, level, title, message string) (models.Incident, error) {
	// Generate ID
	id, err := s.client.Incr(ctx, "incident:next_id").Result()
	if err != nil {
		return models.Incident{}, err
	}

	inc := models.Incident{
		ID:        int(id),
		CreatedAt: time.Now().UTC(),
		Source:    source,
		Level:     level,
		Title:     title,
		Message:   message,
	}
	data, err := json.Marshal(inc)
	if err != nil {
		return models.Incident{}, err
	}

	key := fmt.Sprintf("incident:%d", inc.ID)

	// Store incident with TTL
	pipe := s.client.Pipeline()
	pipe.Set(ctx, key, data, incidentTTL)

	// Add to timeline sorted set (score = timestamp)
	pipe.ZAdd(ctx, "incidents:timeline", redis.Z{
		Score:  float64(inc.CreatedAt.Unix()),
		Member: key,
	})

	// Add to search indices
	if level != "" {
		pipe.SAdd(ctx, fmt.Sprintf("incidents:level:%s", strings.ToLower(level)), key)
		pipe.Expire(ctx, fmt.Sprintf("incidents:level:%s", strings.ToLower(level)), incidentTTL)
	}
	if source != "" {
		pipe.SAdd(ctx, fmt.Sprintf("incidents:source:%s", strings.ToLower(source)), key)
		pipe.Expire(ctx, fmt.Sprintf("incidents:source:%s", strings.ToLower(source)), incidentTTL)
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return models.Incident{}, err
	}

	// Publish event for the SSE feed
	if err := s.client.Publish(ctx, "incident_events", data).Err(); err != nil {
		fmt.Println("Failed to publish event:", err)
	}

	return inc, nil
}

func (s *RedisStore) GetIncidents(ctx context.Context) ([]models.Incident, error) {
	// Get incident keys from sorted set (newest first)
	keys, err := s.client.ZRevRange(ctx, "incidents:timeline", 0, -1).Result()
	if err != nil {
		return nil, err
	}

	var incidents []models.Incident
	for _, key := range keys {
		val, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			// Incident expired, remove from sorted set
			s.client.ZRem(ctx, "incidents:timeline", key)
			continue
		} else if err != nil {
			continue
		}

		var inc models.Incident
		if err := json.Unmarshal([]byte(val), &inc); err == nil {
			incidents = append(incidents, inc)
		}
	}
	return incidents, nil
}

func (s *RedisStore) SearchIncidents(ctx context.Context, query, level, source string) ([]models.Incident, error) {
	var keys []string

	// Build intersection of search criteria
	var setKeys []string
	if level != "" {
		setKeys = append(setKeys, fmt.Sprintf("incidents:level:%s", strings.ToLower(level)))
	}
	if source != "" {
		setKeys = append(setKeys, fmt.Sprintf("incidents:source:%s", strings.ToLower(source)))
	}

	if len(setKeys) > 0 {
		// Intersect sets if multiple criteria
		if len(setKeys) == 1 {
			members, err := s.client.SMembers(ctx, setKeys[0]).Result()
			if err != nil {
				return nil, err
			}
			keys = members
		} else {
			members, err := s.client.SInter(ctx, setKeys...).Result()
			if err != nil {
				return nil, err
			}
			keys = members
		}
	} else {
		// No filters, get all from timeline
		allKeys, err := s.client.ZRevRange(ctx, "incidents:timeline", 0, -1).Result()
		if err != nil {
			return nil, err
		}
		keys = allKeys
	}

	// Fetch and filter by query text
	var incidents []models.Incident
	query = strings.ToLower(query)

	for _, key := range keys {
		val, err := s.client.Get(ctx, key).Result()
		if err != nil {
			continue
		}

		var inc models.Incident
		if err := json.Unmarshal([]byte(val), &inc); err != nil {
			continue
		}

		// Text search in title and message
		if query != "" {
			searchText := strings.ToLower(inc.Title + " " + inc.Message + " " + inc.Source)
			if !strings.Contains(searchText, query) {
				continue
			}
		}

		incidents = append(incidents, inc)
	}

	return incidents, nil
}

func (s *RedisStore) Subscribe(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, "incident_events")
}
