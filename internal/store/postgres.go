package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"spc-alerts-go/internal/models"

	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// RunMigrations creates tables if they don't exist and applies schema updates
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return err
	}

	// Apply migrations for existing tables
	migrations := []string{
		`ALTER TABLE push_subscriptions ADD COLUMN IF NOT EXISTS created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW();`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// SaveSubscription upserts the subscription for a user. A user re-subscribing
// from a new device replaces the previous row, keeping one subscription per user.
func (s *PostgresStore) SaveSubscription(ctx context.Context, userID, endpoint, p256dh, auth string) (models.PushSubscription, error) {
	var sub models.PushSubscription
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (user_id) DO UPDATE
		 SET endpoint = EXCLUDED.endpoint, p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth, created_at = NOW()
		 RETURNING id, user_id, endpoint, p256dh, auth, created_at`,
		userID, endpoint, p256dh, auth,
	).Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.CreatedAt)

	if err != nil {
		return models.PushSubscription{}, err
	}

	return sub, nil
}

func (s *PostgresStore) GetSubscriptions(ctx context.Context) ([]models.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, endpoint, p256dh, auth, created_at FROM push_subscriptions ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

func (s *PostgresStore) GetSubscriptionsForUsers(ctx context.Context, userIDs []string) ([]models.PushSubscription, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, endpoint, p256dh, auth, created_at
		 FROM push_subscriptions
		 WHERE user_id = ANY($1)
		 ORDER BY created_at DESC`,
		pq.Array(userIDs),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) DeleteSubscriptionForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE user_id = $1`, userID)
	return err
}

func (s *PostgresStore) CountSubscriptions(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM push_subscriptions`).Scan(&count)
	return count, err
}

func scanSubscriptions(rows *sql.Rows) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	for rows.Next() {
		var sub models.PushSubscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
