package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"chatpush-go/internal/models"

	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a delete or lookup matches no row.
var ErrNotFound = errors.New("not found")

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

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// RunMigrations creates tables if they don't exist
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Subscription methods

const subscriptionColumns = `id, user_id, endpoint, p256dh, auth, created_at`

func (s *PostgresStore) querySubscriptions(ctx context.Context, query string, args ...any) ([]models.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.PushSubscription
	for rows.Next() {
		var sub models.PushSubscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStore) GetUserSubscriptions(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	return s.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE user_id = $1`,
		userID,
	)
}

func (s *PostgresStore) GetSubscriptionsForUsers(ctx context.Context, userIDs []string) ([]models.PushSubscription, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	return s.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE user_id = ANY($1)`,
		pq.Array(userIDs),
	)
}

// GetSubscriptionsExcept returns every subscription not owned by one of
// the excluded users.
func (s *PostgresStore) GetSubscriptionsExcept(ctx context.Context, excluded []string) ([]models.PushSubscription, error) {
	if excluded == nil {
		// a NULL array would match nothing
		excluded = []string{}
	}
	return s.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE NOT (user_id = ANY($1))`,
		pq.Array(excluded),
	)
}

func (s *PostgresStore) DeletePushSubscription(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	return nil
}

// Membership methods

func (s *PostgresStore) queryUserIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) GetJoinedUsers(ctx context.Context, location string) ([]string, error) {
	return s.queryUserIDs(ctx,
		`SELECT DISTINCT user_id FROM location_members WHERE location = $1`,
		location,
	)
}

func (s *PostgresStore) IsRestricted(ctx context.Context, location, roomName string) (bool, error) {
	var restricted bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM restricted_rooms WHERE location = $1 AND room_name = $2)`,
		location, roomName,
	).Scan(&restricted)
	return restricted, err
}

func (s *PostgresStore) GetAuthorizedUsers(ctx context.Context, location, roomName string) ([]string, error) {
	return s.queryUserIDs(ctx,
		`SELECT user_id FROM room_authorizations WHERE location = $1 AND room_name = $2`,
		location, roomName,
	)
}
