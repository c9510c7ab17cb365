package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"chatpush-go/internal/models"

	"github.com/redis/go-redis/v9"
)

const intentQueueKey = "push:intents"

// SubscriptionStore handles push subscription rows (PostgreSQL)
type SubscriptionStore interface {
	GetUserSubscriptions(ctx context.Context, userID string) ([]models.PushSubscription, error)
	GetSubscriptionsForUsers(ctx context.Context, userIDs []string) ([]models.PushSubscription, error)
	GetSubscriptionsExcept(ctx context.Context, excluded []string) ([]models.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, id string) error
}

// MembershipStore answers who joined a location and who may see a
// restricted room (PostgreSQL)
type MembershipStore interface {
	GetJoinedUsers(ctx context.Context, location string) ([]string, error)
	IsRestricted(ctx context.Context, location, roomName string) (bool, error)
	GetAuthorizedUsers(ctx context.Context, location, roomName string) ([]string, error)
}

// PresenceStore tracks who is looking at a location right now (Redis)
type PresenceStore interface {
	GetPresentUsers(ctx context.Context, location string) ([]string, error)
}

type RedisStore struct {
	client *redis.Client
	window time.Duration
	now    func() time.Time
}

// NewRedisStore returns a store that treats a user as present at a
// location while their last heartbeat is younger than window.
func NewRedisStore(opts *redis.Options, window time.Duration) *RedisStore {
	return newRedisStore(redis.NewClient(opts), window)
}

func newRedisStore(client *redis.Client, window time.Duration) *RedisStore {
	return &RedisStore{client: client, window: window, now: time.Now}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func presenceKey(location string) string {
	return "presence:" + location
}

// TouchPresence records a heartbeat for userID at location.
func (s *RedisStore) TouchPresence(ctx context.Context, location, userID string) error {
	key := presenceKey(location)
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(s.now().Unix()),
		Member: userID,
	})
	pipe.Expire(ctx, key, s.window*2)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) LeavePresence(ctx context.Context, location, userID string) error {
	return s.client.ZRem(ctx, presenceKey(location), userID).Err()
}

func (s *RedisStore) GetPresentUsers(ctx context.Context, location string) ([]string, error) {
	key := presenceKey(location)
	cutoff := strconv.FormatInt(s.now().Add(-s.window).Unix(), 10)

	// Stale heartbeats are dropped as we go
	if err := s.client.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff).Err(); err != nil {
		return nil, err
	}
	return s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: cutoff, Max: "+inf"}).Result()
}

// EnqueueIntent appends an encoded intent to the delivery queue.
func (s *RedisStore) EnqueueIntent(ctx context.Context, data []byte) error {
	return s.client.LPush(ctx, intentQueueKey, data).Err()
}

// DequeueIntent blocks up to timeout for the next intent. It returns
// (nil, nil) when the queue stayed empty.
func (s *RedisStore) DequeueIntent(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := s.client.BRPop(ctx, timeout, intentQueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// res is [key, value]
	return []byte(res[1]), nil
}
