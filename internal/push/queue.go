package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatpush-go/internal/models"

	"github.com/rs/zerolog/log"
)

// IntentStore is the backing list for the delivery queue.
type IntentStore interface {
	EnqueueIntent(ctx context.Context, data []byte) error
	DequeueIntent(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// Deliverer is satisfied by *Engine.
type Deliverer interface {
	Deliver(ctx context.Context, intent models.NotificationIntent) (*Result, error)
}

// Queue decouples the callers that raise notifications from delivery.
// Enqueue returns as soon as the intent is stored; Run drains it.
type Queue struct {
	store       IntentStore
	metrics     *Metrics
	pollTimeout time.Duration
	// intentTimeout bounds a single intent's whole fan-out.
	intentTimeout time.Duration
}

func NewQueue(store IntentStore, metrics *Metrics, intentTimeout time.Duration) *Queue {
	if intentTimeout <= 0 {
		intentTimeout = 2 * time.Minute
	}
	return &Queue{
		store:         store,
		metrics:       metrics,
		pollTimeout:   5 * time.Second,
		intentTimeout: intentTimeout,
	}
}

func (q *Queue) Enqueue(ctx context.Context, intent models.NotificationIntent) error {
	if err := intent.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	if err := q.store.EnqueueIntent(ctx, data); err != nil {
		return fmt.Errorf("enqueue intent: %w", err)
	}
	q.metrics.enqueued.Inc()
	return nil
}

// Run delivers queued intents until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, d Deliverer) error {
	log.Info().Msg("push queue worker started")
	for {
		if err := ctx.Err(); err != nil {
			log.Info().Msg("push queue worker stopped")
			return nil
		}
		data, err := q.store.DequeueIntent(ctx, q.pollTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Msg("failed to read from push queue")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if data == nil {
			continue
		}
		q.handle(ctx, d, data)
	}
}

func (q *Queue) handle(ctx context.Context, d Deliverer, data []byte) {
	var intent models.NotificationIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		log.Error().Err(err).Msg("dropping undecodable push intent")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, q.intentTimeout)
	defer cancel()

	if _, err := d.Deliver(ctx, intent); err != nil {
		log.Error().Err(err).Str("kind", string(intent.Recipients.Kind)).Msg("push intent failed")
	}
}
