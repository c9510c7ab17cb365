package push

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"chatpush-go/internal/models"
	"chatpush-go/internal/store"
	"chatpush-go/internal/webpush"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const DefaultWorkers = 8

// Delivery is the result of one subscription's pipeline.
type Delivery struct {
	SubscriptionID string  `json:"subscription_id"`
	UserID         string  `json:"user_id"`
	Status         int     `json:"status,omitempty"`
	Outcome        Outcome `json:"outcome"`
	Removed        bool    `json:"removed"`
	Error          string  `json:"error,omitempty"`
}

// Result aggregates one intent's fan-out.
type Result struct {
	ID         string     `json:"id"`
	Attempted  int        `json:"attempted"`
	Delivered  int        `json:"delivered"`
	Removed    int        `json:"removed"`
	Failed     int        `json:"failed"`
	Deliveries []Delivery `json:"deliveries"`
}

// OK reports whether every attempt reached its push service.
func (r *Result) OK() bool {
	return r.Failed == 0
}

type Options struct {
	// Workers bounds concurrent deliveries per intent.
	Workers int
	// Icon is placed in every notification payload.
	Icon string
	// RetireRejected deletes subscriptions on 401/403 as well as 404/410.
	RetireRejected bool
}

// Engine resolves intents and fans deliveries out over a bounded pool.
type Engine struct {
	resolver *Resolver
	sender   *Sender
	subs     store.SubscriptionStore
	metrics  *Metrics
	opts     Options
}

func NewEngine(resolver *Resolver, sender *Sender, subs store.SubscriptionStore, metrics *Metrics, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Engine{
		resolver: resolver,
		sender:   sender,
		subs:     subs,
		metrics:  metrics,
		opts:     opts,
	}
}

// Deliver resolves intent and attempts every resulting subscription. The
// error is non-nil only for failures that prevent any attempt; individual
// delivery failures are reported in the Result.
func (e *Engine) Deliver(ctx context.Context, intent models.NotificationIntent) (*Result, error) {
	result := &Result{ID: uuid.NewString(), Deliveries: []Delivery{}}
	kind := string(intent.Recipients.Kind)
	logger := log.With().Str("delivery_id", result.ID).Str("kind", kind).Logger()

	if err := intent.Validate(); err != nil {
		e.metrics.intents.WithLabelValues(kind, "invalid").Inc()
		return nil, err
	}
	payload, err := intent.Payload(e.opts.Icon)
	if err != nil {
		e.metrics.intents.WithLabelValues(kind, "invalid").Inc()
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	subs, err := e.resolver.Resolve(ctx, intent)
	if err != nil {
		e.metrics.intents.WithLabelValues(kind, "resolve_error").Inc()
		return nil, err
	}
	e.metrics.fanout.Observe(float64(len(subs)))
	if len(subs) == 0 {
		logger.Info().Str("location", intent.Location).Msg("nothing to deliver")
		e.metrics.intents.WithLabelValues(kind, "empty").Inc()
		return result, nil
	}

	deliveries := make([]Delivery, len(subs))
	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for i, sub := range subs {
		g.Go(func() error {
			deliveries[i] = e.deliverOne(ctx, sub, payload)
			return nil
		})
	}
	_ = g.Wait()

	result.Deliveries = deliveries
	for _, d := range deliveries {
		result.Attempted++
		switch {
		case d.Outcome == OutcomeDelivered:
			result.Delivered++
		case d.Removed:
			result.Removed++
		default:
			result.Failed++
		}
	}
	e.metrics.intents.WithLabelValues(kind, "done").Inc()
	logger.Info().
		Int("attempted", result.Attempted).
		Int("delivered", result.Delivered).
		Int("removed", result.Removed).
		Int("failed", result.Failed).
		Msg("push fan-out complete")
	return result, nil
}

func endpointHost(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil {
		return u.Host
	}
	return ""
}

// deliverOne is the independent pipeline for a single subscription. It
// never panics out and never returns an error; the Delivery says it all.
func (e *Engine) deliverOne(ctx context.Context, sub models.PushSubscription, payload []byte) (d Delivery) {
	d = Delivery{SubscriptionID: sub.ID, UserID: sub.UserID}
	logger := log.With().Str("subscription_id", sub.ID).Str("push_host", endpointHost(sub.Endpoint)).Logger()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("push delivery panicked")
			d.Outcome = OutcomeFailed
			d.Error = fmt.Sprint(r)
		}
		e.metrics.deliveries.WithLabelValues(string(d.Outcome)).Inc()
		e.metrics.duration.Observe(time.Since(start).Seconds())
	}()

	status, err := e.sender.Send(ctx, sub, payload)
	d.Status = status
	switch {
	case err == nil:
		d.Outcome = OutcomeDelivered
		return d
	case errors.Is(err, webpush.ErrDecode), errors.Is(err, webpush.ErrKeyAgreement), errors.Is(err, webpush.ErrSigning):
		d.Outcome = OutcomeFailed
	case status == 0:
		d.Outcome = OutcomeTransient
	default:
		d.Outcome = Classify(status)
	}
	d.Error = err.Error()

	retire := d.Outcome == OutcomeGone || (d.Outcome == OutcomeRejected && e.opts.RetireRejected)
	if !retire {
		logger.Warn().Err(err).Int("status", status).Str("outcome", string(d.Outcome)).Msg("push delivery failed")
		return d
	}
	if d.Outcome == OutcomeRejected {
		logger.Error().Int("status", status).Msg("push service rejected VAPID credentials, removing subscription")
	}
	d.Removed = e.retire(ctx, sub, d.Outcome)
	return d
}

// retire deletes a subscription the push service will never accept again.
func (e *Engine) retire(ctx context.Context, sub models.PushSubscription, outcome Outcome) bool {
	err := e.subs.DeletePushSubscription(ctx, sub.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("failed to delete dead subscription")
		return false
	}
	e.metrics.removed.WithLabelValues(string(outcome)).Inc()
	log.Info().Str("subscription_id", sub.ID).Str("user_id", sub.UserID).Str("outcome", string(outcome)).Msg("removed dead subscription")
	return true
}
