package push

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"chatpush-go/internal/models"

	"github.com/daaku/ensure"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type engineFixture struct {
	store   *fakeStore
	service *pushService
	metrics *Metrics
	engine  *Engine
}

func newEngineFixture(t *testing.T, opts Options) *engineFixture {
	t.Helper()
	f := newFakeStore()
	ps := newPushService(t)
	m := testMetrics()
	return &engineFixture{
		store:   f,
		service: ps,
		metrics: m,
		engine:  NewEngine(NewResolver(f, f, f), testSender(t), f, m, opts),
	}
}

func (fx *engineFixture) addSubscription(t *testing.T, id, userID string, status int) {
	fx.store.subs = append(fx.store.subs, newSubscription(t, id, userID, fx.service.endpoint(id)))
	if status != 0 {
		fx.service.statuses[id] = status
	}
}

func toUser(id string) models.NotificationIntent {
	return models.NotificationIntent{
		Recipients:     models.Recipients{Kind: models.RecipientUser, UserID: id},
		Title:          "Whisper",
		Body:           "psst",
		Type:           models.TypePrivateMessage,
		ConversationID: "c1",
	}
}

func TestDeliverGoneDeletesOnceWithoutRetry(t *testing.T) {
	fx := newEngineFixture(t, Options{RetireRejected: true})
	fx.addSubscription(t, "s1", "u1", http.StatusGone)

	result, err := fx.engine.Deliver(context.Background(), toUser("u1"))
	ensure.Nil(t, err)
	ensure.DeepEqual(t, fx.store.deletedIDs(), []string{"s1"})
	ensure.DeepEqual(t, fx.service.hitsFor("s1"), 1)
	ensure.DeepEqual(t, result.Attempted, 1)
	ensure.DeepEqual(t, result.Removed, 1)
	ensure.DeepEqual(t, result.Deliveries[0].Outcome, OutcomeGone)
	ensure.True(t, result.Deliveries[0].Removed)
	ensure.DeepEqual(t, testutil.ToFloat64(fx.metrics.removed.WithLabelValues("gone")), float64(1))
}

func TestDeliverServerErrorKeepsSubscription(t *testing.T) {
	fx := newEngineFixture(t, Options{RetireRejected: true})
	fx.addSubscription(t, "s1", "u1", http.StatusInternalServerError)
	fx.addSubscription(t, "s2", "u1", 0)

	result, err := fx.engine.Deliver(context.Background(), toUser("u1"))
	ensure.Nil(t, err)
	ensure.DeepEqual(t, len(fx.store.deletedIDs()), 0)
	ensure.DeepEqual(t, fx.service.hitsFor("s1"), 1)
	ensure.DeepEqual(t, fx.service.hitsFor("s2"), 1)
	ensure.DeepEqual(t, result.Attempted, 2)
	ensure.DeepEqual(t, result.Delivered, 1)
	ensure.DeepEqual(t, result.Failed, 1)
	ensure.False(t, result.OK())

	byID := map[string]Delivery{}
	for _, d := range result.Deliveries {
		byID[d.SubscriptionID] = d
	}
	ensure.DeepEqual(t, byID["s1"].Outcome, OutcomeTransient)
	ensure.DeepEqual(t, byID["s1"].Status, http.StatusInternalServerError)
	ensure.DeepEqual(t, byID["s2"].Outcome, OutcomeDelivered)
}

func TestDeliverRejected(t *testing.T) {
	fx := newEngineFixture(t, Options{RetireRejected: true})
	fx.addSubscription(t, "s1", "u1", http.StatusUnauthorized)
	fx.addSubscription(t, "s2", "u1", http.StatusForbidden)

	result, err := fx.engine.Deliver(context.Background(), toUser("u1"))
	ensure.Nil(t, err)
	ensure.DeepEqual(t, len(fx.store.deletedIDs()), 2)
	ensure.DeepEqual(t, result.Removed, 2)

	keep := newEngineFixture(t, Options{RetireRejected: false})
	keep.addSubscription(t, "s1", "u1", http.StatusForbidden)
	result, err = keep.engine.Deliver(context.Background(), toUser("u1"))
	ensure.Nil(t, err)
	ensure.DeepEqual(t, len(keep.store.deletedIDs()), 0)
	ensure.DeepEqual(t, result.Failed, 1)
	ensure.DeepEqual(t, result.Deliveries[0].Outcome, OutcomeRejected)
}

func TestDeliverIsolatesBadKeys(t *testing.T) {
	fx := newEngineFixture(t, Options{Workers: 2, RetireRejected: true})
	fx.addSubscription(t, "bad", "u1", 0)
	fx.store.subs[0].Auth = "{}"
	for _, id := range []string{"s1", "s2", "s3"} {
		fx.addSubscription(t, id, "u1", 0)
	}

	result, err := fx.engine.Deliver(context.Background(), toUser("u1"))
	ensure.Nil(t, err)
	ensure.DeepEqual(t, result.Attempted, 4)
	ensure.DeepEqual(t, result.Delivered, 3)
	ensure.DeepEqual(t, result.Failed, 1)
	ensure.DeepEqual(t, fx.service.hitsFor("bad"), 0)
	ensure.DeepEqual(t, len(fx.store.deletedIDs()), 0)
	for _, d := range result.Deliveries {
		if d.SubscriptionID == "bad" {
			ensure.DeepEqual(t, d.Outcome, OutcomeFailed)
		}
	}
}

func TestDeliverNoSubscriptions(t *testing.T) {
	fx := newEngineFixture(t, Options{})
	result, err := fx.engine.Deliver(context.Background(), toUser("lonely"))
	ensure.Nil(t, err)
	ensure.True(t, result.OK())
	ensure.DeepEqual(t, result.Attempted, 0)
	ensure.DeepEqual(t, fx.service.total.Load(), int64(0))
	ensure.DeepEqual(t, testutil.ToFloat64(fx.metrics.intents.WithLabelValues("user", "empty")), float64(1))
}

func TestDeliverResolveErrorAttemptsNothing(t *testing.T) {
	fx := newEngineFixture(t, Options{})
	fx.addSubscription(t, "s1", "u1", 0)
	fx.store.err = errLookup

	_, err := fx.engine.Deliver(context.Background(), toUser("u1"))
	ensure.True(t, errors.Is(err, ErrResolve))
	ensure.DeepEqual(t, fx.service.total.Load(), int64(0))
}

func TestDeliverInvalidIntent(t *testing.T) {
	fx := newEngineFixture(t, Options{})
	intent := toUser("u1")
	intent.Type = "shout"
	_, err := fx.engine.Deliver(context.Background(), intent)
	ensure.True(t, errors.Is(err, models.ErrInvalidIntent))
}

func TestDeliverBroadcastFanOut(t *testing.T) {
	fx := newEngineFixture(t, Options{Workers: 3})
	for _, u := range []string{"A", "B", "C", "D"} {
		fx.addSubscription(t, "sub-"+u, u, 0)
	}
	fx.store.joined["tavern"] = []string{"A", "B", "C", "D"}
	fx.store.present["tavern"] = []string{"B"}

	intent := models.NotificationIntent{
		Recipients: models.Recipients{Kind: models.RecipientBroadcast, Except: []string{"A"}},
		Title:      "New post in the tavern",
		Type:       models.TypeChatMessage,
		Location:   "tavern",
	}
	result, err := fx.engine.Deliver(context.Background(), intent)
	ensure.Nil(t, err)
	ensure.DeepEqual(t, result.Delivered, 2)
	ensure.DeepEqual(t, fx.service.hitsFor("sub-A"), 0)
	ensure.DeepEqual(t, fx.service.hitsFor("sub-B"), 0)
	ensure.DeepEqual(t, fx.service.hitsFor("sub-C"), 1)
	ensure.DeepEqual(t, fx.service.hitsFor("sub-D"), 1)
	ensure.DeepEqual(t, testutil.ToFloat64(fx.metrics.deliveries.WithLabelValues("delivered")), float64(2))
}
