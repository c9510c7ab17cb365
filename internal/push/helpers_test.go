package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"chatpush-go/internal/models"
	"chatpush-go/internal/store"
	"chatpush-go/internal/webpush"

	"github.com/daaku/ensure"
	"github.com/prometheus/client_golang/prometheus"
)

type roomKey struct{ location, room string }

// fakeStore implements the subscription, membership and presence stores.
type fakeStore struct {
	mu         sync.Mutex
	subs       []models.PushSubscription
	joined     map[string][]string
	present    map[string][]string
	restricted map[roomKey]bool
	authorized map[roomKey][]string
	deleted    []string
	err        error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		joined:     map[string][]string{},
		present:    map[string][]string{},
		restricted: map[roomKey]bool{},
		authorized: map[roomKey][]string{},
	}
}

func (f *fakeStore) GetUserSubscriptions(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	return f.GetSubscriptionsForUsers(ctx, []string{userID})
}

func (f *fakeStore) GetSubscriptionsForUsers(_ context.Context, userIDs []string) ([]models.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.PushSubscription
	for _, s := range f.subs {
		if slices.Contains(userIDs, s.UserID) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) GetSubscriptionsExcept(_ context.Context, excluded []string) ([]models.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.PushSubscription
	for _, s := range f.subs {
		if !slices.Contains(excluded, s.UserID) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) DeletePushSubscription(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	for i, s := range f.subs {
		if s.ID == id {
			f.subs = slices.Delete(f.subs, i, i+1)
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeStore) GetJoinedUsers(_ context.Context, location string) ([]string, error) {
	return f.joined[location], f.err
}

func (f *fakeStore) IsRestricted(_ context.Context, location, room string) (bool, error) {
	return f.restricted[roomKey{location, room}], f.err
}

func (f *fakeStore) GetAuthorizedUsers(_ context.Context, location, room string) ([]string, error) {
	return f.authorized[roomKey{location, room}], f.err
}

func (f *fakeStore) GetPresentUsers(_ context.Context, location string) ([]string, error) {
	return f.present[location], f.err
}

func (f *fakeStore) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.deleted)
}

var errLookup = errors.New("connection reset")

// newSubscription returns a subscription with real keys for endpoint.
func newSubscription(t *testing.T, id, userID, endpoint string) models.PushSubscription {
	t.Helper()
	private, err := ecdh.P256().GenerateKey(rand.Reader)
	ensure.Nil(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	ensure.Nil(t, err)
	return models.PushSubscription{
		ID:       id,
		UserID:   userID,
		Endpoint: endpoint,
		P256dh:   webpush.Encode(private.PublicKey().Bytes()),
		Auth:     webpush.Encode(auth),
	}
}

// pushService answers each /sub/{id} with a configured status.
type pushService struct {
	*httptest.Server
	mu       sync.Mutex
	statuses map[string]int
	hits     map[string]int
	total    atomic.Int64
}

func newPushService(t *testing.T) *pushService {
	t.Helper()
	ps := &pushService{statuses: map[string]int{}, hits: map[string]int{}}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/sub/")
		ps.total.Add(1)
		ps.mu.Lock()
		ps.hits[id]++
		status, ok := ps.statuses[id]
		ps.mu.Unlock()
		if !ok {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pushService) endpoint(id string) string {
	return ps.URL + "/sub/" + id
}

func (ps *pushService) hitsFor(id string) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.hits[id]
}

func testSender(t *testing.T) *Sender {
	t.Helper()
	keys, err := webpush.GenerateVAPIDKeys()
	ensure.Nil(t, err)
	signer, err := webpush.NewSigner(keys, "mailto:ops@chatpush.example")
	ensure.Nil(t, err)
	return NewSender(http.DefaultClient, signer, 0)
}

func testMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
