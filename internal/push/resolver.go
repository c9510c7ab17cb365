package push

import (
	"context"
	"errors"
	"fmt"

	"chatpush-go/internal/models"
	"chatpush-go/internal/store"
)

// ErrResolve wraps any lookup failure while computing recipients. Nothing
// is delivered when it occurs.
var ErrResolve = errors.New("push: resolving recipients")

// Resolver turns an intent into the subscriptions to deliver to.
type Resolver struct {
	subs     store.SubscriptionStore
	members  store.MembershipStore
	presence store.PresenceStore
}

func NewResolver(subs store.SubscriptionStore, members store.MembershipStore, presence store.PresenceStore) *Resolver {
	return &Resolver{subs: subs, members: members, presence: presence}
}

func (r *Resolver) Resolve(ctx context.Context, intent models.NotificationIntent) ([]models.PushSubscription, error) {
	switch intent.Recipients.Kind {
	case models.RecipientUser:
		subs, err := r.subs.GetUserSubscriptions(ctx, intent.Recipients.UserID)
		if err != nil {
			return nil, fmt.Errorf("%w: subscriptions of %s: %v", ErrResolve, intent.Recipients.UserID, err)
		}
		return subs, nil
	case models.RecipientBroadcast:
		if intent.Location == "" {
			subs, err := r.subs.GetSubscriptionsExcept(ctx, intent.Recipients.Except)
			if err != nil {
				return nil, fmt.Errorf("%w: all subscriptions: %v", ErrResolve, err)
			}
			return subs, nil
		}
		users, err := r.broadcastUsers(ctx, intent)
		if err != nil {
			return nil, err
		}
		subs, err := r.subs.GetSubscriptionsForUsers(ctx, users)
		if err != nil {
			return nil, fmt.Errorf("%w: subscriptions for %d users: %v", ErrResolve, len(users), err)
		}
		return subs, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrResolve, models.ErrInvalidIntent)
}

// broadcastUsers computes joined - except - present, intersected with the
// authorized users of every restriction that covers the room.
func (r *Resolver) broadcastUsers(ctx context.Context, intent models.NotificationIntent) ([]string, error) {
	present, err := r.presence.GetPresentUsers(ctx, intent.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: presence at %s: %v", ErrResolve, intent.Location, err)
	}
	joined, err := r.members.GetJoinedUsers(ctx, intent.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: members of %s: %v", ErrResolve, intent.Location, err)
	}

	skip := make(map[string]struct{}, len(present)+len(intent.Recipients.Except))
	for _, id := range intent.Recipients.Except {
		skip[id] = struct{}{}
	}
	for _, id := range present {
		skip[id] = struct{}{}
	}

	allowed, err := r.authorizedUsers(ctx, intent.Location, intent.SubLocation)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(joined))
	users := make([]string, 0, len(joined))
	for _, id := range joined {
		if _, ok := skip[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[id]; !ok {
				continue
			}
		}
		seen[id] = struct{}{}
		users = append(users, id)
	}
	return users, nil
}

// authorizedUsers returns the users allowed into (location, room), or nil
// when nothing restricts it. A restriction on the whole location (room "")
// also covers each of its rooms; when both apply a user needs both.
func (r *Resolver) authorizedUsers(ctx context.Context, location, room string) (map[string]struct{}, error) {
	gates := []string{room}
	if room != "" {
		gates = append(gates, "")
	}

	var allowed map[string]struct{}
	for _, gate := range gates {
		restricted, err := r.members.IsRestricted(ctx, location, gate)
		if err != nil {
			return nil, fmt.Errorf("%w: restriction of %s/%s: %v", ErrResolve, location, gate, err)
		}
		if !restricted {
			continue
		}
		authorized, err := r.members.GetAuthorizedUsers(ctx, location, gate)
		if err != nil {
			return nil, fmt.Errorf("%w: authorizations for %s/%s: %v", ErrResolve, location, gate, err)
		}
		next := make(map[string]struct{}, len(authorized))
		for _, id := range authorized {
			if _, ok := allowed[id]; allowed == nil || ok {
				next[id] = struct{}{}
			}
		}
		allowed = next
	}
	return allowed, nil
}
