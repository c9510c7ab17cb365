package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidIntent is returned when a notification request fails validation.
var ErrInvalidIntent = errors.New("invalid notification intent")

type PushSubscription struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"keys_p256dh"` // Mapped from keys.p256dh
	Auth      string    `json:"keys_auth"`   // Mapped from keys.auth
	CreatedAt time.Time `json:"created_at"`
}

// AuthorizationEntry grants a user access to a restricted room.
type AuthorizationEntry struct {
	UserID   string `json:"user_id"`
	Location string `json:"location"`
	RoomName string `json:"room_name"`
}

type NotificationType string

const (
	TypePrivateMessage NotificationType = "private_message"
	TypeChatMessage    NotificationType = "chat_message"
	TypeNotification   NotificationType = "notification"
)

func (t NotificationType) Valid() bool {
	switch t {
	case TypePrivateMessage, TypeChatMessage, TypeNotification:
		return true
	}
	return false
}

type RecipientKind string

const (
	RecipientUser      RecipientKind = "user"
	RecipientBroadcast RecipientKind = "broadcast"
)

// Recipients selects who an intent is delivered to: one user, or everyone
// at the intent's location except the listed users.
type Recipients struct {
	Kind   RecipientKind `json:"kind"`
	UserID string        `json:"user_id,omitempty"`
	Except []string      `json:"except,omitempty"`
}

// NotificationIntent is one "tell these people" request. It is never
// persisted; it only crosses the delivery queue as JSON.
type NotificationIntent struct {
	Recipients     Recipients       `json:"recipients"`
	Title          string           `json:"title"`
	Body           string           `json:"body"`
	Type           NotificationType `json:"type"`
	URL            string           `json:"url,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Location       string           `json:"location,omitempty"`
	SubLocation    string           `json:"sub_location,omitempty"`
}

func (i NotificationIntent) Validate() error {
	switch i.Recipients.Kind {
	case RecipientUser:
		if i.Recipients.UserID == "" {
			return fmt.Errorf("%w: user recipient without user id", ErrInvalidIntent)
		}
	case RecipientBroadcast:
	default:
		return fmt.Errorf("%w: unknown recipient kind %q", ErrInvalidIntent, i.Recipients.Kind)
	}
	if strings.TrimSpace(i.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidIntent)
	}
	if !i.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidIntent, i.Type)
	}
	if i.SubLocation != "" && i.Location == "" {
		return fmt.Errorf("%w: sub location without location", ErrInvalidIntent)
	}
	return nil
}

// Notification is the JSON the receiving service worker decrypts.
type Notification struct {
	Title          string           `json:"title"`
	Body           string           `json:"body"`
	Type           NotificationType `json:"type"`
	URL            string           `json:"url"`
	ConversationID string           `json:"conversationId,omitempty"`
	Location       string           `json:"location,omitempty"`
	Icon           string           `json:"icon"`
	Tag            string           `json:"tag"`
}

// Tag groups notifications so the platform replaces rather than stacks them.
func Tag(t NotificationType, conversationID string) string {
	if conversationID == "" {
		conversationID = "general"
	}
	return string(t) + "-" + conversationID
}

// Payload renders the client-facing notification for an intent.
func (i NotificationIntent) Payload(icon string) ([]byte, error) {
	url := i.URL
	if url == "" {
		url = "/"
	}
	return json.Marshal(Notification{
		Title:          i.Title,
		Body:           i.Body,
		Type:           i.Type,
		URL:            url,
		ConversationID: i.ConversationID,
		Location:       i.Location,
		Icon:           icon,
		Tag:            Tag(i.Type, i.ConversationID),
	})
}

// StringList accepts either a JSON string or an array of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*l = StringList{}
		} else {
			*l = StringList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or array of strings: %w", err)
	}
	*l = many
	return nil
}

// NotifyRequest is the wire shape accepted by the delivery endpoints.
type NotifyRequest struct {
	UserID          string           `json:"userId,omitempty"`
	BroadcastExcept *StringList      `json:"broadcastExcept,omitempty"`
	Title           string           `json:"title"`
	Body            string           `json:"body"`
	Type            NotificationType `json:"type"`
	URL             string           `json:"url,omitempty"`
	ConversationID  string           `json:"conversationId,omitempty"`
	Location        string           `json:"location,omitempty"`
	SubLocation     string           `json:"subLocation,omitempty"`
}

// Intent validates the request and converts it to an intent. Exactly one
// of userId and broadcastExcept must be present.
func (r NotifyRequest) Intent() (NotificationIntent, error) {
	intent := NotificationIntent{
		Title:          r.Title,
		Body:           r.Body,
		Type:           r.Type,
		URL:            r.URL,
		ConversationID: r.ConversationID,
		Location:       r.Location,
		SubLocation:    r.SubLocation,
	}
	switch {
	case r.UserID != "" && r.BroadcastExcept != nil:
		return intent, fmt.Errorf("%w: userId and broadcastExcept are mutually exclusive", ErrInvalidIntent)
	case r.UserID != "":
		intent.Recipients = Recipients{Kind: RecipientUser, UserID: r.UserID}
	case r.BroadcastExcept != nil:
		intent.Recipients = Recipients{Kind: RecipientBroadcast, Except: []string(*r.BroadcastExcept)}
	default:
		return intent, fmt.Errorf("%w: one of userId or broadcastExcept is required", ErrInvalidIntent)
	}
	return intent, intent.Validate()
}
