package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/daaku/ensure"
)

func decodeRequest(t *testing.T, body string) NotifyRequest {
	t.Helper()
	var req NotifyRequest
	ensure.Nil(t, json.Unmarshal([]byte(body), &req))
	return req
}

func TestNotifyRequestUser(t *testing.T) {
	req := decodeRequest(t, `{"userId":"u1","title":"Hi","body":"there","type":"private_message","conversationId":"c9"}`)
	intent, err := req.Intent()
	ensure.Nil(t, err)
	ensure.DeepEqual(t, intent.Recipients, Recipients{Kind: RecipientUser, UserID: "u1"})
	ensure.DeepEqual(t, intent.ConversationID, "c9")
}

func TestNotifyRequestBroadcastForms(t *testing.T) {
	single := decodeRequest(t, `{"broadcastExcept":"a","location":"tavern","title":"t","body":"b","type":"chat_message"}`)
	intent, err := single.Intent()
	ensure.Nil(t, err)
	ensure.DeepEqual(t, intent.Recipients, Recipients{Kind: RecipientBroadcast, Except: []string{"a"}})

	many := decodeRequest(t, `{"broadcastExcept":["a","b"],"location":"tavern","subLocation":"cellar","title":"t","body":"b","type":"chat_message"}`)
	intent, err = many.Intent()
	ensure.Nil(t, err)
	ensure.DeepEqual(t, intent.Recipients.Except, []string{"a", "b"})
	ensure.DeepEqual(t, intent.SubLocation, "cellar")

	fallback := decodeRequest(t, `{"broadcastExcept":[],"title":"t","body":"b","type":"notification"}`)
	intent, err = fallback.Intent()
	ensure.Nil(t, err)
	ensure.DeepEqual(t, intent.Recipients.Kind, RecipientBroadcast)
	ensure.DeepEqual(t, intent.Location, "")
}

func TestNotifyRequestInvalid(t *testing.T) {
	cases := []string{
		`{"title":"t","type":"notification"}`,
		`{"userId":"u","broadcastExcept":"a","title":"t","type":"notification"}`,
		`{"userId":"u","title":"","type":"notification"}`,
		`{"userId":"u","title":"t","type":"shout"}`,
		`{"broadcastExcept":"a","subLocation":"cellar","title":"t","type":"chat_message"}`,
	}
	for _, c := range cases {
		_, err := decodeRequest(t, c).Intent()
		ensure.True(t, errors.Is(err, ErrInvalidIntent), c)
	}
}

func TestStringListRejectsObjects(t *testing.T) {
	var req NotifyRequest
	err := json.Unmarshal([]byte(`{"broadcastExcept":{"a":1}}`), &req)
	ensure.NotNil(t, err)
}

func TestPayload(t *testing.T) {
	intent := NotificationIntent{
		Recipients: Recipients{Kind: RecipientUser, UserID: "u1"},
		Title:      "New message",
		Body:       "hello",
		Type:       TypeChatMessage,
		Location:   "tavern",
	}
	raw, err := intent.Payload("/icon-192.png")
	ensure.Nil(t, err)
	var got map[string]any
	ensure.Nil(t, json.Unmarshal(raw, &got))
	ensure.DeepEqual(t, got, map[string]any{
		"title":    "New message",
		"body":     "hello",
		"type":     "chat_message",
		"url":      "/",
		"location": "tavern",
		"icon":     "/icon-192.png",
		"tag":      "chat_message-general",
	})

	intent.ConversationID = "c42"
	ensure.DeepEqual(t, Tag(intent.Type, intent.ConversationID), "chat_message-c42")
}
