package push

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"chatpush-go/internal/models"
	"chatpush-go/internal/webpush"
)

// Outcome classifies one delivery attempt.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	// OutcomeGone: 404/410, the user agent dropped the subscription.
	OutcomeGone Outcome = "gone"
	// OutcomeRejected: 401/403, the push service no longer trusts our
	// VAPID key for this subscription.
	OutcomeRejected Outcome = "rejected"
	// OutcomeTransient: anything else the push service or network did.
	OutcomeTransient Outcome = "transient"
	// OutcomeFailed: we could not build the request (bad keys, signing).
	OutcomeFailed Outcome = "failed"
)

// Classify maps a push service status code to an outcome.
func Classify(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeDelivered
	case status == http.StatusNotFound || status == http.StatusGone:
		return OutcomeGone
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return OutcomeRejected
	}
	return OutcomeTransient
}

const (
	DefaultTTL     = 24 * time.Hour
	DefaultUrgency = "high"
)

// Sender performs single push deliveries.
type Sender struct {
	client  *http.Client
	signer  *webpush.Signer
	ttl     time.Duration
	urgency string
}

func NewSender(client *http.Client, signer *webpush.Signer, ttl time.Duration) *Sender {
	if client == nil {
		client = http.DefaultClient
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	// the TTL header carries whole seconds
	ttl = max(ttl.Round(time.Second), time.Second)
	return &Sender{client: client, signer: signer, ttl: ttl, urgency: DefaultUrgency}
}

// Send encrypts payload for sub and POSTs it to the subscription
// endpoint. A non-nil error with status 0 means no response was received.
func (s *Sender) Send(ctx context.Context, sub models.PushSubscription, payload []byte) (int, error) {
	body, err := webpush.Seal(sub.P256dh, sub.Auth, payload)
	if err != nil {
		return 0, err
	}
	authorization, err := s.signer.AuthHeader(sub.Endpoint)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Encoding", "aes128gcm")
	req.Header.Set("TTL", strconv.Itoa(int(s.ttl.Seconds())))
	req.Header.Set("Urgency", s.urgency)
	req.Header.Set("Authorization", authorization)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if Classify(resp.StatusCode) != OutcomeDelivered {
		return resp.StatusCode, fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
