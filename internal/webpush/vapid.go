package webpush

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrConfig marks a missing or malformed VAPID key pair or subject.
	ErrConfig = errors.New("webpush: invalid VAPID configuration")
	// ErrSigning marks a failure to produce the VAPID JWT for one endpoint.
	ErrSigning = errors.New("webpush: vapid signing failed")
)

const (
	vapidValidity = 12 * time.Hour
	// Cached tokens are reissued once less than this much validity is left.
	vapidRenewBefore = time.Hour
)

// VAPIDKeys is the process-wide application server key pair.
type VAPIDKeys struct {
	Private *ecdsa.PrivateKey
	Public  []byte // uncompressed P-256 point, 65 bytes
}

// PublicKey returns the public key as advertised to clients.
func (k *VAPIDKeys) PublicKey() string {
	return Encode(k.Public)
}

// ParseVAPIDKeys parses a base64url public key (65 bytes) and private
// scalar (32 bytes) and checks that they belong together.
func ParseVAPIDKeys(publicKey, privateKey string) (*VAPIDKeys, error) {
	if publicKey == "" || privateKey == "" {
		return nil, fmt.Errorf("%w: public and private key are both required", ErrConfig)
	}
	rawPrivate, err := Decode(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrConfig, err)
	}
	if len(rawPrivate) != 32 {
		return nil, fmt.Errorf("%w: private key is %d bytes, want 32", ErrConfig, len(rawPrivate))
	}
	rawPublic, err := Decode(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrConfig, err)
	}
	if len(rawPublic) != 65 {
		return nil, fmt.Errorf("%w: public key is %d bytes, want 65", ErrConfig, len(rawPublic))
	}

	private, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), rawPrivate)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrConfig, err)
	}
	derived, err := private.PublicKey.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrConfig, err)
	}
	if !bytes.Equal(derived, rawPublic) {
		return nil, fmt.Errorf("%w: public key does not match private key", ErrConfig)
	}
	return &VAPIDKeys{Private: private, Public: rawPublic}, nil
}

// GenerateVAPIDKeys creates a fresh key pair.
func GenerateVAPIDKeys() (*VAPIDKeys, error) {
	private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	public, err := private.PublicKey.Bytes()
	if err != nil {
		return nil, err
	}
	return &VAPIDKeys{Private: private, Public: public}, nil
}

type cachedToken struct {
	token   string
	expires time.Time
}

// Signer issues VAPID JWTs scoped to a push service origin.
type Signer struct {
	keys    *VAPIDKeys
	subject string
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedToken
}

// NewSigner returns a Signer for keys. The subject must be a mailto: or
// https: contact; Apple rejects anything else.
func NewSigner(keys *VAPIDKeys, subject string) (*Signer, error) {
	if keys == nil || keys.Private == nil || len(keys.Public) != 65 {
		return nil, fmt.Errorf("%w: key pair not loaded", ErrConfig)
	}
	if !strings.HasPrefix(subject, "mailto:") && !strings.HasPrefix(subject, "https:") {
		return nil, fmt.Errorf("%w: subject %q must be mailto: or https:", ErrConfig, subject)
	}
	return &Signer{
		keys:    keys,
		subject: subject,
		now:     time.Now,
		cache:   make(map[string]cachedToken),
	}, nil
}

// Audience returns the scheme and host of a push endpoint.
func Audience(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q", endpoint)
	}
	return u.Scheme + "://" + u.Host, nil
}

// Token returns a JWT for the origin of endpoint.
func (s *Signer) Token(endpoint string) (string, error) {
	aud, err := Audience(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cache[aud]; ok && c.expires.Sub(now) > vapidRenewBefore {
		return c.token, nil
	}

	expires := now.Add(vapidValidity)
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"aud": aud,
		"exp": expires.Unix(),
		"sub": s.subject,
	})
	signed, err := token.SignedString(s.keys.Private)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	// drop tokens that would be reissued anyway
	for k, c := range s.cache {
		if c.expires.Sub(now) <= vapidRenewBefore {
			delete(s.cache, k)
		}
	}
	s.cache[aud] = cachedToken{token: signed, expires: expires}
	return signed, nil
}

// AuthHeader returns the Authorization header value for endpoint.
func (s *Signer) AuthHeader(endpoint string) (string, error) {
	token, err := s.Token(endpoint)
	if err != nil {
		return "", err
	}
	return "vapid t=" + token + ", k=" + s.keys.PublicKey(), nil
}
