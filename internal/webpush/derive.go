package webpush

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"slices"

	"golang.org/x/crypto/hkdf"
)

// ErrKeyAgreement is returned when a subscriber's p256dh or auth secret
// cannot be used.
var ErrKeyAgreement = errors.New("webpush: key agreement failed")

const (
	authSecretLen = 16
	saltLen       = 16
	cekLen        = 16
	nonceLen      = 12
	ikmLen        = 32
)

var (
	webPushInfo = []byte("WebPush: info\x00")
	cekInfo     = []byte("Content-Encoding: aes128gcm\x00")
	nonceInfo   = []byte("Content-Encoding: nonce\x00")
)

// ContentKeys is everything needed to encrypt one message to one
// subscriber. Never reuse a ContentKeys for a second message.
type ContentKeys struct {
	CEK             []byte
	Nonce           []byte
	Salt            []byte
	ServerPublicKey []byte
}

// DeriveKeys runs the RFC 8291 key schedule against the subscriber's
// uncompressed P-256 public key and 16 byte auth secret. A new ephemeral
// key pair and salt are drawn on every call.
func DeriveKeys(p256dh, auth []byte) (*ContentKeys, error) {
	if len(auth) != authSecretLen {
		return nil, fmt.Errorf("%w: auth secret is %d bytes, want %d", ErrKeyAgreement, len(auth), authSecretLen)
	}
	clientKey, err := ecdh.P256().NewPublicKey(p256dh)
	if err != nil {
		return nil, fmt.Errorf("%w: p256dh: %v", ErrKeyAgreement, err)
	}

	serverKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral key: %v", ErrKeyAgreement, err)
	}
	shared, err := serverKey.ECDH(clientKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyAgreement, err)
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("%w: salt: %v", ErrKeyAgreement, err)
	}

	serverPublic := serverKey.PublicKey().Bytes()
	cek, nonce, err := contentKeys(shared, auth, salt, p256dh, serverPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyAgreement, err)
	}
	return &ContentKeys{
		CEK:             cek,
		Nonce:           nonce,
		Salt:            salt,
		ServerPublicKey: serverPublic,
	}, nil
}

// contentKeys derives the CEK and nonce. Both sides of the exchange run
// the same schedule; only the ECDH input differs.
func contentKeys(shared, auth, salt, clientPublic, serverPublic []byte) (cek, nonce []byte, err error) {
	keyInfo := slices.Concat(webPushInfo, clientPublic, serverPublic)
	ikm, err := hkdfRead(ikmLen, shared, auth, keyInfo)
	if err != nil {
		return nil, nil, err
	}
	if cek, err = hkdfRead(cekLen, ikm, salt, cekInfo); err != nil {
		return nil, nil, err
	}
	if nonce, err = hkdfRead(nonceLen, ikm, salt, nonceInfo); err != nil {
		return nil, nil, err
	}
	return cek, nonce, nil
}

func hkdfRead(length int, secret, salt, info []byte) ([]byte, error) {
	out := make([]byte, length)
	_, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out)
	return out, err
}
