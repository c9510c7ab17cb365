package webpush

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

const (
	// RecordSize is advertised in every envelope. Push services need not
	// accept more, so payloads above roughly 4 KB get rejected upstream;
	// nothing here enforces that.
	RecordSize = 4096

	// salt(16) + rs(4) + idlen(1) + keyid(65)
	headerLen = saltLen + 4 + 1 + 65

	recordDelimiter = 0x02
)

// Encrypt seals plaintext into a single aes128gcm record and prepends the
// content-coding header. padding zero bytes follow the delimiter.
func Encrypt(plaintext []byte, keys *ContentKeys, padding int) ([]byte, error) {
	if padding < 0 {
		padding = 0
	}
	block, err := aes.NewCipher(keys.CEK)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(keys.Nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("webpush: nonce is %d bytes, want %d", len(keys.Nonce), gcm.NonceSize())
	}

	size := headerLen + len(plaintext) + 1 + padding + gcm.Overhead()
	record := make([]byte, 0, size)
	record = append(record, keys.Salt...)
	record = binary.BigEndian.AppendUint32(record, RecordSize)
	record = append(record, byte(len(keys.ServerPublicKey)))
	record = append(record, keys.ServerPublicKey...)
	record = append(record, plaintext...)
	record = append(record, recordDelimiter)
	record = append(record, make([]byte, padding)...)

	// seal over the plaintext in place
	return gcm.Seal(record[:headerLen], keys.Nonce, record[headerLen:], nil), nil
}

// Seal encrypts message for a subscriber given its base64url p256dh and
// auth values. It is the full per-message pipeline short of signing.
func Seal(p256dh, auth string, message []byte) ([]byte, error) {
	clientPublic, err := Decode(p256dh)
	if err != nil {
		return nil, fmt.Errorf("p256dh: %w", err)
	}
	authSecret, err := Decode(auth)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	keys, err := DeriveKeys(clientPublic, authSecret)
	if err != nil {
		return nil, err
	}
	return Encrypt(message, keys, 0)
}
