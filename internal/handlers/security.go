package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
)

const maxBodySize = 64 << 10

// validateSharedSecret checks X-Push-Signature against HMAC-SHA256(body, secret).
// If secret is empty, validation is skipped (returns true).
func validateSharedSecret(r *http.Request, secret string) bool {
	if secret == "" {
		return true
	}
	sig := r.Header.Get("X-Push-Signature")
	if sig == "" {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return false
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body)) // restore for downstream handlers

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(expected))
}
