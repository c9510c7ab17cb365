// Package webpush implements the sending side of Web Push: message
// encryption (RFC 8291, aes128gcm content-coding from RFC 8188) and VAPID
// sender identification (RFC 8292).
//
// Every message gets its own ephemeral key pair and salt. Nothing secret
// outlives a single Seal call.
package webpush
