package auth

import (
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/polybuilder/polybuilder/internal/storage"
)

// keyHexLength is the length of the hex part of an issued key.
const keyHexLength = 64

// FromRequest returns the API key sent with r, from X-API-Key or a bearer
// Authorization header.
func FromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// WellFormed reports whether key has the shape of a key issued by the store.
// Malformed keys are rejected without a storage lookup.
func WellFormed(key string) bool {
	rest, ok := strings.CutPrefix(key, storage.KeyPrefix)
	if !ok || len(rest) != keyHexLength {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}

// Mask shortens a key for display, keeping the prefix and last four characters.
func Mask(key string) string {
	if len(key) <= len(storage.KeyPrefix)+4 {
		return strings.Repeat("*", len(key))
	}
	return storage.KeyPrefix + "…" + key[len(key)-4:]
}
