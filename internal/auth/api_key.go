// Package auth guards the relay's administrative surface. Room access itself
// is authenticated by token possession alone and never passes through here.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// HeaderAdminKey carries the admin API key on requests to /api/admin/*.
const HeaderAdminKey = "X-Admin-Key"

// APIKeyVerifier checks a caller-supplied key against the configured admin
// key using a constant-time compare.
type APIKeyVerifier struct {
	Expected string
}

func (v APIKeyVerifier) Verify(key string) error {
	if key == "" || v.Expected == "" {
		return ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(v.Expected)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// VerifyRequest extracts the admin key from the X-Admin-Key header or an
// Authorization: Bearer token and verifies it.
func (v APIKeyVerifier) VerifyRequest(r *http.Request) error {
	key := strings.TrimSpace(r.Header.Get(HeaderAdminKey))
	if key == "" {
		if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			key = strings.TrimSpace(bearer)
		}
	}
	return v.Verify(key)
}
