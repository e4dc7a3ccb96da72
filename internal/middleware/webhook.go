// Package middleware provides HTTP middleware shared across handlers.
package middleware

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
)

// SecretFunc returns the webhook secret to verify against. Secrets live in
// the settings store and can rotate at runtime, so they are resolved per
// request.
type SecretFunc func(ctx context.Context) string

// WebhookHMAC returns middleware that validates HMAC-SHA256 webhook
// signatures carried in the given header. Signatures are "sha256=<hex>"
// or raw hex. When no secret is configured the request passes through
// unverified, matching the agent provider's optional-signing contract.
func WebhookHMAC(secret SecretFunc, header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := secret(r.Context())
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			sig := r.Header.Get(header)
			if sig == "" {
				http.Error(w, "missing webhook signature", http.StatusUnauthorized)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "failed to read body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !verifyHMAC(body, sig, key) {
				http.Error(w, "invalid webhook signature", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func verifyHMAC(payload []byte, signature, secret string) bool {
	sig := strings.TrimPrefix(signature, "sha256=")
	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	return hmac.Equal(sigBytes, expected)
}
