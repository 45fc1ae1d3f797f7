package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
)

type tenantContextKey struct{}

// tenantAuth issues and verifies bearer tokens of the form
// base64url(tenant_id).hex(hmac_sha256(secret, payload)).
type tenantAuth struct {
	secret []byte
}

func newTenantAuth(secret string) *tenantAuth {
	return &tenantAuth{secret: []byte(secret)}
}

func (a *tenantAuth) issueToken(tenantID string) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(tenantID))
	return payload + "." + a.sign(payload)
}

func (a *tenantAuth) verifyToken(value string) (string, bool) {
	parts := strings.Split(value, ".")
	if len(parts) != 2 {
		return "", false
	}

	payload := parts[0]
	signature := parts[1]

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return "", false
	}
	expected, _ := hex.DecodeString(a.sign(payload))
	if !hmac.Equal(provided, expected) {
		return "", false
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", false
	}
	tenantID := strings.TrimSpace(string(decoded))
	if tenantID == "" {
		return "", false
	}

	return tenantID, true
}

func (a *tenantAuth) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secret)
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// middleware rejects requests without a valid bearer token and stores the
// tenant id in the request context.
func (a *tenantAuth) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
			return
		}

		tenantID, ok := a.verifyToken(strings.TrimSpace(token))
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), tenantContextKey{}, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantFromContext(ctx context.Context) string {
	tenantID, _ := ctx.Value(tenantContextKey{}).(string)
	return tenantID
}
