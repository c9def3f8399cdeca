package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/docrag-go/internal/logging"
)

// apiKeyHeader is accepted as an alternative to a Bearer token.
const apiKeyHeader = "X-API-Key"

// authMiddleware requires the API key on every request to next. An empty
// apiKey disables authentication; New logs that once at startup.
//
// The key may be sent as either of:
//
//	Authorization: Bearer <apiKey>
//	X-API-Key: <apiKey>
//
// Failures get 401 with a Bearer challenge. Presented tokens are never
// logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token != "" && subtle.ConstantTimeCompare([]byte(token), want) == 1 {
			next.ServeHTTP(w, r)
			return
		}

		challenge := `Bearer realm="docrag"`
		msg := "authorization required"
		if token != "" {
			challenge += ` error="invalid_token"`
			msg = "invalid token"
		}
		logging.FromContext(r.Context()).Warn("auth: rejected request",
			slog.Bool("token_present", token != ""),
		)
		w.Header().Set("WWW-Authenticate", challenge)
		writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: msg, Kind: "unauthorized"})
	})
}

// requestToken returns the Bearer token, falling back to X-API-Key.
func requestToken(r *http.Request) string {
	if t := bearerToken(r); t != "" {
		return t
	}
	return strings.TrimSpace(r.Header.Get(apiKeyHeader))
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
