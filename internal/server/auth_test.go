package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func authRequest(h http.Handler, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	t.Parallel()

	if w := authRequest(authMiddleware("", okHandler), "", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200 when auth disabled, got %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	h := authMiddleware("secret", okHandler)
	cases := []struct {
		name      string
		header    string
		value     string
		want      int
		challenge string
	}{
		{"missing", "", "", http.StatusUnauthorized, `Bearer realm="docrag"`},
		{"wrong bearer", "Authorization", "Bearer wrong", http.StatusUnauthorized, `Bearer realm="docrag" error="invalid_token"`},
		{"prefix of key", "Authorization", "Bearer secre", http.StatusUnauthorized, `Bearer realm="docrag" error="invalid_token"`},
		{"basic scheme", "Authorization", "Basic secret", http.StatusUnauthorized, `Bearer realm="docrag"`},
		{"bearer", "Authorization", "Bearer secret", http.StatusOK, ""},
		{"lowercase scheme", "Authorization", "bearer secret", http.StatusOK, ""},
		{"api key header", "X-API-Key", "secret", http.StatusOK, ""},
		{"wrong api key header", "X-API-Key", "nope", http.StatusUnauthorized, `Bearer realm="docrag" error="invalid_token"`},
	}
	for _, tc := range cases {
		w := authRequest(h, tc.header, tc.value)
		if w.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, w.Code)
			continue
		}
		if got := w.Header().Get("WWW-Authenticate"); got != tc.challenge {
			t.Errorf("%s: challenge %q, want %q", tc.name, got, tc.challenge)
		}
		if tc.want == http.StatusUnauthorized {
			var body errorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("%s: decode: %v", tc.name, err)
			}
			if body.Kind != "unauthorized" {
				t.Errorf("%s: kind %q", tc.name, body.Kind)
			}
			if strings.Contains(body.Error, tc.value) && tc.value != "" {
				t.Errorf("%s: error body echoes the presented credential", tc.name)
			}
		}
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                    "",
		"Bearer abc":          "abc",
		"BEARER  abc ":        "abc",
		"Bearer":              "",
		"Token abc":           "",
		"Bearer abc def":      "abc def",
		"Basic dXNlcjpwYXNz": "",
	}
	for hdr, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if hdr != "" {
			req.Header.Set("Authorization", hdr)
		}
		if got := bearerToken(req); got != want {
			t.Errorf("bearerToken(%q) = %q, want %q", hdr, got, want)
		}
	}
}
