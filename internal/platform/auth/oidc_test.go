package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

type outcomeLog struct {
	mu      sync.Mutex
	reasons []string
	success []bool
}

func (l *outcomeLog) record(success bool, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.success = append(l.success, success)
	l.reasons = append(l.reasons, reason)
}

func (l *outcomeLog) last() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.reasons) == 0 {
		return false, ""
	}
	return l.success[len(l.success)-1], l.reasons[len(l.reasons)-1]
}

func TestJWKSCacheKeyCachesKeys(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var mu sync.Mutex
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key: &key.PublicKey, KeyID: "key1", Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig",
		}}})
	}))
	t.Cleanup(server.Close)

	now := time.Unix(1_000_000, 0)
	cache := NewJWKSCache(server.URL, WithJWKSClock(func() time.Time { return now }))

	for i := 0; i < 2; i++ {
		got, err := cache.Key(t.Context(), "key1")
		if err != nil {
			t.Fatalf("cache.Key: %v", err)
		}
		if _, ok := got.(*rsa.PublicKey); !ok {
			t.Fatalf("expected *rsa.PublicKey, got %T", got)
		}
	}

	if _, err := cache.Key(t.Context(), "unknown"); err == nil {
		t.Fatal("expected error for unknown kid")
	}

	mu.Lock()
	defer mu.Unlock()
	// One initial fetch plus one refetch for the unknown kid.
	if requests != 2 {
		t.Fatalf("expected 2 JWKS fetches, got %d", requests)
	}
}

func TestParseMaxAge(t *testing.T) {
	cases := map[string]time.Duration{
		"max-age=600":           10 * time.Minute,
		"public, Max-Age=60, x": time.Minute,
		"no-store":              0,
		"max-age=abc":           0,
		"":                      0,
	}
	for header, want := range cases {
		if got := parseMaxAge(header); got != want {
			t.Errorf("parseMaxAge(%q) = %s, want %s", header, got, want)
		}
	}
}

func TestRequireOIDCSuccess(t *testing.T) {
	validator, outcomes, token := setupOIDCTest(t, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/outbox:drain", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	validator.RequireOIDC("https://shop.example.com", []string{"https://accounts.google.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := ServiceIdentityFromContext(r.Context())
		if !ok || identity.Email != "scheduler@example.iam.gserviceaccount.com" {
			t.Fatalf("unexpected service identity %+v", identity)
		}
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if ok, reason := outcomes.last(); !ok || reason != "ok" {
		t.Fatalf("unexpected outcome %v %s", ok, reason)
	}
}

func TestRequireOIDCRejections(t *testing.T) {
	tests := []struct {
		name     string
		audience string
		issuers  []string
		mutate   func(jwt.MapClaims)
		header   func(token string) string
		status   int
		reason   string
	}{
		{
			name:     "audience mismatch",
			audience: "https://other.example.com",
			status:   http.StatusUnauthorized,
			reason:   "audience_mismatch",
		},
		{
			name:     "issuer mismatch",
			audience: "https://shop.example.com",
			mutate:   func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" },
			status:   http.StatusUnauthorized,
			reason:   "issuer_mismatch",
		},
		{
			name:     "expired",
			audience: "https://shop.example.com",
			mutate:   func(c jwt.MapClaims) { c["exp"] = float64(time.Unix(1_600_000_000, 0).Unix()) },
			status:   http.StatusUnauthorized,
			reason:   "token_invalid",
		},
		{
			name:     "missing token",
			audience: "https://shop.example.com",
			header:   func(string) string { return "" },
			status:   http.StatusUnauthorized,
			reason:   "token_missing",
		},
		{
			name:   "audience not configured",
			header: func(token string) string { return "Bearer " + token },
			status: http.StatusServiceUnavailable,
			reason: "not_configured",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			validator, outcomes, token := setupOIDCTest(t, tc.mutate)
			issuers := tc.issuers
			if issuers == nil {
				issuers = []string{"https://accounts.google.com"}
			}

			req := httptest.NewRequest(http.MethodPost, "/internal/inventory:reconcile", nil)
			header := "Bearer " + token
			if tc.header != nil {
				header = tc.header(token)
			}
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rr := httptest.NewRecorder()
			validator.RequireOIDC(tc.audience, issuers)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler should not be called")
			})).ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if _, reason := outcomes.last(); reason != tc.reason {
				t.Fatalf("expected reason %s, got %s", tc.reason, reason)
			}
		})
	}
}

func TestRequireOIDCJWKSUnavailable(t *testing.T) {
	validator, outcomes, token := setupOIDCTest(t, nil)
	validator.cache.url = "http://127.0.0.1:1/unreachable"

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/outbox:drain", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	validator.RequireOIDC("https://shop.example.com", nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if _, reason := outcomes.last(); reason != "jwks_unavailable" {
		t.Fatalf("expected jwks_unavailable, got %s", reason)
	}
}

func setupOIDCTest(t *testing.T, mutateClaims func(jwt.MapClaims)) (*OIDCValidator, *outcomeLog, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key: &key.PublicKey, KeyID: "svc-key", Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig",
		}}})
	}))
	t.Cleanup(server.Close)

	now := time.Unix(1_700_000_000, 0)
	originalTimeFunc := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.TimeFunc = originalTimeFunc })

	outcomes := &outcomeLog{}
	validator := NewOIDCValidator(
		NewJWKSCache(server.URL, WithJWKSClock(func() time.Time { return now })),
		WithOIDCRecorder(outcomes.record),
	)

	claims := jwt.MapClaims{
		"aud":   []string{"https://shop.example.com"},
		"iss":   "https://accounts.google.com",
		"sub":   "112233",
		"email": "scheduler@example.iam.gserviceaccount.com",
		"exp":   float64(now.Add(time.Hour).Unix()),
		"iat":   float64(now.Unix()),
	}
	if mutateClaims != nil {
		mutateClaims(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "svc-key"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return validator, outcomes, signed
}
