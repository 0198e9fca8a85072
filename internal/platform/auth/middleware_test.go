package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/storefront/internal/domain"
)

type stubTokenVerifier struct {
	tokens   map[string]*firebaseauth.Token
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if token, ok := s.tokens[idToken]; ok {
		return token, nil
	}
	return nil, errors.New("bad token")
}

func newStubVerifier() *stubTokenVerifier {
	return &stubTokenVerifier{tokens: map[string]*firebaseauth.Token{
		"shopper": {UID: "u1", Claims: map[string]any{"email": "ada@example.com", "locale": "ja-JP", "name": "Ada"}},
		"admin":   {UID: "ops-1", Claims: map[string]any{"role": []any{"Admin", "admin"}, "email": "ops@example.com"}},
	}}
}

func serveWith(mw func(http.Handler) http.Handler, req *http.Request) (*httptest.ResponseRecorder, *domain.Actor) {
	var captured *domain.Actor
	rr := httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := ActorFromContext(r.Context())
		captured = &actor
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, req)
	return rr, captured
}

func TestRequireFirebaseAuthBuildsActor(t *testing.T) {
	verifier := newStubVerifier()
	authn := NewAuthenticator(verifier)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer shopper")
	req.Header.Set(CartSessionHeader, "guest-123")

	rr, actor := serveWith(authn.RequireFirebaseAuth(), req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, actor)
	assert.Equal(t, "shopper", verifier.received)
	assert.Equal(t, domain.Actor{UserID: "u1", SessionID: "guest-123", Email: "ada@example.com", DisplayName: "Ada", Locale: "ja-JP"}, *actor)
}

func TestRequireFirebaseAuthRejects(t *testing.T) {
	authn := NewAuthenticator(newStubVerifier())

	tests := []struct {
		name   string
		header string
		roles  []string
		status int
		code   string
	}{
		{name: "missing header", status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "not bearer", header: "Basic abc", status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "invalid token", header: "Bearer nope", status: http.StatusUnauthorized, code: "invalid_token"},
		{name: "missing role", header: "Bearer shopper", roles: []string{RoleAdmin}, status: http.StatusForbidden, code: "insufficient_role"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/returns", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr, actor := serveWith(authn.RequireFirebaseAuth(tc.roles...), req)
			assert.Equal(t, tc.status, rr.Code)
			assert.Nil(t, actor)
			assert.Contains(t, rr.Body.String(), `"error":"`+tc.code+`"`)
		})
	}
}

func TestRequireFirebaseAuthAdminRole(t *testing.T) {
	authn := NewAuthenticator(newStubVerifier())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/returns:bulkTransition", nil)
	req.Header.Set("Authorization", "Bearer admin")

	rr, actor := serveWith(authn.RequireFirebaseAuth(RoleAdmin), req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.True(t, actor.Admin)
	assert.Equal(t, "ops-1", actor.UserID)
}

func TestOptionalFirebaseAuthAllowsGuests(t *testing.T) {
	authn := NewAuthenticator(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set(CartSessionHeader, "guest_42")
	rr, actor := serveWith(authn.OptionalFirebaseAuth(), req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, domain.Actor{SessionID: "guest_42"}, *actor)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set(CartSessionHeader, "bad session!")
	_, actor = serveWith(authn.OptionalFirebaseAuth(), req)
	assert.Empty(t, actor.SessionID, "malformed session ids are ignored")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("Authorization", "Bearer shopper")
	rr, _ = serveWith(authn.OptionalFirebaseAuth(), req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "a presented token must verify even on optional routes")
}

func TestIdentityHasRole(t *testing.T) {
	identity := &Identity{Roles: []string{"User", " ADMIN "}}
	assert.True(t, identity.HasRole("admin"))
	assert.False(t, identity.HasRole(""))
	var missing *Identity
	assert.False(t, missing.HasRole(RoleAdmin))
	assert.Equal(t, domain.Actor{SessionID: "s"}, missing.Actor("s"))
}
