package auth

import (
	"context"
	"strings"

	"github.com/hanko-field/storefront/internal/domain"
)

// Role constants used when checking authorisation boundaries.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity captures the authenticated principal extracted from a Firebase ID token.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
	Roles       []string
	Locale      string
}

// HasRole reports whether the identity includes the requested role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if normaliseRole(r) == role {
			return true
		}
	}
	return false
}

// Actor converts the identity into the principal passed to services.
func (i *Identity) Actor(sessionID string) domain.Actor {
	if i == nil {
		return domain.Actor{SessionID: sessionID}
	}
	return domain.Actor{
		UserID:      i.UID,
		SessionID:   sessionID,
		Email:       i.Email,
		DisplayName: i.DisplayName,
		Locale:      i.Locale,
		Admin:       i.HasRole(RoleAdmin),
	}
}

type identityContextKey struct{}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
