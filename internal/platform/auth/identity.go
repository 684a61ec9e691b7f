package auth

import (
	"context"
	"strings"
)

// PrincipalKind distinguishes human sellers from calling services.
type PrincipalKind string

const (
	PrincipalSeller  PrincipalKind = "seller"
	PrincipalService PrincipalKind = "service"
)

// Roles carried in the Firebase "role" custom claim.
const (
	RoleSeller   = "seller"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	Kind    PrincipalKind
	Subject string
	Email   string
	Issuer  string
	Roles   []string
}

// ActorID is the value recorded on fulfillment events, e.g. "seller:uid-1".
func (i *Identity) ActorID() string {
	if i == nil || i.Subject == "" {
		return ""
	}
	if i.Kind == PrincipalService && i.Email != "" {
		return string(i.Kind) + ":" + i.Email
	}
	return string(i.Kind) + ":" + i.Subject
}

// HasRole reports whether the identity carries role. Services implicitly hold every role.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	if i.Kind == PrincipalService {
		return true
	}
	role = normaliseRole(role)
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity carries any of roles. An empty list allows everyone.
func (i *Identity) HasAnyRole(roles ...string) bool {
	if len(roles) == 0 {
		return i != nil
	}
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

type identityContextKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey{}, identity)
}

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
