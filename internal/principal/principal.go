package principal

import (
	"context"

	"github.com/google/uuid"
)

type Kind string

const (
	KindCompany Kind = "company"
	KindUser    Kind = "user"
	KindGuest   Kind = "guest"
)

// Principal is the resolved identity behind a bearer token. CompanyID is
// always set; OwnerID equals CompanyID for company admins and is the
// user/session id otherwise.
type Principal struct {
	Kind      Kind
	CompanyID uuid.UUID
	OwnerID   uuid.UUID
	Email     string
}

func (p Principal) IsCompany() bool { return p.Kind == KindCompany }
func (p Principal) IsUser() bool    { return p.Kind == KindUser }
func (p Principal) IsGuest() bool   { return p.Kind == KindGuest }

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
