// Package auth authenticates and authorizes the processes on either end of an
// IPC link. A process proves who it is with a signed identity token during
// the link handshake; the receiving side then checks each call against the
// peer's roles.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrAccessDenied  = errors.New("access denied")
	ErrInvalidToken  = errors.New("invalid identity token")
	ErrTokenExpired  = errors.New("identity token expired")
	ErrUnknownMethod = errors.New("unsupported signing method")
)

// Identity names one process of a deployment.
type Identity struct {
	Process   string    `json:"process"`
	ID        string    `json:"id"`
	Roles     []string  `json:"roles,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (i Identity) String() string {
	if i.ID == "" {
		return i.Process
	}
	return i.Process + "/" + i.ID
}

func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenIssuer signs identities and verifies the tokens it or a peer with the
// same key material produced.
type TokenIssuer interface {
	Issue(id Identity) (string, error)
	Verify(token string) (*Identity, error)
}

// Authorizer decides whether peer may invoke method on className.
// A nil error admits the call.
type Authorizer interface {
	Authorize(ctx context.Context, peer Identity, className, method string) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, peer Identity, className, method string) error

func (f AuthorizerFunc) Authorize(ctx context.Context, peer Identity, className, method string) error {
	return f(ctx, peer, className, method)
}

// DeniedError is returned by authorizers when a call is refused.
type DeniedError struct {
	Peer      string
	ClassName string
	Method    string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied: %s may not call %s.%s", e.Peer, e.ClassName, e.Method)
}

func (e *DeniedError) Is(target error) bool { return target == ErrAccessDenied }

// Class and Code let the IPC layer report the refusal to the caller.
func (e *DeniedError) Class() string { return "AccessDenied" }
func (e *DeniedError) Code() int     { return 403 }

type contextKey struct{}

// WithIdentity returns a context carrying the caller identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the caller identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
