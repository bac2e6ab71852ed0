package platform

import (
	"context"
	"errors"
	"strings"
)

// ErrUnauthorized is returned when the platform keeps answering 401 after a refresh.
var ErrUnauthorized = errors.New("platform: unauthorized")

// TokenProvider supplies the bearer token attached to every platform call. Storage and
// refresh mechanics belong to the implementation.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	// Refresh is called once after a 401; it returns the new token or an error if the
	// session cannot be renewed.
	Refresh(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider for a token that cannot be refreshed (a user JWT handed to
// the reconciler by a UI, or a service token from the environment).
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	tok := strings.TrimSpace(string(t))
	if tok == "" {
		return "", ErrUnauthorized
	}
	return tok, nil
}

func (t StaticToken) Refresh(context.Context) (string, error) {
	return "", ErrUnauthorized
}

// TokenFunc adapts plain functions to TokenProvider. A nil refresh behaves like StaticToken.
type TokenFunc struct {
	Get   func(ctx context.Context) (string, error)
	Renew func(ctx context.Context) (string, error)
}

func (f TokenFunc) Token(ctx context.Context) (string, error) {
	if f.Get == nil {
		return "", ErrUnauthorized
	}
	return f.Get(ctx)
}

func (f TokenFunc) Refresh(ctx context.Context) (string, error) {
	if f.Renew == nil {
		return "", ErrUnauthorized
	}
	return f.Renew(ctx)
}
