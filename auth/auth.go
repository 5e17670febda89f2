// Package auth supplies the credential the sync engine attaches to every
// request it replays. Acquiring a credential is someone else's job; this
// package only reads what was acquired.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoCredential means no usable credential is available right now. The
// engine defers its drain pass instead of treating this as a failure.
var ErrNoCredential = errors.New("no credential available")

// Provider returns the bearer token to use for the next request.
type Provider interface {
	Credential(ctx context.Context) (string, error)
}

// Invalidator is implemented by providers that can discard a credential the
// server refused.
type Invalidator interface {
	Invalidate()
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (string, error)

func (f ProviderFunc) Credential(ctx context.Context) (string, error) { return f(ctx) }

// Static is a fixed token. An empty token yields ErrNoCredential.
type Static string

func (s Static) Credential(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}

// File reads the token from a file on every call, so an external login flow
// can rotate it in place. A missing or empty file yields ErrNoCredential.
type File struct {
	Path string
}

func (f File) Credential(context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("read token file %s: %w", f.Path, err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoCredential
	}
	return token, nil
}

// JWT wraps a provider and withholds tokens whose exp claim has passed. The
// signature is not checked; the server does that. A token that was refused
// is withheld until the inner provider hands out a different one.
type JWT struct {
	inner  Provider
	leeway time.Duration
	now    func() time.Time
	parser *jwt.Parser

	mu      sync.Mutex
	refused string
}

var (
	_ Provider    = (*JWT)(nil)
	_ Invalidator = (*JWT)(nil)
)

// NewJWT wraps inner. Tokens within leeway of expiry count as expired.
func NewJWT(inner Provider, leeway time.Duration) *JWT {
	return &JWT{
		inner:  inner,
		leeway: leeway,
		now:    time.Now,
		parser: jwt.NewParser(),
	}
}

func (j *JWT) Credential(ctx context.Context) (string, error) {
	token, err := j.inner.Credential(ctx)
	if err != nil {
		return "", err
	}

	j.mu.Lock()
	refused := j.refused
	j.mu.Unlock()
	if token == refused {
		return "", ErrNoCredential
	}

	exp, err := j.Expiry(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCredential, err)
	}
	if !exp.IsZero() && !j.now().Add(j.leeway).Before(exp) {
		return "", ErrNoCredential
	}
	return token, nil
}

// Expiry returns the exp claim of token, or the zero time when it has none.
func (j *JWT) Expiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := j.parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}

// Invalidate remembers the current token as refused.
func (j *JWT) Invalidate() {
	token, err := j.inner.Credential(context.Background())
	if err != nil {
		return
	}
	j.mu.Lock()
	j.refused = token
	j.mu.Unlock()
	if inv, ok := j.inner.(Invalidator); ok {
		inv.Invalidate()
	}
}
