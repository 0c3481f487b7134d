// Package session resolves the user identity attached to telemetry reports.
//
// The authentication subsystem owns the session; keytrail only reads the
// token it leaves behind and never verifies or refreshes it.
package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Source tells where an identity came from.
type Source string

const (
	SourceSession     Source = "session"
	SourceEnvironment Source = "environment"
)

// Info is the identity attached to a report.
type Info struct {
	Identity     string `json:"identity"`
	DisplayLabel string `json:"display_label"`
	Source       Source `json:"source"`
}

// Provider looks up the current session.
type Provider interface {
	Lookup(ctx context.Context) (Info, error)
}

// ErrNoSession is returned when no session is available.
var ErrNoSession = errors.New("no active session")

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(ctx context.Context) (Info, error)

func (f ProviderFunc) Lookup(ctx context.Context) (Info, error) {
	return f(ctx)
}

// TokenFileProvider reads a JWT session token from a file and extracts the
// identity from its claims.
type TokenFileProvider struct {
	Path string
}

type claims struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	jwt.RegisteredClaims
}

func (p TokenFileProvider) Lookup(ctx context.Context) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	if p.Path == "" {
		return Info{}, ErrNoSession
	}

	data, err := os.ReadFile(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, ErrNoSession
		}
		return Info{}, fmt.Errorf("failed to read session token: %w", err)
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return Info{}, ErrNoSession
	}

	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &c); err != nil {
		return Info{}, fmt.Errorf("failed to parse session token: %w", err)
	}

	identity := cmp.Or(c.Subject, c.Email)
	if identity == "" {
		return Info{}, fmt.Errorf("session token has no subject: %w", ErrNoSession)
	}
	return Info{
		Identity:     identity,
		DisplayLabel: cmp.Or(c.Name, c.PreferredUsername, c.Email, identity),
		Source:       SourceSession,
	}, nil
}

// EnvironmentInfo derives an identity from the process environment. It is
// the fallback whenever the session lookup fails.
func EnvironmentInfo() Info {
	identity := cmp.Or(os.Getenv("KEYTRAIL_USER"), os.Getenv("USER"), os.Getenv("USERNAME"), "unknown")
	host, _ := os.Hostname()
	return Info{
		Identity:     identity,
		DisplayLabel: cmp.Or(host, identity),
		Source:       SourceEnvironment,
	}
}
