package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeToken(t *testing.T, c claims) string {
	t.Helper()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("not-verified"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "session.jwt")
	require.NoError(t, os.WriteFile(path, []byte(signed+"\n"), 0o600))
	return path
}

func TestTokenFileProvider(t *testing.T) {
	tests := []struct {
		name      string
		claims    claims
		wantID    string
		wantLabel string
	}{
		{
			name: "subject and name",
			claims: claims{
				Name:             "Dana",
				Email:            "dana@example.com",
				RegisteredClaims: jwt.RegisteredClaims{Subject: "user-42"},
			},
			wantID:    "user-42",
			wantLabel: "Dana",
		},
		{
			name:      "email only",
			claims:    claims{Email: "sam@example.com"},
			wantID:    "sam@example.com",
			wantLabel: "sam@example.com",
		},
		{
			name: "preferred username",
			claims: claims{
				PreferredUsername: "kit",
				RegisteredClaims:  jwt.RegisteredClaims{Subject: "user-7"},
			},
			wantID:    "user-7",
			wantLabel: "kit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := TokenFileProvider{Path: writeToken(t, tt.claims)}

			info, err := p.Lookup(t.Context())
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, info.Identity)
			assert.Equal(t, tt.wantLabel, info.DisplayLabel)
			assert.Equal(t, SourceSession, info.Source)
		})
	}
}

func TestTokenFileProvider_NoSession(t *testing.T) {
	empty := filepath.Join(t.TempDir(), "empty.jwt")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))

	tests := []struct {
		name string
		path string
	}{
		{"no path", ""},
		{"missing file", filepath.Join(t.TempDir(), "missing.jwt")},
		{"empty file", empty},
		{"no subject", writeToken(t, claims{Name: "anonymous"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := TokenFileProvider{Path: tt.path}.Lookup(t.Context())
			require.ErrorIs(t, err, ErrNoSession)
		})
	}
}

func TestTokenFileProvider_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jwt")
	require.NoError(t, os.WriteFile(path, []byte("not-a-token"), 0o600))

	_, err := TokenFileProvider{Path: path}.Lookup(t.Context())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSession)
}

func TestTokenFileProvider_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := TokenFileProvider{Path: "whatever"}.Lookup(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestEnvironmentInfo(t *testing.T) {
	t.Setenv("KEYTRAIL_USER", "ci-bot")

	info := EnvironmentInfo()
	assert.Equal(t, "ci-bot", info.Identity)
	assert.Equal(t, SourceEnvironment, info.Source)
	assert.NotEmpty(t, info.DisplayLabel)
}

func TestEnvironmentInfo_FallsBackToUser(t *testing.T) {
	t.Setenv("KEYTRAIL_USER", "")
	t.Setenv("USER", "robin")

	assert.Equal(t, "robin", EnvironmentInfo().Identity)
}

func TestProviderFunc(t *testing.T) {
	var p Provider = ProviderFunc(func(context.Context) (Info, error) {
		return Info{Identity: "x", Source: SourceSession}, nil
	})

	info, err := p.Lookup(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "x", info.Identity)
}
