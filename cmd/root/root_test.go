package root

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/keytrail/pkg/version"
)

func TestDefaultToServe(t *testing.T) {
	t.Parallel()

	rootCmd := NewRootCmd()

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "no args defaults to serve",
			args: []string{},
			want: []string{"serve"},
		},
		{
			name: "nil args defaults to serve",
			args: nil,
			want: []string{"serve"},
		},
		{
			name: "known subcommand kept as-is",
			args: []string{"version"},
			want: []string{"version"},
		},
		{
			name: "nvim kept as-is",
			args: []string{"nvim", "--no-watch"},
			want: []string{"nvim", "--no-watch"},
		},
		{
			name: "help subcommand kept as-is",
			args: []string{"help"},
			want: []string{"help"},
		},
		{
			name: "--help flag kept as-is",
			args: []string{"--help"},
			want: []string{"--help"},
		},
		{
			name: "only flags defaults to serve",
			args: []string{"--debug"},
			want: []string{"serve", "--debug"},
		},
		{
			name: "unknown word left for cobra",
			args: []string{"frobnicate"},
			want: []string{"frobnicate"},
		},
		{
			name: "__complete kept as-is for shell completion",
			args: []string{"__complete", "config", ""},
			want: []string{"__complete", "config", ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := defaultToServe(rootCmd, tt.args)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecute_Version(t *testing.T) {
	var stdout bytes.Buffer
	err := Execute(t.Context(), nil, &stdout, &bytes.Buffer{}, "version")
	require.NoError(t, err)

	assert.Contains(t, stdout.String(), "keytrail version "+version.Version)
	assert.Contains(t, stdout.String(), "User-Agent: keytrail/")
}

func TestExecute_UnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	err := Execute(t.Context(), nil, &bytes.Buffer{}, &stderr, "frobnicate")
	require.Error(t, err)
	assert.Contains(t, stderr.String(), `unknown command "frobnicate"`)
}

func TestProcessErr(t *testing.T) {
	rootCmd := NewRootCmd()

	t.Run("runtime errors are not printed again", func(t *testing.T) {
		var stderr bytes.Buffer
		err := processErr(t.Context(), RuntimeError{Err: errors.New("boom")}, &stderr, rootCmd)
		require.EqualError(t, err, "boom")
		assert.Empty(t, stderr.String())
	})

	t.Run("usage errors are printed", func(t *testing.T) {
		var stderr bytes.Buffer
		err := processErr(t.Context(), errors.New("bad flag"), &stderr, rootCmd)
		require.Error(t, err)
		assert.Contains(t, stderr.String(), "bad flag")
	})

	t.Run("canceled context wins", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		err := processErr(ctx, errors.New("bad flag"), &bytes.Buffer{}, rootCmd)
		require.ErrorIs(t, err, context.Canceled)
	})
}
