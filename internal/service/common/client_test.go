//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var errPlain = errors.New("plain failure")

// TestDial_ValidatesAddress verifies that Dial rejects empty addresses.
func TestDial_ValidatesAddress(t *testing.T) {
	t.Parallel()

	c, err := Dial(context.Background(), "")
	require.Error(t, err)
	require.Nil(t, c)
}

// TestClient_callContext checks timeout vs cancel-only behavior of callContext.
func TestClient_callContext(t *testing.T) {
	t.Parallel()

	c := &Client{
		callTimeout: 0,
	}

	ctx, cancel := c.callContext(context.Background())
	cancel()

	require.NotNil(t, ctx)

	c.callTimeout = 10 * time.Millisecond

	ctx, cancel = c.callContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(10*time.Millisecond), deadline, 30*time.Millisecond)
}

// TestClient_commandContext attaches session and actor metadata.
func TestClient_commandContext(t *testing.T) {
	t.Parallel()

	c := new(Client)

	ctx := c.commandContext(context.Background(), "")
	_, ok := metadata.FromOutgoingContext(ctx)
	require.False(t, ok)

	c.actor = &Actor{Hostname: "host", Username: "user"}
	ctx = c.commandContext(context.Background(), "s-1")

	md, ok := metadata.FromOutgoingContext(ctx)
	require.True(t, ok)
	require.Equal(t, []string{"s-1"}, md.Get("flatstore-session"))
	require.Equal(t, []string{"user@host"}, md.Get("flatstore-actor"))
}

// TestErrorMessage extracts status messages, also from wrapped errors.
func TestErrorMessage(t *testing.T) {
	t.Parallel()

	rpcErr := status.Error(codes.Unknown, "Error HTTP: 404 Not Found")

	require.Equal(t, "Error HTTP: 404 Not Found", ErrorMessage(rpcErr))
	require.Equal(t, "Error HTTP: 404 Not Found", ErrorMessage(fmt.Errorf("install package: %w", rpcErr)))
	require.Equal(t, "plain failure", ErrorMessage(errPlain))
}
