//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	api "github.com/oshokin/flatstore/internal/api/grpc/installer"
	"github.com/oshokin/flatstore/internal/config"
	"github.com/oshokin/flatstore/internal/domain/install"
	pb "github.com/oshokin/flatstore/internal/pb/v1"
)

// Client wraps the gRPC InstallerService client with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the flatstore server.
	conn *grpc.ClientConn
	// api is the InstallerService client interface.
	api pb.InstallerServiceClient
	// actor is sent with every command; nil sends nothing.
	actor *Actor

	// callTimeout is the default timeout for short RPC calls.
	// Commands that run the installer are bounded by the caller's context only.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for short service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithActor sends the actor along with every command.
func WithActor(actor *Actor) Option {
	return func(c *Client) {
		c.actor = actor
	}
}

// errAddressRequired is returned when a required address value is missing.
var errAddressRequired = errors.New("address must be provided")

// Dial establishes a gRPC connection to the flatstore server.
// Note: this uses insecure transport credentials; the server is meant to
// listen on loopback.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	// Use the non-context NewClient API recommended by grpc-go
	// (DialContext is deprecated as of grpc-go v1.60+).
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial flatstore server: %w", err)
	}

	client := &Client{
		conn:        conn,
		api:         pb.NewInstallerServiceClient(conn),
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// InstallPackage installs a package and returns once the installer exits.
func (c *Client) InstallPackage(ctx context.Context, id install.Identifier, session string) error {
	if _, err := c.api.InstallPackage(c.commandContext(ctx, session), wrapperspb.String(id.String())); err != nil {
		return fmt.Errorf("install package: %w", err)
	}

	return nil
}

// FetchDescriptor downloads a descriptor and returns its path on the server host.
func (c *Client) FetchDescriptor(ctx context.Context, id install.Identifier, session string) (string, error) {
	callCtx, cancel := c.callContext(c.commandContext(ctx, session))
	defer cancel()

	path, err := c.api.FetchDescriptor(callCtx, wrapperspb.String(id.String()))
	if err != nil {
		return "", fmt.Errorf("fetch descriptor: %w", err)
	}

	return path.GetValue(), nil
}

// UpdatePackage updates an installed package and returns once the installer exits.
func (c *Client) UpdatePackage(ctx context.Context, id install.Identifier, session string) error {
	if _, err := c.api.UpdatePackage(c.commandContext(ctx, session), wrapperspb.String(id.String())); err != nil {
		return fmt.Errorf("update package: %w", err)
	}

	return nil
}

// WatchEvents subscribes to the notification stream. It returns once the
// server confirmed the subscription, so commands issued afterwards are seen.
func (c *Client) WatchEvents(ctx context.Context, replay bool) (*EventStream, error) {
	stream, err := c.api.WatchEvents(ctx, wrapperspb.Bool(replay))
	if err != nil {
		return nil, fmt.Errorf("watch events: %w", err)
	}

	if _, err = stream.Header(); err != nil {
		return nil, fmt.Errorf("watch events: %w", err)
	}

	return &EventStream{stream: stream}, nil
}

// Status returns what the server is doing.
func (c *Client) Status(ctx context.Context) (*install.Status, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	msg, err := c.api.Status(callCtx, new(emptypb.Empty))
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}

	return api.StatusFromStruct(msg), nil
}

// History returns the last outcome of every package, or of id when it is not empty.
func (c *Client) History(ctx context.Context, id install.Identifier) ([]*install.Outcome, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	msg, err := c.api.History(callCtx, wrapperspb.String(id.String()))
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	return api.OutcomesFromStruct(msg), nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

// commandContext attaches the session and the actor to an outgoing call.
func (c *Client) commandContext(ctx context.Context, session string) context.Context {
	pairs := make([]string, 0, 4)

	if session != "" {
		pairs = append(pairs, pb.SessionMetadataKey, session)
	}

	if c.actor != nil {
		pairs = append(pairs, pb.ActorMetadataKey, c.actor.String())
	}

	if len(pairs) == 0 {
		return ctx
	}

	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

// EventStream yields notifications from the server.
type EventStream struct {
	// stream is the server-streaming call.
	stream grpc.ServerStreamingClient[structpb.Struct]
}

// Recv blocks for the next notification. It returns io.EOF when the server
// closes the stream. Notifications this build does not know are skipped.
func (s *EventStream) Recv() (*install.Event, error) {
	for {
		msg, err := s.stream.Recv()
		if err != nil {
			return nil, err
		}

		event, err := api.EventFromStruct(msg)
		if err != nil {
			continue
		}

		return event, nil
	}
}

// ErrorMessage returns the human-readable part of an RPC error, looking
// through any wrapping added on the client side.
func ErrorMessage(err error) string {
	var rpcErr interface{ GRPCStatus() *status.Status }
	if errors.As(err, &rpcErr) {
		return rpcErr.GRPCStatus().Message()
	}

	return err.Error()
}
