package installer

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/text/message"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/flatstore/internal/domain/install"
	"github.com/oshokin/flatstore/internal/logger"
	"github.com/oshokin/flatstore/internal/notify"
	pb "github.com/oshokin/flatstore/internal/pb/v1"
)

// Service abstracts the business operations the transport layer depends on.
type Service interface {
	Install(ctx context.Context, req install.Request) error
	Fetch(ctx context.Context, req install.Request) (*install.Artifact, error)
	Update(ctx context.Context, req install.Request) error
	Subscribe(replay bool) (*notify.Subscription, error)
	Status(ctx context.Context) *install.Status
	History(ctx context.Context, id install.Identifier) ([]*install.Outcome, error)
}

// Server implements the InstallerService gRPC API.
type Server struct {
	pb.UnimplementedInstallerServiceServer

	// service provides the business logic for installer operations.
	service Service
	// printer renders error messages for the user interface.
	printer *message.Printer
}

// NewServer wires the provided service implementation into a gRPC handler.
// Errors are returned to callers as text in the given locale.
func NewServer(service Service, locale string) *Server {
	return &Server{
		service: service,
		printer: install.NewPrinter(locale),
	}
}

// InstallPackage fetches and installs a package, returning once the installer exits.
func (s *Server) InstallPackage(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	ctx, req := requestFrom(ctx, in)
	if err := s.service.Install(ctx, req); err != nil {
		return nil, s.statusError(err)
	}

	return new(emptypb.Empty), nil
}

// FetchDescriptor downloads the descriptor and returns its path on the server host.
func (s *Server) FetchDescriptor(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	ctx, req := requestFrom(ctx, in)

	artifact, err := s.service.Fetch(ctx, req)
	if err != nil {
		return nil, s.statusError(err)
	}

	return wrapperspb.String(artifact.Path), nil
}

// UpdatePackage updates an installed package.
func (s *Server) UpdatePackage(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	ctx, req := requestFrom(ctx, in)
	if err := s.service.Update(ctx, req); err != nil {
		return nil, s.statusError(err)
	}

	return new(emptypb.Empty), nil
}

// WatchEvents streams notifications until the caller goes away or the server stops.
// Response headers are sent once the subscription is live, so a caller that
// waits for them does not miss notifications of commands it issues next.
func (s *Server) WatchEvents(in *wrapperspb.BoolValue, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := logger.WithName(stream.Context(), "watch")

	sub, err := s.service.Subscribe(in.GetValue())
	if err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}

	defer sub.Cancel()

	if err = stream.SendHeader(metadata.MD{}); err != nil {
		return err
	}

	logger.DebugKV(ctx, "Watcher subscribed", "replay", in.GetValue())

	for {
		select {
		case <-ctx.Done():
			logger.DebugKV(ctx, "Watcher left", "dropped", sub.Dropped())
			return nil
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}

			msg, encodeErr := EventToStruct(event)
			if encodeErr != nil {
				logger.WarnKV(ctx, "Skipping unencodable event", "event", event.Name(), "error", encodeErr)
				continue
			}

			if err = stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// Status reports the requests in flight and the installer processes on the host.
func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	msg, err := StatusToStruct(s.service.Status(ctx))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	return msg, nil
}

// History returns the last outcome of every package, or of the one named in the request.
func (s *Server) History(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	outcomes, err := s.service.History(ctx, install.Identifier(in.GetValue()))
	if err != nil {
		if errors.Is(err, install.ErrInvalidIdentifier) {
			return nil, s.statusError(err)
		}

		logger.ErrorKV(ctx, "Journal read failed", "error", err)

		return nil, status.Error(codes.Internal, "unable to read journal")
	}

	msg, err := OutcomesToStruct(outcomes)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	return msg, nil
}

// statusError converts a pipeline error into a gRPC status with a readable message.
func (s *Server) statusError(err error) error {
	code := codes.Unknown

	switch {
	case errors.Is(err, install.ErrInvalidIdentifier):
		code = codes.InvalidArgument
	case errors.Is(err, install.ErrAlreadyInProgress):
		code = codes.AlreadyExists
	case install.IsHTTPStatus(err, http.StatusNotFound):
		code = codes.NotFound
	case errors.Is(err, install.ErrCancelled), errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}

	return status.Error(code, install.Message(s.printer, err))
}

// requestFrom builds a request from the identifier and the call metadata.
// The returned context logs the actor issuing the command.
func requestFrom(ctx context.Context, in *wrapperspb.StringValue) (context.Context, install.Request) {
	req := install.Request{
		Identifier: install.Identifier(in.GetValue()),
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, req
	}

	if values := md.Get(pb.SessionMetadataKey); len(values) > 0 {
		req.Session = values[0]
	}

	if values := md.Get(pb.ActorMetadataKey); len(values) > 0 {
		ctx = logger.WithKV(ctx, "actor", values[0])
	}

	logger.InfoKV(ctx, "Command received", "package", req.Identifier, "session", req.Session)

	return ctx, req
}
