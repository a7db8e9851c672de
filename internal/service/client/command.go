package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/flatstore/internal/config"
	"github.com/oshokin/flatstore/internal/domain/install"
	"github.com/oshokin/flatstore/internal/logger"
	"github.com/oshokin/flatstore/internal/service/common"
	"github.com/oshokin/flatstore/internal/version"
)

// Options configures the client flows.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string
	// ServerAddress overrides server address from config when specified.
	ServerAddress string
	// Out receives the command output; nil means standard output.
	Out io.Writer
	// NoColor disables coloured output.
	NoColor bool
}

// drainQuiet is how long a finished command waits for late notifications.
const drainQuiet = 500 * time.Millisecond

// eventBuffer is the capacity between the stream reader and the printer.
const eventBuffer = 256

// session is a connected client flow.
type session struct {
	// client talks to the server.
	client *common.Client
	// out renders the results.
	out *output
}

// Install installs a package and prints its progress.
// A non-zero installer exit code is returned as *install.ExitError.
func Install(ctx context.Context, opts *Options, id string) error {
	ctx = logger.WithName(ctx, "install")

	s, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer s.close()

	return s.stream(ctx, func(ctx context.Context, sessionID string) error {
		return s.client.InstallPackage(ctx, install.Identifier(id), sessionID)
	})
}

// Update updates a package and prints its progress.
func Update(ctx context.Context, opts *Options, id string) error {
	ctx = logger.WithName(ctx, "update")

	s, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer s.close()

	return s.stream(ctx, func(ctx context.Context, sessionID string) error {
		return s.client.UpdatePackage(ctx, install.Identifier(id), sessionID)
	})
}

// Fetch downloads a descriptor on the server host and prints where it is.
func Fetch(ctx context.Context, opts *Options, id string) error {
	ctx = logger.WithName(ctx, "fetch")

	s, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer s.close()

	var path string

	err = s.stream(ctx, func(ctx context.Context, sessionID string) error {
		var fetchErr error

		path, fetchErr = s.client.FetchDescriptor(ctx, install.Identifier(id), sessionID)

		return fetchErr
	})
	if err != nil {
		return err
	}

	s.out.line(install.MsgDescriptorSaved, path)

	return nil
}

// Watch prints every notification until ctx is cancelled or the server stops.
func Watch(ctx context.Context, opts *Options, replay bool) error {
	ctx = logger.WithName(ctx, "watch")

	s, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer s.close()

	stream, err := s.client.WatchEvents(ctx, replay)
	if err != nil {
		return err
	}

	s.out.showPackage = true

	for {
		event, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("watch events: %w", err)
		}

		s.out.event(event)
	}
}

// Status prints what the server is doing.
func Status(ctx context.Context, opts *Options) error {
	s, err := connect(logger.WithName(ctx, "status"), opts)
	if err != nil {
		return err
	}

	defer s.close()

	st, err := s.client.Status(ctx)
	if err != nil {
		return err
	}

	s.out.status(st)

	return nil
}

// History prints the last outcome of every package, or only of id when it is not empty.
func History(ctx context.Context, opts *Options, id string) error {
	s, err := connect(logger.WithName(ctx, "history"), opts)
	if err != nil {
		return err
	}

	defer s.close()

	outcomes, err := s.client.History(ctx, install.Identifier(id))
	if err != nil {
		s.out.fail(common.ErrorMessage(err))
		return err
	}

	s.out.history(outcomes)

	return nil
}

// connect loads the settings, dials the server and checks its version.
func connect(ctx context.Context, opts *Options) (*session, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	serverAddress := cfg.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	clientOptions := []common.Option{common.WithCallTimeout(cfg.Timeout)}

	if actor, actorErr := common.DetectActor(); actorErr == nil {
		clientOptions = append(clientOptions, common.WithActor(actor))
	} else {
		logger.DebugKV(ctx, "Actor detection failed", "error", actorErr)
	}

	client, err := common.Dial(ctx, serverAddress, clientOptions...)
	if err != nil {
		return nil, err
	}

	s := &session{
		client: client,
		out:    newOutput(out, install.NewPrinter(cfg.Locale), opts.NoColor),
	}

	if err = s.checkVersion(ctx, serverAddress); err != nil {
		s.close()
		return nil, err
	}

	return s, nil
}

// checkVersion refuses servers of another major version.
// Unparsable versions, such as development builds, only log a warning.
func (s *session) checkVersion(ctx context.Context, serverAddress string) error {
	st, err := s.client.Status(ctx)
	if err != nil {
		return err
	}

	err = version.CheckCompatible(version.Short(), st.Version)

	switch {
	case err == nil:
		logger.DebugKV(ctx, "Connected", "server_address", serverAddress, "server_version", st.Version)
		return nil
	case errors.Is(err, version.ErrIncompatible):
		s.out.fail(s.out.printer.Sprintf(install.MsgIncompatible, st.Version, version.Short()))
		return err
	default:
		logger.WarnKV(ctx, "Version check skipped", "error", err)
		return nil
	}
}

func (s *session) close() {
	_ = s.client.Close()
}

// stream runs call while printing the notifications of its session.
//
// The subscription is confirmed before call starts, so no notification of
// the session is missed. Once call returns, notifications still in flight
// are printed until install-completed arrives or the stream goes quiet.
func (s *session) stream(ctx context.Context, call func(ctx context.Context, sessionID string) error) error {
	sessionID := uuid.NewString()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	stream, err := s.client.WatchEvents(watchCtx, false)
	if err != nil {
		return err
	}

	events := make(chan *install.Event, eventBuffer)

	go func() {
		defer close(events)

		for {
			event, err := stream.Recv()
			if err != nil {
				return
			}

			if event.Session != sessionID {
				continue
			}

			select {
			case events <- event:
			case <-watchCtx.Done():
				return
			}
		}
	}()

	result := make(chan error, 1)

	go func() {
		result <- call(ctx, sessionID)
	}()

	var (
		callErr   error
		completed bool
		exitCode  int
		show      = func(event *install.Event) {
			s.out.event(event)

			if event.Kind == install.KindCompleted {
				completed = true
				exitCode = event.ExitCode
			}
		}
	)

wait:
	for {
		select {
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}

			show(event)
		case callErr = <-result:
			break wait
		}
	}

	if !completed {
		drain(events, show)
	}

	if callErr != nil {
		s.out.fail(common.ErrorMessage(callErr))
		return callErr
	}

	if completed && exitCode != 0 {
		return &install.ExitError{Code: exitCode}
	}

	return nil
}

// drain prints late notifications until completion, a quiet period or the end of the stream.
func drain(events <-chan *install.Event, show func(*install.Event)) {
	if events == nil {
		return
	}

	timer := time.NewTimer(drainQuiet)
	defer timer.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}

			show(event)

			if event.Kind == install.KindCompleted {
				return
			}

			timer.Reset(drainQuiet)
		case <-timer.C:
			return
		}
	}
}
