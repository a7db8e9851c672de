package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/message"

	"github.com/oshokin/flatstore/internal/config"
	"github.com/oshokin/flatstore/internal/domain/install"
	"github.com/oshokin/flatstore/internal/logger"
	"github.com/oshokin/flatstore/internal/process"
)

// errSettingsNotInitialised is returned when New gets a nil config.
var errSettingsNotInitialised = errors.New("settings are not initialized")

// Fetcher downloads the descriptor of a package.
type Fetcher interface {
	Fetch(ctx context.Context, sink install.Sink, req install.Request) (*install.Artifact, error)
}

// Supervisor runs installations and updates.
type Supervisor struct {
	// fetcher downloads descriptors before installation.
	fetcher Fetcher
	// runner spawns the installer.
	runner process.Runner
	// program is the installer executable.
	program string
	// installArgs precede the descriptor path.
	installArgs []string
	// updateArgs precede the package identifier.
	updateArgs []string
	// strictExitCode maps a non-zero exit code to an ExitError.
	strictExitCode bool
	// printer renders user-facing progress text.
	printer *message.Printer
	// inFlight tracks the identifiers currently being processed.
	inFlight *registry
}

// New creates a Supervisor from validated settings.
func New(cfg *config.Config, fetcher Fetcher, runner process.Runner) (*Supervisor, error) {
	if cfg == nil {
		return nil, errSettingsNotInitialised
	}

	return &Supervisor{
		fetcher:        fetcher,
		runner:         runner,
		program:        cfg.Installer,
		installArgs:    slices.Clone(cfg.InstallArgs),
		updateArgs:     slices.Clone(cfg.UpdateArgs),
		strictExitCode: cfg.StrictExitCode,
		printer:        install.NewPrinter(cfg.Locale),
		inFlight:       newRegistry(),
	}, nil
}

// InFlight returns the requests currently running, ordered by identifier.
func (s *Supervisor) InFlight() []install.Request {
	return s.inFlight.list()
}

// Fetch downloads the descriptor of req.Identifier without installing it.
// The caller owns the returned artifact.
func (s *Supervisor) Fetch(ctx context.Context, sink install.Sink, req install.Request) (*install.Artifact, error) {
	req, release, err := s.begin(req)
	if err != nil {
		return nil, err
	}

	defer release()

	ctx = requestContext(ctx, "fetch", req)

	return s.fetcher.Fetch(ctx, sink, req)
}

// Install fetches the descriptor of req.Identifier, runs the installer
// against it and streams its output to sink.
//
// Fetch failures are returned before anything is spawned. A spawn failure
// leaves the descriptor on disk. Once the installer terminates the
// descriptor is removed and install-completed is the last notification.
// A non-zero exit code is not an error unless strict_exit_code is set.
func (s *Supervisor) Install(ctx context.Context, sink install.Sink, req install.Request) error {
	req, release, err := s.begin(req)
	if err != nil {
		return err
	}

	defer release()

	ctx = requestContext(ctx, "install", req)

	artifact, err := s.fetcher.Fetch(ctx, sink, req)
	if err != nil {
		return err
	}

	emitter := install.NewEmitter(sink, req)
	if err = emitter.Output(ctx, s.printer.Sprintf(install.MsgInstallStarting)); err != nil {
		return err
	}

	args := append(slices.Clone(s.installArgs), artifact.Path)

	handle, err := s.spawn(ctx, args)
	if err != nil {
		// The descriptor stays for a retry.
		return err
	}

	return s.supervise(ctx, emitter, handle, func() {
		removeArtifact(ctx, artifact)
	})
}

// Update runs the installer's update command for an installed package and
// streams its output to sink. There is no descriptor involved.
func (s *Supervisor) Update(ctx context.Context, sink install.Sink, req install.Request) error {
	req, release, err := s.begin(req)
	if err != nil {
		return err
	}

	defer release()

	ctx = requestContext(ctx, "update", req)

	emitter := install.NewEmitter(sink, req)
	if err = emitter.Output(ctx, s.printer.Sprintf(install.MsgUpdateStarting, req.Identifier)); err != nil {
		return err
	}

	args := append(slices.Clone(s.updateArgs), req.Identifier.String())

	handle, err := s.spawn(ctx, args)
	if err != nil {
		return err
	}

	return s.supervise(ctx, emitter, handle, func() {})
}

// begin validates the request, assigns a session and claims the identifier.
func (s *Supervisor) begin(req install.Request) (install.Request, func(), error) {
	if err := req.Identifier.Validate(); err != nil {
		return req, nil, err
	}

	if req.Session == "" {
		req.Session = uuid.NewString()
	}

	release, err := s.inFlight.acquire(req)
	if err != nil {
		return req, nil, err
	}

	return req, release, nil
}

// spawn starts the installer with args.
func (s *Supervisor) spawn(ctx context.Context, args []string) (*process.Handle, error) {
	logger.InfoKV(ctx, "Spawning installer", "program", s.program, "args", args)

	handle, err := s.runner.Start(ctx, s.program, args...)
	if err != nil {
		logger.ErrorKV(ctx, "Installer spawn failed", "program", s.program, "error", err)
		return nil, &install.SpawnError{Program: s.program, Err: err}
	}

	return handle, nil
}

// supervise relays the installer events until termination.
//
// Cancellation of ctx is observed at every wait for an event. The runner
// terminates the child when ctx ends; the loop keeps draining until the
// termination event so cleanup and install-completed still happen.
//
//nolint:cyclop // The event switch mirrors the event variants.
func (s *Supervisor) supervise(
	ctx context.Context,
	emitter *install.Emitter,
	handle *process.Handle,
	cleanup func(),
) error {
	var (
		events    = handle.Events()
		cancelled = ctx.Done()
		cancelErr error
	)

	for {
		select {
		case <-cancelled:
			cancelErr = ctx.Err()
			cancelled = nil

			logger.WarnKV(ctx, "Request cancelled, waiting for the installer to stop", "reason", cancelErr)
		case event, ok := <-events:
			if !ok {
				logger.Error(ctx, "Installer event stream closed before termination")
				return install.ErrStreamClosed
			}

			switch event.Kind {
			case process.KindStdout, process.KindStderr:
				if err := emitter.Output(ctx, decodeLine(event.Line)); err != nil {
					handle.Detach()
					return err
				}
			case process.KindError:
				logger.WarnKV(ctx, "Installer stream error", "error", event.Err)

				if err := emitter.Error(ctx, event.Err.Error()); err != nil {
					handle.Detach()
					return err
				}
			case process.KindTerminated:
				return s.terminated(ctx, emitter, event.Code, cleanup, cancelErr)
			}
		}
	}
}

// terminated finishes a request after the installer exited.
func (s *Supervisor) terminated(
	ctx context.Context,
	emitter *install.Emitter,
	code int,
	cleanup func(),
	cancelErr error,
) error {
	cleanup()

	logger.InfoKV(ctx, "Installer terminated", "exit_code", code)

	if err := emitter.Completed(ctx, code); err != nil {
		return err
	}

	switch {
	case cancelErr != nil:
		return fmt.Errorf("%w: %w", install.ErrCancelled, cancelErr)
	case s.strictExitCode && code != 0:
		return &install.ExitError{Code: code}
	default:
		return nil
	}
}

// removeArtifact deletes the descriptor; failures are only logged.
func removeArtifact(ctx context.Context, artifact *install.Artifact) {
	if err := os.Remove(artifact.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.DebugKV(ctx, "Descriptor cleanup failed", "path", artifact.Path, "error", err)
	}
}

// decodeLine converts raw installer output to text, replacing invalid UTF-8.
func decodeLine(line []byte) string {
	return strings.ToValidUTF8(string(line), "�")
}

// requestContext names the logger after the operation and tags it with the request.
func requestContext(ctx context.Context, operation string, req install.Request) context.Context {
	ctx = logger.WithName(ctx, operation)

	return logger.WithFields(ctx, "package", req.Identifier.String(), "session", req.Session)
}
