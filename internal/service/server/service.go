package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/message"

	"github.com/oshokin/flatstore/internal/domain/install"
	"github.com/oshokin/flatstore/internal/logger"
	"github.com/oshokin/flatstore/internal/notify"
	"github.com/oshokin/flatstore/internal/process"
	repo "github.com/oshokin/flatstore/internal/repository/journal"
	"github.com/oshokin/flatstore/internal/version"
)

// Supervisor abstracts the installation pipeline.
type Supervisor interface {
	Install(ctx context.Context, sink install.Sink, req install.Request) error
	Fetch(ctx context.Context, sink install.Sink, req install.Request) (*install.Artifact, error)
	Update(ctx context.Context, sink install.Sink, req install.Request) error
	InFlight() []install.Request
}

// ProcessFinder lists installer processes running on the host.
type ProcessFinder func(program string) ([]process.Info, error)

// service connects the pipeline to the notification hub and the journal.
// It is unexported to keep the transport decoupled from the implementation.
type service struct {
	// supervisor runs the commands.
	supervisor Supervisor
	// hub fans notifications out to watchers.
	hub *notify.Hub
	// journal records the outcome of every command; nil disables it.
	journal repo.Repository
	// printer renders journal error messages.
	printer *message.Printer
	// program is the installer executable looked up by Status.
	program string
	// findProcesses scans the process table.
	findProcesses ProcessFinder
	// now returns the current time.
	now func() time.Time
}

// newService creates a service publishing to hub and recording to journal.
func newService(
	supervisor Supervisor,
	hub *notify.Hub,
	journal repo.Repository,
	program string,
	locale string,
) *service {
	return &service{
		supervisor:    supervisor,
		hub:           hub,
		journal:       journal,
		printer:       install.NewPrinter(locale),
		program:       program,
		findProcesses: process.FindByName,
		now:           time.Now,
	}
}

// Install runs an installation and records its outcome.
func (s *service) Install(ctx context.Context, req install.Request) error {
	req = withSession(req)
	sink := newRecordingSink(s.hub)

	err := s.supervisor.Install(ctx, sink, req)
	s.record(ctx, install.OperationInstall, req, sink.exitCode(), err)

	return err
}

// Fetch downloads a descriptor and records the outcome.
func (s *service) Fetch(ctx context.Context, req install.Request) (*install.Artifact, error) {
	req = withSession(req)

	artifact, err := s.supervisor.Fetch(ctx, s.hub, req)

	exitCode := install.UnknownExitCode
	if err == nil {
		exitCode = 0
	}

	s.record(ctx, install.OperationFetch, req, exitCode, err)

	return artifact, err
}

// Update runs an update and records its outcome.
func (s *service) Update(ctx context.Context, req install.Request) error {
	req = withSession(req)
	sink := newRecordingSink(s.hub)

	err := s.supervisor.Update(ctx, sink, req)
	s.record(ctx, install.OperationUpdate, req, sink.exitCode(), err)

	return err
}

// Subscribe registers a watcher on the hub.
func (s *service) Subscribe(replay bool) (*notify.Subscription, error) {
	return s.hub.Subscribe(notify.DefaultSubscriberBuffer, replay)
}

// Status reports the requests in flight and the installer processes on the host.
func (s *service) Status(ctx context.Context) *install.Status {
	st := &install.Status{
		Version:  version.Short(),
		InFlight: s.supervisor.InFlight(),
		Watchers: s.hub.Subscribers(),
	}

	processes, err := s.findProcesses(s.program)
	if err != nil {
		logger.WarnKV(ctx, "Process scan failed", "program", s.program, "error", err)
		return st
	}

	for _, p := range processes {
		st.Processes = append(st.Processes, install.Process{
			PID:        p.PID,
			PPID:       p.PPID,
			Executable: p.Executable,
		})
	}

	return st
}

// History returns the journal, or the entry of id when it is not empty.
func (s *service) History(ctx context.Context, id install.Identifier) ([]*install.Outcome, error) {
	if id != "" {
		if err := id.Validate(); err != nil {
			return nil, err
		}
	}

	if s.journal == nil {
		return nil, nil
	}

	if id != "" {
		outcome, err := s.journal.Get(ctx, id)

		switch {
		case errors.Is(err, repo.ErrNotFound):
			return nil, nil
		case err != nil:
			return nil, fmt.Errorf("get %s from journal: %w", id, err)
		}

		return []*install.Outcome{outcome}, nil
	}

	outcomes, err := s.journal.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}

	return outcomes, nil
}

// record writes the outcome of a command. Failures are logged only.
func (s *service) record(ctx context.Context, op install.Operation, req install.Request, exitCode int, err error) {
	if s.journal == nil || errors.Is(err, install.ErrInvalidIdentifier) || errors.Is(err, install.ErrAlreadyInProgress) {
		return
	}

	outcome := &install.Outcome{
		Identifier: req.Identifier,
		Session:    req.Session,
		Operation:  op,
		ExitCode:   exitCode,
		Error:      install.Message(s.printer, err),
		FinishedAt: s.now(),
	}

	if recordErr := s.journal.Record(ctx, outcome); recordErr != nil {
		logger.ErrorKV(ctx, "Failed to record outcome", "package", req.Identifier, "error", recordErr)
		return
	}

	logger.InfoKV(ctx, "Outcome recorded",
		"package", req.Identifier,
		"operation", op,
		"exit_code", exitCode,
		"succeeded", outcome.Succeeded(),
	)
}

// withSession assigns a session id when the caller did not choose one.
func withSession(req install.Request) install.Request {
	if req.Session == "" {
		req.Session = uuid.NewString()
	}

	return req
}

// recordingSink forwards notifications and remembers the reported exit code.
type recordingSink struct {
	// next receives every notification.
	next install.Sink
	// code is the last exit code seen.
	code int
}

func newRecordingSink(next install.Sink) *recordingSink {
	return &recordingSink{
		next: next,
		code: install.UnknownExitCode,
	}
}

// Notify forwards the event. A completion is remembered only once delivered.
func (r *recordingSink) Notify(ctx context.Context, event *install.Event) error {
	if err := r.next.Notify(ctx, event); err != nil {
		return err
	}

	if event.Kind == install.KindCompleted {
		r.code = event.ExitCode
	}

	return nil
}

// exitCode returns the reported exit code, UnknownExitCode if none was.
func (r *recordingSink) exitCode() int {
	return r.code
}
