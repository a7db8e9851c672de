package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/flatstore/internal/domain/install"
	"github.com/oshokin/flatstore/internal/notify"
	"github.com/oshokin/flatstore/internal/process"
	repo "github.com/oshokin/flatstore/internal/repository/journal"
)

var (
	errTestRecord = errors.New("test record error")
	errTestScan   = errors.New("test scan error")
)

// memoryRepository is a minimal in-memory Repository implementation for tests.
type memoryRepository struct {
	// outcomes stores every outcome passed to Record.
	outcomes []*install.Outcome
	// recordErr is the error to return from Record operations.
	recordErr error
}

// List returns the recorded outcomes.
func (m *memoryRepository) List(context.Context) ([]*install.Outcome, error) {
	return m.outcomes, nil
}

// Get returns the outcome recorded for id.
func (m *memoryRepository) Get(_ context.Context, id install.Identifier) (*install.Outcome, error) {
	for _, outcome := range m.outcomes {
		if outcome.Identifier == id {
			return outcome, nil
		}
	}

	return nil, repo.ErrNotFound
}

// Record stores the outcome or fails with the configured error.
func (m *memoryRepository) Record(_ context.Context, outcome *install.Outcome) error {
	if m.recordErr != nil {
		return m.recordErr
	}

	m.outcomes = append(m.outcomes, outcome)

	return nil
}

// fakeSupervisor emits a fixed exit code and returns a fixed error.
type fakeSupervisor struct {
	// exitCode is reported through the sink when non-nil.
	exitCode *int
	// err is returned from every command.
	err error
	// requests records what the supervisor received.
	requests []install.Request
}

func (f *fakeSupervisor) run(ctx context.Context, sink install.Sink, req install.Request) error {
	f.requests = append(f.requests, req)
	emitter := install.NewEmitter(sink, req)

	if err := emitter.Output(ctx, "working"); err != nil {
		return err
	}

	if f.exitCode != nil {
		if err := emitter.Completed(ctx, *f.exitCode); err != nil {
			return err
		}
	}

	return f.err
}

func (f *fakeSupervisor) Install(ctx context.Context, sink install.Sink, req install.Request) error {
	return f.run(ctx, sink, req)
}

func (f *fakeSupervisor) Fetch(ctx context.Context, sink install.Sink, req install.Request) (*install.Artifact, error) {
	if err := f.run(ctx, sink, req); err != nil {
		return nil, err
	}

	return &install.Artifact{Identifier: req.Identifier, Path: "/tmp/x"}, nil
}

func (f *fakeSupervisor) Update(ctx context.Context, sink install.Sink, req install.Request) error {
	return f.run(ctx, sink, req)
}

func (f *fakeSupervisor) InFlight() []install.Request {
	return []install.Request{{Identifier: "org.example.App", Session: "s-1"}}
}

func exitCode(code int) *int {
	return &code
}

// newTestService builds a service with a fixed clock.
func newTestService(supervisor Supervisor, journal *memoryRepository) (*service, *notify.Hub) {
	hub := notify.NewHub()
	s := newService(supervisor, hub, journal, "flatpak", "es")
	s.now = func() time.Time { return time.Unix(100, 0) }

	return s, hub
}

// TestService_InstallRecordsExitCode keeps the reported exit code of a lenient run.
func TestService_InstallRecordsExitCode(t *testing.T) {
	t.Parallel()

	journal := new(memoryRepository)
	s, hub := newTestService(&fakeSupervisor{exitCode: exitCode(1)}, journal)

	sub, err := hub.Subscribe(0, false)
	require.NoError(t, err)

	require.NoError(t, s.Install(context.Background(), install.Request{Identifier: "org.example.App"}))

	require.Len(t, journal.outcomes, 1)
	outcome := journal.outcomes[0]
	require.Equal(t, install.OperationInstall, outcome.Operation)
	require.Equal(t, 1, outcome.ExitCode)
	require.Empty(t, outcome.Error)
	require.NotEmpty(t, outcome.Session)
	require.Equal(t, time.Unix(100, 0), outcome.FinishedAt)

	first := <-sub.Events()
	require.Equal(t, "working", first.Text)
	require.Equal(t, outcome.Session, first.Session)
}

// TestService_FailureRecordsMessage stores the localized error and unknown exit code.
func TestService_FailureRecordsMessage(t *testing.T) {
	t.Parallel()

	journal := new(memoryRepository)
	s, _ := newTestService(&fakeSupervisor{err: install.ErrStreamClosed}, journal)

	err := s.Update(context.Background(), install.Request{Identifier: "org.example.App", Session: "s-9"})
	require.ErrorIs(t, err, install.ErrStreamClosed)

	require.Len(t, journal.outcomes, 1)
	require.Equal(t, "s-9", journal.outcomes[0].Session)
	require.Equal(t, install.OperationUpdate, journal.outcomes[0].Operation)
	require.Equal(t, install.UnknownExitCode, journal.outcomes[0].ExitCode)
	require.Equal(t, "El instalador terminó sin informar el código de salida", journal.outcomes[0].Error)
}

// TestService_SkipsRejectedRequests does not journal requests that never ran.
func TestService_SkipsRejectedRequests(t *testing.T) {
	t.Parallel()

	journal := new(memoryRepository)
	s, _ := newTestService(&fakeSupervisor{err: install.ErrAlreadyInProgress}, journal)

	err := s.Install(context.Background(), install.Request{Identifier: "org.example.App"})
	require.ErrorIs(t, err, install.ErrAlreadyInProgress)
	require.Empty(t, journal.outcomes)
}

// TestService_JournalFailureIsNotFatal returns the command result even when recording fails.
func TestService_JournalFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(&fakeSupervisor{exitCode: exitCode(0)}, &memoryRepository{recordErr: errTestRecord})

	artifact, err := s.Fetch(context.Background(), install.Request{Identifier: "org.example.App"})
	require.NoError(t, err)
	require.Equal(t, "/tmp/x", artifact.Path)
}

// TestService_Status combines in-flight requests with the process scan.
func TestService_Status(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(new(fakeSupervisor), new(memoryRepository))
	s.findProcesses = func(program string) ([]process.Info, error) {
		require.Equal(t, "flatpak", program)

		return []process.Info{{PID: 7, PPID: 1, Executable: "flatpak"}}, nil
	}

	st := s.Status(context.Background())
	require.NotEmpty(t, st.Version)
	require.Len(t, st.InFlight, 1)
	require.Zero(t, st.Watchers)
	require.Equal(t, []install.Process{{PID: 7, PPID: 1, Executable: "flatpak"}}, st.Processes)

	s.findProcesses = func(string) ([]process.Info, error) {
		return nil, errTestScan
	}

	st = s.Status(context.Background())
	require.Empty(t, st.Processes)
	require.Len(t, st.InFlight, 1)
}

// TestService_StatusCountsWatchers reports the live hub subscriptions.
func TestService_StatusCountsWatchers(t *testing.T) {
	t.Parallel()

	s, hub := newTestService(new(fakeSupervisor), new(memoryRepository))
	s.findProcesses = func(string) ([]process.Info, error) {
		return nil, nil
	}

	first, err := hub.Subscribe(0, false)
	require.NoError(t, err)

	second, err := hub.Subscribe(0, false)
	require.NoError(t, err)

	require.Equal(t, 2, s.Status(context.Background()).Watchers)

	first.Cancel()
	second.Cancel()

	require.Zero(t, s.Status(context.Background()).Watchers)
}

// TestService_History lists the journal, filters by package and tolerates a missing one.
func TestService_History(t *testing.T) {
	t.Parallel()

	journal := &memoryRepository{outcomes: []*install.Outcome{
		{Identifier: "org.example.App"},
		{Identifier: "org.example.Other"},
	}}
	s, _ := newTestService(new(fakeSupervisor), journal)

	outcomes, err := s.History(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	outcomes, err = s.History(context.Background(), "org.example.Other")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, install.Identifier("org.example.Other"), outcomes[0].Identifier)

	outcomes, err = s.History(context.Background(), "org.example.Missing")
	require.NoError(t, err)
	require.Empty(t, outcomes)

	_, err = s.History(context.Background(), "../etc")
	require.ErrorIs(t, err, install.ErrInvalidIdentifier)

	s.journal = nil

	outcomes, err = s.History(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, outcomes)
}

// TestResolveListenAddress prefers the override and validates the configured address.
func TestResolveListenAddress(t *testing.T) {
	t.Parallel()

	addr, err := resolveListenAddress("127.0.0.1:50061", "")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:50061", addr)

	addr, err = resolveListenAddress("127.0.0.1:50061", ":9090")
	require.NoError(t, err)
	require.Equal(t, ":9090", addr)

	_, err = resolveListenAddress("", "")
	require.ErrorIs(t, err, ErrNoServerAddress)

	_, err = resolveListenAddress("no-port", "")
	require.Error(t, err)
}
