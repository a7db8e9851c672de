package installer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/flatstore/internal/config"
	"github.com/oshokin/flatstore/internal/domain/install"
	"github.com/oshokin/flatstore/internal/process"
	"github.com/oshokin/flatstore/internal/service/fetcher"
)

const (
	testIdentifier install.Identifier = "org.example.App"
	testBody                          = "[Flatpak Ref]\nName=App"
)

var (
	errSinkDown  = errors.New("sink down")
	errNoSuchExe = errors.New("executable file not found")
	errReadPipe  = errors.New("read pipe: broken")
)

// memorySink records notifications and can start failing after a number of them.
type memorySink struct {
	// mu guards every field.
	mu sync.Mutex
	// events are the notifications received so far.
	events []*install.Event
	// failAfter makes Notify fail once this many events were accepted; zero disables it.
	failAfter int
}

// Notify stores the event or fails once the limit is reached.
func (m *memorySink) Notify(_ context.Context, event *install.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAfter > 0 && len(m.events) >= m.failAfter {
		return errSinkDown
	}

	m.events = append(m.events, event)

	return nil
}

// snapshot returns a copy of the recorded events.
func (m *memorySink) snapshot() []*install.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]*install.Event(nil), m.events...)
}

// script produces the events of a fake installer run.
type script func(ctx context.Context, emit func(process.Event) bool)

// fakeRunner replays a script instead of spawning a process.
type fakeRunner struct {
	// mu guards calls and handles.
	mu sync.Mutex
	// calls are the program and arguments of every Start.
	calls [][]string
	// handles are the handles returned so far.
	handles []*process.Handle
	// err fails Start when set.
	err error
	// run is the script played for every Start.
	run script
	// onStart is called synchronously inside Start.
	onStart func(name string, args []string)
}

// Start records the call and plays the script in the background.
func (f *fakeRunner) Start(ctx context.Context, name string, args ...string) (*process.Handle, error) {
	if f.onStart != nil {
		f.onStart(name, args)
	}

	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	events := make(chan process.Event)
	handle := process.NewHandle(events)

	f.mu.Lock()
	f.handles = append(f.handles, handle)
	f.mu.Unlock()

	go func() {
		defer close(events)

		f.run(ctx, func(event process.Event) bool {
			select {
			case events <- event:
				return true
			case <-handle.Detached():
				return false
			}
		})
	}()

	return handle, nil
}

// callCount returns how many times Start was called.
func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

// replay returns a script emitting events in order.
func replay(events ...process.Event) script {
	return func(_ context.Context, emit func(process.Event) bool) {
		for _, event := range events {
			if !emit(event) {
				return
			}
		}
	}
}

func stdout(line string) process.Event {
	return process.Event{Kind: process.KindStdout, Line: []byte(line)}
}

func stderr(line string) process.Event {
	return process.Event{Kind: process.KindStderr, Line: []byte(line)}
}

func terminated(code int) process.Event {
	return process.Event{Kind: process.KindTerminated, Code: code}
}

// fixture wires a supervisor to a test repository and a fake runner.
type fixture struct {
	// supervisor is the system under test.
	supervisor *Supervisor
	// fetcher is the real fetcher behind the supervisor.
	fetcher *fetcher.Fetcher
	// runner is the fake installer.
	runner *fakeRunner
	// cfg is the configuration used to build both.
	cfg *config.Config
}

// newFixture builds a supervisor whose repository answers with status.
func newFixture(t *testing.T, status int, runner *fakeRunner, mutate func(*config.Config)) *fixture {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(testBody))
	}))
	t.Cleanup(server.Close)

	cfg := &config.Config{
		RepositoryURL: server.URL + "/repo/appstream",
		TempDir:       t.TempDir(),
		Timeout:       5 * time.Second,
	}
	if mutate != nil {
		mutate(cfg)
	}

	require.NoError(t, config.Validate(cfg))

	f, err := fetcher.New(cfg)
	require.NoError(t, err)

	s, err := New(cfg, f, runner)
	require.NoError(t, err)

	return &fixture{supervisor: s, fetcher: f, runner: runner, cfg: cfg}
}

// outputsAfterStart returns the output texts following the installation start message.
func outputsAfterStart(events []*install.Event) []string {
	var (
		texts   []string
		started bool
	)

	for _, event := range events {
		if event.Kind != install.KindOutput {
			continue
		}

		if started {
			texts = append(texts, event.Text)
		}

		if event.Text == "Iniciando instalación desde archivo local..." {
			started = true
		}
	}

	return texts
}

// TestInstall_StreamsOutputAndCompletes relays every line in order and ends with the exit code.
func TestInstall_StreamsOutputAndCompletes(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{run: replay(
		stdout("Installing 1/2"),
		stderr("warning: low disk"),
		stdout("Installing 2/2"),
		terminated(0),
	)}
	fx := newFixture(t, http.StatusOK, runner, nil)
	sink := new(memorySink)

	err := fx.supervisor.Install(context.Background(), sink, install.Request{Identifier: testIdentifier, Session: "s-1"})
	require.NoError(t, err)

	events := sink.snapshot()
	require.Len(t, events, 7)
	require.Equal(t, []string{"Installing 1/2", "warning: low disk", "Installing 2/2"}, outputsAfterStart(events))

	last := events[len(events)-1]
	require.Equal(t, install.EventCompleted, last.Name())
	require.Equal(t, 0, last.Payload())

	for _, event := range events {
		require.Equal(t, "s-1", event.Session)
	}

	_, err = os.Stat(fx.fetcher.DescriptorPath(testIdentifier))
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Empty(t, fx.supervisor.InFlight())
}

// TestInstall_NonZeroExit reports the code without failing and still cleans up.
func TestInstall_NonZeroExit(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{run: replay(stdout("one"), stdout("two"), terminated(1))}
	fx := newFixture(t, http.StatusOK, runner, nil)
	sink := new(memorySink)

	require.NoError(t, fx.supervisor.Install(context.Background(), sink, install.Request{Identifier: testIdentifier}))

	events := sink.snapshot()
	require.Equal(t, []string{"one", "two"}, outputsAfterStart(events))

	completed := 0

	for _, event := range events {
		if event.Kind == install.KindCompleted {
			completed++

			require.Equal(t, 1, event.ExitCode)
		}
	}

	require.Equal(t, 1, completed)

	_, err := os.Stat(fx.fetcher.DescriptorPath(testIdentifier))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestInstall_StrictExitCode turns a non-zero exit into an ExitError.
func TestInstall_StrictExitCode(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{run: replay(terminated(3))}
	fx := newFixture(t, http.StatusOK, runner, func(cfg *config.Config) {
		cfg.StrictExitCode = true
	})

	err := fx.supervisor.Install(context.Background(), new(memorySink), install.Request{Identifier: testIdentifier})

	var exitErr *install.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 3, exitErr.Code)
}

// TestInstall_SpawnArguments passes the artifact path last, while it still exists.
func TestInstall_SpawnArguments(t *testing.T) {
	t.Parallel()

	var existed bool

	runner := &fakeRunner{run: replay(terminated(0))}
	runner.onStart = func(_ string, args []string) {
		_, err := os.Stat(args[len(args)-1])
		existed = err == nil
	}

	fx := newFixture(t, http.StatusOK, runner, nil)

	require.NoError(t, fx.supervisor.Install(context.Background(), new(memorySink), install.Request{Identifier: testIdentifier}))
	require.True(t, existed)
	require.Equal(t, [][]string{{
		"flatpak", "install", "-y", "--user", fx.fetcher.DescriptorPath(testIdentifier),
	}}, runner.calls)
}

// TestInstall_FetchFailureSpawnsNothing stops on a 404 before the installer runs.
func TestInstall_FetchFailureSpawnsNothing(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{run: replay(terminated(0))}
	fx := newFixture(t, http.StatusNotFound, runner, nil)
	sink := new(memorySink)

	err := fx.supervisor.Install(context.Background(), sink, install.Request{Identifier: testIdentifier})
	require.True(t, install.IsHTTPStatus(err, http.StatusNotFound))
	require.Zero(t, runner.callCount())

	for _, event := range sink.snapshot() {
		require.NotEqual(t, install.EventCompleted, event.Name())
	}
}

// TestInstall_SpawnFailureKeepsArtifact leaves the descriptor for a retry.
func TestInstall_SpawnFailureKeepsArtifact(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: errNoSuchExe}
	fx := newFixture(t, http.StatusOK, runner, nil)
	sink := new(memorySink)

	err := fx.supervisor.Install(context.Background(), sink, install.Request{Identifier: testIdentifier})

	var spawnErr *install.SpawnError
	require.ErrorAs(t, err, &spawnErr)
	require.Equal(t, "flatpak", spawnErr.Program)
	require.ErrorIs(t, err, errNoSuchExe)

	contents, err := os.ReadFile(fx.fetcher.DescriptorPath(testIdentifier))
	require.NoError(t, err)
	require.Equal(t, testBody, string(contents))

	for _, event := range sink.snapshot() {
		require.NotEqual(t, install.EventCompleted, event.Name())
	}
}

// TestInstall_StreamErrorContinues relays read errors as install-error and keeps streaming.
func TestInstall_StreamErrorContinues(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{run: replay(
		stdout("before"),
		process.Event{Kind: process.KindError, Err: errReadPipe},
		stdout("after"),
		terminated(0),
	)}
	fx := newFixture(t, http.StatusOK, runner, nil)
	sink := new(memorySink)

	require.NoError(t, fx.supervisor.Install(context.Background(), sink, install.Request{Identifier: testIdentifier}))

	events := sink.snapshot()
	require.Equal(t, []string{"before", "after"}, outputsAfterStart(events))

	var errorsSeen []string

	for _, event := range events {
		if event.Kind == install.KindError {
			errorsSeen = append(errorsSeen, event.Text)
		}
	}

	require.Equal(t, []string{errReadPipe.Error()}, errorsSeen)
	require.Equal(t, install.EventCompleted, events[len(events)-1].Name())
}

// TestInstall_LossyDecoding replaces invalid bytes instead of dropping the line.
func TestInstall_LossyDecoding(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{run: replay(stdout("\xffabc"), terminated(0))}
	fx := newFixture(t, http.StatusOK, runner, nil)
	sink := new(memorySink)

	require.NoError(t, fx.supervisor.Install(context.Background(), sink, install.Request{Identifier: testIdentifier}))
	require.Equal(t, []string{"�abc"}, outputsAfterStart(sink.snapshot()))
}

// TestInstall_NotifyFailureDetaches aborts the stream and releases the producer.
func TestInstall_NotifyFailureDetaches(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{run: replay(stdout("one"), stdout("two"), stdout("three"), terminated(0))}
	fx := newFixture(t, http.StatusOK, runner, nil)
	// Two download messages, the start message and the first line get through.
	sink := &memorySink{failAfter: 4}

	err := fx.supervisor.Install(context.Background(), sink, install.Request{Identifier: testIdentifier})

	var notifyErr *install.NotifyError
	require.ErrorAs(t, err, &notifyErr)
	require.ErrorIs(t, err, errSinkDown)
	require.Equal(t, install.EventOutput, notifyErr.Event)

	require.Len(t, runner.handles, 1)

	select {
	case <-runner.handles[0].Detached():
	case <-time.After(time.Second):
		t.Fatal("handle was not detached")
	}

	require.Empty(t, fx.supervisor.InFlight())
}

// TestInstall_NotifyFailureLeavesInstallerRunning lets a real installer finish after the client is gone.
func TestInstall_NotifyFailureLeavesInstallerRunning(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh is not available")
	}

	dir := t.TempDir()
	marker := filepath.Join(dir, "installed")
	program := filepath.Join(dir, "installer.sh")
	body := "#!/bin/sh\necho one\necho two\nsleep 1\ntouch '" + marker + "'\n"
	require.NoError(t, os.WriteFile(program, []byte(body), 0o700))

	fx := newFixture(t, http.StatusOK, new(fakeRunner), func(cfg *config.Config) {
		cfg.Installer = program
	})

	s, err := New(fx.cfg, fx.fetcher, process.NewExecRunner(process.WithKillGrace(100*time.Millisecond)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	// Two download messages, the start message and the first line get through.
	sink := &memorySink{failAfter: 4}

	err = s.Install(ctx, sink, install.Request{Identifier: testIdentifier})

	var notifyErr *install.NotifyError
	require.ErrorAs(t, err, &notifyErr)

	cancel()

	require.Eventually(t, func() bool {
		_, statErr := os.Stat(marker)
		return statErr == nil
	}, 10*time.Second, 50*time.Millisecond)
}

// TestInstall_StreamClosedEarly reports a stream that ends without termination.
func TestInstall_StreamClosedEarly(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{run: replay(stdout("partial"))}
	fx := newFixture(t, http.StatusOK, runner, nil)
	sink := new(memorySink)

	err := fx.supervisor.Install(context.Background(), sink, install.Request{Identifier: testIdentifier})
	require.ErrorIs(t, err, install.ErrStreamClosed)

	for _, event := range sink.snapshot() {
		require.NotEqual(t, install.EventCompleted, event.Name())
	}
}

// TestInstall_Cancel drains until termination, cleans up and reports the cancellation.
func TestInstall_Cancel(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	runner := &fakeRunner{run: func(ctx context.Context, emit func(process.Event) bool) {
		if !emit(stdout("working")) {
			return
		}

		close(started)
		<-ctx.Done()

		if !emit(stdout("stopping")) {
			return
		}

		emit(terminated(install.UnknownExitCode))
	}}
	fx := newFixture(t, http.StatusOK, runner, nil)
	sink := new(memorySink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-started
		cancel()
	}()

	err := fx.supervisor.Install(ctx, sink, install.Request{Identifier: testIdentifier})
	require.ErrorIs(t, err, install.ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)

	events := sink.snapshot()
	require.Equal(t, []string{"working", "stopping"}, outputsAfterStart(events))

	last := events[len(events)-1]
	require.Equal(t, install.EventCompleted, last.Name())
	require.Equal(t, install.UnknownExitCode, last.ExitCode)

	_, err = os.Stat(fx.fetcher.DescriptorPath(testIdentifier))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestInstall_AlreadyInProgress rejects a second request for the same package.
func TestInstall_AlreadyInProgress(t *testing.T) {
	t.Parallel()

	var (
		running = make(chan struct{})
		release = make(chan struct{})
	)

	runner := &fakeRunner{run: func(_ context.Context, emit func(process.Event) bool) {
		close(running)
		<-release
		emit(terminated(0))
	}}
	fx := newFixture(t, http.StatusOK, runner, nil)

	var (
		wg       sync.WaitGroup
		firstErr error
	)

	wg.Go(func() {
		firstErr = fx.supervisor.Install(
			context.Background(), new(memorySink), install.Request{Identifier: testIdentifier, Session: "first"},
		)
	})

	<-running

	inFlight := fx.supervisor.InFlight()
	require.Len(t, inFlight, 1)
	require.Equal(t, "first", inFlight[0].Session)

	err := fx.supervisor.Install(context.Background(), new(memorySink), install.Request{Identifier: testIdentifier})
	require.ErrorIs(t, err, install.ErrAlreadyInProgress)

	err = fx.supervisor.Update(context.Background(), new(memorySink), install.Request{Identifier: testIdentifier})
	require.ErrorIs(t, err, install.ErrAlreadyInProgress)

	close(release)
	wg.Wait()

	require.NoError(t, firstErr)
	require.Empty(t, fx.supervisor.InFlight())
	require.Equal(t, 1, runner.callCount())
}

// TestInstall_InvalidIdentifier rejects unsafe identifiers before any side effect.
func TestInstall_InvalidIdentifier(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{run: replay(terminated(0))}
	fx := newFixture(t, http.StatusOK, runner, nil)
	sink := new(memorySink)

	err := fx.supervisor.Install(context.Background(), sink, install.Request{Identifier: "../escape"})
	require.ErrorIs(t, err, install.ErrInvalidIdentifier)
	require.Empty(t, sink.snapshot())
	require.Zero(t, runner.callCount())
}

// TestInstall_AssignsSession generates a session when the request has none.
func TestInstall_AssignsSession(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{run: replay(terminated(0))}
	fx := newFixture(t, http.StatusOK, runner, nil)
	sink := new(memorySink)

	require.NoError(t, fx.supervisor.Install(context.Background(), sink, install.Request{Identifier: testIdentifier}))

	events := sink.snapshot()
	require.NotEmpty(t, events[0].Session)

	for _, event := range events {
		require.Equal(t, events[0].Session, event.Session)
	}
}

// TestUpdate_RunsUpdateCommand updates by identifier without fetching.
func TestUpdate_RunsUpdateCommand(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{run: replay(stdout("Updating"), terminated(0))}
	fx := newFixture(t, http.StatusNotFound, runner, nil)
	sink := new(memorySink)

	require.NoError(t, fx.supervisor.Update(context.Background(), sink, install.Request{Identifier: testIdentifier}))
	require.Equal(t, [][]string{{"flatpak", "update", "-y", "--user", "org.example.App"}}, runner.calls)

	events := sink.snapshot()
	require.Len(t, events, 3)
	require.Equal(t, "Iniciando actualización de org.example.App...", events[0].Text)
	require.Equal(t, "Updating", events[1].Text)
	require.Equal(t, install.EventCompleted, events[2].Name())
}

// TestFetch_OnlyDownloads writes the descriptor without spawning anything.
func TestFetch_OnlyDownloads(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{run: replay(terminated(0))}
	fx := newFixture(t, http.StatusOK, runner, func(cfg *config.Config) {
		cfg.Locale = "en"
	})
	sink := new(memorySink)

	artifact, err := fx.supervisor.Fetch(context.Background(), sink, install.Request{Identifier: testIdentifier})
	require.NoError(t, err)
	require.Equal(t, testBody, artifact.Content)
	require.Zero(t, runner.callCount())

	events := sink.snapshot()
	require.Len(t, events, 2)
	require.Equal(t, "✓ Reference downloaded: "+artifact.Path, events[1].Text)
}

// TestNew_NilConfig rejects missing settings.
func TestNew_NilConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, nil)
	require.Error(t, err)
}
