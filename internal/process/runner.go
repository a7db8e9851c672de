package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	// maxLineSize bounds a single output line.
	maxLineSize = 1 << 20

	// initialLineBuffer is the starting scanner buffer size.
	initialLineBuffer = 4 << 10

	// defaultKillGrace is the delay between SIGTERM and SIGKILL on cancellation.
	defaultKillGrace = 5 * time.Second
)

// Runner starts external commands.
type Runner interface {
	Start(ctx context.Context, name string, args ...string) (*Handle, error)
}

// ExecRunner starts commands with os/exec.
// Cancelling the context passed to Start sends SIGTERM to the child and
// SIGKILL after the kill grace period, unless the handle was detached first:
// a detached child runs to completion.
type ExecRunner struct {
	// killGrace is the delay between SIGTERM and SIGKILL.
	killGrace time.Duration
	// usePTY attaches the child to a pseudo-terminal.
	usePTY bool
	// env is appended to the inherited environment.
	env []string
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithKillGrace sets the delay between SIGTERM and SIGKILL on cancellation.
func WithKillGrace(d time.Duration) Option {
	return func(r *ExecRunner) {
		if d > 0 {
			r.killGrace = d
		}
	}
}

// WithPTY attaches children to a pseudo-terminal, merging stdout and stderr.
func WithPTY(enabled bool) Option {
	return func(r *ExecRunner) {
		r.usePTY = enabled
	}
}

// WithEnv appends KEY=VALUE pairs to the child environment.
func WithEnv(env ...string) Option {
	return func(r *ExecRunner) {
		r.env = append(r.env, env...)
	}
}

// NewExecRunner creates a runner.
func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{
		killGrace: defaultKillGrace,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start spawns the command and returns its event stream.
// An error is returned only when the process could not be started.
func (r *ExecRunner) Start(ctx context.Context, name string, args ...string) (*Handle, error) {
	cmd := exec.Command(name, args...)
	// Bounds how long Wait keeps copying output after the child exited.
	cmd.WaitDelay = r.killGrace

	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}

	exited := make(chan struct{})

	var (
		handle *Handle
		err    error
	)

	if r.usePTY {
		handle, err = startPTY(cmd, exited)
	} else {
		handle, err = startPipes(cmd, exited)
	}

	if err != nil {
		return nil, err
	}

	go r.forwardCancel(ctx, cmd, handle, exited)

	return handle, nil
}

// forwardCancel terminates the child when ctx ends while the handle is attached.
func (r *ExecRunner) forwardCancel(ctx context.Context, cmd *exec.Cmd, handle *Handle, exited <-chan struct{}) {
	select {
	case <-exited:
		return
	case <-handle.Detached():
		return
	case <-ctx.Done():
	}

	// Detach and cancellation may both be ready; detach wins.
	select {
	case <-handle.Detached():
		return
	default:
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)

	timer := time.NewTimer(r.killGrace)
	defer timer.Stop()

	select {
	case <-exited:
	case <-timer.C:
		_ = cmd.Process.Kill()
	}
}

// startPipes runs cmd with stdout and stderr on separate pipes.
// exited is closed once the child has been reaped.
func startPipes(cmd *exec.Cmd, exited chan<- struct{}) (*Handle, error) {
	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()

	cmd.Stdout = stdoutWriter
	cmd.Stderr = stderrWriter

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	events := make(chan Event)
	handle := NewHandle(events)
	s := &stream{out: events, detached: handle.Detached()}

	var readers sync.WaitGroup

	readers.Go(func() { s.readLines(stdoutReader, KindStdout) })
	readers.Go(func() { s.readLines(stderrReader, KindStderr) })

	go func() {
		waitErr := cmd.Wait()
		close(exited)

		// Wait returns once the copies into the pipes are done.
		_ = stdoutWriter.Close()
		_ = stderrWriter.Close()

		readers.Wait()
		s.finish(cmd, waitErr)
	}()

	return handle, nil
}

// stream sends the events of one command.
type stream struct {
	// out is the consumer channel.
	out chan<- Event
	// detached is closed when the consumer goes away.
	detached <-chan struct{}
}

// send delivers an event unless the consumer detached.
func (s *stream) send(event Event) bool {
	select {
	case s.out <- event:
		return true
	case <-s.detached:
		return false
	}
}

// readLines scans r and sends one event per line. A line longer than
// maxLineSize is reported as an error and skipped; scanning resumes at the
// next line. The reader is always drained to EOF so the child never blocks
// on a full pipe.
func (s *stream) readLines(r io.Reader, kind Kind) {
	reader := bufio.NewReaderSize(r, initialLineBuffer)
	delivering := true

	for {
		var err error

		delivering, err = s.scanLines(reader, kind, delivering)
		if err == nil || isTerminalEOF(err) {
			return
		}

		if delivering {
			delivering = s.send(Event{Kind: KindError, Err: fmt.Errorf("read output: %w", err)})
		}

		if !errors.Is(err, bufio.ErrTooLong) {
			break
		}

		if err = skipLine(reader); err != nil {
			if errors.Is(err, io.EOF) || isTerminalEOF(err) {
				return
			}

			break
		}
	}

	_, _ = io.Copy(io.Discard, reader)
}

// scanLines sends the lines of r until it ends or fails.
// It reports whether the consumer is still attached.
func (s *stream) scanLines(r io.Reader, kind Kind, delivering bool) (bool, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineSize)
	scanner.Split(scanTerminalLines)

	for scanner.Scan() {
		if !delivering {
			continue
		}

		line := bytes.Clone(scanner.Bytes())
		delivering = s.send(Event{Kind: kind, Line: line})
	}

	return delivering, scanner.Err()
}

// skipLine discards the rest of the current line including its terminator.
func skipLine(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}

		switch b {
		case '\n':
			return nil
		case '\r':
			next, err := r.Peek(1)
			if err == nil && next[0] == '\n' {
				_, _ = r.ReadByte()
			}

			return nil
		}
	}
}

// finish sends the termination event and closes the stream.
func (s *stream) finish(cmd *exec.Cmd, waitErr error) {
	defer close(s.out)

	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) &&
		!errors.Is(waitErr, context.Canceled) && !errors.Is(waitErr, context.DeadlineExceeded) {
		if !s.send(Event{Kind: KindError, Err: fmt.Errorf("wait: %w", waitErr)}) {
			return
		}
	}

	s.send(Event{Kind: KindTerminated, Code: code})
}

// scanTerminalLines splits on "\n", "\r\n" and a bare "\r", so progress
// updates that rewrite the current line arrive as separate lines.
func scanTerminalLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}

		// Need one more byte to tell "\r\n" from a bare "\r".
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}

			return i + 1, data[:i], nil
		}

		if atEOF {
			return i + 1, data[:i], nil
		}

		return 0, nil, nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}

// isTerminalEOF reports whether err is how a pseudo-terminal master signals
// that the child side has closed.
func isTerminalEOF(err error) bool {
	var pathErr *os.PathError

	return errors.Is(err, syscall.EIO) || (errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrClosed))
}
