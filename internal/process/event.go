package process

import "sync"

// Kind tags the variant of an Event.
type Kind int

const (
	// KindStdout is one line read from standard output (or the terminal in pty mode).
	KindStdout Kind = iota + 1
	// KindStderr is one line read from standard error.
	KindStderr
	// KindError is an I/O failure while reading the child's output.
	KindError
	// KindTerminated is the final event of every stream.
	KindTerminated
)

// Event is one unit of child process activity.
type Event struct {
	// Kind selects which fields are meaningful.
	Kind Kind
	// Line is the raw line without its terminator, for output events.
	Line []byte
	// Err is the failure, for error events.
	Err error
	// Code is the exit code, for termination events. -1 when unknown.
	Code int
}

// Handle is a running command as seen by its consumer.
type Handle struct {
	// events carries the activity of the command.
	events <-chan Event
	// detached is closed by Detach.
	detached chan struct{}
	// once guards closing detached.
	once sync.Once
}

// NewHandle wraps an event channel. Producers must stop sending once
// Detached is closed.
func NewHandle(events <-chan Event) *Handle {
	return &Handle{
		events:   events,
		detached: make(chan struct{}),
	}
}

// Events returns the ordered activity of the command. The channel is closed
// after the termination event.
func (h *Handle) Events() <-chan Event {
	return h.events
}

// Detach tells the producer the consumer went away. The command keeps
// running and its remaining output is discarded.
func (h *Handle) Detach() {
	h.once.Do(func() {
		close(h.detached)
	})
}

// Detached is closed once Detach has been called.
func (h *Handle) Detached() <-chan struct{} {
	return h.detached
}
