package install

import (
	"context"
	"time"
)

// Notification names understood by the user interface.
const (
	// EventOutput carries one line of progress text.
	EventOutput = "install-output"
	// EventError carries a non-fatal process-level error description.
	EventError = "install-error"
	// EventCompleted carries the installer exit code.
	EventCompleted = "install-completed"
)

// UnknownExitCode is reported when the installer exit code is not available.
const UnknownExitCode = -1

// Kind tags the variant of an Event.
type Kind int

const (
	// KindOutput is a line of progress text.
	KindOutput Kind = iota + 1
	// KindError is a process-level error that does not stop the stream.
	KindError
	// KindCompleted is the installer termination.
	KindCompleted
)

// Event is one unit of installation progress.
type Event struct {
	// Kind selects which of Text and ExitCode is meaningful.
	Kind Kind
	// Text is the payload of output and error events.
	Text string
	// ExitCode is the payload of completion events.
	ExitCode int
	// Package is the identifier the event belongs to.
	Package Identifier
	// Session is the request the event belongs to.
	Session string
	// Time is when the event was produced.
	Time time.Time
	// Dropped is how many notifications a drop notice stands for; zero on regular events.
	Dropped int
}

// Name returns the notification name of the event.
func (e *Event) Name() string {
	switch e.Kind {
	case KindError:
		return EventError
	case KindCompleted:
		return EventCompleted
	default:
		return EventOutput
	}
}

// Payload returns the string or integer the UI receives for the event.
func (e *Event) Payload() any {
	if e.Kind == KindCompleted {
		return e.ExitCode
	}

	return e.Text
}

// Sink receives notifications on their way to the user interface.
type Sink interface {
	Notify(ctx context.Context, event *Event) error
}

// Emitter publishes the events of one request to a Sink.
// It stamps package, session and time, and wraps sink failures in NotifyError.
type Emitter struct {
	sink    Sink
	request Request
	now     func() time.Time
}

// NewEmitter binds a sink to a request.
func NewEmitter(sink Sink, request Request) *Emitter {
	return &Emitter{
		sink:    sink,
		request: request,
		now:     time.Now,
	}
}

// Output emits an install-output notification.
func (e *Emitter) Output(ctx context.Context, text string) error {
	return e.emit(ctx, &Event{Kind: KindOutput, Text: text})
}

// Error emits an install-error notification.
func (e *Emitter) Error(ctx context.Context, text string) error {
	return e.emit(ctx, &Event{Kind: KindError, Text: text})
}

// Completed emits an install-completed notification.
func (e *Emitter) Completed(ctx context.Context, exitCode int) error {
	return e.emit(ctx, &Event{Kind: KindCompleted, ExitCode: exitCode})
}

func (e *Emitter) emit(ctx context.Context, event *Event) error {
	event.Package = e.request.Identifier
	event.Session = e.request.Session
	event.Time = e.now()

	if err := e.sink.Notify(ctx, event); err != nil {
		return &NotifyError{Event: event.Name(), Err: err}
	}

	return nil
}
