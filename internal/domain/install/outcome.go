package install

import "time"

// Operation names the command a request ran.
type Operation string

const (
	// OperationInstall fetches a descriptor and installs from it.
	OperationInstall Operation = "install"
	// OperationUpdate updates an installed package.
	OperationUpdate Operation = "update"
	// OperationFetch only downloads the descriptor.
	OperationFetch Operation = "fetch"
)

// Outcome is the result of one finished request.
type Outcome struct {
	// Identifier is the package the request acted on.
	Identifier Identifier
	// Session is the request that produced the outcome.
	Session string
	// Operation is the command that ran.
	Operation Operation
	// ExitCode is the installer exit code, UnknownExitCode when it never reported one.
	ExitCode int
	// Error is the localized failure message, empty on success.
	Error string
	// FinishedAt is when the request returned.
	FinishedAt time.Time
}

// Succeeded reports whether the request ended without error and with a zero exit code.
func (o *Outcome) Succeeded() bool {
	return o.Error == "" && o.ExitCode == 0
}

// Process is an installer process observed in the process table.
type Process struct {
	// PID is the process id.
	PID int
	// PPID is the parent process id.
	PPID int
	// Executable is the executable name.
	Executable string
}

// Status describes what the server is doing right now.
type Status struct {
	// Version is the server build version.
	Version string
	// InFlight are the requests currently running.
	InFlight []Request
	// Processes are the installer processes running on the host, including
	// ones started outside the server.
	Processes []Process
	// Watchers is the number of clients following the event stream.
	Watchers int
}
