package process

import (
	"os/exec"

	"github.com/creack/pty"
)

// startPTY runs cmd attached to a new pseudo-terminal. Standard output and
// standard error share the terminal, so lines arrive in the exact order the
// child wrote them and are all reported as KindStdout.
// exited is closed once the child has been reaped.
func startPTY(cmd *exec.Cmd, exited chan<- struct{}) (*Handle, error) {
	terminal, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}

	events := make(chan Event)
	handle := NewHandle(events)
	s := &stream{out: events, detached: handle.Detached()}

	go func() {
		// Reading ends with EIO once the child side of the terminal closes.
		s.readLines(terminal, KindStdout)

		waitErr := cmd.Wait()
		close(exited)

		_ = terminal.Close()

		s.finish(cmd, waitErr)
	}()

	return handle, nil
}
