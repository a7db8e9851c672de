package client

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/text/message"

	"github.com/oshokin/flatstore/internal/domain/install"
)

// output renders notifications and results for a terminal.
type output struct {
	// w receives everything printed.
	w io.Writer
	// printer localizes fixed texts.
	printer *message.Printer
	// success colours completed runs with exit code zero.
	success *color.Color
	// warning colours install-error notifications.
	warning *color.Color
	// failure colours failed runs and errors.
	failure *color.Color
	// faint colours secondary details.
	faint *color.Color
	// showPackage prefixes lines with the package they belong to.
	showPackage bool
}

func newOutput(w io.Writer, printer *message.Printer, noColor bool) *output {
	o := &output{
		w:       w,
		printer: printer,
		success: color.New(color.FgGreen),
		warning: color.New(color.FgYellow),
		failure: color.New(color.FgRed),
		faint:   color.New(color.Faint),
	}

	if noColor {
		for _, c := range []*color.Color{o.success, o.warning, o.failure, o.faint} {
			c.DisableColor()
		}
	}

	return o
}

// event prints one notification.
func (o *output) event(event *install.Event) {
	if o.showPackage {
		_, _ = o.faint.Fprintf(o.w, "[%s] ", event.Package)
	}

	switch event.Kind {
	case install.KindError:
		_, _ = o.warning.Fprintln(o.w, "⚠ "+event.Text)
	case install.KindCompleted:
		text := o.printer.Sprintf(install.MsgFinished, event.ExitCode)
		if event.ExitCode == 0 {
			_, _ = o.success.Fprintln(o.w, "✓ "+text)
		} else {
			_, _ = o.failure.Fprintln(o.w, "✗ "+text)
		}
	default:
		_, _ = fmt.Fprintln(o.w, event.Text)
	}
}

// fail prints an error message.
func (o *output) fail(text string) {
	_, _ = o.failure.Fprintln(o.w, "✗ "+text)
}

// line prints a localized message.
func (o *output) line(key message.Reference, args ...any) {
	_, _ = fmt.Fprintln(o.w, o.printer.Sprintf(key, args...))
}

// status prints the server status.
func (o *output) status(st *install.Status) {
	o.line(install.MsgServerVersion, st.Version)

	if len(st.InFlight) == 0 {
		o.line(install.MsgIdle)
	}

	for _, req := range st.InFlight {
		o.line(install.MsgInFlight, req.Identifier, req.Session)
	}

	for _, p := range st.Processes {
		o.line(install.MsgInstallerProcess, p.PID, p.Executable)
	}

	o.line(install.MsgWatchers, st.Watchers)
}

// history prints the journal as a table.
func (o *output) history(outcomes []*install.Outcome) {
	if len(outcomes) == 0 {
		o.line(install.MsgHistoryEmpty)
		return
	}

	table := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(table, "PACKAGE\tOPERATION\tEXIT\tFINISHED\tSESSION\tERROR")

	for _, outcome := range outcomes {
		_, _ = fmt.Fprintf(table, "%s\t%s\t%d\t%s\t%s\t%s\n",
			outcome.Identifier,
			outcome.Operation,
			outcome.ExitCode,
			outcome.FinishedAt.Local().Format(time.DateTime),
			outcome.Session,
			outcome.Error,
		)
	}

	_ = table.Flush()
}
