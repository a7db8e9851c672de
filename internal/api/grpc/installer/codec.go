package installer

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/flatstore/internal/domain/install"
)

// Field names of the structured messages.
const (
	fieldName               = "name"
	fieldPayload            = "payload"
	fieldPackage            = "package"
	fieldSession            = "session"
	fieldTime               = "time"
	fieldVersion            = "version"
	fieldInFlight           = "in_flight"
	fieldInstallerProcesses = "installer_processes"
	fieldWatchers           = "watchers"
	fieldPID                = "pid"
	fieldPPID               = "ppid"
	fieldExecutable         = "executable"
	fieldRecords            = "records"
	fieldOperation          = "operation"
	fieldExitCode           = "exit_code"
	fieldError              = "error"
	fieldFinishedAt         = "finished_at"
)

var (
	// errUnknownEvent is returned for notification names this build does not know.
	errUnknownEvent = errors.New("unknown event name")
	// errMalformedField is returned when a field has the wrong type.
	errMalformedField = errors.New("malformed field")
)

// EventToStruct encodes a notification for the event stream.
func EventToStruct(event *install.Event) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldName:    event.Name(),
		fieldPayload: event.Payload(),
		fieldPackage: event.Package.String(),
		fieldSession: event.Session,
		fieldTime:    event.Time.UTC().Format(time.RFC3339Nano),
	})
}

// EventFromStruct decodes a notification received from the event stream.
func EventFromStruct(message *structpb.Struct) (*install.Event, error) {
	fields := message.AsMap()

	event := &install.Event{
		Package: install.Identifier(stringField(fields, fieldPackage)),
		Session: stringField(fields, fieldSession),
		Time:    timeField(fields, fieldTime),
	}

	switch name := stringField(fields, fieldName); name {
	case install.EventOutput:
		event.Kind = install.KindOutput
		event.Text = stringField(fields, fieldPayload)
	case install.EventError:
		event.Kind = install.KindError
		event.Text = stringField(fields, fieldPayload)
	case install.EventCompleted:
		code, ok := fields[fieldPayload].(float64)
		if !ok {
			return nil, fmt.Errorf("%s payload: %w", name, errMalformedField)
		}

		event.Kind = install.KindCompleted
		event.ExitCode = int(code)
	default:
		return nil, fmt.Errorf("%q: %w", name, errUnknownEvent)
	}

	return event, nil
}

// StatusToStruct encodes the server status.
func StatusToStruct(st *install.Status) (*structpb.Struct, error) {
	inFlight := make([]any, 0, len(st.InFlight))
	for _, req := range st.InFlight {
		inFlight = append(inFlight, map[string]any{
			fieldPackage: req.Identifier.String(),
			fieldSession: req.Session,
		})
	}

	processes := make([]any, 0, len(st.Processes))
	for _, p := range st.Processes {
		processes = append(processes, map[string]any{
			fieldPID:        p.PID,
			fieldPPID:       p.PPID,
			fieldExecutable: p.Executable,
		})
	}

	return structpb.NewStruct(map[string]any{
		fieldVersion:            st.Version,
		fieldInFlight:           inFlight,
		fieldInstallerProcesses: processes,
		fieldWatchers:           st.Watchers,
	})
}

// StatusFromStruct decodes the server status.
func StatusFromStruct(message *structpb.Struct) *install.Status {
	fields := message.AsMap()
	st := &install.Status{
		Version:  stringField(fields, fieldVersion),
		Watchers: intField(fields, fieldWatchers),
	}

	for _, item := range listField(fields, fieldInFlight) {
		st.InFlight = append(st.InFlight, install.Request{
			Identifier: install.Identifier(stringField(item, fieldPackage)),
			Session:    stringField(item, fieldSession),
		})
	}

	for _, item := range listField(fields, fieldInstallerProcesses) {
		st.Processes = append(st.Processes, install.Process{
			PID:        intField(item, fieldPID),
			PPID:       intField(item, fieldPPID),
			Executable: stringField(item, fieldExecutable),
		})
	}

	return st
}

// OutcomesToStruct encodes the journal.
func OutcomesToStruct(outcomes []*install.Outcome) (*structpb.Struct, error) {
	records := make([]any, 0, len(outcomes))
	for _, outcome := range outcomes {
		records = append(records, map[string]any{
			fieldPackage:    outcome.Identifier.String(),
			fieldSession:    outcome.Session,
			fieldOperation:  string(outcome.Operation),
			fieldExitCode:   outcome.ExitCode,
			fieldError:      outcome.Error,
			fieldFinishedAt: outcome.FinishedAt.UTC().Format(time.RFC3339Nano),
		})
	}

	return structpb.NewStruct(map[string]any{
		fieldRecords: records,
	})
}

// OutcomesFromStruct decodes the journal.
func OutcomesFromStruct(message *structpb.Struct) []*install.Outcome {
	items := listField(message.AsMap(), fieldRecords)
	outcomes := make([]*install.Outcome, 0, len(items))

	for _, item := range items {
		outcomes = append(outcomes, &install.Outcome{
			Identifier: install.Identifier(stringField(item, fieldPackage)),
			Session:    stringField(item, fieldSession),
			Operation:  install.Operation(stringField(item, fieldOperation)),
			ExitCode:   intField(item, fieldExitCode),
			Error:      stringField(item, fieldError),
			FinishedAt: timeField(item, fieldFinishedAt),
		})
	}

	return outcomes
}

func stringField(fields map[string]any, key string) string {
	value, _ := fields[key].(string)

	return value
}

func intField(fields map[string]any, key string) int {
	value, _ := fields[key].(float64)

	return int(value)
}

func timeField(fields map[string]any, key string) time.Time {
	value, err := time.Parse(time.RFC3339Nano, stringField(fields, key))
	if err != nil {
		return time.Time{}
	}

	return value
}

// listField returns the objects of a list field, skipping anything else.
func listField(fields map[string]any, key string) []map[string]any {
	items, _ := fields[key].([]any)
	result := make([]map[string]any, 0, len(items))

	for _, item := range items {
		if object, ok := item.(map[string]any); ok {
			result = append(result, object)
		}
	}

	return result
}
