package process

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/go-ps"
)

// Info describes a process found in the process table.
type Info struct {
	// PID is the process identifier.
	PID int
	// PPID is the parent process identifier.
	PPID int
	// Executable is the executable name as reported by the OS.
	Executable string
}

// FindByName returns the running processes whose executable matches program.
// The program may be given as a path; only its base name is compared, and
// a ".exe" suffix is ignored. The calling process is never included.
func FindByName(program string) ([]Info, error) {
	processList, err := ps.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	wanted := executableName(program)
	thisProcessID := os.Getpid()

	var result []Info

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if executableName(process.Executable()) != wanted {
			continue
		}

		result = append(result, Info{
			PID:        process.Pid(),
			PPID:       process.PPid(),
			Executable: process.Executable(),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].PID < result[j].PID
	})

	return result, nil
}

// executableName normalizes a program name for comparison.
func executableName(program string) string {
	return strings.TrimSuffix(strings.ToLower(filepath.Base(program)), ".exe")
}
