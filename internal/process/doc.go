// Package process runs external commands and reports their activity as an
// ordered stream of events: output lines, process-level errors and a final
// termination event carrying the exit code.
//
// Commands run either on plain pipes or attached to a pseudo-terminal. The
// package also scans the process table for running instances of a program.
package process
