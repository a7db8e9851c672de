// Package installer supervises installer processes.
//
// A Supervisor fetches the package descriptor, spawns the installer against
// it, relays every line of installer output to the notification sink in the
// order it is produced, removes the descriptor once the installer exits and
// reports the exit code as the last notification of the request.
package installer
