package version

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrIncompatible is returned when client and server major versions differ.
var ErrIncompatible = errors.New("incompatible versions")

// CheckCompatible reports whether a client of version client can talk to a
// server of version server. Versions are compatible when their major numbers match.
func CheckCompatible(client, server string) error {
	clientVersion, err := parseSemver(client)
	if err != nil {
		return fmt.Errorf("parsing client version %q: %w", client, err)
	}

	serverVersion, err := parseSemver(server)
	if err != nil {
		return fmt.Errorf("parsing server version %q: %w", server, err)
	}

	if clientVersion.Major() != serverVersion.Major() {
		return fmt.Errorf("client %s, server %s: %w", clientVersion, serverVersion, ErrIncompatible)
	}

	return nil
}

// parseSemver strips a leading "v" and parses the version string.
func parseSemver(version string) (*semver.Version, error) {
	return semver.NewVersion(strings.TrimPrefix(strings.TrimSpace(version), "v"))
}
