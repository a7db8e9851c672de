package install

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// maxIdentifierLength bounds identifiers to a single file name component.
const maxIdentifierLength = 255

// ErrInvalidIdentifier is returned for identifiers that are empty or unsafe
// to use as a URL path segment and a file name.
var ErrInvalidIdentifier = errors.New("invalid package identifier")

// identifierPattern is the allow-list of identifier characters.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Identifier names a package in the remote repository, e.g. "org.example.App".
type Identifier string

// Validate reports whether the identifier may be interpolated into a URL and a path.
func (id Identifier) Validate() error {
	s := string(id)

	switch {
	case s == "":
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	case len(s) > maxIdentifierLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidIdentifier, maxIdentifierLength)
	case strings.Contains(s, ".."):
		return fmt.Errorf("%w: %q contains \"..\"", ErrInvalidIdentifier, s)
	case !identifierPattern.MatchString(s):
		return fmt.Errorf("%w: %q contains forbidden characters", ErrInvalidIdentifier, s)
	}

	return nil
}

// String returns the identifier as a plain string.
func (id Identifier) String() string {
	return string(id)
}

// FileName returns the descriptor file name for the given extension.
func (id Identifier) FileName(extension string) string {
	return string(id) + "." + extension
}

// Request is a single command issued against the pipeline.
type Request struct {
	// Identifier is the package to act on.
	Identifier Identifier
	// Session tags every notification produced for this request.
	Session string
}

// Artifact is a descriptor downloaded for one installation.
type Artifact struct {
	// Identifier is the package the descriptor references.
	Identifier Identifier
	// Path is the absolute location of the descriptor file.
	Path string
	// Content is the descriptor body as written to disk.
	Content string
}
