package fetcher

import (
	"bytes"
	"crypto"
	"crypto/sha512"
	"fmt"
	"os"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/flatstore/internal/config"
)

// persist replaces the file at path with content. The new bytes are written
// next to the target, checksum-verified and renamed over it, so readers see
// either the old descriptor or the new one.
func persist(path string, content []byte) error {
	// go-update swaps an existing file, so make sure there is one.
	placeholder, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, config.DefaultFilePermissions)
	if err != nil {
		return fmt.Errorf("create descriptor: %w", err)
	}

	if err = placeholder.Close(); err != nil {
		return fmt.Errorf("create descriptor: %w", err)
	}

	checksum := sha512.Sum512(content)

	options := goupdate.Options{
		TargetPath: path,
		TargetMode: config.DefaultFilePermissions,
		Checksum:   checksum[:],
		Hash:       crypto.SHA512,
	}

	if err = goupdate.Apply(bytes.NewReader(content), options); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}

	return nil
}
