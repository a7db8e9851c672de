// Package fetcher downloads package reference descriptors.
//
// It resolves a package identifier to a descriptor URL under the configured
// repository, downloads it with a single GET, and persists it atomically to
// the temporary directory, reporting progress through the notification sink.
package fetcher
