// Package install contains the domain types of the installation pipeline.
//
// It defines package identifiers and their validation, the descriptor
// artifact, installation events and the notifications built from them, the
// tagged error taxonomy of the pipeline and the localized messages used
// when errors cross the command boundary.
package install
