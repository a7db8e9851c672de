// Package installer implements the gRPC transport for the installer service.
//
// It adapts domain types to protobuf well-known messages and exposes a
// server that calls into a provided business-service interface.
package installer
