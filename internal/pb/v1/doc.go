// Package pb declares the flatstore.v1.InstallerService gRPC service.
//
// Messages are protobuf well-known types, so the service needs no generated
// message code; this package holds the service descriptor together with the
// typed client and server bindings.
package pb
