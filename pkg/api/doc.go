// Package api defines the core domain types for the document
// authentication pipeline.
//
// This package provides the data model shared by every stage of the
// pipeline: the claim set decoded from a bearer token, the
// authentication request, the terminal outcome, the wire events carried
// over the request and outcome queues, and the error taxonomy.
//
// The package has zero external dependencies (Go standard library only)
// and performs no I/O. All event types produce the canonical camelCase
// JSON wire format consumed by the broker queues.
package api
