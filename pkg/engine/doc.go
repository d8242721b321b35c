// Package engine implements the authentication orchestrator: the state
// machine that sequences health check, URL resolution, and external
// authentication, and publishes exactly one outcome event per request.
//
// The orchestrator is the consumer side of the request queue. Its
// central invariant is that every accepted request produces exactly one
// outcome, no matter which step fails: each pipeline step yields either
// a terminal outcome or permission to continue, and a single publish
// site converts the terminal result into an event. Failures are never
// propagated back to the consumption loop, because the loop would
// redeliver the message indefinitely; the only exception is a
// structurally invalid event, which is deliberately rejected so the
// broker's dead-letter handling applies.
package engine
