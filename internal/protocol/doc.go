// Package protocol owns the DevTools wire contract and parsing primitives.
//
// Ownership boundary:
// - wire message shape and classification (command/response/event)
// - qualified name handling
// - reserved error codes and synthesized errors
// - compressed event payloads
// - protocol error/warning reporting hook
package protocol
