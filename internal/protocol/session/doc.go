// Package session owns the message router that multiplexes DevTools sessions
// over one connection.
//
// Ownership boundary:
// - message id assignment and pending-command correlation by (session, id)
// - session registration, proxy forwarding and teardown failures
// - event routing to the owning target
// - drain detection for run-after-pending-dispatches continuations
package session
