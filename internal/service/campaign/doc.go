// Package campaign implements campaign lifecycle management.
//
// The service layer owns the status transitions around a send: triggering,
// pausing, resuming, and cancelling. Transitions are validated against the
// domain transition table and applied through guarded store updates, so two
// racing callers cannot both win. It depends on interfaces defined in this
// package and should never import from api/.
package campaign
