// Package identity provides the account and relationship core of the care
// back office API: registration, email verification, staff approval,
// login lockout, session tokens and the family relationship graph.
//
// Account lifecycle:
//   - An account moves along three independent axes. Verification is set once
//     by consuming the emailed token. Approval is only meaningful for staff
//     roles and is toggled by an admin through AccountStateMachine. The lock
//     window opens after repeated failed passwords, see LockoutPolicy.
//   - AccountLifecycle.Login checks existence, the lock window, the active
//     flag, verification and approval before it compares the password.
//   - Lockout bookkeeping is written with a compare and swap on the version
//     column so concurrent failures are never lost.
//
// Relationship graph:
//   - RelationshipGraph keeps at most one edge per pair of accounts. A
//     declined edge stays in place and blocks new requests between the pair.
//     Accepted edges may be removed by either party.
//
// Notifications and activity:
//   - Notifications are dispatched after the triggering write committed and
//     run with their own timeout. Failures are logged, never returned.
//   - ActivitySink receives audit events on a best effort basis, see the
//     activitymap package for a transport neutral record shape.
//
// HTTP:
//   - RegisterIdentityRoutes mounts the auth, family and patient record routes
//     on a go-router router. RouteGuard carries the bearer, approval and admin
//     middlewares.
package identity
