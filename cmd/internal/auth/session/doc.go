// Package session implements the account session flows: register, login,
// refresh, logout, and the authenticated profile/credential updates.
//
// The refresh model is deliberately single-slot: each account stores at most
// one active refresh token, and every login or refresh overwrites it. A
// presented refresh token is accepted only when it verifies AND matches the
// stored value, so a rotated-away token is rejected even before its expiry.
//
// The service holds no mutable state of its own; all persistence goes
// through the identity store, and every write completes before the result
// is returned to the caller.
package session
