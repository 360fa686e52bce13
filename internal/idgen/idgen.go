// Package idgen centralizes identifier generation so every daemon
// mints session, invite, request, and record ids the same way.
package idgen

import "github.com/google/uuid"

// New returns a random v4 UUID string, used for switch sessions,
// watchers, routines, incidents, wallets, and mesh invite nonces.
func New() string {
	return uuid.NewString()
}
