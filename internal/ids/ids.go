// Package ids centralizes identifier generation for executions, node
// executions, and ledger transactions.
package ids

import "github.com/google/uuid"

// New returns a fresh random identifier in canonical UUID form.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s parses as a UUID. Stores use it to reject
// identifiers that were hand-assembled rather than generated.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
