package upsert

import "fmt"

// ConflictError reports a concurrent-write race on the same natural id that
// did not resolve after the single insert-to-update retry.
type ConflictError struct {
	Entity string
	ID     uint
	Err    error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("upsert conflict on %s %d: %v", e.Entity, e.ID, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}
