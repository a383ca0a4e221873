package engine

import "fmt"

// ValidationError indicates malformed or out-of-range input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ConflictError indicates the operation is inconsistent with current state:
// a violated limit, an illegal transition, or a lost version race.
type ConflictError struct {
	Message string
}

func (e ConflictError) Error() string { return e.Message }
