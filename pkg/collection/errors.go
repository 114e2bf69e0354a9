package collection

import (
	"errors"
	"fmt"
)

var (
	// ErrNilModifier is returned when an update or find-and-modify has
	// nothing to apply.
	ErrNilModifier = errors.New("collection: modifier is nil or empty")

	// ErrNilID is returned when an operation addressed by id gets none.
	ErrNilID = errors.New("collection: id is nil")

	// ErrNotAudited is returned when history is requested from a collection
	// without a history collection.
	ErrNotAudited = errors.New("collection: auditing is not enabled")
)

// Stage names the step of a mutation pipeline that failed.
type Stage string

const (
	StageResolve Stage = "resolve"
	StageMarshal Stage = "marshal"
	StageHistory Stage = "history"
	StageWrite   Stage = "write"
	StageRead    Stage = "read"
)

// StageError wraps a failure with the pipeline step it happened in.
type StageError struct {
	Collection string
	Operation  string
	Stage      Stage
	Err        error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %s failed: %v", e.Collection, e.Operation, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the failed stage of err, if it is a StageError.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
