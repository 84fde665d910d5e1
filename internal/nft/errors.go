package nft

import (
	"errors"
	"fmt"
)

// Failure categories. Callers test for them with errors.Is.
var (
	// ErrRead marks a failed on-chain call.
	ErrRead = errors.New("contract read failed")
	// ErrTokenAbsent marks a token id past the end of the collection.
	ErrTokenAbsent = errors.New("token does not exist")
	// ErrResolution marks a URI that could not be turned into a fetch target.
	ErrResolution = errors.New("uri resolution failed")
	// ErrFetch marks a transport failure or non-2xx response.
	ErrFetch = errors.New("metadata fetch failed")
	// ErrParse marks a body that is not a JSON object.
	ErrParse = errors.New("metadata parse failed")
	// ErrAbandoned marks a token whose retry budget ran out.
	ErrAbandoned = errors.New("token abandoned")
	// ErrTaskSource marks an unreachable or malformed task list.
	ErrTaskSource = errors.New("task source failed")
	// ErrPublish marks a failed publish step.
	ErrPublish = errors.New("publish failed")
)

// ReadError describes a failed contract call.
type ReadError struct {
	Contract string
	TokenID  int64
	Method   string
	Absent   bool
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s(%d) on %s: %v", e.Method, e.TokenID, e.Contract, e.Err)
}

// Unwrap exposes ErrRead, ErrTokenAbsent when applicable, and the cause.
func (e *ReadError) Unwrap() []error {
	errs := []error{ErrRead}
	if e.Absent {
		errs = append(errs, ErrTokenAbsent)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
