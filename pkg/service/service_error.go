package service

import "errors"

// ErrProgressUnknown is returned when a project has not reported progress yet.
var ErrProgressUnknown = errors.New("no progress recorded")

// MutationError is an upload or delete the object store refused.
type MutationError struct {
	Op  string
	Msg string
}

func (e *MutationError) Error() string {
	return e.Op + " failed: " + e.Msg
}

func (e *MutationError) Is(tgt error) bool {
	_, ok := tgt.(*MutationError)
	return ok
}
