package model

import "errors"

// ErrUnknownProject matches any *UnknownProjectError via errors.Is.
var ErrUnknownProject = &UnknownProjectError{}

type UnknownProjectError struct {
	Key string
}

func (e *UnknownProjectError) Error() string {
	return "unknown project: " + e.Key
}

func (e *UnknownProjectError) Is(tgt error) bool {
	_, ok := tgt.(*UnknownProjectError)
	return ok
}

// ErrImageNotFound is returned when no object carries the requested ordinal.
var ErrImageNotFound = errors.New("image not found")
