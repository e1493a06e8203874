package models

import (
	"errors"
	"fmt"
)

// ErrInvalid marks a single malformed record. The record is skipped and the
// cycle continues.
var ErrInvalid = errors.New("invalid record")

// FetchError means the data source could not produce a poll for this cycle.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DispatchError means an alert was formatted but could not be delivered.
type DispatchError struct {
	SignalKey string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.SignalKey, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
