// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package wire

import (
	"errors"
	"fmt"
)

// ErrTruncated indicates that the input ended inside a record.
var ErrTruncated = errors.New("truncated record")

// MalformedError is the concrete type of errors reported when a record read
// from the gateway cannot be decoded. After such an error the stream is no
// longer known to be aligned on a record boundary.
type MalformedError struct {
	Field string // the name of the offending field
	Value []byte // the raw field value, if any
	Err   error  // the underlying cause, if any
}

// Error satisfies the error interface.
func (e *MalformedError) Error() string {
	msg := fmt.Sprintf("malformed record: field %q", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf(" value %q", e.Value)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause of e.
func (e *MalformedError) Unwrap() error { return e.Err }

func malformed(field string, value []byte, err error) error {
	return &MalformedError{Field: field, Value: value, Err: err}
}
