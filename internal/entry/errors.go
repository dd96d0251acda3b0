// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package entry

import (
	"errors"
	"fmt"
)

// Error categories. Every error from the codecs matches exactly one of these
// with errors.Is.
var (
	ErrFormat        = errors.New("not a valid archive")
	ErrCorruptHeader = errors.New("corrupt header")
	ErrUnsupported   = errors.New("unsupported feature")
	ErrSizeMismatch  = errors.New("payload does not match header")
	ErrEncoding      = errors.New("cannot encode")
)

// A MismatchError reports a payload that failed verification.
// The codec that returns it also returns every entry verified before it.
type MismatchError struct {
	Name string
	Err  error
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *MismatchError) Unwrap() error { return e.Err }

// NewError returns a sentinel error with its own message that matches
// category under errors.Is.
func NewError(category error, msg string) error {
	return &sentinel{msg: msg, category: category}
}

type sentinel struct {
	msg      string
	category error
}

func (s *sentinel) Error() string { return s.msg }
func (s *sentinel) Unwrap() error { return s.category }
