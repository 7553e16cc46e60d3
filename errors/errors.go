// Copyright 2026 Dell Inc. All Rights Reserved.

// Package errors defines the typed error conditions shared by the Storage
// Center API client and the block device driver built on top of it.
package errors

import (
	"errors"
	"fmt"
)

// ///////////////////////////////////////////////////////////////////////////
// Wrappers for standard library errors package
// ///////////////////////////////////////////////////////////////////////////

func New(message string) error {
	return errors.New(message)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// ///////////////////////////////////////////////////////////////////////////
// notFoundError
// ///////////////////////////////////////////////////////////////////////////

type notFoundError struct {
	message string
}

func (e *notFoundError) Error() string { return e.message }

func NotFoundError(message string, a ...any) error {
	if len(a) == 0 {
		return &notFoundError{message: message}
	}
	return &notFoundError{message: fmt.Sprintf(message, a...)}
}

func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var target *notFoundError
	return errors.As(err, &target)
}

// ///////////////////////////////////////////////////////////////////////////
// ambiguousError
// ///////////////////////////////////////////////////////////////////////////

type ambiguousError struct {
	message string
}

func (e *ambiguousError) Error() string { return e.message }

// AmbiguousError indicates a lookup that was expected to identify a single
// resource matched more than one. Continuing would risk operating on the
// wrong object, so callers must treat this as fatal.
func AmbiguousError(message string, a ...any) error {
	if len(a) == 0 {
		return &ambiguousError{message: message}
	}
	return &ambiguousError{message: fmt.Sprintf(message, a...)}
}

func IsAmbiguousError(err error) bool {
	if err == nil {
		return false
	}
	var target *ambiguousError
	return errors.As(err, &target)
}

// ///////////////////////////////////////////////////////////////////////////
// alreadyAttachedError
// ///////////////////////////////////////////////////////////////////////////

type alreadyAttachedError struct {
	message string
}

func (e *alreadyAttachedError) Error() string { return e.message }

func AlreadyAttachedError(message string, a ...any) error {
	if len(a) == 0 {
		return &alreadyAttachedError{message: message}
	}
	return &alreadyAttachedError{message: fmt.Sprintf(message, a...)}
}

func IsAlreadyAttachedError(err error) bool {
	if err == nil {
		return false
	}
	var target *alreadyAttachedError
	return errors.As(err, &target)
}

// ///////////////////////////////////////////////////////////////////////////
// unattachedError
// ///////////////////////////////////////////////////////////////////////////

type unattachedError struct {
	message string
}

func (e *unattachedError) Error() string { return e.message }

func UnattachedError(message string, a ...any) error {
	if len(a) == 0 {
		return &unattachedError{message: message}
	}
	return &unattachedError{message: fmt.Sprintf(message, a...)}
}

func IsUnattachedError(err error) bool {
	if err == nil {
		return false
	}
	var target *unattachedError
	return errors.As(err, &target)
}
