// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiling

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigurationError is the only error kind reported by the generator: the requested
// problem, tiling or array configuration violates Constraint.
//
// It is always detected before any artifact is produced.
type ConfigurationError struct {
	Constraint string
	cause      error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Constraint
}

// Unwrap returns the underlying error that triggered the ConfigurationError, if any.
func (e *ConfigurationError) Unwrap() error { return e.cause }

// Errorf returns a *ConfigurationError (with stack trace) describing the violated constraint.
func Errorf(format string, args ...any) error {
	return errors.WithStack(&ConfigurationError{Constraint: fmt.Sprintf(format, args...)})
}

// AsConfigurationError converts err to a *ConfigurationError, keeping err as its cause.
// If err already is (or wraps) a *ConfigurationError it is returned unchanged, and nil stays nil.
func AsConfigurationError(err error) error {
	if err == nil {
		return nil
	}
	if IsConfigurationError(err) {
		return err
	}
	return errors.WithStack(&ConfigurationError{Constraint: err.Error(), cause: err})
}

// IsConfigurationError returns whether err is or wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
