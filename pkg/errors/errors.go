// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for domain-router.
package errors

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is.
var (
	// ErrBind indicates a listener could not bind its port
	// (address in use, permission denied).
	ErrBind = errors.New("bind failed")

	// ErrDial indicates the backend of a route is unreachable.
	ErrDial = errors.New("backend dial failed")

	// ErrTLSHandshake indicates a malformed or rejected TLS handshake.
	ErrTLSHandshake = errors.New("tls handshake failed")

	// ErrCertificate indicates certificate generation or parsing failed.
	ErrCertificate = errors.New("certificate error")

	// ErrPrivilege indicates permission to bind privileged ports was not obtained.
	ErrPrivilege = errors.New("insufficient privilege")

	// ErrConfigValidation indicates a malformed route.
	ErrConfigValidation = errors.New("invalid route")

	// ErrInvalidConfig indicates a malformed process configuration value.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrShutdownTimeout is returned when listeners do not stop before the deadline.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

	// ErrNotRunning is returned by operations that need a running proxy.
	ErrNotRunning = errors.New("proxy not running")

	// ErrHosts indicates the hosts file could not be read or updated.
	ErrHosts = errors.New("hosts file update failed")

	// ErrNotFound indicates a route id that is not in the store.
	ErrNotFound = errors.New("route not found")
)

// ProxyError wraps an error with the operation and connection it belongs to.
type ProxyError struct {
	Op         string // Operation that failed
	Port       uint16 // Listening port, 0 when not bound to one
	RemoteAddr string // Client address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	switch {
	case e.RemoteAddr != "":
		return fmt.Sprintf("%s :%d [%s]: %v", e.Op, e.Port, e.RemoteAddr, e.Err)
	case e.Port != 0:
		return fmt.Sprintf("%s :%d: %v", e.Op, e.Port, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *ProxyError) Unwrap() error {
	return e.Err
}

// New creates a new ProxyError.
func New(op string, port uint16, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &ProxyError{
		Op:         op,
		Port:       port,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Kind joins a sentinel kind with its cause so both match errors.Is.
func Kind(kind, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// ValidationError describes a rejected route field.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is reports ValidationError as an ErrConfigValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrConfigValidation
}
