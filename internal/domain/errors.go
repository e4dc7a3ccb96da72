// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates a request failed domain validation.
var ErrValidation = errors.New("validation failed")

// ErrTerminal indicates a command was issued against a run whose agent
// session has already ended and cannot be resumed.
var ErrTerminal = errors.New("run is terminal")

// ErrNotConnected indicates a required external account (agent provider or
// GitHub) has no stored credential. The condition is permanent until the
// user reconfigures settings; pollers must not retry it.
var ErrNotConnected = errors.New("account not connected")
