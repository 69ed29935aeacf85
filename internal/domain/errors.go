// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates a malformed or incomplete request.
var ErrValidation = errors.New("validation failed")

// ErrProvisioning indicates the remote sandbox or volume could not be created
// or could not accept a message. Its message is surfaced to the client.
var ErrProvisioning = errors.New("provisioning failed")

// ErrTooLarge indicates a remote payload exceeded the size this service
// will buffer.
var ErrTooLarge = errors.New("payload too large")
