// Package errors provides structured error handling with error codes for simple-device.
//
// Every failure the registration path can produce carries a typed code so the
// invoking layer can pick user messaging, an HTTP status and whether to retry.
//
// # Overview
//
// The errors package provides:
//   - Structured Error type with error codes
//   - Error wrapping with context
//   - HTTP status code mapping
//   - Error inspection utilities
//
// # Basic Usage
//
//	import "github.com/tendant/simple-device/pkg/errors"
//
//	// Wrap an existing error
//	err := errors.Wrap(dbErr, errors.ErrCodeInternal, "failed to query database")
//
//	// Use convenience constructors
//	err := errors.DeviceLimitExceeded(userID.String(), 2)
//	err := errors.UserBlocked(userID.String())
//	err := errors.Transient(pgErr, "device registration could not acquire lock")
//
// # Device Registration Codes
//
//   - ErrCodeValidationFailed: malformed fingerprint, never mutates state (400)
//   - ErrCodeDeviceLimitExceeded: the device cap was reached and the user is now blocked (429)
//   - ErrCodeUserBlocked: the user was already blocked (403)
//   - ErrCodeTransient: lock timeout, serialization failure or lost connection (503, retryable)
//
// # Error Inspection
//
//	if errors.IsCode(err, errors.ErrCodeDeviceLimitExceeded) {
//		// tell the user to contact support
//	}
//
//	code := errors.GetCode(err)
//	details := errors.GetDetails(err)
//
// # HTTP Integration
//
//	status := errors.HTTPStatus(err)
//	render.Status(r, status)
//
// Errors are compatible with the standard library errors.Is and errors.As through Unwrap.
package errors
