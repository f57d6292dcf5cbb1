package errors

import "errors"

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotFound is returned by loaders when the source has no value for a key.
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned when operating on a closed component.
	ErrClosed = errors.New("closed")
	// ErrLoaderPanic wraps a panic raised by a loader.
	ErrLoaderPanic = errors.New("loader panicked")

	ErrInvalidCapacity   = errors.New("max capacity must be positive and fit an int32")
	ErrInvalidExpiration = errors.New("expiration must be positive")
	ErrInvalidInterval   = errors.New("invalid interval")
)
