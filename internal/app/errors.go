package app

import "errors"

// Error kinds surfaced by the orchestrator. The transport maps each kind to a
// response; they are never conflated.
var (
	// ErrNotFound indicates a space, file, or membership row is absent.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied indicates the caller lacks the required role.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidArgument indicates a malformed input, e.g. an unknown role.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidOperation indicates a well-formed but disallowed request,
	// e.g. removing the owner.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrStorage indicates a blob-backend I/O failure.
	ErrStorage = errors.New("storage failure")
	// ErrPersistence indicates a metadata-store failure.
	ErrPersistence = errors.New("persistence failure")
)
