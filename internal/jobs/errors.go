package jobs

import "errors"

var (
	// ErrNotFound means no job with the given id is known.
	ErrNotFound = errors.New("job not found")
	// ErrConflict means the job's state does not allow the operation.
	ErrConflict = errors.New("job state conflict")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInternal covers resource exhaustion and a closed manager.
	ErrInternal = errors.New("internal error")
)
