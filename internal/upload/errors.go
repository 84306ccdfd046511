package upload

import "errors"

var (
	// ErrInvalidSession is returned for unknown, cancelled, or reaped session IDs
	ErrInvalidSession = errors.New("invalid upload session")

	// ErrInvalidChunkIndex is returned when a chunk index is outside the declared bounds
	ErrInvalidChunkIndex = errors.New("chunk index out of bounds")

	// ErrChunkCountMismatch is returned when the client-supplied total chunk count
	// disagrees with the count declared at session start
	ErrChunkCountMismatch = errors.New("total chunk count does not match session")

	// ErrIncompleteSet is returned if assembly finds the chunk set incomplete.
	// The completion guard makes this unreachable unless chunks were deleted
	// out from under a live session.
	ErrIncompleteSet = errors.New("chunk set incomplete at assembly time")
)
