package blefs

import (
	"errors"

	"github.com/aweris/blefs/internal/store"
)

// Request errors. The dispatcher reports these to the peer as ERR: text
// and keeps serving the connection.
var (
	ErrMalformedRequest = errors.New("blefs: malformed request")
	ErrUnknownOpcode    = errors.New("blefs: unknown opcode")
	ErrSizeMismatch     = errors.New("blefs: size mismatch")
	ErrDigestMismatch   = errors.New("blefs: digest mismatch")
	ErrWriteFailure     = errors.New("blefs: write failure")
	ErrResponseTooLarge = errors.New("blefs: response exceeds transport unit")
	ErrNotFound         = store.ErrNotFound
	ErrInvalidName      = store.ErrInvalidName
)

// Radio errors. The lifecycle recovers from these by advertising again.
var (
	ErrTransport        = errors.New("blefs: transport failure")
	ErrAdvertiseTimeout = errors.New("blefs: advertising timed out")
)
