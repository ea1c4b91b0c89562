package digest

import "errors"

var (
	// ErrInvalidLength is returned by Parse when the input is not 64 hex chars.
	ErrInvalidLength = errors.New("digest: invalid length")
	// ErrInvalidFormat is returned by Parse when the input is not valid hex.
	ErrInvalidFormat = errors.New("digest: invalid hex format")
)
