package derive

import "codeberg.org/mutker/solarledger/internal/errors"

const (
	ErrInvalidConfig  = errors.ErrorCode("derive_invalid_config")
	ErrInvalidReading = errors.ErrInvalidReading
	ErrSerialization  = errors.ErrSerialization
)
