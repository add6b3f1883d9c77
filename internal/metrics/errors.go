package metrics

import "codeberg.org/mutker/solarledger/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidListen = errors.ErrorCode("metrics_invalid_listen_address")

	// Collection Errors
	ErrInvalidEvent   = errors.ErrorCode("metrics_invalid_event")
	ErrRegisterFailed = errors.ErrorCode("metrics_register_failed")

	// Operation Errors
	ErrOperationTimeout = errors.ErrTimeout
)
