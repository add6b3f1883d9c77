package telemetry

import "codeberg.org/mutker/solarledger/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrorCode("telemetry_invalid_config")

	// Fetch Errors
	ErrUnavailable   = errors.ErrTelemetryUnavailable
	ErrEmptyFeed     = errors.ErrorCode("telemetry_empty_feed")
	ErrMalformedFeed = errors.ErrorCode("telemetry_malformed_feed")

	// Payload Errors
	ErrSerialization = errors.ErrSerialization
)
