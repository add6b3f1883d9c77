package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"

	// Configuration errors
	ErrInvalidConfig ErrorCode = "invalid_configuration"
	ErrReadConfig    ErrorCode = "read_config_failed"
	ErrBindFlags     ErrorCode = "bind_flags_failed"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"

	// Register/verify protocol
	ErrTelemetryUnavailable ErrorCode = "telemetry_unavailable"
	ErrInvalidReading       ErrorCode = "invalid_reading"
	ErrSerialization        ErrorCode = "serialization_failed"
	ErrCommitFailed         ErrorCode = "commit_failed"
	ErrRecordNotFound       ErrorCode = "record_not_found"
	ErrDriftDetected        ErrorCode = "drift_detected"
	ErrIntegrityViolation   ErrorCode = "integrity_violation"

	// Operation errors
	ErrCanceled ErrorCode = "operation_canceled"
	ErrTimeout  ErrorCode = "operation_timeout"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:             "Internal error occurred",
	ErrInvalidArgument:      "Invalid argument provided",
	ErrUnavailable:          "Service unavailable",
	ErrInvalidConfig:        "Invalid configuration",
	ErrReadConfig:           "Failed to read configuration",
	ErrBindFlags:            "Failed to bind flags",
	ErrInvalidLogLevel:      "Invalid log level",
	ErrInitFailed:           "Initialization failed",
	ErrShutdownFailed:       "Shutdown failed",
	ErrAlreadyRunning:       "Another instance is already running",
	ErrTelemetryUnavailable: "Telemetry unavailable",
	ErrInvalidReading:       "Invalid telemetry reading",
	ErrSerialization:        "Payload is not canonically serializable",
	ErrCommitFailed:         "Ledger commit failed",
	ErrRecordNotFound:       "Record not found",
	ErrDriftDetected:        "Sensor state drifted from registered record",
	ErrIntegrityViolation:   "Stored fingerprint does not match stored payload",
	ErrCanceled:             "Operation canceled",
	ErrTimeout:              "Operation timed out",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
