package errors

// ErrorCode identifies a failure class. Protocol codes such as
// telemetry_unavailable or drift_detected are matched with HasCode by
// callers and used as the outcome label in metrics.
type ErrorCode string

// Error is a coded error. Data carries the record ID, fingerprints or
// config field involved in the failure.
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory creates coded errors. Each package obtains one with New().
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
