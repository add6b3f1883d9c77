package ledger

import "codeberg.org/mutker/solarledger/internal/errors"

const (
	// Configuration Errors
	ErrInvalidDBPath = errors.ErrorCode("ledger_invalid_db_path")

	// Submission Errors
	ErrRejected = errors.ErrorCode("ledger_submission_rejected")

	// Lookup Errors
	ErrRecordNotFound = errors.ErrRecordNotFound
	ErrCorruptRecord  = errors.ErrorCode("ledger_corrupt_record")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("ledger_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("ledger_schema_validation_failed")
	ErrSchemaVersionMismatch  = errors.ErrorCode("ledger_schema_version_mismatch")
	ErrTransactionFailed      = errors.ErrorCode("ledger_transaction_failed")

	// Storage Errors
	ErrStorageAccess = errors.ErrorCode("ledger_storage_access_failed")
	ErrStorageInit   = errors.ErrInitFailed
	ErrStorageClose  = errors.ErrShutdownFailed
)
