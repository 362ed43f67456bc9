// Package errors provides coded errors for the retrieval engine.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (catalog, index files)
//   - 3XX: Collaborator errors (external searchers)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	CategoryConfig       Category = "CONFIG"
	CategoryStorage      Category = "STORAGE"
	CategoryCollaborator Category = "COLLABORATOR"
	CategoryValidation   Category = "VALIDATION"
	CategoryInternal     Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal aborts the current operation.
	SeverityFatal Severity = "FATAL"
	// SeverityError means the operation failed.
	SeverityError Severity = "ERROR"
	// SeverityWarning means the operation continued in degraded mode.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound  = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid   = "ERR_102_CONFIG_INVALID"
	ErrCodeSearcherMissing = "ERR_104_SEARCHER_MISSING"

	// Storage errors (200-299)
	ErrCodeStorageOpen   = "ERR_201_STORAGE_OPEN"
	ErrCodeStorageWrite  = "ERR_202_STORAGE_WRITE"
	ErrCodeStorageBusy   = "ERR_203_STORAGE_BUSY"
	ErrCodeCorruptIndex  = "ERR_205_CORRUPT_INDEX"
	ErrCodeDataDirLocked = "ERR_206_DATA_DIR_LOCKED"
	ErrCodeReadOnly      = "ERR_207_READ_ONLY"

	// Collaborator errors (300-399)
	ErrCodeSearcherFailed  = "ERR_301_SEARCHER_FAILED"
	ErrCodeSearcherTimeout = "ERR_302_SEARCHER_TIMEOUT"
	ErrCodeCircuitOpen     = "ERR_303_CIRCUIT_OPEN"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidFilter     = "ERR_403_INVALID_FILTER"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeNoRetrievalPath = "ERR_503_NO_RETRIEVAL_PATH"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "101" from "ERR_101_CONFIG_NOT_FOUND"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryCollaborator
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeNoRetrievalPath:
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode reports whether the failure is transient.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeStorageBusy, ErrCodeSearcherTimeout, ErrCodeSearcherFailed, ErrCodeCircuitOpen:
		return true
	}
	return false
}
