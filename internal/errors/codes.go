// Package errors provides structured error handling for anythingd.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (mount table, relay device, journal files)
//   - 3XX: Kernel errors
//   - 4XX: Plugin validation and construction errors
//   - 5XX: Observer lifecycle and internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and device I/O errors.
	CategoryIO Category = "IO"
	// CategoryKernel indicates the running kernel could not be inspected.
	CategoryKernel Category = "KERNEL"
	// CategoryPlugin indicates a plugin manifest or observer could not be built.
	CategoryPlugin Category = "PLUGIN"
	// CategoryLifecycle indicates observer lifecycle and internal errors.
	CategoryLifecycle Category = "LIFECYCLE"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the service continues.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeAlreadyRunning = "ERR_103_ALREADY_RUNNING"

	// IO errors (200-299)
	ErrCodeOpenSourceFail  = "ERR_201_OPEN_SOURCE_FAIL"
	ErrCodeOpenDeviceFail  = "ERR_202_OPEN_DEVICE_FAIL"
	ErrCodeWriteDeviceFail = "ERR_203_WRITE_DEVICE_FAIL"
	ErrCodeJournalFail     = "ERR_204_JOURNAL_FAIL"

	// Kernel errors (300-399)
	ErrCodeUnameFail           = "ERR_301_UNAME_FAIL"
	ErrCodeUnrecognizedVersion = "ERR_302_UNRECOGNIZED_VERSION"

	// Plugin errors (400-499)
	ErrCodeNilHandle          = "ERR_401_NIL_HANDLE"
	ErrCodeDuplicateKey       = "ERR_402_DUPLICATE_KEY"
	ErrCodeConstructionFailed = "ERR_403_CONSTRUCTION_FAILED"
	ErrCodeInvalidManifest    = "ERR_404_INVALID_MANIFEST"
	ErrCodeUnknownKey         = "ERR_405_UNKNOWN_KEY"

	// Lifecycle errors (500-599)
	ErrCodeDrainTimeout   = "ERR_501_DRAIN_TIMEOUT"
	ErrCodeInternal       = "ERR_502_INTERNAL"
	ErrCodeReloadFailed   = "ERR_503_RELOAD_FAILED"
	ErrCodeObserverFailed = "ERR_504_OBSERVER_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryLifecycle
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryKernel
	case '4':
		return CategoryPlugin
	default:
		return CategoryLifecycle
	}
}

// severityFromCode determines severity based on error code.
// Nothing raised by the observer core aborts the process; only a second
// instance or a broken config is fatal at startup.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeAlreadyRunning, ErrCodeConfigInvalid:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// The relay device is created by the kernel monitor module, which may load
// after the service starts.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeOpenDeviceFail:
		return true
	default:
		return false
	}
}
