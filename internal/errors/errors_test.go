package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("permission denied")

	// When: wrapping it
	err := New(ErrCodeOpenDeviceFail, "open /dev/driver_set_info failed", originalErr)

	// Then: unwrapping returns the original error
	require.NotNil(t, err)
	assert.Equal(t, originalErr, errors.Unwrap(err))
	assert.True(t, errors.Is(err, originalErr))
}

func TestError_Error_ReturnsFormattedMessage(t *testing.T) {
	err := New(ErrCodeDrainTimeout, "observer journal did not drain", nil)
	assert.Equal(t, "[ERR_501_DRAIN_TIMEOUT] observer journal did not drain", err.Error())
}

func TestError_Is_MatchesByCode(t *testing.T) {
	err := fmt.Errorf("remove failed: %w", New(ErrCodeDrainTimeout, "stuck", nil))

	assert.True(t, errors.Is(err, Sentinel(ErrCodeDrainTimeout)))
	assert.False(t, errors.Is(err, Sentinel(ErrCodeReloadFailed)))
}

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityFatal, false},
		{ErrCodeOpenSourceFail, CategoryIO, SeverityError, false},
		{ErrCodeOpenDeviceFail, CategoryIO, SeverityWarning, true},
		{ErrCodeUnameFail, CategoryKernel, SeverityError, false},
		{ErrCodeConstructionFailed, CategoryPlugin, SeverityError, false},
		{ErrCodeDrainTimeout, CategoryLifecycle, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestGetCode_ThroughWrapping(t *testing.T) {
	inner := New(ErrCodeReloadFailed, "bad manifest", nil)
	wrapped := fmt.Errorf("modified: %w", inner)

	assert.Equal(t, ErrCodeReloadFailed, GetCode(wrapped))
	assert.Equal(t, CategoryLifecycle, GetCategory(wrapped))
	assert.Equal(t, "", GetCode(errors.New("plain")))
	assert.False(t, IsFatal(wrapped))
	assert.True(t, IsFatal(New(ErrCodeAlreadyRunning, "running", nil)))
}

func TestWithDetail_AndSuggestion(t *testing.T) {
	err := New(ErrCodeDrainTimeout, "stuck", nil).
		WithDetail("key", "journal").
		WithSuggestion("restart the service")

	assert.Equal(t, "journal", err.Details["key"])
	assert.Equal(t, "restart the service", err.Suggestion)
}

func TestFormatForCLI(t *testing.T) {
	err := New(ErrCodeAlreadyRunning, "anythingd is already running", nil).
		WithSuggestion("run 'anythingd status'")

	out := FormatForCLI(err)
	assert.Contains(t, out, "Error: anythingd is already running")
	assert.Contains(t, out, "Hint: run 'anythingd status'")
	assert.Contains(t, out, "Code: ERR_103_ALREADY_RUNNING")

	assert.Contains(t, FormatForCLI(errors.New("boom")), "Code: ERR_502_INTERNAL")
	assert.Equal(t, "", FormatForCLI(nil))
}

func TestLogAttrs(t *testing.T) {
	assert.Nil(t, LogAttrs(nil))
	assert.Len(t, LogAttrs(errors.New("plain")), 1)

	err := New(ErrCodeDrainTimeout, "stuck", errors.New("deadline")).WithDetail("key", "k1")
	attrs := LogAttrs(err)
	// code, message, category, severity, cause, one detail
	assert.Len(t, attrs, 6)
}
