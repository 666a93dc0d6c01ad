package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoreErrorErrorFormatsOpAndID(t *testing.T) {
	wrapped := errors.New("boom")
	e := &CoreError{Op: "Store", ID: "i1", Err: wrapped}
	assert.Equal(t, "Store [i1]: boom", e.Error())
}

func TestCoreErrorErrorFormatsOpWithoutID(t *testing.T) {
	e := &CoreError{Op: "Store", Err: errors.New("boom")}
	assert.Equal(t, "Store: boom", e.Error())
}

func TestCoreErrorErrorFallsBackToMessage(t *testing.T) {
	e := &CoreError{Message: "explicit message"}
	assert.Equal(t, "explicit message", e.Error())
}

func TestCoreErrorErrorFallsBackToWrappedErrorString(t *testing.T) {
	e := &CoreError{Err: errors.New("wrapped only")}
	assert.Equal(t, "wrapped only", e.Error())
}

func TestCoreErrorErrorFallsBackToKind(t *testing.T) {
	e := &CoreError{Kind: KindSystem}
	assert.Equal(t, "system error", e.Error())
}

func TestCoreErrorUnwrapReturnsWrappedErr(t *testing.T) {
	wrapped := errors.New("boom")
	e := &CoreError{Err: wrapped}
	assert.ErrorIs(t, e, wrapped)
}

func TestCoreErrorToMapIncludesDetailsWhenPresent(t *testing.T) {
	e := &CoreError{
		Kind:    KindReliability,
		Code:    CodeCircuitOpen,
		Message: "circuit open",
		Details: map[string]any{"function": "Store"},
	}
	m := e.ToMap()
	assert.Equal(t, string(KindReliability), m["error_type"])
	assert.Equal(t, CodeCircuitOpen, m["error_code"])
	assert.Equal(t, "circuit open", m["message"])
	assert.Equal(t, map[string]any{"function": "Store"}, m["details"])
}

func TestCoreErrorToMapOmitsDetailsWhenNil(t *testing.T) {
	e := &CoreError{Kind: KindSystem, Code: CodeMemoryStoreError, Message: "x"}
	m := e.ToMap()
	_, ok := m["details"]
	assert.False(t, ok)
}

func TestNewErrorBuildsMinimalCoreError(t *testing.T) {
	wrapped := errors.New("boom")
	e := NewError("Retrieve", KindAdapter, CodeMemoryItemNotFound, wrapped)
	assert.Equal(t, "Retrieve", e.Op)
	assert.Equal(t, KindAdapter, e.Kind)
	assert.Equal(t, CodeMemoryItemNotFound, e.Code)
	assert.ErrorIs(t, e, wrapped)
	assert.Nil(t, e.Details)
}

func TestNewErrorWithDetailsAttachesDetails(t *testing.T) {
	e := NewErrorWithDetails("Store", KindReliability, CodeBulkheadFull, ErrBulkheadFull, map[string]any{"queue_size": 5})
	assert.Equal(t, 5, e.Details["queue_size"])
}

func TestIsRetryableTrueForAdapterErrorsExceptCorruption(t *testing.T) {
	retryable := NewError("Store", KindAdapter, CodeMemoryStoreError, errors.New("x"))
	assert.True(t, IsRetryable(retryable))

	corruption := NewError("Store", KindAdapter, CodeMemoryCorruption, ErrCorruption)
	assert.False(t, IsRetryable(corruption))
}

func TestIsRetryableFalseForReliabilityErrors(t *testing.T) {
	e := NewError("Store", KindReliability, CodeCircuitOpen, ErrCircuitOpen)
	assert.False(t, IsRetryable(e))
}

func TestIsRetryableTrueForBareTransactionFailedSentinel(t *testing.T) {
	assert.True(t, IsRetryable(ErrTransactionFailed))
}

func TestIsRetryableFalseForUnrelatedError(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("unrelated")))
}

func TestIsCircuitOpenDetectsBothCircuitCodes(t *testing.T) {
	assert.True(t, IsCircuitOpen(NewError("Store", KindReliability, CodeCircuitOpen, ErrCircuitOpen)))
	assert.True(t, IsCircuitOpen(NewError("Store", KindReliability, CodeCircuitBreakerOpen, ErrCircuitOpen)))
	assert.True(t, IsCircuitOpen(ErrCircuitOpen))
	assert.False(t, IsCircuitOpen(errors.New("unrelated")))
}

func TestIsNotFoundDetectsCodeOrSentinel(t *testing.T) {
	assert.True(t, IsNotFound(NewError("Retrieve", KindAdapter, CodeMemoryItemNotFound, ErrItemNotFound)))
	assert.True(t, IsNotFound(ErrItemNotFound))
	assert.False(t, IsNotFound(errors.New("unrelated")))
}
