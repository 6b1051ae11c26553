// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeThreatIntelConfigInvalid  ErrorCode = "THREAT_INTEL_CONFIG_INVALID"
	ErrCodeThreatIntelQueryFailed    ErrorCode = "THREAT_INTEL_QUERY_FAILED"
	ErrCodeThreatIntelQueryTimeout   ErrorCode = "THREAT_INTEL_QUERY_TIMEOUT"
	ErrCodeThreatIntelSchemaMismatch ErrorCode = "THREAT_INTEL_SCHEMA_MISMATCH"
	ErrCodeLogAnalyticsUnavailable   ErrorCode = "LOG_ANALYTICS_UNAVAILABLE"
	ErrCodeInvalidJobInput           ErrorCode = "INVALID_JOB_INPUT"
	ErrCodeRunHistoryWriteFailed     ErrorCode = "RUN_HISTORY_WRITE_FAILED"
	ErrCodeSnapshotPublishFailed     ErrorCode = "SNAPSHOT_PUBLISH_FAILED"
	ErrCodeDatabaseConnectionFailed  ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeInternal                  ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata returns e with key set in its metadata.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewThreatIntelConfigInvalidError is raised before any query is sent. Not retryable.
func NewThreatIntelConfigInvalidError(err error) *StandardError {
	return newError(ErrCodeThreatIntelConfigInvalid, "Threat intel configuration is invalid", err.Error(), false, err)
}

// NewThreatIntelQueryFailedError carries the message the query service reported.
func NewThreatIntelQueryFailedError(err error) *StandardError {
	return newError(ErrCodeThreatIntelQueryFailed, "Threat intel query failed", err.Error(), true, err)
}

func NewThreatIntelQueryTimeoutError(timeout time.Duration) *StandardError {
	return newError(ErrCodeThreatIntelQueryTimeout, "Threat intel query timeout",
		fmt.Sprintf("timeout: %s", timeout), true, nil)
}

// NewThreatIntelSchemaMismatchError means the query and the extractor disagree
// on the result shape. Retrying cannot help.
func NewThreatIntelSchemaMismatchError(err error) *StandardError {
	return newError(ErrCodeThreatIntelSchemaMismatch, "Threat intel result has an unexpected shape", err.Error(), false, err)
}

func NewLogAnalyticsUnavailableError(err error) *StandardError {
	return newError(ErrCodeLogAnalyticsUnavailable, "Log analytics service unavailable", err.Error(), true, err)
}

func NewInvalidJobInputError(details string) *StandardError {
	return newError(ErrCodeInvalidJobInput, "Job input validation failed", details, false, nil)
}

func NewRunHistoryWriteFailedError(err error) *StandardError {
	return newError(ErrCodeRunHistoryWriteFailed, "Failed to record threat intel run", err.Error(), true, err)
}

func NewSnapshotPublishFailedError(err error) *StandardError {
	return newError(ErrCodeSnapshotPublishFailed, "Failed to publish IP snapshot", err.Error(), true, err)
}

func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, "Database connection error", err.Error(), true, err)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes. Codes not
// listed are passed through unchanged.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeThreatIntelConfigInvalid:  "THREAT_INTEL_CONFIG_INVALID",
	ErrCodeThreatIntelQueryFailed:    "THREAT_INTEL_QUERY_FAILED",
	ErrCodeThreatIntelQueryTimeout:   "THREAT_INTEL_QUERY_TIMEOUT",
	ErrCodeThreatIntelSchemaMismatch: "THREAT_INTEL_SCHEMA_MISMATCH",
	ErrCodeLogAnalyticsUnavailable:   "LOG_ANALYTICS_UNAVAILABLE",
	ErrCodeInvalidJobInput:           "INVALID_JOB_INPUT",
	ErrCodeRunHistoryWriteFailed:     "RUN_HISTORY_WRITE_FAILED",
	ErrCodeSnapshotPublishFailed:     "SNAPSHOT_PUBLISH_FAILED",
	ErrCodeDatabaseConnectionFailed:  "DATABASE_CONNECTION_FAILED",
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeLogAnalyticsUnavailable,
		ErrCodeRunHistoryWriteFailed,
		ErrCodeSnapshotPublishFailed,
		ErrCodeDatabaseConnectionFailed:
		return 3

	case ErrCodeThreatIntelQueryFailed,
		ErrCodeThreatIntelQueryTimeout:
		return 2

	default:
		return 0 // config, schema and input errors
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// AsStandardError finds a StandardError in err's chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "THREAT_INTEL") || strings.HasPrefix(codeStr, "LOG_ANALYTICS"):
		return "THREAT_INTEL"
	case strings.Contains(codeStr, "RUN_HISTORY") || strings.Contains(codeStr, "DATABASE"):
		return "DATABASE"
	case strings.Contains(codeStr, "SNAPSHOT"):
		return "CACHE"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
