package threatintel

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfiguration = errors.New("INVALID_CONFIGURATION")
	ErrQueryExecution       = errors.New("QUERY_EXECUTION_FAILED")
	ErrSchemaMismatch       = errors.New("RESULT_SCHEMA_MISMATCH")
)

// ConfigurationError reports a malformed or partial configuration. It is
// raised before any query is sent.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid threat intel configuration (%s): %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

// QueryExecutionError carries the message reported by the query service verbatim.
type QueryExecutionError struct {
	Message string
}

func (e *QueryExecutionError) Error() string {
	return e.Message
}

func (e *QueryExecutionError) Is(target error) bool {
	return target == ErrQueryExecution
}

// SchemaError means a result row lacks the column the extractor projects.
// It points at a mismatch between the query shape and the extractor.
type SchemaError struct {
	Column string
	Row    int
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("result row %d has no %q column", e.Row, e.Column)
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchemaMismatch
}
