package types

import (
	"errors"
	"fmt"
)

// Domain errors shared across the engine
var (
	// Storage errors
	ErrInitialization        = errors.New("storage engine initialization failed")
	ErrSchemaVersionMismatch = errors.New("schema version mismatch")
	ErrValidation            = errors.New("validation failed")
	ErrTotalBatchFailure     = errors.New("every item in the batch failed")

	// Sandbox errors
	ErrQueryRejected = errors.New("query rejected")

	// Sync errors
	ErrConfirmationDeclined = errors.New("confirmation declined")

	// Search result errors
	ErrInvalidChunkID        = errors.New("invalid chunk ID")
	ErrInvalidRank           = errors.New("rank must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be between 0 and 1")
	ErrMissingDocumentID     = errors.New("document ID is required")
	ErrEmptyContent          = errors.New("content cannot be empty")
)

// ValidationError describes why a single batch item was refused.
type ValidationError struct {
	Index  int
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("item %d (%s): %s %s", e.Index, e.ID, e.Field, e.Reason)
	}
	return fmt.Sprintf("item %d: %s %s", e.Index, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// QueryRejectedError names the sandbox rule a query violated.
type QueryRejectedError struct {
	Rule   string
	Detail string
}

func (e *QueryRejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("query rejected: %s", e.Rule)
	}
	return fmt.Sprintf("query rejected: %s: %s", e.Rule, e.Detail)
}

func (e *QueryRejectedError) Unwrap() error {
	return ErrQueryRejected
}
