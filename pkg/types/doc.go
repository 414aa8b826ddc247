// Package types provides shared type definitions for the noteindex engine.
//
// It holds the value types that cross package boundaries:
//
//   - Chunk: one slice of a note emitted by the content splitter
//   - SearchResult: a ranked hit returned by the retrieval engine
//   - the error taxonomy (sentinels plus ValidationError and QueryRejectedError)
//
// Callers match errors with errors.Is against the sentinels; the typed
// errors unwrap to ErrValidation and ErrQueryRejected respectively.
package types
