package domain

import "errors"

var (
	// ErrForbidden signals that the caller does not own the target campaign or query.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound signals a missing campaign or query.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest signals a malformed or out-of-range request parameter.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrBackendFailure signals a store or transport failure during retrieval.
	ErrBackendFailure = errors.New("backend failure")
	// ErrGenerationFailure signals a generation-service failure during answer
	// synthesis. Distinct from ErrBackendFailure so "couldn't answer" is
	// observable apart from "couldn't search".
	ErrGenerationFailure = errors.New("generation failure")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)
