package kberr

import "errors"

// Sentinel errors for the knowledge subsystem. Callers match with errors.Is;
// the API layer maps them to HTTP status codes.
var (
	// ErrUnsupportedType is returned when an upload's file type is not in the
	// extraction allow-list.
	ErrUnsupportedType = errors.New("unsupported document type")

	// ErrCorruptDocument is returned when a parser cannot read the uploaded bytes.
	ErrCorruptDocument = errors.New("corrupt document")

	// ErrInvalidInput is returned for request-shape violations caught before
	// any external call (empty content, oversized text, malformed scope).
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidQuery is returned when a search query is empty after trimming.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrProviderUnavailable is returned when the embedding provider fails
	// after all local retries are exhausted.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrRateLimited is returned when the embedding provider rejects a request
	// due to rate limiting. Retried locally a bounded number of times.
	ErrRateLimited = errors.New("embedding provider rate limited")

	// ErrAccessDenied is returned when the caller's scope does not permit the
	// requested organization or event.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotFound is returned when a knowledge document does not exist.
	ErrNotFound = errors.New("knowledge document not found")

	// ErrNotIngesting is returned for state-machine violations, e.g. cancelling
	// a document that has already reached ready or failed.
	ErrNotIngesting = errors.New("document is not ingesting")

	// ErrAlreadyIngesting is returned when an identical upload is already being
	// ingested. The ingesting status acts as an advisory lock.
	ErrAlreadyIngesting = errors.New("identical document is already ingesting")

	// ErrStoreUnavailable is returned when the persistence or vector store
	// fails. Both ingestion and search fail closed on this error.
	ErrStoreUnavailable = errors.New("store unavailable")
)
