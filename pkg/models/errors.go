package models

import "errors"

// Record-level errors are collected into the run result and never abort a
// run. Infrastructure errors abort the run so the scheduler can retry it.
var (
	// ErrMalformedRecord marks a scraped payload missing the minimum fields
	// for its kind. The record is skipped.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrAmbiguousMatch marks a record whose best candidate score landed in
	// the review band. The entity is persisted provisional and flagged; the
	// run records the ambiguity so reviewers can find it.
	ErrAmbiguousMatch = errors.New("ambiguous match")

	// ErrClassificationInvalid marks AI output that failed schema validation.
	// No partial classification is ever persisted.
	ErrClassificationInvalid = errors.New("classification output invalid")

	// ErrClassificationTimeout marks an AI call that exhausted its deadline.
	ErrClassificationTimeout = errors.New("classification timed out")

	// ErrStoreConflict marks a lost insert race on a natural key. The
	// orchestrator retries the record as an upsert against the row that won.
	ErrStoreConflict = errors.New("store conflict")

	// ErrInfrastructure marks an unreachable datastore or graph store.
	ErrInfrastructure = errors.New("infrastructure unavailable")

	// ErrRunInFlight is returned when a run for the same source and window
	// is already executing.
	ErrRunInFlight = errors.New("run already in flight")
)
