package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in store
// - ErrConflict: unique constraint or serialization conflict (retryable at service level)
// - ErrInvalidState: record in wrong lifecycle state for requested operation
// - ErrChainBroken: stored hash chain no longer replays to the stored entry hashes
// - ErrUnavailable: backing service or authority endpoint temporarily unavailable
//
// For validation errors (bad line data, unknown tax rate), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrChainBroken  = errors.New("chain broken")
	ErrUnavailable  = errors.New("unavailable")
)
