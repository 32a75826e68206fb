// Package memory is the public surface of the polyglot storage layer. The
// Storage facade exposes store/retrieve/search/update/delete/batch and graph
// operations; the Coordinator applies every multi-store write in a fixed
// order with best-effort compensation; the Reporter aggregates health and
// metrics across the four backends.
package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/engramlabs/memstore/src/memory/store"
)

// The error taxonomy callers see. Raw store errors never escape the facade;
// they are wrapped into one of these with the operation and ids attached.
var (
	// ErrInvalidMemoryStructure is a local validation failure raised
	// before any store is touched.
	ErrInvalidMemoryStructure = errors.New("invalid memory structure")
	// ErrStorageWriteFailed marks a failed multi-store write; for creates
	// it is raised after compensation ran.
	ErrStorageWriteFailed = errors.New("storage write failed")
	// ErrBatchStorageFailed marks a failed bulk operation. Batches report
	// no partial success.
	ErrBatchStorageFailed = errors.New("batch storage failed")
	// ErrStorageReadFailed marks a failed retrieval, traversal or cluster
	// read. Misses are not failures; they return empty results.
	ErrStorageReadFailed = errors.New("storage read failed")
	// ErrSearchOperationFailed marks a failed vector search; a failed
	// search is never reported as zero results.
	ErrSearchOperationFailed = errors.New("search operation failed")
	// ErrStorageTimeout marks an operation that exceeded the caller's
	// deadline.
	ErrStorageTimeout = errors.New("storage operation timed out")
	// ErrNotFound is raised when relationship creation references a
	// missing endpoint. Retrieval misses return an empty result instead.
	ErrNotFound = errors.New("memory not found")
)

// classify wraps an adapter error into the taxonomy, preserving the cause.
func classify(kind error, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %v", ErrStorageTimeout, op, err)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s: %v", ErrNotFound, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", kind, op, err)
	}
}
