// Package sink persists pipeline results to a document-oriented store
// addressed by hierarchical string paths. Stores enforce a per-document size
// ceiling and only expose batched, non-transactional multi-document writes;
// the loader's merge semantics make retries idempotent instead.
package sink

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// Doc is one document's fields.
type Doc map[string]any

// Op is a single buffered write.
type Op struct {
	Path   string
	Fields Doc
	// Merge writes only the given fields, leaving others untouched
	// (last-write-wins per field). Without merge the document is replaced.
	Merge bool
	// UpdateOnly fails the op when the document does not exist.
	UpdateOnly bool
}

// Store is the document store collaborator. A batch commit is atomic; there
// is no transaction across batches.
type Store interface {
	// CommitBatch applies all ops atomically.
	CommitBatch(ctx context.Context, ops []Op) error
	// Get reads one document. Used by tests and the idempotency checks, not
	// by the load path itself (runs are write-only).
	Get(ctx context.Context, path string) (Doc, error)
	Migrate(ctx context.Context) error
	Close() error
}

// ErrNotFound is returned by Get for absent documents.
var ErrNotFound = eris.New("sink: document not found")

// UnavailableError means the store itself is unreachable. It aborts the Load
// stage; already-committed batches stay committed.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("sink unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// BatchError records one failed commit batch. The run continues to the next
// batch; the failure is reported, not thrown.
type BatchError struct {
	BatchIndex int    `json:"batch_index"`
	Ops        int    `json:"ops"`
	FirstPath  string `json:"first_path"`
	Error      string `json:"error"`
}
