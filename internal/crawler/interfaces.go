package crawler

import (
	"context"
	"errors"
	"io"
	"iter"
	"time"
)

// Fetcher issues one HTTP GET and reports whether it was redirected.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Paginator enumerates item references across a listing page range.
type Paginator interface {
	Items(ctx context.Context, startPage, endPage int) iter.Seq2[ItemRef, error]
}

// ErrQueueClosed is returned by Queue.Dequeue once the queue is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// Queue hands discovered items to workers.
type Queue interface {
	Enqueue(ctx context.Context, ref ItemRef) error
	Dequeue(ctx context.Context) (ItemRef, error)
	Close()
}

// PageParser extracts metadata from one item's detail page.
type PageParser interface {
	Parse(ctx context.Context, ref ItemRef) (BookMetadata, error)
}

// AssetAcquirer idempotently materializes the cover and the document of an item.
type AssetAcquirer interface {
	AcquireBinary(ctx context.Context, remoteURL, localDir string) (string, error)
	AcquireDocument(ctx context.Context, itemID, localDir, title string) (string, error)
}

// ManifestWriter persists the ordered records. It reports whether anything was written.
type ManifestWriter interface {
	Write(ctx context.Context, records []BookRecord, destinationPath string) (bool, error)
}

// BlobStore writes artifacts and returns their location.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// FileStore is a BlobStore that can also answer whether a path is already present.
type FileStore interface {
	BlobStore
	Exists(ctx context.Context, path string) (bool, error)
}

// RecordStore indexes recorded books and run summaries outside the manifest.
type RecordStore interface {
	StartRun(ctx context.Context, runID string, startedAt time.Time) error
	SaveBook(ctx context.Context, runID string, ref ItemRef, record BookRecord) error
	FinishRun(ctx context.Context, report Report, runErr error) error
	Close()
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for integrity checks.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
