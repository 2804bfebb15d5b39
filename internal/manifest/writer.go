// Package manifest persists the ordered book records as one JSON array.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/storage/local"
)

const contentType = "application/json; charset=utf-8"

// Config controls manifest formatting and mirroring.
type Config struct {
	// Indent is the per-level indentation; empty writes compact JSON.
	Indent string
	// Mirror, when set, receives a copy of every written manifest.
	Mirror crawler.BlobStore
	// MirrorPath is the object path used on the mirror.
	MirrorPath string
}

// Writer implements crawler.ManifestWriter on the local filesystem.
type Writer struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Writer.
func New(cfg Config, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MirrorPath == "" {
		cfg.MirrorPath = "books.json"
	}
	return &Writer{cfg: cfg, logger: logger}
}

// Write serializes records to destinationPath in one atomic replace and
// reports whether anything was written. An empty record list writes nothing,
// so a failed run never clobbers the manifest of an earlier one.
func (w *Writer) Write(ctx context.Context, records []crawler.BookRecord, destinationPath string) (bool, error) {
	if len(records) == 0 {
		w.logger.Warn("no records harvested, manifest left untouched", zap.String("path", destinationPath))
		return false, nil
	}
	if strings.TrimSpace(destinationPath) == "" {
		return false, fmt.Errorf("manifest path is required")
	}

	payload, err := Encode(records, w.cfg.Indent)
	if err != nil {
		return false, err
	}

	abs, err := filepath.Abs(destinationPath)
	if err != nil {
		return false, &crawler.StorageError{Path: destinationPath, Err: err}
	}
	store, err := local.New(local.Config{BaseDir: filepath.Dir(abs)})
	if err != nil {
		return false, &crawler.StorageError{Path: abs, Err: err}
	}
	written, err := store.PutObject(ctx, abs, contentType, bytes.NewReader(payload))
	if err != nil {
		return false, &crawler.StorageError{Path: abs, Err: err}
	}
	w.logger.Info("manifest written", zap.String("path", written), zap.Int("records", len(records)))

	if w.cfg.Mirror != nil {
		uri, err := w.cfg.Mirror.PutObject(ctx, w.cfg.MirrorPath, contentType, bytes.NewReader(payload))
		if err != nil {
			return true, fmt.Errorf("mirror manifest: %w", err)
		}
		w.logger.Info("manifest mirrored", zap.String("uri", uri))
	}
	return true, nil
}

// Encode renders records as a JSON array. Non-ASCII text is kept as is and
// empty genre or comment lists render as [] rather than null.
func Encode(records []crawler.BookRecord, indent string) ([]byte, error) {
	normalized := make([]crawler.BookRecord, len(records))
	for i, rec := range records {
		if rec.Genres == nil {
			rec.Genres = []string{}
		}
		if rec.Comments == nil {
			rec.Comments = []string{}
		}
		normalized[i] = rec
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(normalized); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}
