// Package assets materializes item covers and documents on local storage.
// Acquisition is idempotent: a file already present under its target name is
// returned as is, without touching the network.
package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// Asset results reported to metrics.
const (
	resultExists     = "exists"
	resultDownloaded = "downloaded"
	resultNotFound   = "not_found"
	resultFailed     = "failed"
)

// Config locates the document endpoint.
type Config struct {
	BaseURL string
}

// Acquirer implements crawler.AssetAcquirer on top of a crawler.FileStore.
type Acquirer struct {
	fetcher     crawler.Fetcher
	store       crawler.FileStore
	documentURL string
	group       singleflight.Group
	logger      *zap.Logger
}

// New builds an Acquirer.
func New(cfg Config, fetcher crawler.Fetcher, store crawler.FileStore, logger *zap.Logger) (*Acquirer, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("file store is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("catalog base url is required")
	}
	documentURL, err := crawler.DocumentURL(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("build document url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Acquirer{
		fetcher:     fetcher,
		store:       store,
		documentURL: documentURL,
		logger:      logger,
	}, nil
}

// acquisition describes one asset to materialize.
type acquisition struct {
	kind crawler.FetchKind
	// itemID is set for documents, whose redirect means "no document".
	itemID  string
	request crawler.FetchRequest
	target  crawler.AssetDescriptor
}

// AcquireBinary stores the resource at remoteURL in localDir under the last
// segment of its URL path and returns the local path. Redirects are followed.
func (a *Acquirer) AcquireBinary(ctx context.Context, remoteURL, localDir string) (string, error) {
	return a.acquire(ctx, acquisition{
		kind:    crawler.FetchCover,
		request: crawler.FetchRequest{Kind: crawler.FetchCover, URL: remoteURL},
		target: crawler.AssetDescriptor{
			RemoteURL: remoteURL,
			LocalPath: filepath.Join(localDir, BinaryFilename(remoteURL)),
		},
	})
}

// AcquireDocument stores the text document of itemID in localDir as
// "<id>. <title>.txt". A redirected download means the item has no document;
// it fails with *crawler.ItemNotFoundError and writes nothing.
func (a *Acquirer) AcquireDocument(ctx context.Context, itemID, localDir, title string) (string, error) {
	request := crawler.FetchRequest{
		Kind:  crawler.FetchDocument,
		URL:   a.documentURL,
		Query: url.Values{"id": {itemID}},
	}
	remote, err := request.FullURL()
	if err != nil {
		return "", &crawler.NetworkError{URL: a.documentURL, Err: err}
	}
	return a.acquire(ctx, acquisition{
		kind:    crawler.FetchDocument,
		itemID:  itemID,
		request: request,
		target: crawler.AssetDescriptor{
			RemoteURL: remote,
			LocalPath: filepath.Join(localDir, DocumentFilename(itemID, title)),
		},
	})
}

// acquire runs the check-then-write sequence once per local path even when
// several callers ask for the same asset concurrently.
func (a *Acquirer) acquire(ctx context.Context, job acquisition) (string, error) {
	v, err, shared := a.group.Do(job.target.LocalPath, func() (any, error) {
		return a.fetchAndStore(ctx, job)
	})
	if shared {
		a.logger.Debug("shared in-flight acquisition", zap.String("path", job.target.LocalPath))
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (a *Acquirer) fetchAndStore(ctx context.Context, job acquisition) (string, error) {
	kind := string(job.kind)
	path := job.target.LocalPath

	exists, err := a.store.Exists(ctx, path)
	if err != nil {
		metrics.ObserveAsset(kind, resultFailed)
		return "", &crawler.StorageError{Path: path, Err: err}
	}
	if exists {
		a.logger.Info("exist", zap.String("kind", kind), zap.String("path", path))
		metrics.ObserveAsset(kind, resultExists)
		return path, nil
	}

	resp, err := a.fetcher.Fetch(ctx, job.request)
	if err != nil {
		metrics.ObserveAsset(kind, resultFailed)
		return "", err
	}
	if job.itemID != "" && resp.Redirected {
		a.logger.Info("no book", zap.String("url", job.target.RemoteURL), zap.String("item_id", job.itemID))
		metrics.ObserveAsset(kind, resultNotFound)
		return "", &crawler.ItemNotFoundError{ItemID: job.itemID, URL: job.target.RemoteURL}
	}

	stored, err := a.store.PutObject(ctx, path, contentType(resp), bytes.NewReader(resp.Body))
	if err != nil {
		metrics.ObserveAsset(kind, resultFailed)
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", &crawler.StorageError{Path: path, Err: err}
	}
	a.logger.Info("download",
		zap.String("kind", kind),
		zap.String("url", job.target.RemoteURL),
		zap.String("path", stored),
		zap.Int("bytes", len(resp.Body)),
	)
	metrics.ObserveAsset(kind, resultDownloaded)
	return stored, nil
}

func contentType(resp crawler.FetchResponse) string {
	if resp.Headers != nil {
		if ct := resp.Headers.Get("Content-Type"); ct != "" {
			return ct
		}
	}
	return http.DetectContentType(resp.Body)
}
