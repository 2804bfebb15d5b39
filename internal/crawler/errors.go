package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

// NetworkError reports a non-successful final status or a transport failure.
// It is fatal to the single call only.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ItemNotFoundError is raised when a fetch that must not redirect did so. The
// catalog redirects unknown ids instead of answering 404.
type ItemNotFoundError struct {
	ItemID string
	URL    string
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("item %s not found: %s redirected", e.ItemID, e.URL)
}

// ParseError reports a structurally required element that is absent.
type ParseError struct {
	ItemID   string
	Field    string
	Selector string
	Detail   string
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("item %s: field %q", e.ItemID, e.Field)
	if e.Selector != "" {
		msg += fmt.Sprintf(" (selector %q)", e.Selector)
	}
	if e.Detail != "" {
		return msg + ": " + e.Detail
	}
	return msg + ": required element missing"
}

// PageError wraps a listing page that could not be fetched or parsed.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("listing page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// StorageError wraps filesystem or blob store failures. These abort the run.
type StorageError struct {
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Classify maps an item-granularity error to its skip reason. Errors outside
// the taxonomy (storage, cancellation, programming errors) return SkipNone and
// must be propagated by the caller.
func Classify(err error) SkipReason {
	if err == nil {
		return SkipNone
	}
	var notFound *ItemNotFoundError
	if errors.As(err, &notFound) {
		return SkipNotFound
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return SkipParse
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return SkipNetwork
	}
	return SkipNone
}
