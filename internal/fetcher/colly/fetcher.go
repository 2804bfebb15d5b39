// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 64 << 20
	defaultMaxRedirects = 10
)

// errBodyTooLarge is reported instead of handing back a silently truncated body.
var errBodyTooLarge = errors.New("response body reached the configured size limit")

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	MaxRedirects int
}

// Fetcher implements crawler.Fetcher using the Colly collector. Every call
// builds its own collector so redirect bookkeeping never leaks between
// concurrent calls; the HTTP transport (and its connection pool) is shared.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	logger    *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		logger:    logger,
	}
}

// Fetch executes a single HTTP GET using Colly. Redirects are followed; the
// response reports whether any happened. A non-2xx final status or a transport
// failure is returned as *crawler.NetworkError.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	target, err := request.FullURL()
	if err != nil {
		return crawler.FetchResponse{}, &crawler.NetworkError{URL: request.URL, Err: err}
	}

	var (
		result     crawler.FetchResponse
		fetchErr   error
		redirected bool
	)
	start := time.Now()
	collector := f.buildCollector(ctx, &redirected)
	f.configureCollectorHooks(collector, request, start, &result, &fetchErr)

	runErr := f.runCollector(ctx, collector, target, &fetchErr)
	if runErr != nil {
		metrics.ObserveFetch(string(request.Kind), 0, 0, time.Since(start))
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, runErr
		}
		f.logger.Debug("fetch failed", zap.String("url", target), zap.Error(runErr))
		return crawler.FetchResponse{}, &crawler.NetworkError{URL: target, Err: runErr}
	}

	result.URL = target
	result.Redirected = redirected
	metrics.ObserveFetch(string(request.Kind), result.StatusCode, len(result.Body), result.Duration)
	f.logger.Debug("fetch completed",
		zap.String("kind", string(request.Kind)),
		zap.String("url", target),
		zap.String("final_url", result.FinalURL),
		zap.Int("status_code", result.StatusCode),
		zap.Bool("redirected", redirected),
		zap.Int("bytes", len(result.Body)),
	)

	if result.StatusCode < http.StatusOK || result.StatusCode >= http.StatusMultipleChoices {
		return result, &crawler.NetworkError{URL: target, StatusCode: result.StatusCode}
	}
	if len(result.Body) > f.cfg.MaxBodyBytes {
		return crawler.FetchResponse{}, &crawler.NetworkError{URL: target, StatusCode: result.StatusCode, Err: errBodyTooLarge}
	}
	return result, nil
}

// buildCollector binds the collector's requests to ctx, so cancellation aborts
// the HTTP exchange instead of leaving it running until the request timeout.
// The body cap is one byte over the limit: colly truncates silently, and only
// an over-long read proves the body exceeded MaxBodyBytes.
func (f *Fetcher) buildCollector(ctx context.Context, redirected *bool) *colly.Collector {
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(f.cfg.MaxBodyBytes+1),
		colly.StdlibContext(ctx),
	)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.WithTransport(f.transport)
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		*redirected = true
		if len(via) >= f.cfg.MaxRedirects {
			return fmt.Errorf("stopped after %d redirects at %s", len(via), req.URL)
		}
		return nil
	})
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		finalURL := ""
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		*result = crawler.FetchResponse{
			FinalURL:   finalURL,
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
