// Package catalog walks the paginated catalog listing and turns it into an
// ordered, lazy sequence of item references.
package catalog

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

const (
	// itemSelector matches the repeated container holding one item anchor.
	itemSelector = "table.d_book"
	// navSelector matches the numbered page-navigation entries.
	navSelector = "a.npage"
)

// Config locates the listing on the catalog site.
type Config struct {
	BaseURL  string
	Category string
}

// Paginator implements crawler.Paginator over the category listing.
type Paginator struct {
	fetcher    crawler.Fetcher
	listingURL string
	baseURL    string
	logger     *zap.Logger
}

// New builds a Paginator for the configured category.
func New(cfg Config, fetcher crawler.Fetcher, logger *zap.Logger) (*Paginator, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("catalog base url is required")
	}
	if strings.TrimSpace(cfg.Category) == "" {
		return nil, fmt.Errorf("catalog category is required")
	}
	listing, err := crawler.ListingURL(cfg.BaseURL, cfg.Category)
	if err != nil {
		return nil, fmt.Errorf("build listing url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paginator{
		fetcher:    fetcher,
		listingURL: listing,
		baseURL:    cfg.BaseURL,
		logger:     logger,
	}, nil
}

// Items walks listing pages [startPage, endPage) in ascending order and yields
// every item anchor in document order. The sequence is lazy and single-pass.
// A page that cannot be fetched or parsed yields one *crawler.PageError and
// the walk moves on to the next page; an empty page yields nothing.
func (p *Paginator) Items(ctx context.Context, startPage, endPage int) iter.Seq2[crawler.ItemRef, error] {
	return func(yield func(crawler.ItemRef, error) bool) {
		index := 0
		seen := make(map[string]struct{})
		for page := startPage; page < endPage; page++ {
			if ctx.Err() != nil {
				return
			}
			refs, err := p.Page(ctx, page)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !yield(crawler.ItemRef{}, &crawler.PageError{Page: page, Err: err}) {
					return
				}
				continue
			}
			yielded := 0
			for _, ref := range refs {
				key, normErr := crawler.NormalizeURL(ref.URL)
				if normErr != nil {
					key = ref.URL
				}
				if _, dup := seen[key]; dup {
					p.logger.Debug("duplicate item on listing", zap.Int("page", page), zap.String("url", ref.URL))
					continue
				}
				seen[key] = struct{}{}
				ref.Index = index
				index++
				yielded++
				if !yield(ref, nil) {
					return
				}
			}
			p.logger.Info("processed listing page", zap.Int("page", page), zap.Int("items", yielded))
		}
	}
}

// Page fetches one listing page and returns its item references in document
// order. Index is left zero; Items assigns it.
func (p *Paginator) Page(ctx context.Context, page int) ([]crawler.ItemRef, error) {
	resp, err := p.fetcher.Fetch(ctx, crawler.FetchRequest{
		Kind:  crawler.FetchListing,
		URL:   p.listingURL,
		Query: url.Values{"page": {strconv.Itoa(page)}},
	})
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse listing page %d: %w", page, err)
	}
	base := resp.FinalURL
	if base == "" {
		base = p.listingURL
	}

	var refs []crawler.ItemRef
	doc.Find(itemSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Find("a[href]").First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		abs, err := crawler.ResolveURL(base, href)
		if err != nil {
			p.logger.Debug("unresolvable item href", zap.Int("page", page), zap.String("href", href), zap.Error(err))
			return
		}
		id, ok := crawler.ItemIDFromURL(abs)
		if !ok {
			p.logger.Debug("anchor is not an item link", zap.Int("page", page), zap.String("href", href))
			return
		}
		refs = append(refs, crawler.ItemRef{ID: id, URL: abs})
	})
	return refs, nil
}

// DiscoverLastPage reads the page navigation on the first listing page and
// returns the highest page index plus one, ready to be used as an exclusive
// upper bound. A listing without navigation has a single page.
func (p *Paginator) DiscoverLastPage(ctx context.Context) (int, error) {
	resp, err := p.fetcher.Fetch(ctx, crawler.FetchRequest{
		Kind: crawler.FetchListing,
		URL:  p.listingURL,
	})
	if err != nil {
		return 0, fmt.Errorf("fetch first listing page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return 0, fmt.Errorf("parse first listing page: %w", err)
	}
	last := 1
	doc.Find(navSelector).Each(func(_ int, s *goquery.Selection) {
		n, convErr := strconv.Atoi(strings.TrimSpace(s.Text()))
		if convErr == nil && n > last {
			last = n
		}
	})
	p.logger.Info("discovered last listing page", zap.Int("last_page", last))
	return last + 1, nil
}

// IDs yields detail references for item ids [startID, endID) without touching
// the listing. Nothing is fetched; the worker discovers missing ids through
// the redirect signal.
func (p *Paginator) IDs(startID, endID int) iter.Seq2[crawler.ItemRef, error] {
	return func(yield func(crawler.ItemRef, error) bool) {
		index := 0
		for id := startID; id < endID; id++ {
			itemID := strconv.Itoa(id)
			detail, err := crawler.DetailURL(p.baseURL, itemID)
			if err != nil {
				if !yield(crawler.ItemRef{}, fmt.Errorf("build detail url for %s: %w", itemID, err)) {
					return
				}
				continue
			}
			if !yield(crawler.ItemRef{Index: index, ID: itemID, URL: detail}, nil) {
				return
			}
			index++
		}
	}
}
