package crawler

import (
	"net/http"
	"net/url"
	"time"
)

// ItemRef identifies one catalog entry discovered on a listing page.
type ItemRef struct {
	// Index is the global discovery position: page ascending, then in-page order.
	Index int
	// ID is the numeric item id embedded in the detail path.
	ID string
	// URL is the absolute detail page URL.
	URL string
}

// BookMetadata is the structured data extracted from one detail page.
type BookMetadata struct {
	Title    string
	Author   string
	CoverURL string
	Genres   []string
	Comments []string
}

// BookRecord is one manifest entry. Field names are the manifest contract.
type BookRecord struct {
	Title    string   `json:"title"`
	Author   string   `json:"author"`
	ImgSrc   *string  `json:"img_src"`
	Genres   []string `json:"genres"`
	Comments []string `json:"comments"`
	BookPath *string  `json:"book_path"`
}

// NewBookRecord merges parsed metadata with the local asset paths. Empty paths
// become null in the manifest.
func NewBookRecord(meta BookMetadata, coverPath, documentPath string) BookRecord {
	rec := BookRecord{
		Title:    meta.Title,
		Author:   meta.Author,
		Genres:   append([]string{}, meta.Genres...),
		Comments: append([]string{}, meta.Comments...),
	}
	if coverPath != "" {
		rec.ImgSrc = &coverPath
	}
	if documentPath != "" {
		rec.BookPath = &documentPath
	}
	return rec
}

// AssetDescriptor pairs a remote asset with its local destination for the
// duration of one acquisition.
type AssetDescriptor struct {
	RemoteURL string
	LocalPath string
}

// FetchKind labels a request for metrics and logs.
type FetchKind string

// Request kinds issued by the harvester.
const (
	FetchListing  FetchKind = "listing"
	FetchDetail   FetchKind = "detail"
	FetchCover    FetchKind = "cover"
	FetchDocument FetchKind = "document"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	Kind    FetchKind
	URL     string
	Query   url.Values
	Headers http.Header
}

// FullURL returns the request URL with Query merged into any existing query string.
func (r FetchRequest) FullURL() (string, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", err
	}
	if len(r.Query) > 0 {
		q := u.Query()
		for k, values := range r.Query {
			for _, v := range values {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	// Redirected reports whether at least one redirect hop happened during this call.
	Redirected bool
}

// ItemState is a node of the per-item state machine.
type ItemState string

// Item states. Recorded and Skipped are terminal.
const (
	StateDiscovered      ItemState = "discovered"
	StateMetadataFetched ItemState = "metadata_fetched"
	StateAssetsAcquired  ItemState = "assets_acquired"
	StateRecorded        ItemState = "recorded"
	StateSkipped         ItemState = "skipped"
)

// SkipReason classifies why an item did not reach the manifest.
type SkipReason string

// Skip reasons reported per item.
const (
	SkipNone     SkipReason = ""
	SkipNotFound SkipReason = "not_found"
	SkipNetwork  SkipReason = "network"
	SkipParse    SkipReason = "parse"
)

// Outcome is the terminal result of one item pipeline.
type Outcome struct {
	Ref    ItemRef
	State  ItemState
	Record BookRecord
	Reason SkipReason
	Err    error
}

// Report summarizes one harvest run.
type Report struct {
	RunID        string
	StartedAt    time.Time
	FinishedAt   time.Time
	Records      []BookRecord
	Recorded     int
	Skipped      map[SkipReason]int
	PagesSkipped int
	Outcomes     []Outcome
}

// SkippedTotal sums every skip category.
func (r Report) SkippedTotal() int {
	total := 0
	for _, n := range r.Skipped {
		total += n
	}
	return total
}
