package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var itemPathPattern = regexp.MustCompile(`/b(\d+)/?$`)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, and sorts query parameters.
// It also removes fragments.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ResolveURL resolves ref against base, the way a browser resolves a relative href.
func ResolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse reference %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}

// ItemIDFromURL extracts the numeric item id from a detail URL such as
// https://host/b239/. It returns false when the path is not a detail path.
func ItemIDFromURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	m := itemPathPattern.FindStringSubmatch(u.Path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// DetailURL builds the detail page URL for an item id.
func DetailURL(baseURL, itemID string) (string, error) {
	return ResolveURL(ensureTrailingSlash(baseURL), fmt.Sprintf("b%s/", itemID))
}

// ListingURL builds the listing URL for a category.
func ListingURL(baseURL, category string) (string, error) {
	return ResolveURL(ensureTrailingSlash(baseURL), fmt.Sprintf("l%s/", category))
}

// DocumentURL builds the document endpoint URL; the item id travels as a query parameter.
func DocumentURL(baseURL string) (string, error) {
	return ResolveURL(ensureTrailingSlash(baseURL), "txt.php")
}

func ensureTrailingSlash(raw string) string {
	if strings.HasSuffix(raw, "/") {
		return raw
	}
	return raw + "/"
}
