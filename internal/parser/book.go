// Package parser extracts book metadata from catalog detail pages.
package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

// headingSeparator splits the detail heading into title and author.
const headingSeparator = "::"

// rule declares where a field lives on the detail page.
type rule struct {
	field    string
	selector string
	required bool
}

var (
	headingRule  = rule{field: "heading", selector: "h1", required: true}
	coverRule    = rule{field: "cover", selector: "div.bookimage img[src]", required: true}
	genresRule   = rule{field: "genres", selector: "span.d_book a"}
	commentsRule = rule{field: "comments", selector: "div.texts"}
)

// BookParser implements crawler.PageParser.
type BookParser struct {
	fetcher crawler.Fetcher
	logger  *zap.Logger
}

// New builds a BookParser that fetches detail pages through fetcher.
func New(fetcher crawler.Fetcher, logger *zap.Logger) *BookParser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookParser{fetcher: fetcher, logger: logger}
}

// Parse fetches the detail page of ref and extracts its metadata. A redirected
// fetch means the item does not exist and yields *crawler.ItemNotFoundError
// without looking at the body.
func (p *BookParser) Parse(ctx context.Context, ref crawler.ItemRef) (crawler.BookMetadata, error) {
	resp, err := p.fetcher.Fetch(ctx, crawler.FetchRequest{Kind: crawler.FetchDetail, URL: ref.URL})
	if err != nil {
		return crawler.BookMetadata{}, err
	}
	if resp.Redirected {
		return crawler.BookMetadata{}, &crawler.ItemNotFoundError{ItemID: ref.ID, URL: ref.URL}
	}
	base := resp.FinalURL
	if base == "" {
		base = ref.URL
	}
	return ParseDocument(ref.ID, base, resp.Body)
}

// ParseDocument extracts metadata from an already fetched detail page. pageURL
// is the URL the body was served from; relative links resolve against it.
func ParseDocument(itemID, pageURL string, body []byte) (crawler.BookMetadata, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.BookMetadata{}, &crawler.ParseError{ItemID: itemID, Field: "document", Detail: err.Error()}
	}

	heading, err := requireOne(doc, itemID, headingRule)
	if err != nil {
		return crawler.BookMetadata{}, err
	}
	title, author, err := splitHeading(itemID, heading.Text())
	if err != nil {
		return crawler.BookMetadata{}, err
	}

	cover, err := requireOne(doc, itemID, coverRule)
	if err != nil {
		return crawler.BookMetadata{}, err
	}
	src, _ := cover.Attr("src")
	coverURL, err := crawler.ResolveURL(pageURL, src)
	if err != nil {
		return crawler.BookMetadata{}, &crawler.ParseError{
			ItemID: itemID, Field: coverRule.field, Selector: coverRule.selector, Detail: err.Error(),
		}
	}

	return crawler.BookMetadata{
		Title:    title,
		Author:   author,
		CoverURL: coverURL,
		Genres:   collectTexts(doc, genresRule, clean),
		Comments: collectTexts(doc, commentsRule, commentBody),
	}, nil
}

func requireOne(doc *goquery.Document, itemID string, r rule) (*goquery.Selection, error) {
	sel := doc.Find(r.selector).First()
	if sel.Length() == 0 {
		return nil, &crawler.ParseError{ItemID: itemID, Field: r.field, Selector: r.selector}
	}
	return sel, nil
}

func splitHeading(itemID, heading string) (string, string, error) {
	title, author, ok := strings.Cut(heading, headingSeparator)
	if !ok {
		return "", "", &crawler.ParseError{
			ItemID:   itemID,
			Field:    headingRule.field,
			Selector: headingRule.selector,
			Detail:   fmt.Sprintf("separator %q not found in %q", headingSeparator, clean(heading)),
		}
	}
	title, author = clean(title), clean(author)
	if title == "" {
		return "", "", &crawler.ParseError{ItemID: itemID, Field: "title", Selector: headingRule.selector, Detail: "empty"}
	}
	if author == "" {
		return "", "", &crawler.ParseError{ItemID: itemID, Field: "author", Selector: headingRule.selector, Detail: "empty"}
	}
	return title, author, nil
}

// collectTexts returns the transformed text of every match, in document
// order, dropping empty results. The result is never nil.
func collectTexts(doc *goquery.Document, r rule, transform func(string) string) []string {
	out := []string{}
	doc.Find(r.selector).Each(func(_ int, s *goquery.Selection) {
		if text := transform(s.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out
}

// commentBody drops the "author (date)" prefix of a review block.
func commentBody(text string) string {
	if _, rest, ok := strings.Cut(text, ")"); ok {
		return clean(rest)
	}
	return clean(text)
}

// clean trims Unicode whitespace; strings.TrimSpace covers NBSP as well.
func clean(s string) string {
	return strings.TrimSpace(s)
}
