// Package parser normalizes raw HTTP response bytes into a ParsedFeed: RSS
// and Atom via mmcdole/gofeed, and generic HTML change-detection for
// watches via PuerkitoBio/goquery (CSS selection) and go-shiori/go-readability
// (readable-text fallback for the synthetic single-item payload).
//
// Parsing here never performs I/O and never persists anything; the caller
// (package executor) decides what to do on failure.
package parser

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"

	"github.com/sguzman/pulsewire-sub000/internal/domain/model"
)

// FeedItem is one normalized entry within a ParsedFeed.
type FeedItem struct {
	Title         string
	Link          string
	GUID          string
	PublishedAtMs int64
	Category      string
	Description   string
	Summary       string
}

// ParsedFeed is the normalized shape every fetched body is reduced to,
// regardless of whether it arrived as RSS/Atom or as watched HTML.
type ParsedFeed struct {
	Title       string
	Link        string
	Description string
	Language    string
	UpdatedAtMs int64
	Items       []FeedItem
}

var feedParser = gofeed.NewParser()

// Parse decodes raw RSS/Atom bytes into a ParsedFeed.
func Parse(body []byte) (*ParsedFeed, error) {
	raw, err := feedParser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parser: %w", err)
	}

	updatedAtMs := int64(0)
	if raw.UpdatedParsed != nil {
		updatedAtMs = raw.UpdatedParsed.UnixMilli()
	} else if raw.PublishedParsed != nil {
		updatedAtMs = raw.PublishedParsed.UnixMilli()
	}

	link := raw.Link
	if link == "" && len(raw.Links) > 0 {
		link = raw.Links[0]
	}

	items := make([]FeedItem, 0, len(raw.Items))
	for _, it := range raw.Items {
		items = append(items, convertItem(it))
	}

	return &ParsedFeed{
		Title:       raw.Title,
		Link:        link,
		Description: raw.Description,
		Language:    raw.Language,
		UpdatedAtMs: updatedAtMs,
		Items:       items,
	}, nil
}

func convertItem(it *gofeed.Item) FeedItem {
	publishedAtMs := int64(0)
	switch {
	case it.PublishedParsed != nil:
		publishedAtMs = it.PublishedParsed.UnixMilli()
	case it.UpdatedParsed != nil:
		publishedAtMs = it.UpdatedParsed.UnixMilli()
	}

	guid := it.GUID
	if guid == "" {
		guid = it.Link
	}

	category := ""
	if len(it.Categories) > 0 {
		category = it.Categories[0]
	}

	description := it.Content
	summary := it.Description
	if description == "" {
		description = summary
	}
	if summary == "" {
		summary = it.Content
	}

	return FeedItem{
		Title:         it.Title,
		Link:          it.Link,
		GUID:          guid,
		PublishedAtMs: publishedAtMs,
		Category:      category,
		Description:   description,
		Summary:       summary,
	}
}

// ParseWatchHTML extracts candidate items from an HTML document using the
// watch's configured CSS selectors. It never errors on a missing selector
// match — an empty item selector result is a normal "no structured items"
// outcome, left for the caller to fall back to a synthetic single item.
func ParseWatchHTML(body []byte, baseURL string, cfg *model.WatchConfig) (*ParsedFeed, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parser: parse watch html: %w", err)
	}

	pf := &ParsedFeed{Link: baseURL}

	if cfg.ItemSelector == "" {
		return pf, nil
	}

	var items []FeedItem
	doc.Find(cfg.ItemSelector).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if cfg.IncludeSelector != "" && sel.Find(cfg.IncludeSelector).Length() == 0 {
			return true
		}
		if cfg.ExcludeSelector != "" && sel.Find(cfg.ExcludeSelector).Length() > 0 {
			return true
		}

		title := strings.TrimSpace(selText(sel, cfg.TitleSelector))
		link := resolveLink(sel, cfg.LinkSelector, baseURL)
		summary := strings.TrimSpace(selText(sel, cfg.SummarySelector))
		published := strings.TrimSpace(selText(sel, cfg.PublishedSelector))

		guid := watchItemGUID(cfg, sel, link, title)
		if guid == "" {
			return true
		}

		items = append(items, FeedItem{
			Title:         title,
			Link:          link,
			GUID:          guid,
			PublishedAtMs: parsePublishedMs(published),
			Description:   summary,
			Summary:       summary,
		})

		if cfg.ItemCap > 0 && len(items) >= cfg.ItemCap {
			return false
		}
		return true
	})

	pf.Items = items
	if len(items) > 0 {
		pf.Title = items[0].Title
	}
	return pf, nil
}

func selText(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return sel.Text()
	}
	return sel.Find(selector).First().Text()
}

func resolveLink(sel *goquery.Selection, selector, baseURL string) string {
	target := sel
	if selector != "" {
		target = sel.Find(selector).First()
	}
	href, ok := target.Attr("href")
	if !ok {
		return ""
	}
	return absoluteURL(href, baseURL)
}

func absoluteURL(href, baseURL string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func watchItemGUID(cfg *model.WatchConfig, sel *goquery.Selection, link, title string) string {
	switch cfg.ItemIdentity {
	case model.WatchItemIdentityHref:
		return link
	case model.WatchItemIdentityText:
		return title
	case model.WatchItemIdentityAttr:
		if v, ok := sel.Attr("id"); ok {
			return v
		}
		return link
	default:
		return link
	}
}

func parsePublishedMs(s string) int64 {
	if s == "" {
		return 0
	}
	layouts := []string{
		time.RFC3339,
		time.RFC1123,
		time.RFC1123Z,
		"2006-01-02T15:04:05",
		"2006-01-02",
		"Jan 2, 2006",
		"January 2, 2006",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

// SynthesizeWatchPayload builds a single-item ParsedFeed for a watch whose
// body changed but whose structured extraction produced no items (either
// because ItemSelector is unset or because it matched nothing). It uses
// go-shiori/go-readability to recover a readable title/summary, falling
// back to the raw URL and a generic summary if extraction fails. The guid
// is always namespaced by feedID so synthetic items from different feeds
// never collide in storage.
func SynthesizeWatchPayload(body []byte, baseURL string, feedID string, contentHash string, nowMs int64) *ParsedFeed {
	title := baseURL
	summary := "content changed"

	parsedURL, _ := url.Parse(baseURL)
	if article, err := readability.FromReader(bytes.NewReader(body), parsedURL); err == nil {
		if article.Title != "" {
			title = article.Title
		}
		if article.Excerpt != "" {
			summary = article.Excerpt
		} else if article.TextContent != "" {
			summary = truncate(article.TextContent, 500)
		}
	}

	var guid string
	if contentHash != "" {
		guid = feedID + ":" + contentHash
	} else {
		guid = feedID + ":" + strconv.FormatInt(nowMs, 10)
	}

	return &ParsedFeed{
		Title:       title,
		Link:        baseURL,
		Description: summary,
		UpdatedAtMs: nowMs,
		Items: []FeedItem{
			{
				Title:         title,
				Link:          baseURL,
				GUID:          guid,
				PublishedAtMs: nowMs,
				Description:   summary,
				Summary:       summary,
			},
		},
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// ContentHash computes the hex SHA-256 digest of body, used both as the
// ContentHash watch detector signal and as the synthetic payload's guid seed.
func ContentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
