package config

import (
	"strings"

	"github.com/sguzman/pulsewire-sub000/internal/domain/model"
)

// ToModelFeed converts a YAML feed entry into the domain FeedConfig,
// deriving the lowercased host and applying the app-wide default poll
// period when the entry doesn't override it.
func ToModelFeed(e FeedFileEntry, app AppConfig) (model.FeedConfig, error) {
	domain, err := DeriveDomain(e.URL)
	if err != nil {
		return model.FeedConfig{}, err
	}

	base := e.BasePollSeconds
	if base == 0 {
		base = app.DefaultBasePollSeconds
	}

	return model.FeedConfig{
		ID:              e.ID,
		URL:             e.URL,
		Domain:          domain,
		Category:        e.Category,
		BasePollSeconds: base,
		Language:        e.Language,
		ContentType:     e.ContentType,
		Tags:            e.Tags,
		CookieJarPath:   e.CookieJarPath,
		ExtraHeaderPath: e.ExtraHeaderPath,
	}, nil
}

// ToModelWatch converts a YAML watch entry into the domain WatchConfig.
func ToModelWatch(e WatchFileEntry, app AppConfig) (model.WatchConfig, error) {
	feed, err := ToModelFeed(e.FeedFileEntry, app)
	if err != nil {
		return model.WatchConfig{}, err
	}

	detectors := make([]model.WatchDetector, 0, len(e.Detectors))
	for _, d := range e.Detectors {
		detectors = append(detectors, parseDetector(d))
	}

	return model.WatchConfig{
		FeedConfig:        feed,
		CheckMethod:       parseCheckMethod(e.CheckMethod),
		FallbackToGet:     e.FallbackToGet,
		Detectors:         detectors,
		FetchBodyOnChange: e.FetchBodyOnChange,
		BodyCapBytes:      e.BodyCapBytes,
		ItemCap:           e.ItemCap,
		ItemSelector:      e.ItemSelector,
		TitleSelector:     e.TitleSelector,
		LinkSelector:      e.LinkSelector,
		SummarySelector:   e.SummarySelector,
		PublishedSelector: e.PublishedSelector,
		IncludeSelector:   e.IncludeSelector,
		ExcludeSelector:   e.ExcludeSelector,
		ItemIdentity:      parseItemIdentity(e.ItemIdentity),
		EmitMode:          parseEmitMode(e.EmitMode),
		EmitTitle:         e.EmitTitle,
	}, nil
}

func parseCheckMethod(s string) model.WatchCheckMethod {
	if strings.EqualFold(s, "get") {
		return model.WatchCheckGet
	}
	return model.WatchCheckHead
}

func parseDetector(s string) model.WatchDetector {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "last_modified", "lastmodified":
		return model.WatchDetectorLastModified
	case "content_length", "contentlength":
		return model.WatchDetectorContentLength
	case "content_hash", "contenthash":
		return model.WatchDetectorContentHash
	case "element_hash", "elementhash":
		return model.WatchDetectorElementHash
	default:
		return model.WatchDetectorEtag
	}
}

func parseItemIdentity(s string) model.WatchItemIdentity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text":
		return model.WatchItemIdentityText
	case "attr":
		return model.WatchItemIdentityAttr
	default:
		return model.WatchItemIdentityHref
	}
}

func parseEmitMode(s string) model.WatchEmitMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "any_change", "anychange":
		return model.WatchEmitAnyChange
	case "digest":
		return model.WatchEmitDigest
	default:
		return model.WatchEmitNewItemsOnly
	}
}
