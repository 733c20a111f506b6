// Package rowcodec holds the string encodings the two persistence dialects
// (sqlite, postgres) share for the scheduler's enum-valued columns. Keeping
// the mapping in one place means the two dialects can never drift apart on
// what a stored phase/error-kind/detector string means.
package rowcodec

import (
	"strings"

	"github.com/sguzman/pulsewire-sub000/internal/domain/linkstate"
	"github.com/sguzman/pulsewire-sub000/internal/domain/model"
)

// PhaseFromString parses a stored phase column back into a LinkPhase.
// Unrecognized values fall back to NeedsInitialGet so a corrupted row
// re-bootstraps rather than wedging the feed forever.
func PhaseFromString(s string) linkstate.LinkPhase {
	switch s {
	case "needs_initial_get":
		return linkstate.NeedsInitialGet
	case "needs_head":
		return linkstate.NeedsHead
	case "needs_get":
		return linkstate.NeedsGet
	case "sleeping":
		return linkstate.Sleeping
	case "error_backoff":
		return linkstate.ErrorBackoff
	default:
		return linkstate.NeedsInitialGet
	}
}

// ErrorKindFromString parses a stored error_kind column back into an
// ErrorKind. Unrecognized values fall back to ErrorKindNone.
func ErrorKindFromString(s string) model.ErrorKind {
	switch s {
	case "none", "":
		return model.ErrorKindNone
	case "timeout":
		return model.ErrorKindTimeout
	case "dns_failure":
		return model.ErrorKindDNSFailure
	case "connection_failure":
		return model.ErrorKindConnectionFailure
	case "http_4xx":
		return model.ErrorKindHTTP4xx
	case "http_5xx":
		return model.ErrorKindHTTP5xx
	case "parse_error":
		return model.ErrorKindParseError
	case "unexpected":
		return model.ErrorKindUnexpected
	default:
		return model.ErrorKindNone
	}
}

// FeedKind distinguishes an ordinary feed row from a watch row in the
// shared feeds table.
const (
	FeedKindFeed  = "feed"
	FeedKindWatch = "watch"
)

func CheckMethodString(m model.WatchCheckMethod) string {
	if m == model.WatchCheckGet {
		return "get"
	}
	return "head"
}

func CheckMethodFromString(s string) model.WatchCheckMethod {
	if s == "get" {
		return model.WatchCheckGet
	}
	return model.WatchCheckHead
}

func DetectorString(d model.WatchDetector) string {
	switch d {
	case model.WatchDetectorEtag:
		return "etag"
	case model.WatchDetectorLastModified:
		return "last_modified"
	case model.WatchDetectorContentLength:
		return "content_length"
	case model.WatchDetectorContentHash:
		return "content_hash"
	case model.WatchDetectorElementHash:
		return "element_hash"
	default:
		return "etag"
	}
}

func DetectorsToString(ds []model.WatchDetector) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = DetectorString(d)
	}
	return strings.Join(parts, ",")
}

func DetectorsFromString(s string) []model.WatchDetector {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]model.WatchDetector, 0, len(parts))
	for _, p := range parts {
		switch p {
		case "etag":
			out = append(out, model.WatchDetectorEtag)
		case "last_modified":
			out = append(out, model.WatchDetectorLastModified)
		case "content_length":
			out = append(out, model.WatchDetectorContentLength)
		case "content_hash":
			out = append(out, model.WatchDetectorContentHash)
		case "element_hash":
			out = append(out, model.WatchDetectorElementHash)
		}
	}
	return out
}

func EmitModeString(m model.WatchEmitMode) string {
	switch m {
	case model.WatchEmitAnyChange:
		return "any_change"
	case model.WatchEmitDigest:
		return "digest"
	default:
		return "new_items_only"
	}
}

func EmitModeFromString(s string) model.WatchEmitMode {
	switch s {
	case "any_change":
		return model.WatchEmitAnyChange
	case "digest":
		return model.WatchEmitDigest
	default:
		return model.WatchEmitNewItemsOnly
	}
}

func ItemIdentityString(i model.WatchItemIdentity) string {
	switch i {
	case model.WatchItemIdentityText:
		return "text"
	case model.WatchItemIdentityAttr:
		return "attr"
	default:
		return "href"
	}
}

func ItemIdentityFromString(s string) model.WatchItemIdentity {
	switch s {
	case "text":
		return model.WatchItemIdentityText
	case "attr":
		return model.WatchItemIdentityAttr
	default:
		return model.WatchItemIdentityHref
	}
}

func TagsToString(tags []string) string {
	return strings.Join(tags, ",")
}

func TagsFromString(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
