// Package config implements the scheduler's fail-open configuration loader
// (A1): YAML file input for the larger shaped structures (feeds, watches,
// domain caps) combined with the teacher's env-var fallback helpers for
// scalar overrides, so a bad override degrades to the file/default value
// with a logged warning instead of aborting startup.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pkgconfig "github.com/sguzman/pulsewire-sub000/internal/pkg/config"
)

// AppConfig is the polling-wide configuration (distinct from per-feed
// overrides) consumed by the tick runner and action executor.
type AppConfig struct {
	Timezone               string
	DefaultBasePollSeconds uint64
	MaxPollSeconds         uint64
	JitterFraction         float64
	MaxConsecutiveErrors   uint32
	ImmediateErrorStatuses map[int]struct{}
	GlobalMaxConcurrent    int
	UserAgent              string
	StateHistorySampleRate float64
	LogTickWarnSeconds     int
	HousekeepingSchedule   string
	HousekeepingRetention  time.Duration
}

// FeedFileEntry is one row of the feeds YAML file.
type FeedFileEntry struct {
	ID              string   `yaml:"id"`
	URL             string   `yaml:"url"`
	Category        string   `yaml:"category"`
	BasePollSeconds uint64   `yaml:"base_poll_seconds"`
	Language        string   `yaml:"language"`
	ContentType     string   `yaml:"content_type"`
	Tags            []string `yaml:"tags"`
	CookieJarPath   string   `yaml:"cookie_jar_path"`
	ExtraHeaderPath string   `yaml:"extra_header_path"`
}

// WatchFileEntry is one row of the watches YAML file; it embeds the feed
// fields plus the watch-specific extraction/detection configuration.
type WatchFileEntry struct {
	FeedFileEntry     `yaml:",inline"`
	CheckMethod       string   `yaml:"check_method"`
	FallbackToGet     bool     `yaml:"fallback_to_get"`
	Detectors         []string `yaml:"detectors"`
	FetchBodyOnChange bool     `yaml:"fetch_body_on_change"`
	BodyCapBytes      int      `yaml:"body_cap_bytes"`
	ItemCap           int      `yaml:"item_cap"`
	ItemSelector      string   `yaml:"item_selector"`
	TitleSelector     string   `yaml:"title_selector"`
	LinkSelector      string   `yaml:"link_selector"`
	SummarySelector   string   `yaml:"summary_selector"`
	PublishedSelector string   `yaml:"published_selector"`
	IncludeSelector   string   `yaml:"include_selector"`
	ExcludeSelector   string   `yaml:"exclude_selector"`
	ItemIdentity      string   `yaml:"item_identity"`
	EmitMode          string   `yaml:"emit_mode"`
	EmitTitle         string   `yaml:"emit_title"`
}

// DomainLimit is one row of the domain-concurrency YAML file.
type DomainLimit struct {
	Host              string `yaml:"host"`
	MaxConcurrent     int    `yaml:"max_concurrent_requests"`
	MinIntervalMs     int    `yaml:"min_interval_ms"`
}

type appFile struct {
	Timezone               string  `yaml:"timezone"`
	DefaultBasePollSeconds uint64  `yaml:"default_base_poll_seconds"`
	MaxPollSeconds         uint64  `yaml:"max_poll_seconds"`
	JitterFraction         float64 `yaml:"jitter_fraction"`
	MaxConsecutiveErrors   uint32  `yaml:"max_consecutive_errors"`
	ImmediateErrorStatuses []int   `yaml:"immediate_error_statuses"`
	GlobalMaxConcurrent    int     `yaml:"global_max_concurrent_requests"`
	UserAgent              string  `yaml:"user_agent"`
	StateHistorySampleRate float64 `yaml:"state_history_sample_rate"`
	LogTickWarnSeconds     int     `yaml:"log_tick_warn_seconds"`
	HousekeepingSchedule   string  `yaml:"housekeeping_schedule"`
	HousekeepingRetention  string  `yaml:"housekeeping_retention"`
}

// FallbackWarning is one fail-open degradation recorded while loading.
type FallbackWarning struct {
	Field   string
	Message string
}

// LoadResult bundles everything a fully-loaded configuration set produces:
// the resolved app config, feed/watch lists, domain limits, and every
// fallback warning raised along the way (for logging + the
// config_fallbacks_total metric).
type LoadResult struct {
	App       AppConfig
	Feeds     []FeedFileEntry
	Watches   []WatchFileEntry
	Domains   []DomainLimit
	Fallbacks []FallbackWarning
}

// LoadApp reads the app config YAML at path and layers environment-variable
// overrides on top using the fail-open LoadEnv* helpers. Malformed
// individual fields degrade to the file value (or a hardcoded default if
// the file itself could not be read) with a recorded warning; only a
// structurally invalid YAML document is a fatal error.
func LoadApp(path string) (AppConfig, []FallbackWarning, error) {
	var file appFile
	raw, err := os.ReadFile(path)
	if err == nil {
		if yerr := yaml.Unmarshal(raw, &file); yerr != nil {
			return AppConfig{}, nil, fmt.Errorf("config: parse app config %s: %w", path, yerr)
		}
	}

	var warnings []FallbackWarning
	record := func(field string, r pkgconfig.ConfigLoadResult) {
		for _, w := range r.Warnings {
			warnings = append(warnings, FallbackWarning{Field: field, Message: w})
		}
	}

	tzDefault := file.Timezone
	if tzDefault == "" {
		tzDefault = "UTC"
	}
	tzResult := pkgconfig.LoadEnvWithFallback("SCHEDULER_TIMEZONE", tzDefault, pkgconfig.ValidateTimezone)
	record("timezone", tzResult)

	basePollResult := pkgconfig.LoadEnvInt("SCHEDULER_DEFAULT_BASE_POLL_SECONDS",
		intDefault(file.DefaultBasePollSeconds, 300),
		func(v int) error { return pkgconfig.ValidateIntRange(v, 1, 86400) })
	record("default_base_poll_seconds", basePollResult)

	maxPollResult := pkgconfig.LoadEnvInt("SCHEDULER_MAX_POLL_SECONDS",
		intDefault(file.MaxPollSeconds, 3600),
		func(v int) error { return pkgconfig.ValidateIntRange(v, 1, 604800) })
	record("max_poll_seconds", maxPollResult)

	globalMaxResult := pkgconfig.LoadEnvInt("SCHEDULER_GLOBAL_MAX_CONCURRENT",
		intDefault(uint64(file.GlobalMaxConcurrent), 64),
		func(v int) error { return pkgconfig.ValidateIntRange(v, 0, 10000) })
	record("global_max_concurrent_requests", globalMaxResult)

	maxErrorsResult := pkgconfig.LoadEnvInt("SCHEDULER_MAX_CONSECUTIVE_ERRORS",
		intDefault(uint64(file.MaxConsecutiveErrors), 5),
		func(v int) error { return pkgconfig.ValidateIntRange(v, 0, 1000) })
	record("max_consecutive_errors", maxErrorsResult)

	logWarnResult := pkgconfig.LoadEnvInt("SCHEDULER_LOG_TICK_WARN_SECONDS",
		intDefault(uint64(file.LogTickWarnSeconds), 10),
		func(v int) error { return pkgconfig.ValidateIntRange(v, 1, 3600) })
	record("log_tick_warn_seconds", logWarnResult)

	uaDefault := file.UserAgent
	if uaDefault == "" {
		uaDefault = "pulsewire-scheduler/1.0"
	}
	uaResult := pkgconfig.LoadEnvWithFallback("SCHEDULER_USER_AGENT", uaDefault, nil)
	record("user_agent", uaResult)

	cronDefault := file.HousekeepingSchedule
	if cronDefault == "" {
		cronDefault = "0 */6 * * *"
	}
	cronResult := pkgconfig.LoadEnvWithFallback("SCHEDULER_HOUSEKEEPING_SCHEDULE", cronDefault, pkgconfig.ValidateCronSchedule)
	record("housekeeping_schedule", cronResult)

	retention := 30 * 24 * time.Hour
	if file.HousekeepingRetention != "" {
		if d, perr := time.ParseDuration(file.HousekeepingRetention); perr == nil {
			retention = d
		}
	}
	retentionResult := pkgconfig.LoadEnvDuration("SCHEDULER_HOUSEKEEPING_RETENTION", retention, pkgconfig.ValidatePositiveDuration)
	record("housekeeping_retention", retentionResult)

	jitter := file.JitterFraction
	if jitter == 0 {
		jitter = 0.2
	}
	if jitter < 0 || jitter > 1 {
		warnings = append(warnings, FallbackWarning{
			Field:   "jitter_fraction",
			Message: fmt.Sprintf("jitter_fraction %v out of [0,1], falling back to 0.2", jitter),
		})
		jitter = 0.2
	}

	sampleRate := file.StateHistorySampleRate
	if sampleRate < 0 || sampleRate > 1 {
		warnings = append(warnings, FallbackWarning{
			Field:   "state_history_sample_rate",
			Message: fmt.Sprintf("state_history_sample_rate %v out of [0,1], falling back to 1.0", sampleRate),
		})
		sampleRate = 1.0
	}

	immediateStatuses := make(map[int]struct{}, len(file.ImmediateErrorStatuses))
	for _, code := range file.ImmediateErrorStatuses {
		immediateStatuses[code] = struct{}{}
	}
	if len(immediateStatuses) == 0 {
		immediateStatuses[404] = struct{}{}
		immediateStatuses[410] = struct{}{}
	}

	app := AppConfig{
		Timezone:               tzResult.Value.(string),
		DefaultBasePollSeconds: uint64(basePollResult.Value.(int)),
		MaxPollSeconds:         uint64(maxPollResult.Value.(int)),
		JitterFraction:         jitter,
		MaxConsecutiveErrors:   uint32(maxErrorsResult.Value.(int)),
		ImmediateErrorStatuses: immediateStatuses,
		GlobalMaxConcurrent:    globalMaxResult.Value.(int),
		UserAgent:              uaResult.Value.(string),
		StateHistorySampleRate: sampleRate,
		LogTickWarnSeconds:     logWarnResult.Value.(int),
		HousekeepingSchedule:   cronResult.Value.(string),
		HousekeepingRetention:  retentionResult.Value.(time.Duration),
	}

	return app, warnings, nil
}

func intDefault(v uint64, fallback int) int {
	if v == 0 {
		return fallback
	}
	return int(v)
}

// LoadFeeds reads a feeds YAML file (a top-level `feeds:` list).
func LoadFeeds(path string) ([]FeedFileEntry, error) {
	var doc struct {
		Feeds []FeedFileEntry `yaml:"feeds"`
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read feeds file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parse feeds file %s: %w", path, err)
	}
	for i := range doc.Feeds {
		doc.Feeds[i].Category = strings.TrimSpace(doc.Feeds[i].Category)
	}
	return doc.Feeds, nil
}

// LoadWatches reads a watches YAML file (a top-level `watches:` list).
func LoadWatches(path string) ([]WatchFileEntry, error) {
	var doc struct {
		Watches []WatchFileEntry `yaml:"watches"`
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read watches file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parse watches file %s: %w", path, err)
	}
	return doc.Watches, nil
}

// LoadDomainLimits reads a domain-concurrency YAML file (`domains:` list).
func LoadDomainLimits(path string) ([]DomainLimit, error) {
	var doc struct {
		Domains []DomainLimit `yaml:"domains"`
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read domains file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parse domains file %s: %w", path, err)
	}
	return doc.Domains, nil
}

// DeriveDomain lowercases the hostname from a feed/watch URL.
func DeriveDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("config: invalid url %q: %w", rawURL, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("config: url %q has no host", rawURL)
	}
	return strings.ToLower(u.Hostname()), nil
}

// CheckIDCollisions returns a fatal error if any id is shared between the
// feed list and the watch list — per the scheduler's startup contract, a
// feed id colliding with a watch id across the two files aborts startup
// rather than silently picking one.
func CheckIDCollisions(feeds []FeedFileEntry, watches []WatchFileEntry) error {
	seen := make(map[string]string, len(feeds)+len(watches))
	for _, f := range feeds {
		seen[f.ID] = "feed"
	}
	for _, w := range watches {
		if kind, ok := seen[w.ID]; ok {
			return fmt.Errorf("config: id %q is declared as both a %s and a watch", w.ID, kind)
		}
		seen[w.ID] = "watch"
	}
	return nil
}
