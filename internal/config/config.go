// Package config loads skyfeed's settings.
//
// Settings come from an optional YAML file, then SKYFEED_* environment
// variables, which override file values. The result is validated once and
// passed by value to the components that need it.
//
// Environment values may be wrapped in single or double quotes, as they
// often are when copied out of .env files; the quotes are stripped.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/skyfeed/internal/filter"
	"github.com/roach88/skyfeed/internal/repo"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SKYFEED_"

// EnvConfig names the config file when --config is not given.
const EnvConfig = EnvPrefix + "CONFIG"

// Config is skyfeed's configuration.
type Config struct {
	// Hostname is the public host the service is reachable at.
	Hostname string `yaml:"hostname"`

	// ServiceDID is the feed generator's DID. It is also the key the
	// stream checkpoint is stored under.
	// Default: did:web:<hostname>
	ServiceDID string `yaml:"service_did"`

	// FeedURI is the at:// URI of the published feed record. Requests for
	// any other feed are rejected.
	FeedURI string `yaml:"feed_uri"`

	// ListenAddr is the HTTP listen address.
	// Default: 0.0.0.0:8080
	ListenAddr string `yaml:"listen_addr"`

	// RelayURL is the firehose relay.
	// Default: wss://bsky.network
	RelayURL string `yaml:"relay_url"`

	// Database is the SQLite file path.
	// Default: feed_database.db
	Database string `yaml:"database"`

	// LogLevel is one of debug, info, warn, error.
	// Default: info
	LogLevel string `yaml:"log_level"`

	// IgnoreArchivedPosts drops posts created more than 24h before they
	// were seen.
	IgnoreArchivedPosts bool `yaml:"ignore_archived_posts"`

	// IgnoreReplyPosts drops replies.
	IgnoreReplyPosts bool `yaml:"ignore_reply_posts"`

	Filter FilterConfig `yaml:"filter"`
}

// FilterConfig selects the inclusion predicate.
type FilterConfig struct {
	// Predicate is alternating-case, cel or none.
	// Default: none (every post is rejected)
	Predicate string `yaml:"predicate"`

	// Expression is the CEL program when Predicate is cel.
	Expression string `yaml:"expression"`
}

// Default returns the configuration used before any file or environment
// value is applied.
func Default() Config {
	return Config{
		ListenAddr: "0.0.0.0:8080",
		RelayURL:   "wss://bsky.network",
		Database:   "feed_database.db",
		LogLevel:   "info",
	}
}

// Load reads path (skipped when empty), applies environment overrides from
// getenv, derives ServiceDID and validates the result.
//
// getenv is usually os.Getenv; tests pass a map lookup.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}

	cfg.Hostname = Unquote(cfg.Hostname)
	if cfg.ServiceDID == "" && cfg.Hostname != "" {
		cfg.ServiceDID = "did:web:" + cfg.Hostname
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides fields from SKYFEED_* variables. Unset and empty
// variables leave the field alone.
func (c *Config) applyEnv(getenv func(string) string) error {
	if getenv == nil {
		return nil
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"HOSTNAME", &c.Hostname},
		{"SERVICE_DID", &c.ServiceDID},
		{"FEED_URI", &c.FeedURI},
		{"LISTEN_ADDR", &c.ListenAddr},
		{"RELAY_URL", &c.RelayURL},
		{"DATABASE", &c.Database},
		{"LOG_LEVEL", &c.LogLevel},
		{"FILTER_PREDICATE", &c.Filter.Predicate},
		{"FILTER_EXPRESSION", &c.Filter.Expression},
	}
	for _, s := range strs {
		if v := Unquote(getenv(EnvPrefix + s.key)); v != "" {
			*s.dst = v
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"IGNORE_ARCHIVED_POSTS", &c.IgnoreArchivedPosts},
		{"IGNORE_REPLY_POSTS", &c.IgnoreReplyPosts},
	}
	for _, b := range bools {
		raw := getenv(EnvPrefix + b.key)
		if raw == "" {
			continue
		}
		v, err := ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, b.key, err)
		}
		*b.dst = v
	}
	return nil
}

// Unquote trims whitespace and strips one pair of matching single or
// double quotes. A lone quote character is returned unchanged.
func Unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return s
	}
	first, last := s[0], s[len(s)-1]
	if (first == '\'' || first == '"') && first == last {
		return s[1 : len(s)-1]
	}
	return s
}

// ParseBool parses a boolean after unquoting and lowercasing it.
func ParseBool(s string) (bool, error) {
	return strconv.ParseBool(strings.ToLower(Unquote(s)))
}

var hostnamePattern = regexp.MustCompile(
	`^[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`,
)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks the configuration and reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	if c.Hostname == "" {
		errs = append(errs, errors.New("hostname is required"))
	} else if !hostnamePattern.MatchString(c.Hostname) {
		errs = append(errs, fmt.Errorf("invalid hostname: %q", c.Hostname))
	}

	if c.FeedURI != "" {
		if _, err := repo.ParseATURI(c.FeedURI); err != nil {
			errs = append(errs, fmt.Errorf("feed_uri: %w", err))
		}
	}

	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("listen_addr: %w", err))
	}
	if c.RelayURL == "" {
		errs = append(errs, errors.New("relay_url is required"))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("database is required"))
	}
	if !logLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("invalid log_level: %q", c.LogLevel))
	}

	if _, err := c.Predicate(); err != nil {
		errs = append(errs, fmt.Errorf("filter: %w", err))
	}

	return errors.Join(errs...)
}

// Predicate builds the configured inclusion predicate. A nil result means
// no predicate is configured.
func (c Config) Predicate() (filter.Predicate, error) {
	return filter.Select(c.Filter.Predicate, c.Filter.Expression, nil)
}

// FilterOptions returns the pipeline options for this configuration.
func (c Config) FilterOptions() (filter.Options, error) {
	pred, err := c.Predicate()
	if err != nil {
		return filter.Options{}, err
	}
	return filter.Options{
		IgnoreArchivedPosts: c.IgnoreArchivedPosts,
		IgnoreReplyPosts:    c.IgnoreReplyPosts,
		Predicate:           pred,
	}, nil
}

// DIDDocument reports whether the service DID is the did:web form of the
// hostname, in which case the service publishes its own DID document.
func (c Config) DIDDocument() bool {
	return c.ServiceDID == "did:web:"+c.Hostname
}

// Level returns LogLevel as a slog level. Unknown values map to info.
func (c Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
