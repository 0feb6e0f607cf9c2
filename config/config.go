// Package config loads the edge configuration snapshot.
package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variable overrides.
// Nested keys use a double underscore, e.g. EDGE_ENDPOINTS__REQUEST_LOGS.
// Environment keys are lowercased, so endpoint names are case-insensitive
// and Load stores them lowercased.
const EnvPrefix = "EDGE_"

// maxTTLSeconds is the largest TTL in seconds that fits in a time.Duration.
const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

// ErrInvalidTTL is returned when static_ttl is not a whole number of seconds
// or a duration of at least one second.
var ErrInvalidTTL = errors.New("invalid static_ttl")

// Config is the read-only snapshot used by every pipeline stage of an invocation.
// It is resolved once by Load and must not be modified afterwards.
type Config struct {
	// StaticTTL is the cache lifetime advertised on outbound requests.
	StaticTTL time.Duration `koanf:"-" validate:"required,gte=1s"`

	// PrimaryHost is the origin contacted first.
	PrimaryHost string `koanf:"primary_host" validate:"required"`

	// FallbackHost is contacted once when the primary fails.
	FallbackHost string `koanf:"fallback_host" validate:"required"`

	// DistributionHost serves the database dump; clients are redirected to it.
	DistributionHost string `koanf:"distribution_host" validate:"required"`

	// RequestLogsEndpoint names the output channel for access log lines.
	RequestLogsEndpoint string `koanf:"request_logs_endpoint" validate:"required"`

	// ServiceLogsEndpoint names the output channel for service (diagnostic) logs.
	ServiceLogsEndpoint string `koanf:"service_logs_endpoint" validate:"required"`

	// Endpoints maps log endpoint names to destinations (stdout, stderr, discard
	// or a file path). Endpoints that are not listed write to stdout.
	Endpoints map[string]string `koanf:"endpoints"`
}

// Load reads the configuration from the YAML file at path (skipped when path is
// empty) and then applies EDGE_ environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if raw := k.String("static_ttl"); raw != "" {
		ttl, err := ParseTTL(raw)
		if err != nil {
			return nil, err
		}
		cfg.StaticTTL = ttl
	}

	cfg.normalizeEndpoints()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that every field is set.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return fmt.Errorf("invalid config: missing or invalid %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParseTTL accepts a Go duration ("1h") or a whole number of seconds ("3600").
// The TTL is advertised in whole seconds, so it must be at least one second.
func ParseTTL(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if secs <= 0 || secs > maxTTLSeconds {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTTL, raw)
		}
		return time.Duration(secs) * time.Second, nil
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil || ttl < time.Second {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTTL, raw)
	}
	return ttl, nil
}

// normalizeEndpoints lowercases endpoint names and destination keys. When a
// file key and an environment key differ only in case, the lowercase
// (environment) entry wins.
func (c *Config) normalizeEndpoints() {
	c.RequestLogsEndpoint = strings.ToLower(c.RequestLogsEndpoint)
	c.ServiceLogsEndpoint = strings.ToLower(c.ServiceLogsEndpoint)

	if len(c.Endpoints) == 0 {
		return
	}
	dests := make(map[string]string, len(c.Endpoints))
	for name, dest := range c.Endpoints {
		key := strings.ToLower(name)
		if _, taken := dests[key]; taken && name != key {
			continue
		}
		dests[key] = dest
	}
	c.Endpoints = dests
}

// Destination returns the configured destination for a named log endpoint,
// defaulting to stdout. Names are matched case-insensitively.
func (c *Config) Destination(endpoint string) string {
	if dest, ok := c.Endpoints[strings.ToLower(endpoint)]; ok && dest != "" {
		return dest
	}
	return "stdout"
}
