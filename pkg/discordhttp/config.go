package discordhttp

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// OverflowPolicy controls what happens when the ingress buffer is full.
type OverflowPolicy int

const (
	// Backpressure blocks the producer until room is available. The only
	// policy that never loses a request.
	Backpressure OverflowPolicy = iota
	// DropNewest rejects the incoming request, keeping the buffer as-is.
	DropNewest
	// DropOldest evicts the oldest buffered request to make room.
	DropOldest
	// DropBuffer clears the entire buffer to make room.
	DropBuffer
	// Fail rejects the incoming request immediately, identical to
	// DropNewest from the caller's point of view but documents intent.
	Fail
)

func (p OverflowPolicy) String() string {
	switch p {
	case Backpressure:
		return "backpressure"
	case DropNewest:
		return "drop_newest"
	case DropOldest:
		return "drop_oldest"
	case DropBuffer:
		return "drop_buffer"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// Config is the full configuration for a Pipeline, loadable from YAML via
// LoadConfig or built in code with the With* functional options below.
type Config struct {
	MillisecondPrecision bool          `yaml:"millisecond_precision"`
	RelativeTime         bool          `yaml:"relative_time"`
	BufferSize           int           `yaml:"buffer_size"`
	Overflow             OverflowPolicy `yaml:"-"`
	MaxAllowedWait       time.Duration `yaml:"-"`
	Parallelism          int           `yaml:"parallelism"`
	MaxRetries           int           `yaml:"max_retries"`
	MaxBuckets           int           `yaml:"max_buckets"`
	HTTPTimeout          time.Duration `yaml:"-"`
	LogSentREST          bool          `yaml:"log_sent_rest"`
	LogReceivedREST       bool          `yaml:"log_received_rest"`
	LogRatelimitEvents   bool          `yaml:"log_ratelimit_events"`
	UserAgent            string        `yaml:"user_agent"`

	recorder MetricsRecorder
}

// rawConfig mirrors Config for YAML fields that need a non-Duration/enum
// textual form in the file (durations as Go duration strings, overflow
// policy as its string name), matching the teacher-pack's pattern of a
// parse-then-validate config loader (see LoadConfig).
type rawConfig struct {
	MillisecondPrecision bool   `yaml:"millisecond_precision"`
	RelativeTime         bool   `yaml:"relative_time"`
	BufferSize           int    `yaml:"buffer_size"`
	Overflow             string `yaml:"overflow"`
	MaxAllowedWait       string `yaml:"max_allowed_wait"`
	Parallelism          int    `yaml:"parallelism"`
	MaxRetries           int    `yaml:"max_retries"`
	MaxBuckets           int    `yaml:"max_buckets"`
	HTTPTimeout          string `yaml:"http_timeout"`
	LogSentREST          bool   `yaml:"log_sent_rest"`
	LogReceivedREST      bool   `yaml:"log_received_rest"`
	LogRatelimitEvents   bool   `yaml:"log_ratelimit_events"`
	UserAgent            string `yaml:"user_agent"`
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:     100,
		Overflow:       Backpressure,
		MaxAllowedWait: 2 * time.Minute,
		Parallelism:    4,
		MaxRetries:     3,
		MaxBuckets:     defaultMaxBuckets,
		HTTPTimeout:    30 * time.Second,
		UserAgent:      "DiscordBot (https://github.com/nyxbound/discordhttp, 0.1.0)",
		recorder:       &NoOpMetricsRecorder{},
	}
}

// Option configures a Config in-code, in the teacher's functional-options
// style.
type Option func(*Config)

func WithMillisecondPrecision(v bool) Option { return func(c *Config) { c.MillisecondPrecision = v } }
func WithRelativeTime(v bool) Option         { return func(c *Config) { c.RelativeTime = v } }
func WithBufferSize(n int) Option            { return func(c *Config) { c.BufferSize = n } }
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(c *Config) { c.Overflow = p }
}
func WithMaxAllowedWait(d time.Duration) Option { return func(c *Config) { c.MaxAllowedWait = d } }
func WithParallelism(n int) Option              { return func(c *Config) { c.Parallelism = n } }
func WithMaxRetries(n int) Option               { return func(c *Config) { c.MaxRetries = n } }
func WithMaxBuckets(n int) Option               { return func(c *Config) { c.MaxBuckets = n } }
func WithHTTPTimeout(d time.Duration) Option    { return func(c *Config) { c.HTTPTimeout = d } }
func WithUserAgent(ua string) Option            { return func(c *Config) { c.UserAgent = ua } }
func WithLogging(sent, received, ratelimit bool) Option {
	return func(c *Config) {
		c.LogSentREST = sent
		c.LogReceivedREST = received
		c.LogRatelimitEvents = ratelimit
	}
}

// WithRecorder injects a MetricsRecorder; the default is a no-op so the
// hot path never needs a nil check.
func WithRecorder(r MetricsRecorder) Option {
	return func(c *Config) {
		if r != nil {
			c.recorder = r
		}
	}
}

// NewConfig builds a Config from DefaultConfig with opts applied, then
// validates it.
func NewConfig(opts ...Option) (Config, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.BufferSize <= 0 {
		return fmt.Errorf("discordhttp: buffer_size must be > 0, got %d", c.BufferSize)
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("discordhttp: parallelism must be > 0, got %d", c.Parallelism)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("discordhttp: max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.MaxBuckets <= 0 {
		return fmt.Errorf("discordhttp: max_buckets must be > 0, got %d", c.MaxBuckets)
	}
	if c.MaxAllowedWait < 0 {
		return fmt.Errorf("discordhttp: max_allowed_wait must be >= 0")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("discordhttp: http_timeout must be > 0")
	}
	switch c.Overflow {
	case Backpressure, DropNewest, DropOldest, DropBuffer, Fail:
	default:
		return fmt.Errorf("discordhttp: unknown overflow policy %v", c.Overflow)
	}
	return nil
}

// LoadConfig reads a YAML config file and validates it, in the same
// load-then-validate shape as the teacher-pack's config.FromFile.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("discordhttp: read config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("discordhttp: parse config: %w", err)
	}
	cfg := DefaultConfig()
	if raw.BufferSize != 0 {
		cfg.BufferSize = raw.BufferSize
	}
	if raw.Parallelism != 0 {
		cfg.Parallelism = raw.Parallelism
	}
	if raw.MaxRetries != 0 {
		cfg.MaxRetries = raw.MaxRetries
	}
	if raw.MaxBuckets != 0 {
		cfg.MaxBuckets = raw.MaxBuckets
	}
	if raw.UserAgent != "" {
		cfg.UserAgent = raw.UserAgent
	}
	cfg.MillisecondPrecision = raw.MillisecondPrecision
	cfg.RelativeTime = raw.RelativeTime
	cfg.LogSentREST = raw.LogSentREST
	cfg.LogReceivedREST = raw.LogReceivedREST
	cfg.LogRatelimitEvents = raw.LogRatelimitEvents

	if raw.Overflow != "" {
		p, err := parseOverflowPolicy(raw.Overflow)
		if err != nil {
			return Config{}, err
		}
		cfg.Overflow = p
	}
	if raw.MaxAllowedWait != "" {
		d, err := time.ParseDuration(raw.MaxAllowedWait)
		if err != nil {
			return Config{}, fmt.Errorf("discordhttp: max_allowed_wait: %w", err)
		}
		cfg.MaxAllowedWait = d
	}
	if raw.HTTPTimeout != "" {
		d, err := time.ParseDuration(raw.HTTPTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("discordhttp: http_timeout: %w", err)
		}
		cfg.HTTPTimeout = d
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "backpressure":
		return Backpressure, nil
	case "drop_newest":
		return DropNewest, nil
	case "drop_oldest":
		return DropOldest, nil
	case "drop_buffer":
		return DropBuffer, nil
	case "fail":
		return Fail, nil
	default:
		return 0, fmt.Errorf("discordhttp: unknown overflow policy %q", s)
	}
}
