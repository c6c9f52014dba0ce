package captcha

import (
	"log/slog"
	"time"

	"golang.org/x/text/language"
)

const (
	// DefaultDedupTTL is how long a successful issuance is reused for the
	// same scene.
	DefaultDedupTTL = 300 * time.Millisecond

	defaultReleaseQueueSize = 64
	defaultReleaseTimeout   = 10 * time.Second
)

type clientConfig struct {
	logger           *slog.Logger
	dedupTTL         time.Duration
	releaseQueueSize int
	releaseTimeout   time.Duration
	now              func() time.Time
	lang             language.Tag
	onSuccess        func(Token)
}

func defaultConfig() clientConfig {
	return clientConfig{
		logger:           slog.New(slog.DiscardHandler),
		dedupTTL:         DefaultDedupTTL,
		releaseQueueSize: defaultReleaseQueueSize,
		releaseTimeout:   defaultReleaseTimeout,
		now:              time.Now,
		lang:             language.English,
	}
}

func newConfig(opts []Option) clientConfig {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Option configures a Flow or one of its components.
type Option func(*clientConfig)

// WithLogger sets the structured logger. Components scope it with their
// own "component" attribute.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDedupTTL overrides the issuance dedup window. Zero disables it.
func WithDedupTTL(d time.Duration) Option {
	return func(c *clientConfig) {
		if d >= 0 {
			c.dedupTTL = d
		}
	}
}

// WithReleaseQueueSize bounds the number of pending discard notifications.
func WithReleaseQueueSize(n int) Option {
	return func(c *clientConfig) {
		if n > 0 {
			c.releaseQueueSize = n
		}
	}
}

// WithReleaseTimeout bounds each background discard call.
func WithReleaseTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		if d > 0 {
			c.releaseTimeout = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *clientConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLanguage selects the language of user-facing messages.
func WithLanguage(tag language.Tag) Option {
	return func(c *clientConfig) { c.lang = tag }
}

// WithSuccessHandler registers a callback invoked with the token after a
// successful verification, once the host has been closed.
func WithSuccessHandler(fn func(Token)) Option {
	return func(c *clientConfig) { c.onSuccess = fn }
}
