// Package api implements the slider captcha verification service: it issues
// challenges, verifies drag attempts and redeems the resulting tokens.
package api

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/slidergate/captcha"
	"github.com/jmcleod/slidergate/internal/util"
	"github.com/jmcleod/slidergate/storage"
)

const (
	// DefaultImageBase prefixes the image references handed to clients.
	DefaultImageBase     = "/captcha/img"
	defaultSweepInterval = time.Minute
	tokenKeySize         = 32
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	repo      storage.Repository
	policies  map[captcha.Scene]ScenePolicy
	imageBase string
	signer    *tokenSigner
	tokenKey  []byte

	issueLimiter *issueLimiter
	failures     *failureLimiter
	audit        *auditLogger
	logger       *slog.Logger

	webhookURL     string
	webhookAuth    string
	alertFn        AlertFunc
	trustedProxies []netip.Prefix
	now            func() time.Time
	sweepInterval  time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithScenePolicies replaces the enabled scenes and their policies.
func WithScenePolicies(p map[captcha.Scene]ScenePolicy) Option {
	return func(a *API) {
		a.policies = p
	}
}

// WithImageBase sets the prefix of background and puzzle image references.
func WithImageBase(base string) Option {
	return func(a *API) {
		a.imageBase = base
	}
}

// WithTokenKey sets the secret captcha tokens are signed with. Without it a
// random key is generated, so tokens do not survive a restart.
func WithTokenKey(key []byte) Option {
	return func(a *API) {
		a.tokenKey = key
	}
}

// WithAuditWebhook forwards audit events to url. authHeader, when set, has
// the form "Header: Value".
func WithAuditWebhook(url, authHeader string) Option {
	return func(a *API) {
		a.webhookURL = url
		a.webhookAuth = authHeader
	}
}

// WithAlertFunc registers a callback for verification and issuance spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithTrustedProxies configures the CIDR ranges whose forwarding headers are
// honoured when determining the client address.
func WithTrustedProxies(proxies []netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = proxies
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		a.now = now
	}
}

// WithSweepInterval sets how often expired challenges and limiter state are
// purged. Zero or negative disables the sweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(a *API) {
		a.sweepInterval = d
	}
}

// New creates a new API instance and starts its background sweeper.
func New(repo storage.Repository, opts ...Option) (*API, error) {
	a := &API{
		repo:          repo,
		imageBase:     DefaultImageBase,
		now:           time.Now,
		sweepInterval: defaultSweepInterval,
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.policies == nil {
		a.policies = DefaultScenePolicies()
	}
	for scene, p := range a.policies {
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("scene %s: %w", scene, err)
		}
	}

	key := a.tokenKey
	if len(key) == 0 {
		var err error
		if key, err = util.RandomBytes(tokenKeySize); err != nil {
			return nil, err
		}
		defer util.WipeBytes(key)
		a.logger.Warn("no token key configured, captcha tokens will not survive a restart")
	}
	signer, err := newTokenSigner(key)
	if err != nil {
		return nil, err
	}
	a.signer = signer
	a.tokenKey = nil

	a.issueLimiter = newIssueLimiter(a.now)
	a.failures = newFailureLimiter(a.now)
	a.audit = newAuditLogger(a.logger, a.now)
	a.audit.metrics = newMetricsCollector(a.alertFn, a.now)
	if a.webhookURL != "" {
		a.audit.webhook = newAuditWebhook(a.webhookURL, a.webhookAuth, a.logger)
	}

	if a.sweepInterval > 0 {
		a.wg.Add(1)
		go a.sweepLoop()
	}
	return a, nil
}

// Close stops the sweeper and flushes the audit webhook.
func (a *API) Close() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
	})
	a.wg.Wait()
	if a.audit != nil && a.audit.webhook != nil {
		a.audit.webhook.close()
	}
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Group(func(r chi.Router) {
		r.Use(SecurityHeaders)
		r.Use(a.ClientIPMiddleware)

		r.Post("/captcha/slider/issue", a.IssueChallenge)
		r.Post("/captcha/slider/verify", a.VerifyAttempt)
		r.Post("/captcha/slider/discard", a.DiscardChallenge)
		r.Post("/captcha/tokens/redeem", a.RedeemToken)
	})

	return r
}

func (a *API) sweepLoop() {
	defer a.wg.Done()
	t := time.NewTicker(a.sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-t.C:
			a.sweep(context.Background())
		}
	}
}

// sweep purges expired storage records and idle limiter state.
func (a *API) sweep(ctx context.Context) {
	n, err := a.repo.SweepExpired(ctx, a.now())
	if err != nil {
		a.logger.Warn("sweeping expired challenges", "error", err)
	} else if n > 0 {
		a.logger.Debug("swept expired records", "count", n)
	}
	a.failures.sweep()
	a.issueLimiter.sweep(a.maxIssueWindow())
}

func (a *API) maxIssueWindow() time.Duration {
	var longest time.Duration
	for _, p := range a.policies {
		longest = max(longest, p.IssueWindow)
	}
	return longest
}

func (a *API) policy(scene captcha.Scene) (ScenePolicy, bool) {
	p, ok := a.policies[scene]
	return p, ok
}
