package core

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay-server/internal/metrics"
)

// Authenticator resolves a registration token to the identity it was issued for.
type Authenticator interface {
	Authenticate(token string) (identity string, err error)
}

// Option configures a Hub.
type Option func(*hubOptions)

type hubOptions struct {
	logger       *zerolog.Logger
	metrics      *metrics.Metrics
	auth         Authenticator
	requireAuth  bool
	fanout       FanoutMode
	storeTimeout time.Duration
	now          func() time.Time
	observers    []PresenceObserver
}

// WithLogger sets the hub logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(o *hubOptions) { o.logger = logger }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *hubOptions) { o.metrics = m }
}

// WithAuthenticator checks register tokens. When required is true a register
// command without a valid token is rejected.
func WithAuthenticator(a Authenticator, required bool) Option {
	return func(o *hubOptions) {
		o.auth = a
		o.requireAuth = required
	}
}

// WithFanout selects the presence fan-out policy.
func WithFanout(mode FanoutMode) Option {
	return func(o *hubOptions) { o.fanout = mode }
}

// WithStoreTimeout bounds every store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(o *hubOptions) { o.storeTimeout = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *hubOptions) { o.now = now }
}

// WithPresenceObserver receives every presence transition.
func WithPresenceObserver(obs PresenceObserver) Option {
	return func(o *hubOptions) { o.observers = append(o.observers, obs) }
}
