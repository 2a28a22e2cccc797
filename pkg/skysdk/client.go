package skysdk

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/skytab/pkg/session"
	"github.com/aussiebroadwan/skytab/pkg/slogx"
	"github.com/aussiebroadwan/skytab/pkg/xrpc"
)

// DefaultMaxPostGraphemes is the post length limit of app.bsky.feed.post.
const DefaultMaxPostGraphemes = 300

// Session and State are re-exported so callers need only this package.
type (
	Session = session.Session
	State   = session.State
)

// Session states.
const (
	StateUnauthenticated = session.StateUnauthenticated
	StateAuthenticating  = session.StateAuthenticating
	StateAuthenticated   = session.StateAuthenticated
	StateRefreshing      = session.StateRefreshing
	StateExpired         = session.StateExpired
)

// Config configures an SDKClient. Zero values pick the defaults.
type Config struct {
	HTTPClient *http.Client

	// AttemptTimeout bounds each HTTP attempt. Defaults to 10s.
	AttemptTimeout time.Duration

	Retry xrpc.RetryPolicy

	// RequestsPerSecond enables client-side rate limiting across all calls.
	RequestsPerSecond float64
	Burst             int

	UserAgent string
	Logger    *slog.Logger

	// MaxPostGraphemes is the longest post accepted by CreatePost.
	MaxPostGraphemes int

	// Langs are attached to created posts.
	Langs []string

	// PublicFeeds maps a service endpoint to the feed generator served to
	// anonymous GetTimeline calls on that service.
	PublicFeeds map[string]string

	// DefaultPublicFeed is used for services missing from PublicFeeds. When
	// both are empty, anonymous timelines fail with AuthRequired.
	DefaultPublicFeed string

	Session session.Config
}

// SDKClient is the facade. It is safe for concurrent use.
type SDKClient struct {
	xrpc     *xrpc.Client
	sessions *session.Manager
	logger   *slog.Logger

	maxPostGraphemes  int
	langs             []string
	publicFeeds       map[string]string
	defaultPublicFeed string

	now func() time.Time
}

// NewSDKClient creates an SDKClient.
func NewSDKClient(cfg Config) *SDKClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slogx.Discard()
	}

	transport := xrpc.NewClient(xrpc.Config{
		HTTPClient:        cfg.HTTPClient,
		AttemptTimeout:    cfg.AttemptTimeout,
		Retry:             cfg.Retry,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		UserAgent:         cfg.UserAgent,
		Logger:            logger,
	})

	sessCfg := cfg.Session
	if sessCfg.Logger == nil {
		sessCfg.Logger = logger
	}

	c := &SDKClient{
		xrpc:              transport,
		sessions:          session.NewManager(transport, sessCfg),
		logger:            logger,
		maxPostGraphemes:  cfg.MaxPostGraphemes,
		langs:             cfg.Langs,
		publicFeeds:       make(map[string]string, len(cfg.PublicFeeds)),
		defaultPublicFeed: cfg.DefaultPublicFeed,
		now:               time.Now,
	}
	if c.maxPostGraphemes <= 0 {
		c.maxPostGraphemes = DefaultMaxPostGraphemes
	}
	for service, feedURI := range cfg.PublicFeeds {
		c.publicFeeds[xrpc.NormalizeService(service)] = feedURI
	}
	return c
}

// Login authenticates identifier (a handle, email or DID) with secret,
// normally an app password.
func (c *SDKClient) Login(ctx context.Context, service, identifier, secret string) (*Session, error) {
	return c.sessions.Login(ctx, service, identifier, secret)
}

// ResumeSession adopts a session persisted by the caller.
func (c *SDKClient) ResumeSession(s Session) (*Session, error) {
	return c.sessions.Resume(s)
}

// CurrentSession returns the newest session of s's lineage. Callers that
// persist sessions should save this after each operation.
func (c *SDKClient) CurrentSession(s *Session) *Session {
	return c.sessions.Current(s)
}

// SessionState reports where s's lineage is in the login/refresh cycle.
func (c *SDKClient) SessionState(s *Session) State {
	return c.sessions.State(s)
}

// Logout ends the session on the server and forgets it locally.
func (c *SDKClient) Logout(ctx context.Context, s *Session) error {
	return c.sessions.Logout(ctx, s)
}

func (c *SDKClient) log(ctx context.Context) *slog.Logger {
	return slogx.FromContextOr(ctx, c.logger)
}
