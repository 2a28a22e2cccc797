// Package fakepds is an in-memory PDS and AppView speaking just enough of
// the com.atproto.server, com.atproto.repo and app.bsky.feed lexicons to
// exercise the client end to end. It supports fault injection and counts
// calls per NSID.
package fakepds

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/skytab/pkg/httpx"
	"github.com/aussiebroadwan/skytab/pkg/jwtx"
	"github.com/aussiebroadwan/skytab/pkg/slogx"
)

// Options configures a Server. Zero values pick the defaults.
type Options struct {
	Logger *slog.Logger

	// Secret signs session tokens.
	Secret []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// RateLimit, if set, limits requests per client IP.
	RateLimit *httpx.RateLimitConfig

	// PublicFeeds are the feed URIs getFeed serves without authentication.
	PublicFeeds []string
}

// Fault is an error response served instead of the real handler.
type Fault struct {
	Status int

	// Error is the XRPC error name. Defaults from Status.
	Error string

	// RetryAfter, if set, is sent as the Retry-After header.
	RetryAfter string
}

// Server is the fake. It implements http.Handler.
type Server struct {
	logger  *slog.Logger
	signer  *jwtx.HS256
	handler http.Handler

	accessTTL   time.Duration
	refreshTTL  time.Duration
	publicFeeds map[string]bool

	mu         sync.Mutex
	endpoint   string
	accounts   map[string]*Account // by DID
	identities map[string]string   // handle or email -> DID
	posts      []*post             // creation order
	postsByURI map[string]*post
	liveAccess map[string]string // jti -> DID
	liveReauth map[string]string // refresh jti -> DID
	faults     map[string][]Fault
	calls      map[string]int

	now func() time.Time
}

// New creates a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slogx.Discard()
	}

	secret := opts.Secret
	if len(secret) == 0 {
		secret = []byte("fakepds-secret")
	}
	signer, err := jwtx.NewHS256(secret)
	if err != nil {
		panic(err)
	}

	s := &Server{
		logger:      logger,
		signer:      signer,
		accessTTL:   opts.AccessTTL,
		refreshTTL:  opts.RefreshTTL,
		publicFeeds: make(map[string]bool),
		accounts:    make(map[string]*Account),
		identities:  make(map[string]string),
		postsByURI:  make(map[string]*post),
		liveAccess:  make(map[string]string),
		liveReauth:  make(map[string]string),
		faults:      make(map[string][]Fault),
		calls:       make(map[string]int),
		now:         time.Now,
	}
	if s.accessTTL <= 0 {
		s.accessTTL = jwtx.DefaultAccessTokenTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = jwtx.DefaultRefreshTokenTTL
	}
	for _, f := range opts.PublicFeeds {
		s.publicFeeds[f] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /xrpc/com.atproto.server.createSession", s.handleCreateSession)
	mux.HandleFunc("POST /xrpc/com.atproto.server.refreshSession", s.handleRefreshSession)
	mux.HandleFunc("POST /xrpc/com.atproto.server.deleteSession", s.handleDeleteSession)
	mux.HandleFunc("POST /xrpc/com.atproto.repo.createRecord", s.handleCreateRecord)
	mux.HandleFunc("GET /xrpc/app.bsky.feed.getTimeline", s.handleGetTimeline)
	mux.HandleFunc("GET /xrpc/app.bsky.feed.getFeed", s.handleGetFeed)
	mux.HandleFunc("GET /xrpc/app.bsky.feed.getPostThread", s.handleGetPostThread)
	mux.HandleFunc("GET /xrpc/app.bsky.feed.getPosts", s.handleGetPosts)
	mux.HandleFunc("/xrpc/", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteXRPCError(w, http.StatusNotImplemented, "MethodNotImplemented", "method not implemented")
	})

	middlewares := []httpx.Middleware{
		slogx.HTTPMiddleware(logger),
		s.countAndFault,
	}
	if opts.RateLimit != nil {
		middlewares = append(middlewares, httpx.RateLimitMiddleware(*opts.RateLimit, httpx.TokenOrIPKeyExtractor))
	}
	s.handler = httpx.Chain(mux, middlewares...)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// SetEndpoint makes login responses advertise endpoint as the account's PDS
// in the DID document.
func (s *Server) SetEndpoint(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint = endpoint
}

// FailNext queues faults for nsid; each request to it consumes one.
func (s *Server) FailNext(nsid string, faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[nsid] = append(s.faults[nsid], faults...)
}

// Calls reports how many requests reached nsid, faults included.
func (s *Server) Calls(nsid string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[nsid]
}

// ExpireAccessTokens makes every access token issued so far answer with
// ExpiredToken. Refresh tokens stay valid.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.liveAccess)
}

// RevokeSessions invalidates every token issued so far.
func (s *Server) RevokeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.liveAccess)
	clear(s.liveReauth)
}

func (s *Server) countAndFault(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nsid := strings.TrimPrefix(r.URL.Path, "/xrpc/")

		s.mu.Lock()
		s.calls[nsid]++
		var fault *Fault
		if queue := s.faults[nsid]; len(queue) > 0 {
			fault = &queue[0]
			s.faults[nsid] = queue[1:]
		}
		s.mu.Unlock()

		if fault == nil {
			next.ServeHTTP(w, r)
			return
		}

		slogx.FromContext(r.Context()).Debug("injecting fault", "nsid", nsid, "status", fault.Status)

		name := fault.Error
		if name == "" {
			name = defaultErrorName(fault.Status)
		}
		if fault.RetryAfter != "" {
			w.Header().Set("Retry-After", fault.RetryAfter)
		}
		httpx.WriteXRPCError(w, fault.Status, name, "injected fault")
	})
}

func defaultErrorName(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "RateLimitExceeded"
	case status == http.StatusUnauthorized:
		return "AuthenticationRequired"
	case status == http.StatusConflict:
		return "DuplicateRecord"
	case status >= 500:
		return "InternalServerError"
	default:
		return "InvalidRequest"
	}
}
