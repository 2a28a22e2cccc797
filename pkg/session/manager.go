package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/skytab/pkg/apierr"
	"github.com/aussiebroadwan/skytab/pkg/idx"
	"github.com/aussiebroadwan/skytab/pkg/jwtx"
	"github.com/aussiebroadwan/skytab/pkg/slogx"
	"github.com/aussiebroadwan/skytab/pkg/xrpc"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultExpiryBuffer is subtracted from the access token's exp so the
	// token is refreshed before the server starts rejecting it.
	DefaultExpiryBuffer = 30 * time.Second

	// DefaultFallbackTTL is used when the access token's exp cannot be read.
	DefaultFallbackTTL = 5 * time.Minute

	// DefaultRetention is how long an idle lineage is remembered.
	DefaultRetention = jwtx.DefaultRefreshTokenTTL

	pruneInterval = 5 * time.Minute
)

// Executor performs XRPC calls. *xrpc.Client satisfies it.
type Executor interface {
	Execute(ctx context.Context, service string, req xrpc.Request) (*xrpc.Response, error)
}

// Config holds Manager settings. Zero values pick the defaults.
type Config struct {
	ExpiryBuffer time.Duration
	FallbackTTL  time.Duration

	// Retention bounds how long an untouched lineage is kept.
	Retention time.Duration

	Logger *slog.Logger

	// OnStateChange, if set, observes every lineage state transition. It is
	// called with the Manager's lock held and must not call back into it.
	OnStateChange func(id string, from, to State)
}

// lineage tracks the newest session of one login.
type lineage struct {
	current *Session
	state   State
	updated time.Time
}

// Manager owns session tokens. It is the only writer of token fields and is
// safe for concurrent use.
type Manager struct {
	exec         Executor
	expiryBuffer time.Duration
	fallbackTTL  time.Duration
	retention    time.Duration
	logger       *slog.Logger
	onState      func(id string, from, to State)

	group singleflight.Group

	mu        sync.Mutex
	lineages  map[string]*lineage
	lastPrune time.Time

	now func() time.Time
}

// NewManager creates a Manager that issues calls through exec.
func NewManager(exec Executor, cfg Config) *Manager {
	m := &Manager{
		exec:         exec,
		expiryBuffer: cfg.ExpiryBuffer,
		fallbackTTL:  cfg.FallbackTTL,
		retention:    cfg.Retention,
		logger:       cfg.Logger,
		onState:      cfg.OnStateChange,
		lineages:     make(map[string]*lineage),
		now:          time.Now,
	}
	if m.expiryBuffer <= 0 {
		m.expiryBuffer = DefaultExpiryBuffer
	}
	if m.fallbackTTL <= 0 {
		m.fallbackTTL = DefaultFallbackTTL
	}
	if m.retention <= 0 {
		m.retention = DefaultRetention
	}
	m.lastPrune = m.now()
	return m
}

// Login exchanges credentials for a new session.
//
// Rejected credentials (any 4xx other than 429) are InvalidCredentials. A
// service that stays unreachable or keeps failing is ServiceUnavailable.
func (m *Manager) Login(ctx context.Context, service, identifier, secret string) (*Session, error) {
	const op = NSIDCreateSession

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apierr.Validation(op, "identifier is required")
	}
	if secret == "" {
		return nil, apierr.Validation(op, "secret is required")
	}
	if _, err := xrpc.ParseService(service); err != nil {
		return nil, &apierr.Error{Kind: apierr.KindValidation, Op: op, Message: "invalid service endpoint", Err: err}
	}

	id := idx.New().String()
	log := m.log(ctx).With("session_id", id)

	m.mu.Lock()
	m.setStateLocked(id, &lineage{}, StateAuthenticating)
	m.mu.Unlock()

	s, err := m.createSession(ctx, id, service, identifier, secret)
	if err != nil {
		m.mu.Lock()
		m.dropLocked(id)
		m.mu.Unlock()

		log.Info("login failed", "identifier", identifier, "kind", apierr.KindOf(err).String())
		return nil, err
	}

	m.mu.Lock()
	m.maybePruneLocked()
	l := m.lineages[id]
	if l == nil {
		l = &lineage{}
	}
	l.current = s
	m.setStateLocked(id, l, StateAuthenticated)
	m.mu.Unlock()

	log.Info("login succeeded", "did", s.DID, "service", s.Service)
	return s, nil
}

func (m *Manager) createSession(ctx context.Context, id, service, identifier, secret string) (*Session, error) {
	const op = NSIDCreateSession

	resp, err := m.exec.Execute(ctx, service, xrpc.Procedure(op, createSessionInput{
		Identifier: identifier,
		Password:   secret,
	}))
	if err != nil {
		return nil, loginError(err)
	}

	out, err := decodeSessionOutput(op, resp)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:           id,
		Service:      xrpc.NormalizeService(service),
		Identifier:   identifier,
		DID:          out.DID,
		Handle:       out.Handle,
		AccessToken:  out.AccessJwt,
		RefreshToken: out.RefreshJwt,
		ExpiresAt:    m.expiresAt(out.AccessJwt),
	}
	if pds := pdsEndpoint(out.DIDDoc); pds != "" {
		s.Service = pds
	}
	return s, nil
}

// loginError maps a createSession failure onto the login taxonomy.
func loginError(err error) error {
	const op = NSIDCreateSession

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	switch apierr.KindOf(err) {
	case apierr.KindValidation, apierr.KindRateLimited, apierr.KindMalformedResponse:
		return err
	case apierr.KindClient, apierr.KindAuthExpired, apierr.KindNotFound:
		return apierr.Reclassify(err, apierr.KindInvalidCredentials, op)
	case apierr.KindNetwork, apierr.KindServiceUnavailable:
		return apierr.Reclassify(err, apierr.KindServiceUnavailable, op)
	default:
		return apierr.Reclassify(err, apierr.KindServiceUnavailable, op)
	}
}

// Resume adopts a session the caller already holds, e.g. one loaded from
// disk. A missing ID starts a new lineage; a missing ExpiresAt is read from
// the access token. If the lineage is already known, its newest session is
// returned.
func (m *Manager) Resume(s Session) (*Session, error) {
	const op = "session.Resume"

	switch {
	case s.AccessToken == "" || s.RefreshToken == "":
		return nil, apierr.Validation(op, "access and refresh tokens are required")
	case s.DID == "":
		return nil, apierr.Validation(op, "did is required")
	}
	if _, err := xrpc.ParseService(s.Service); err != nil {
		return nil, &apierr.Error{Kind: apierr.KindValidation, Op: op, Message: "invalid service endpoint", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID != "" {
		if l, ok := m.lineages[s.ID]; ok && l.current != nil {
			return l.current, nil
		}
	} else {
		s.ID = idx.New().String()
	}

	s.Service = xrpc.NormalizeService(s.Service)
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = m.expiresAt(s.AccessToken)
	}

	out := s
	m.setStateLocked(out.ID, &lineage{current: &out}, StateAuthenticated)
	return &out, nil
}

// Current returns the newest session of s's lineage, or s itself when the
// lineage is unknown.
func (m *Manager) Current(s *Session) *Session {
	if s == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.lineages[lineageKey(s)]; ok && l.current != nil {
		return l.current
	}
	return s
}

// State returns the lineage state of s. Unknown sessions and nil are
// StateUnauthenticated.
func (m *Manager) State(s *Session) State {
	if s == nil {
		return StateUnauthenticated
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.lineages[lineageKey(s)]; ok {
		return l.state
	}
	return StateUnauthenticated
}

// Logout deletes the session on the server and forgets it locally. The
// local state is dropped even when the remote call fails.
func (m *Manager) Logout(ctx context.Context, s *Session) error {
	const op = NSIDDeleteSession

	if s == nil {
		return apierr.New(apierr.KindAuthRequired, op, "no session")
	}

	cur := m.Current(s)
	key := lineageKey(s)

	m.mu.Lock()
	l, ok := m.lineages[key]
	if !ok {
		l = &lineage{}
	}
	l.current = nil
	m.setStateLocked(key, l, StateUnauthenticated)
	m.mu.Unlock()

	req := xrpc.Procedure(op, nil).WithToken(cur.RefreshToken)
	if _, err := m.exec.Execute(ctx, cur.Service, req); err != nil {
		m.log(ctx).Warn("remote logout failed", "session_id", key, "err", err)
		if apierr.Is(err, apierr.KindAuthExpired) {
			return apierr.Reclassify(err, apierr.KindSessionExpired, op)
		}
		return err
	}
	return nil
}

// expiresAt derives the refresh deadline from the access token.
func (m *Manager) expiresAt(accessToken string) time.Time {
	exp, err := jwtx.ExpiresAt(accessToken)
	if err != nil {
		return m.now().Add(m.fallbackTTL)
	}
	return exp.Add(-m.expiryBuffer)
}

func (m *Manager) log(ctx context.Context) *slog.Logger {
	return slogx.FromContextOr(ctx, m.logger)
}

// lineageKey is the session ID, falling back to a digest of the refresh
// token for sessions minted outside this Manager. The key ends up in logs
// and in Session.ID, so it never carries the token itself.
func lineageKey(s *Session) string {
	if s.ID != "" {
		return s.ID
	}
	sum := sha256.Sum256([]byte(s.RefreshToken))
	return "rt:" + hex.EncodeToString(sum[:16])
}

func (m *Manager) setStateLocked(id string, l *lineage, to State) {
	from := StateUnauthenticated
	if prev, ok := m.lineages[id]; ok {
		from = prev.state
	}
	l.state = to
	l.updated = m.now()
	m.lineages[id] = l

	if from != to && m.onState != nil {
		m.onState(id, from, to)
	}
}

func (m *Manager) dropLocked(id string) {
	l, ok := m.lineages[id]
	if !ok {
		return
	}
	delete(m.lineages, id)
	if m.onState != nil && l.state != StateUnauthenticated {
		m.onState(id, l.state, StateUnauthenticated)
	}
}

// maybePruneLocked forgets lineages nobody has touched within the retention
// window. Lineages mid-login or mid-refresh are kept.
func (m *Manager) maybePruneLocked() {
	now := m.now()
	if now.Sub(m.lastPrune) < pruneInterval {
		return
	}
	m.lastPrune = now

	for id, l := range m.lineages {
		if l.state == StateAuthenticating || l.state == StateRefreshing {
			continue
		}
		if now.Sub(l.updated) > m.retention {
			delete(m.lineages, id)
		}
	}
}
