package session

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/skytab/pkg/apierr"
	"github.com/aussiebroadwan/skytab/pkg/xrpc"
)

// Refresh exchanges s's refresh token for a new session.
//
// It is idempotent: if s has already been superseded, the newest session of
// the lineage is returned without a network call. Concurrent refreshes of
// one lineage share a single in-flight request. That request is detached
// from the caller that started it; a caller whose ctx ends stops waiting
// while the refresh completes for everyone else.
//
// A refresh the server rejects moves the lineage to StateExpired and
// returns SessionExpired. Transient failures keep the lineage usable and
// return their own kind.
func (m *Manager) Refresh(ctx context.Context, s *Session) (*Session, error) {
	const op = NSIDRefreshSession

	if s == nil || s.RefreshToken == "" {
		return nil, apierr.New(apierr.KindAuthRequired, op, "no session")
	}

	key := lineageKey(s)

	m.mu.Lock()
	l, ok := m.lineages[key]
	switch {
	case !ok:
		adopted := *s
		adopted.ID = key
		m.setStateLocked(key, &lineage{current: &adopted}, StateAuthenticated)
	case l.state == StateExpired:
		m.mu.Unlock()
		return nil, apierr.New(apierr.KindSessionExpired, op, "session expired, login required")
	case l.current == nil:
		m.mu.Unlock()
		return nil, apierr.New(apierr.KindAuthRequired, op, "session logged out")
	case l.current.AccessToken != s.AccessToken:
		cur := l.current
		m.mu.Unlock()
		return cur, nil
	}
	m.mu.Unlock()

	stale := s.AccessToken
	ch := m.group.DoChan(key, func() (any, error) {
		return m.doRefresh(context.WithoutCancel(ctx), key, stale)
	})

	select {
	case <-ctx.Done():
		return nil, &apierr.Error{Kind: apierr.KindNetwork, Op: op, Message: "refresh wait cancelled", Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	}
}

// doRefresh runs as the single in-flight refresh of a lineage.
func (m *Manager) doRefresh(ctx context.Context, key, stale string) (*Session, error) {
	const op = NSIDRefreshSession
	log := m.log(ctx).With("session_id", key)

	m.mu.Lock()
	l, ok := m.lineages[key]
	switch {
	case !ok || l.current == nil:
		m.mu.Unlock()
		return nil, apierr.New(apierr.KindAuthRequired, op, "session logged out")
	case l.state == StateExpired:
		m.mu.Unlock()
		return nil, apierr.New(apierr.KindSessionExpired, op, "session expired, login required")
	case l.current.AccessToken != stale:
		// A refresh finished between the caller's check and this one.
		cur := l.current
		m.mu.Unlock()
		return cur, nil
	}
	prev := l.current
	m.setStateLocked(key, l, StateRefreshing)
	m.mu.Unlock()

	resp, err := m.exec.Execute(ctx, prev.Service, xrpc.Procedure(op, nil).WithToken(prev.RefreshToken))
	var out sessionOutput
	if err == nil {
		out, err = decodeSessionOutput(op, resp)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Logout may have raced the refresh.
	if l.current == nil {
		return nil, apierr.New(apierr.KindAuthRequired, op, "session logged out")
	}

	if err != nil {
		if apierr.KindOf(err).Retryable() {
			m.setStateLocked(key, l, StateAuthenticated)
			log.Warn("session refresh failed, will retry later", "err", err)
			return nil, fmt.Errorf("refresh session: %w", err)
		}
		m.setStateLocked(key, l, StateExpired)
		log.Info("session expired", "kind", apierr.KindOf(err).String())
		return nil, apierr.Reclassify(err, apierr.KindSessionExpired, op)
	}

	next := &Session{
		ID:           prev.ID,
		Service:      prev.Service,
		Identifier:   prev.Identifier,
		DID:          out.DID,
		Handle:       out.Handle,
		AccessToken:  out.AccessJwt,
		RefreshToken: out.RefreshJwt,
		ExpiresAt:    m.expiresAt(out.AccessJwt),
	}
	if next.Handle == "" {
		next.Handle = prev.Handle
	}
	if pds := pdsEndpoint(out.DIDDoc); pds != "" {
		next.Service = pds
	}

	l.current = next
	m.setStateLocked(key, l, StateAuthenticated)
	m.maybePruneLocked()

	log.Debug("session refreshed", "expires_at", next.ExpiresAt)
	return next, nil
}

// AuthenticatedRequest performs req as s's account.
//
// The newest session of the lineage is used, refreshed first if its access
// token is past ExpiresAt. If the server still reports the token expired,
// the session is refreshed once and req is retried once. A refresh the
// server rejects is SessionExpired; login is never retried.
func (m *Manager) AuthenticatedRequest(ctx context.Context, s *Session, req xrpc.Request) (*xrpc.Response, error) {
	op := req.NSID

	if s == nil {
		return nil, apierr.New(apierr.KindAuthRequired, op, "login required")
	}

	cur, err := m.usable(s, op)
	if err != nil {
		return nil, err
	}

	refreshed := false
	if cur.ExpiredAt(m.now()) {
		cur, err = m.Refresh(ctx, cur)
		if err != nil {
			return nil, err
		}
		refreshed = true
	}

	resp, err := m.exec.Execute(ctx, cur.Service, req.WithToken(cur.AccessToken))
	if !apierr.Is(err, apierr.KindAuthExpired) {
		return resp, err
	}

	if refreshed {
		return nil, m.expire(cur, err, op)
	}

	m.log(ctx).Debug("access token rejected, refreshing", "session_id", cur.ID, "nsid", op)

	cur, err = m.Refresh(ctx, cur)
	if err != nil {
		return nil, err
	}

	resp, err = m.exec.Execute(ctx, cur.Service, req.WithToken(cur.AccessToken))
	if apierr.Is(err, apierr.KindAuthExpired) {
		return nil, m.expire(cur, err, op)
	}
	return resp, err
}

// usable resolves s to the newest session of its lineage and rejects
// lineages that are expired or logged out.
func (m *Manager) usable(s *Session, op string) (*Session, error) {
	key := lineageKey(s)

	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lineages[key]
	if !ok {
		if s.AccessToken == "" {
			return nil, apierr.New(apierr.KindAuthRequired, op, "login required")
		}
		adopted := *s
		adopted.ID = key
		m.setStateLocked(key, &lineage{current: &adopted}, StateAuthenticated)
		return &adopted, nil
	}

	switch {
	case l.state == StateExpired:
		return nil, apierr.New(apierr.KindSessionExpired, op, "session expired, login required")
	case l.current == nil:
		return nil, apierr.New(apierr.KindAuthRequired, op, "login required")
	}
	return l.current, nil
}

// expire marks the lineage expired after freshly refreshed tokens were
// still rejected.
func (m *Manager) expire(s *Session, cause error, op string) error {
	m.mu.Lock()
	if l, ok := m.lineages[lineageKey(s)]; ok && l.current != nil {
		m.setStateLocked(lineageKey(s), l, StateExpired)
	}
	m.mu.Unlock()
	return apierr.Reclassify(cause, apierr.KindSessionExpired, op)
}
