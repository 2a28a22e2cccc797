// Package session owns AT Protocol session tokens: login, refresh and the
// refresh-and-retry loop around authenticated calls.
//
// Every login starts a lineage identified by Session.ID. Refreshing yields a
// new immutable Session with the same ID, and the Manager always resolves a
// session to the newest one of its lineage, so callers holding an older
// value keep working:
//
//	mgr := session.NewManager(xrpcClient, session.Config{})
//	s, err := mgr.Login(ctx, "https://bsky.social", "alice.bsky.social", appPassword)
//	resp, err := mgr.AuthenticatedRequest(ctx, s, xrpc.Query("app.bsky.feed.getTimeline", nil))
//
// At most one refresh per lineage is in flight at any time.
package session
