package fakepds_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/aussiebroadwan/skytab/internal/fakepds"
	"github.com/aussiebroadwan/skytab/pkg/apierr"
	"github.com/aussiebroadwan/skytab/pkg/httpx"
	"github.com/aussiebroadwan/skytab/pkg/xrpc"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*fakepds.Server, *httptest.Server, *xrpc.Client) {
	t.Helper()

	pds := fakepds.New(fakepds.Options{PublicFeeds: []string{"at://did:plc:feeds/app.bsky.feed.generator/all"}})
	pds.AddAccount(fakepds.Account{DID: "did:plc:alice", Handle: "alice.test", Password: "pw"})
	srv := httptest.NewServer(pds)
	t.Cleanup(srv.Close)

	client := xrpc.NewClient(xrpc.Config{Retry: xrpc.RetryPolicy{MaxAttempts: 1}})
	return pds, srv, client
}

func login(t *testing.T, client *xrpc.Client, service string) (access, refresh string) {
	t.Helper()
	resp, err := client.Execute(t.Context(), service, xrpc.Procedure("com.atproto.server.createSession",
		map[string]string{"identifier": "alice.test", "password": "pw"}))
	require.NoError(t, err)

	var out struct {
		AccessJwt  string `json:"accessJwt"`
		RefreshJwt string `json:"refreshJwt"`
	}
	require.NoError(t, json.Unmarshal(resp.Body, &out))
	return out.AccessJwt, out.RefreshJwt
}

func TestCreateSession(t *testing.T) {
	t.Parallel()
	pds, srv, client := setup(t)

	access, refresh := login(t, client, srv.URL)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	_, err := client.Execute(t.Context(), srv.URL, xrpc.Procedure("com.atproto.server.createSession",
		map[string]string{"identifier": "alice.test", "password": "nope"}))
	require.ErrorIs(t, err, apierr.ErrAuthExpired)
	require.Equal(t, 2, pds.Calls("com.atproto.server.createSession"))
}

func TestRefreshRotatesTokens(t *testing.T) {
	t.Parallel()
	_, srv, client := setup(t)

	_, refresh := login(t, client, srv.URL)

	resp, err := client.Execute(t.Context(), srv.URL, xrpc.Procedure("com.atproto.server.refreshSession", nil).WithToken(refresh))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)

	_, err = client.Execute(t.Context(), srv.URL, xrpc.Procedure("com.atproto.server.refreshSession", nil).WithToken(refresh))
	require.ErrorIs(t, err, apierr.ErrAuthExpired)
}

func TestTimelineRequiresAuthAndExpires(t *testing.T) {
	t.Parallel()
	pds, srv, client := setup(t)
	pds.AddPost("did:plc:alice", "hi", time.Now())

	_, err := client.Execute(t.Context(), srv.URL, xrpc.Query("app.bsky.feed.getTimeline", nil))
	require.ErrorIs(t, err, apierr.ErrAuthExpired)

	access, _ := login(t, client, srv.URL)
	resp, err := client.Execute(t.Context(), srv.URL, xrpc.Query("app.bsky.feed.getTimeline", nil).WithToken(access))
	require.NoError(t, err)
	require.Contains(t, string(resp.Body), `"text":"hi"`)

	pds.ExpireAccessTokens()
	_, err = client.Execute(t.Context(), srv.URL, xrpc.Query("app.bsky.feed.getTimeline", nil).WithToken(access))
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.KindAuthExpired, apiErr.Kind)
	require.Equal(t, "ExpiredToken", apiErr.Code)
}

func TestPublicFeed(t *testing.T) {
	t.Parallel()
	pds, srv, client := setup(t)
	pds.AddPost("did:plc:alice", "public", time.Now())

	resp, err := client.Execute(t.Context(), srv.URL, xrpc.Query("app.bsky.feed.getFeed",
		url.Values{"feed": {"at://did:plc:feeds/app.bsky.feed.generator/all"}}))
	require.NoError(t, err)
	require.Contains(t, string(resp.Body), `"public"`)

	_, err = client.Execute(t.Context(), srv.URL, xrpc.Query("app.bsky.feed.getFeed",
		url.Values{"feed": {"at://did:plc:feeds/app.bsky.feed.generator/other"}}))
	require.ErrorIs(t, err, apierr.ErrClient)
}

func TestFaultInjection(t *testing.T) {
	t.Parallel()
	pds, srv, client := setup(t)

	pds.FailNext("app.bsky.feed.getPosts", fakepds.Fault{Status: http.StatusTooManyRequests, RetryAfter: "7"})

	_, err := client.Execute(t.Context(), srv.URL, xrpc.Query("app.bsky.feed.getPosts", url.Values{"uris": {"at://x/y/z"}}))
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.KindRateLimited, apiErr.Kind)
	require.Equal(t, 7*time.Second, apiErr.RetryAfter)

	resp, err := client.Execute(t.Context(), srv.URL, xrpc.Query("app.bsky.feed.getPosts", url.Values{"uris": {"at://x/y/z"}}))
	require.NoError(t, err)
	require.JSONEq(t, `{"posts":[]}`, string(resp.Body))
	require.Equal(t, 2, pds.Calls("app.bsky.feed.getPosts"))
}

func TestAppPasswordLogin(t *testing.T) {
	t.Parallel()
	pds, srv, client := setup(t)

	appPassword, err := pds.AddAppPassword("did:plc:alice")
	require.NoError(t, err)

	resp, err := client.Execute(t.Context(), srv.URL, xrpc.Procedure("com.atproto.server.createSession",
		map[string]string{"identifier": "alice.test", "password": appPassword}))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)

	_, err = pds.AddAppPassword("did:plc:nobody")
	require.Error(t, err)
}

func TestRateLimitedPerToken(t *testing.T) {
	t.Parallel()

	pds := fakepds.New(fakepds.Options{
		RateLimit: &httpx.RateLimitConfig{RequestsPerWindow: 1, Window: time.Hour, Burst: 2},
	})
	pds.AddAccount(fakepds.Account{DID: "did:plc:alice", Handle: "alice.test", Password: "pw"})
	srv := httptest.NewServer(pds)
	t.Cleanup(srv.Close)

	client := xrpc.NewClient(xrpc.Config{Retry: xrpc.RetryPolicy{MaxAttempts: 2, MaxRetryAfter: time.Second}})

	// Login spends one token of the anonymous bucket.
	access, _ := login(t, client, srv.URL)

	timeline := xrpc.Query("app.bsky.feed.getTimeline", nil).WithToken(access)
	_, err := client.Execute(t.Context(), srv.URL, timeline)
	require.NoError(t, err)
	_, err = client.Execute(t.Context(), srv.URL, timeline)
	require.NoError(t, err)

	// The token bucket is empty and refills in an hour, past MaxRetryAfter.
	_, err = client.Execute(t.Context(), srv.URL, timeline)
	require.ErrorIs(t, err, apierr.ErrRateLimited)
	e, ok := apierr.As(err)
	require.True(t, ok)
	require.Greater(t, e.RetryAfter, time.Minute)
	require.Equal(t, 3, pds.Calls("app.bsky.feed.getTimeline"))
}
