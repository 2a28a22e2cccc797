package feed_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/aussiebroadwan/skytab/pkg/apierr"
	"github.com/aussiebroadwan/skytab/pkg/feed"
	"github.com/aussiebroadwan/skytab/pkg/model"
	"github.com/aussiebroadwan/skytab/pkg/xrpc"
	"github.com/stretchr/testify/require"
)

// staticFeed serves items in fixed order. Cursors are opaque offsets
// prefixed so a client cannot mistake them for numbers.
type staticFeed struct {
	mu       sync.Mutex
	items    []string
	requests []url.Values
}

func (f *staticFeed) Request(_ context.Context, req xrpc.Request) (*xrpc.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req.Params)
	f.mu.Unlock()

	offset := 0
	if c := req.Params.Get("cursor"); c != "" {
		n, err := strconv.Atoi(c[len("off-"):])
		if err != nil {
			return nil, &apierr.Error{Kind: apierr.KindClient, Status: 400, Code: "InvalidCursor"}
		}
		offset = n
	}
	limit, _ := strconv.Atoi(req.Params.Get("limit"))

	end := min(offset+limit, len(f.items))
	out := struct {
		Items  []string `json:"items"`
		Cursor string   `json:"cursor,omitempty"`
	}{Items: f.items[offset:end]}
	if end < len(f.items) {
		out.Cursor = "off-" + strconv.Itoa(end)
	}

	body, _ := json.Marshal(out)
	return &xrpc.Response{Status: http.StatusOK, Body: body}, nil
}

func decodeStrings(body []byte) (model.Page[string], error) {
	var page model.Page[string]
	if err := json.Unmarshal(body, &page); err != nil {
		return page, apierr.Malformed("test", "decode")
	}
	return page, nil
}

func dataset(n int) []string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf("item-%03d", i)
	}
	return items
}

func TestFetchPageWalksWithoutGapsOrDuplicates(t *testing.T) {
	t.Parallel()

	for _, pageSize := range []int{1, 3, 7, 25, 100} {
		t.Run(strconv.Itoa(pageSize), func(t *testing.T) {
			t.Parallel()

			src := &staticFeed{items: dataset(53)}
			p := feed.New(src, feed.Endpoint{NSID: "app.bsky.feed.getTimeline"}, decodeStrings)

			var got []string
			cursor := ""
			for {
				page, err := p.FetchPage(t.Context(), cursor, pageSize)
				require.NoError(t, err)
				require.LessOrEqual(t, len(page.Items), pageSize)
				got = append(got, page.Items...)
				if page.Done() {
					break
				}
				cursor = page.Cursor
			}

			require.Equal(t, src.items, got)
		})
	}
}

func TestFetchPageParams(t *testing.T) {
	t.Parallel()

	src := &staticFeed{items: dataset(5)}
	p := feed.New(src, feed.Endpoint{
		NSID:   "app.bsky.feed.getFeed",
		Params: url.Values{"feed": {"at://did:plc:x/app.bsky.feed.generator/hot"}},
	}, decodeStrings)

	_, err := p.FetchPage(t.Context(), "", 0)
	require.NoError(t, err)
	_, err = p.FetchPage(t.Context(), "off-2", 1000)
	require.NoError(t, err)
	_, err = p.FetchPage(t.Context(), "", -5)
	require.NoError(t, err)

	require.Len(t, src.requests, 3)
	require.Equal(t, "at://did:plc:x/app.bsky.feed.generator/hot", src.requests[0].Get("feed"))
	require.Equal(t, strconv.Itoa(feed.DefaultPageSize), src.requests[0].Get("limit"))
	require.False(t, src.requests[0].Has("cursor"))
	require.Equal(t, "off-2", src.requests[1].Get("cursor"))
	require.Equal(t, "100", src.requests[1].Get("limit"))
	require.Equal(t, "1", src.requests[2].Get("limit"))
}

func TestFetchPageEchoedCursor(t *testing.T) {
	t.Parallel()

	stuck := feed.RequesterFunc(func(context.Context, xrpc.Request) (*xrpc.Response, error) {
		return &xrpc.Response{Status: 200, Body: []byte(`{"items":["a"],"cursor":"same"}`)}, nil
	})
	p := feed.New(stuck, feed.Endpoint{NSID: "x.y.z"}, decodeStrings)

	page, err := p.FetchPage(t.Context(), "", 10)
	require.NoError(t, err)
	require.Equal(t, "same", page.Cursor)

	_, err = p.FetchPage(t.Context(), "same", 10)
	require.ErrorIs(t, err, apierr.ErrMalformedResponse)
}

func TestAll(t *testing.T) {
	t.Parallel()

	src := &staticFeed{items: dataset(12)}
	p := feed.New(src, feed.Endpoint{NSID: "app.bsky.feed.getTimeline"}, decodeStrings)

	var got []string
	for item, err := range p.All(t.Context(), 5) {
		require.NoError(t, err)
		got = append(got, item)
	}
	require.Equal(t, src.items, got)
	require.Len(t, src.requests, 3)
}

func TestAllStopsEarly(t *testing.T) {
	t.Parallel()

	src := &staticFeed{items: dataset(12)}
	p := feed.New(src, feed.Endpoint{NSID: "app.bsky.feed.getTimeline"}, decodeStrings)

	n := 0
	for _, err := range p.All(t.Context(), 5) {
		require.NoError(t, err)
		n++
		if n == 3 {
			break
		}
	}
	require.Len(t, src.requests, 1)
}

func TestAllDetectsCursorCycle(t *testing.T) {
	t.Parallel()

	cursors := map[string]string{"": "a", "a": "b", "b": "a"}
	cycling := feed.RequesterFunc(func(_ context.Context, req xrpc.Request) (*xrpc.Response, error) {
		next := cursors[req.Params.Get("cursor")]
		return &xrpc.Response{Status: 200, Body: []byte(`{"items":["x"],"cursor":"` + next + `"}`)}, nil
	})
	p := feed.New(cycling, feed.Endpoint{NSID: "x.y.z"}, decodeStrings)

	var lastErr error
	for _, err := range p.All(t.Context(), 1) {
		lastErr = err
	}
	require.ErrorIs(t, lastErr, apierr.ErrMalformedResponse)

	_, _, err := p.Collect(t.Context(), 1, 0)
	require.ErrorIs(t, err, apierr.ErrMalformedResponse)
}

func TestAllPropagatesErrors(t *testing.T) {
	t.Parallel()

	boom := &apierr.Error{Kind: apierr.KindServiceUnavailable, Status: 503}
	failing := feed.RequesterFunc(func(context.Context, xrpc.Request) (*xrpc.Response, error) {
		return nil, boom
	})
	p := feed.New(failing, feed.Endpoint{NSID: "x.y.z"}, decodeStrings)

	calls := 0
	for _, err := range p.All(t.Context(), 1) {
		calls++
		require.True(t, errors.Is(err, apierr.ErrServiceUnavailable))
	}
	require.Equal(t, 1, calls)
}

func TestCollect(t *testing.T) {
	t.Parallel()

	src := &staticFeed{items: dataset(10)}
	p := feed.New(src, feed.Endpoint{NSID: "app.bsky.feed.getTimeline"}, decodeStrings)

	items, cursor, err := p.Collect(t.Context(), 4, 2)
	require.NoError(t, err)
	require.Equal(t, src.items[:8], items)
	require.Equal(t, "off-8", cursor)

	items, cursor, err = p.Collect(t.Context(), 4, 0)
	require.NoError(t, err)
	require.Equal(t, src.items, items)
	require.Empty(t, cursor)
}

func TestClampPageSize(t *testing.T) {
	t.Parallel()

	require.Equal(t, feed.DefaultPageSize, feed.ClampPageSize(0))
	require.Equal(t, 1, feed.ClampPageSize(-1))
	require.Equal(t, 42, feed.ClampPageSize(42))
	require.Equal(t, 100, feed.ClampPageSize(101))
}

func TestUnpagedEndpoint(t *testing.T) {
	t.Parallel()

	var got url.Values
	thread := feed.RequesterFunc(func(_ context.Context, req xrpc.Request) (*xrpc.Response, error) {
		got = req.Params
		return &xrpc.Response{Status: 200, Body: []byte(`{"items":["r1","r2"]}`)}, nil
	})
	p := feed.New(thread, feed.Endpoint{
		NSID:    "app.bsky.feed.getPostThread",
		Params:  url.Values{"uri": {"at://did:plc:a/app.bsky.feed.post/1"}},
		Unpaged: true,
	}, decodeStrings)

	page, err := p.FetchPage(t.Context(), "", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"r1", "r2"}, page.Items)
	require.True(t, page.Done())
	require.False(t, got.Has("limit"))

	_, err = p.FetchPage(t.Context(), "next", 10)
	require.ErrorIs(t, err, apierr.ErrValidation)
}
