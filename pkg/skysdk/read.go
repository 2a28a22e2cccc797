package skysdk

import (
	"context"
	"net/url"

	"github.com/aussiebroadwan/skytab/pkg/apierr"
	"github.com/aussiebroadwan/skytab/pkg/feed"
	"github.com/aussiebroadwan/skytab/pkg/mapper"
	"github.com/aussiebroadwan/skytab/pkg/model"
	"github.com/aussiebroadwan/skytab/pkg/xrpc"
)

// Read lexicon methods.
const (
	NSIDGetTimeline   = "app.bsky.feed.getTimeline"
	NSIDGetFeed       = "app.bsky.feed.getFeed"
	NSIDGetPostThread = "app.bsky.feed.getPostThread"
	NSIDGetPosts      = "app.bsky.feed.getPosts"
)

// Timeline returns a paginator over the home timeline of s, or over the
// service's public feed when s is nil.
func (c *SDKClient) Timeline(service string, s *Session) (*feed.Paginator[model.Post], error) {
	if s != nil {
		if err := validService(service, NSIDGetTimeline); err != nil {
			return nil, err
		}
		return feed.New(
			feed.Authenticated(c.sessions, s),
			feed.Endpoint{NSID: NSIDGetTimeline},
			mapper.FeedPage,
		), nil
	}

	requester, err := c.requester(service, nil, NSIDGetTimeline)
	if err != nil {
		return nil, err
	}

	feedURI := c.publicFeed(service)
	if feedURI == "" {
		return nil, apierr.New(apierr.KindAuthRequired, NSIDGetTimeline, "this service has no public timeline, login required")
	}

	return feed.New(
		requester,
		feed.Endpoint{NSID: NSIDGetFeed, Params: url.Values{"feed": {feedURI}}},
		mapper.FeedPage,
	), nil
}

// GetTimeline fetches one page of the timeline. Pass the previous page's
// cursor verbatim to continue; an empty cursor on the result means there is
// nothing more.
func (c *SDKClient) GetTimeline(ctx context.Context, service string, s *Session, cursor string, limit int) (model.Page[model.Post], error) {
	p, err := c.Timeline(service, s)
	if err != nil {
		return model.Page[model.Post]{}, err
	}

	page, err := p.FetchPage(ctx, cursor, limit)
	if err != nil {
		return model.Page[model.Post]{}, err
	}

	c.log(ctx).Debug("timeline page fetched", "items", len(page.Items), "more", !page.Done())
	return page, nil
}

// GetPostDetail fetches a single post. s may be nil for services that serve
// threads anonymously.
func (c *SDKClient) GetPostDetail(ctx context.Context, service string, s *Session, postURI string) (model.Post, error) {
	uri, err := parsePostURI(NSIDGetPostThread, postURI)
	if err != nil {
		return model.Post{}, err
	}

	requester, err := c.requester(service, s, NSIDGetPostThread)
	if err != nil {
		return model.Post{}, err
	}

	resp, err := requester.Request(ctx, xrpc.Query(NSIDGetPostThread, url.Values{
		"uri":          {uri.String()},
		"depth":        {"0"},
		"parentHeight": {"0"},
	}))
	if err != nil {
		return model.Post{}, err
	}

	post, _, err := mapper.Thread(resp.Body)
	return post, err
}

// GetPostReplies fetches the direct replies to a post. The thread endpoint
// returns every reply at once, so the returned page is always the last one
// and cursor must be empty.
func (c *SDKClient) GetPostReplies(ctx context.Context, service string, s *Session, postURI, cursor string) (model.Page[model.Post], error) {
	uri, err := parsePostURI(NSIDGetPostThread, postURI)
	if err != nil {
		return model.Page[model.Post]{}, err
	}

	requester, err := c.requester(service, s, NSIDGetPostThread)
	if err != nil {
		return model.Page[model.Post]{}, err
	}

	p := feed.New(requester, feed.Endpoint{
		NSID:    NSIDGetPostThread,
		Params:  url.Values{"uri": {uri.String()}, "depth": {"1"}, "parentHeight": {"0"}},
		Unpaged: true,
	}, repliesPage)

	return p.FetchPage(ctx, cursor, 0)
}

func repliesPage(body []byte) (model.Page[model.Post], error) {
	_, replies, err := mapper.Thread(body)
	if err != nil {
		return model.Page[model.Post]{}, err
	}
	return model.Page[model.Post]{Items: replies}, nil
}

// requester picks an authenticated requester when s is set and a public
// one against service otherwise.
func (c *SDKClient) requester(service string, s *Session, op string) (feed.Requester, error) {
	if err := validService(service, op); err != nil {
		return nil, err
	}
	if s != nil {
		return feed.Authenticated(c.sessions, s), nil
	}
	return feed.Public(c.xrpc, service), nil
}

func (c *SDKClient) publicFeed(service string) string {
	if uri, ok := c.publicFeeds[xrpc.NormalizeService(service)]; ok {
		return uri
	}
	return c.defaultPublicFeed
}

func parsePostURI(op, raw string) (model.URI, error) {
	uri, err := model.ParsePostURI(raw)
	if err != nil {
		return model.URI{}, &apierr.Error{Kind: apierr.KindValidation, Op: op, Message: "invalid post uri", Err: err}
	}
	return uri, nil
}
