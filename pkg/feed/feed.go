// Package feed pages through cursor-paginated XRPC listings.
//
// A Paginator is bound to one endpoint, one Requester and one page decoder.
// Cursors are opaque: they are passed back to the server exactly as
// received, and an empty cursor on a returned page means the listing is
// exhausted.
package feed

import (
	"context"
	"iter"
	"maps"
	"net/url"
	"strconv"

	"github.com/aussiebroadwan/skytab/pkg/apierr"
	"github.com/aussiebroadwan/skytab/pkg/model"
	"github.com/aussiebroadwan/skytab/pkg/session"
	"github.com/aussiebroadwan/skytab/pkg/xrpc"
)

// Page size bounds accepted by app.bsky feed endpoints.
const (
	MinPageSize     = 1
	MaxPageSize     = 100
	DefaultPageSize = 50
)

// Requester performs a single XRPC call on behalf of a paginator.
type Requester interface {
	Request(ctx context.Context, req xrpc.Request) (*xrpc.Response, error)
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(ctx context.Context, req xrpc.Request) (*xrpc.Response, error)

func (f RequesterFunc) Request(ctx context.Context, req xrpc.Request) (*xrpc.Response, error) {
	return f(ctx, req)
}

// Authenticated returns a Requester that calls through the session manager
// as s's account.
func Authenticated(m *session.Manager, s *session.Session) Requester {
	return RequesterFunc(func(ctx context.Context, req xrpc.Request) (*xrpc.Response, error) {
		return m.AuthenticatedRequest(ctx, s, req)
	})
}

// Public returns a Requester that calls service without credentials. A
// service that insists on credentials yields AuthRequired.
func Public(exec session.Executor, service string) Requester {
	return RequesterFunc(func(ctx context.Context, req xrpc.Request) (*xrpc.Response, error) {
		resp, err := exec.Execute(ctx, service, req)
		if apierr.Is(err, apierr.KindAuthExpired) {
			return nil, apierr.Reclassify(err, apierr.KindAuthRequired, req.NSID)
		}
		return resp, err
	})
}

// Endpoint is a listing query: its NSID and the parameters every page
// shares. "cursor" and "limit" are set per page.
type Endpoint struct {
	NSID   string
	Params url.Values

	// Unpaged marks endpoints that return the whole listing in one
	// response, such as a post thread. No limit is sent and a non-empty
	// cursor is rejected.
	Unpaged bool
}

// Decoder maps a response body to a page.
type Decoder[T any] func(body []byte) (model.Page[T], error)

// Paginator fetches pages of T. It holds no cursor state and is safe for
// concurrent use.
type Paginator[T any] struct {
	requester Requester
	endpoint  Endpoint
	decode    Decoder[T]
}

// New creates a Paginator.
func New[T any](requester Requester, endpoint Endpoint, decode Decoder[T]) *Paginator[T] {
	return &Paginator[T]{requester: requester, endpoint: endpoint, decode: decode}
}

// ClampPageSize forces n into [MinPageSize, MaxPageSize]; 0 means the default.
func ClampPageSize(n int) int {
	if n == 0 {
		return DefaultPageSize
	}
	return min(max(n, MinPageSize), MaxPageSize)
}

// FetchPage fetches the page after cursor. An empty cursor fetches the
// first page.
func (p *Paginator[T]) FetchPage(ctx context.Context, cursor string, pageSize int) (model.Page[T], error) {
	params := url.Values{}
	maps.Copy(params, p.endpoint.Params)
	if p.endpoint.Unpaged {
		if cursor != "" {
			return model.Page[T]{}, apierr.Validation(p.endpoint.NSID, "listing is not paginated, cursor must be empty")
		}
	} else {
		params.Set("limit", strconv.Itoa(ClampPageSize(pageSize)))
		if cursor != "" {
			params.Set("cursor", cursor)
		}
	}

	resp, err := p.requester.Request(ctx, xrpc.Query(p.endpoint.NSID, params))
	if err != nil {
		return model.Page[T]{}, err
	}

	page, err := p.decode(resp.Body)
	if err != nil {
		return model.Page[T]{}, err
	}

	if cursor != "" && page.Cursor == cursor {
		return model.Page[T]{}, apierr.Malformed(p.endpoint.NSID, "server returned the request cursor unchanged")
	}
	return page, nil
}

// All yields every item from the first page until the listing is
// exhausted. Iteration stops at the first error, which is yielded with the
// zero T.
func (p *Paginator[T]) All(ctx context.Context, pageSize int) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		seen := make(map[string]struct{})
		cursor := ""

		for {
			page, err := p.FetchPage(ctx, cursor, pageSize)
			if err != nil {
				yield(zero, err)
				return
			}

			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
			}

			if page.Done() {
				return
			}
			if _, dup := seen[page.Cursor]; dup {
				yield(zero, apierr.Malformed(p.endpoint.NSID, "pagination cursor repeated"))
				return
			}
			seen[page.Cursor] = struct{}{}
			cursor = page.Cursor
		}
	}
}

// Collect fetches up to maxPages pages (all when maxPages <= 0) and returns
// their items in order along with the cursor to resume from, empty when the
// listing was exhausted.
func (p *Paginator[T]) Collect(ctx context.Context, pageSize, maxPages int) ([]T, string, error) {
	var items []T
	seen := make(map[string]struct{})
	cursor := ""

	for n := 0; maxPages <= 0 || n < maxPages; n++ {
		page, err := p.FetchPage(ctx, cursor, pageSize)
		if err != nil {
			return nil, "", err
		}
		items = append(items, page.Items...)
		if page.Done() {
			return items, "", nil
		}
		if _, dup := seen[page.Cursor]; dup {
			return nil, "", apierr.Malformed(p.endpoint.NSID, "pagination cursor repeated")
		}
		seen[page.Cursor] = struct{}{}
		cursor = page.Cursor
	}
	return items, cursor, nil
}
