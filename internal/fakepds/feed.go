package fakepds

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/aussiebroadwan/skytab/pkg/httpx"
)

const (
	defaultLimit = 50
	maxLimit     = 100
	maxPostURIs = 25
)

func (s *Server) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	viewer, ok := s.requireViewer(w, r)
	if !ok {
		return
	}
	s.writeListing(w, r, viewer)
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	viewer, ok := s.viewer(w, r)
	if !ok {
		return
	}

	feed := r.URL.Query().Get("feed")
	if feed == "" {
		httpx.WriteXRPCError(w, http.StatusBadRequest, "InvalidRequest", "feed is required")
		return
	}
	if !s.publicFeeds[feed] {
		httpx.WriteXRPCError(w, http.StatusBadRequest, "UnknownFeed", "Unknown feed generator")
		return
	}
	s.writeListing(w, r, viewer)
}

// writeListing serves one page of the timeline. Cursors are opaque offsets.
func (s *Server) writeListing(w http.ResponseWriter, r *http.Request, viewer string) {
	q := r.URL.Query()

	limit := defaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLimit {
			httpx.WriteXRPCError(w, http.StatusBadRequest, "InvalidRequest", "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	offset := 0
	if c := q.Get("cursor"); c != "" {
		n, ok := decodeCursor(c)
		if !ok {
			httpx.WriteXRPCError(w, http.StatusBadRequest, "InvalidRequest", "malformed cursor")
			return
		}
		offset = n
	}

	s.mu.Lock()
	all := s.timelineLocked()
	start := min(offset, len(all))
	end := min(start+limit, len(all))

	items := make([]map[string]any, 0, end-start)
	for _, p := range all[start:end] {
		items = append(items, map[string]any{"post": s.postViewLocked(p, viewer)})
	}
	s.mu.Unlock()

	out := map[string]any{"feed": items}
	if end < len(all) {
		out["cursor"] = encodeCursor(end)
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPostThread(w http.ResponseWriter, r *http.Request) {
	viewer, ok := s.viewer(w, r)
	if !ok {
		return
	}

	uri := r.URL.Query().Get("uri")
	if uri == "" {
		httpx.WriteXRPCError(w, http.StatusBadRequest, "InvalidRequest", "uri is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	root, found := s.postsByURI[uri]
	if !found {
		httpx.WriteXRPCError(w, http.StatusBadRequest, "NotFound", "Post not found: "+uri)
		return
	}
	if root.deleted {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"thread": notFoundView(root.uri)})
		return
	}

	replies := make([]map[string]any, 0)
	for _, p := range s.repliesLocked(root.uri) {
		if p.deleted {
			replies = append(replies, notFoundView(p.uri))
			continue
		}
		replies = append(replies, map[string]any{
			"$type":   "app.bsky.feed.defs#threadViewPost",
			"post":    s.postViewLocked(p, viewer),
			"replies": []any{},
		})
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"thread": map[string]any{
			"$type":   "app.bsky.feed.defs#threadViewPost",
			"post":    s.postViewLocked(root, viewer),
			"replies": replies,
		},
	})
}

func (s *Server) handleGetPosts(w http.ResponseWriter, r *http.Request) {
	viewer, ok := s.viewer(w, r)
	if !ok {
		return
	}

	uris := r.URL.Query()["uris"]
	if len(uris) == 0 || len(uris) > maxPostURIs {
		httpx.WriteXRPCError(w, http.StatusBadRequest, "InvalidRequest", "between 1 and 25 uris are required")
		return
	}

	s.mu.Lock()
	posts := make([]map[string]any, 0, len(uris))
	for _, uri := range uris {
		if p, found := s.postsByURI[uri]; found && !p.deleted {
			posts = append(posts, s.postViewLocked(p, viewer))
		}
	}
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

func notFoundView(uri string) map[string]any {
	return map[string]any{
		"$type":    "app.bsky.feed.defs#notFoundPost",
		"uri":      uri,
		"notFound": true,
	}
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte("o:" + strconv.Itoa(offset)))
}

func decodeCursor(c string) (int, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(c)
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(string(raw), "o:"))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
