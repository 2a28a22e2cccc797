package fakepds

import (
	"fmt"
	"slices"
	"time"

	"github.com/aussiebroadwan/skytab/pkg/cryptox"
	"github.com/aussiebroadwan/skytab/pkg/idx"
	"github.com/aussiebroadwan/skytab/pkg/model"
)

// Account is a user of the fake.
type Account struct {
	DID         string
	Handle      string
	Email       string
	Password    string
	DisplayName string
	Avatar      string

	passwordHashes []string // account password first, then app passwords
}

// passwordParams keeps hashing cheap; the fake never stores real secrets.
var passwordParams = cryptox.Params{Memory: 64, Iterations: 1, Parallelism: 1, KeyLength: 16, SaltLength: 8}

type post struct {
	uri       string
	cid       string
	authorDID string
	text      string
	createdAt time.Time
	images    []string
	parent    string
	deleted   bool
	likes     map[string]string // liker DID -> like record URI
}

// AddAccount registers an account. It can log in with its handle, email or
// DID. The password is kept only as an Argon2id hash.
func (s *Server) AddAccount(a Account) {
	hash, err := cryptox.HashPasswordWith(a.Password, passwordParams)
	if err != nil {
		panic(fmt.Sprintf("fakepds: hash password: %v", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct := a
	acct.Password = ""
	acct.passwordHashes = []string{hash}
	s.accounts[a.DID] = &acct
	s.identities[a.DID] = a.DID
	if a.Handle != "" {
		s.identities[a.Handle] = a.DID
	}
	if a.Email != "" {
		s.identities[a.Email] = a.DID
	}
}

// AddAppPassword issues an app password for did and returns it.
func (s *Server) AddAppPassword(did string) (string, error) {
	pw, err := cryptox.GenerateAppPassword()
	if err != nil {
		return "", err
	}
	hash, err := cryptox.HashPasswordWith(pw, passwordParams)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[did]
	if !ok {
		return "", fmt.Errorf("fakepds: unknown account %s", did)
	}
	acct.passwordHashes = append(acct.passwordHashes, hash)
	return pw, nil
}

func (a *Account) checkPassword(password string) bool {
	for _, hash := range a.passwordHashes {
		if cryptox.VerifyPassword(password, hash) == nil {
			return true
		}
	}
	return false
}

// AddPost stores a top-level post and returns its AT-URI.
func (s *Server) AddPost(authorDID, text string, createdAt time.Time, images ...string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertPostLocked(authorDID, text, createdAt, "", images).uri
}

// AddReply stores a reply to parentURI and returns its AT-URI.
func (s *Server) AddReply(parentURI, authorDID, text string, createdAt time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertPostLocked(authorDID, text, createdAt, parentURI, nil).uri
}

// DeletePost tombstones a post. Threads rooted at it report notFoundPost.
func (s *Server) DeletePost(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.postsByURI[uri]; ok {
		p.deleted = true
	}
}

// Like records likerDID liking uri and returns the like record URI.
func (s *Server) Like(likerDID, uri string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.likeLocked(likerDID, s.postsByURI[uri])
}

// LikeCount reports how many likes uri has.
func (s *Server) LikeCount(uri string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.postsByURI[uri]; ok {
		return len(p.likes)
	}
	return 0
}

// Post returns the text and author of a stored post.
func (s *Server) Post(uri string) (text, authorDID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.postsByURI[uri]
	if !ok {
		return "", "", false
	}
	return p.text, p.authorDID, true
}

func (s *Server) insertPostLocked(authorDID, text string, createdAt time.Time, parent string, images []string) *post {
	rkey := idx.RecordKey()
	p := &post{
		uri:       model.URI{Authority: authorDID, Collection: model.CollectionPost, RKey: rkey}.String(),
		cid:       "bafyrei" + rkey,
		authorDID: authorDID,
		text:      text,
		createdAt: createdAt.UTC(),
		images:    images,
		parent:    parent,
		likes:     make(map[string]string),
	}
	s.posts = append(s.posts, p)
	s.postsByURI[p.uri] = p
	return p
}

func (s *Server) likeLocked(likerDID string, p *post) string {
	if p == nil {
		return ""
	}
	if existing, ok := p.likes[likerDID]; ok {
		return existing
	}
	uri := model.URI{Authority: likerDID, Collection: model.CollectionLike, RKey: idx.RecordKey()}.String()
	p.likes[likerDID] = uri
	return uri
}

// timelineLocked returns live top-level posts, newest first.
func (s *Server) timelineLocked() []*post {
	var out []*post
	for _, p := range s.posts {
		if p.deleted || p.parent != "" {
			continue
		}
		out = append(out, p)
	}
	slices.SortStableFunc(out, func(a, b *post) int {
		return b.createdAt.Compare(a.createdAt)
	})
	return out
}

func (s *Server) repliesLocked(uri string) []*post {
	var out []*post
	for _, p := range s.posts {
		if p.parent == uri {
			out = append(out, p)
		}
	}
	return out
}

// postViewLocked renders app.bsky.feed.defs#postView as seen by viewer.
func (s *Server) postViewLocked(p *post, viewer string) map[string]any {
	author := map[string]any{"did": p.authorDID, "handle": "handle.invalid"}
	if acct, ok := s.accounts[p.authorDID]; ok {
		author["handle"] = acct.Handle
		if acct.DisplayName != "" {
			author["displayName"] = acct.DisplayName
		}
		if acct.Avatar != "" {
			author["avatar"] = acct.Avatar
		}
	}

	view := map[string]any{
		"uri":    p.uri,
		"cid":    p.cid,
		"author": author,
		"record": map[string]any{
			"$type":     model.CollectionPost,
			"text":      p.text,
			"createdAt": p.createdAt.Format(time.RFC3339Nano),
		},
		"likeCount":   len(p.likes),
		"repostCount": 0,
		"replyCount":  len(s.repliesLocked(p.uri)),
		"indexedAt":   p.createdAt.Format(time.RFC3339Nano),
		"labels":      []any{},
	}

	if len(p.images) > 0 {
		imgs := make([]map[string]any, 0, len(p.images))
		for i, u := range p.images {
			imgs = append(imgs, map[string]any{
				"thumb":    u + "@thumb",
				"fullsize": u,
				"alt":      fmt.Sprintf("image %d", i+1),
			})
		}
		view["embed"] = map[string]any{"$type": "app.bsky.embed.images#view", "images": imgs}
	}

	if viewer != "" {
		vs := map[string]any{}
		if like, ok := p.likes[viewer]; ok {
			vs["like"] = like
		}
		view["viewer"] = vs
	}

	return view
}
