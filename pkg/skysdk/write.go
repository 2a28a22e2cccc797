package skysdk

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/aussiebroadwan/skytab/pkg/apierr"
	"github.com/aussiebroadwan/skytab/pkg/mapper"
	"github.com/aussiebroadwan/skytab/pkg/model"
	"github.com/aussiebroadwan/skytab/pkg/xrpc"
	"github.com/rivo/uniseg"
)

// NSIDCreateRecord writes a record into the caller's repository.
const NSIDCreateRecord = "com.atproto.repo.createRecord"

// MaxPostBytes is the UTF-8 byte limit of a post's text.
const MaxPostBytes = 3000

// ValidatePostText checks text against the post limits without any network
// call. Length is counted in grapheme clusters, as users perceive it.
func (c *SDKClient) ValidatePostText(text string) error {
	const op = NSIDCreateRecord

	switch {
	case !utf8.ValidString(text):
		return apierr.Validation(op, "post text is not valid UTF-8")
	case strings.TrimSpace(text) == "":
		return apierr.Validation(op, "post text is empty")
	case len(text) > MaxPostBytes:
		return apierr.Validation(op, "post text exceeds %d bytes", MaxPostBytes)
	}

	if n := uniseg.GraphemeClusterCount(text); n > c.maxPostGraphemes {
		return apierr.Validation(op, "post text is %d characters, limit is %d", n, c.maxPostGraphemes)
	}
	return nil
}

// CreatePost publishes text as s's account and returns the new post's
// AT-URI. Invalid text fails before any request is made.
func (c *SDKClient) CreatePost(ctx context.Context, service string, s *Session, text string) (string, error) {
	const op = NSIDCreateRecord

	if err := c.ValidatePostText(text); err != nil {
		return "", err
	}
	if s == nil {
		return "", apierr.New(apierr.KindAuthRequired, op, "login required to post")
	}
	if err := validService(service, op); err != nil {
		return "", err
	}

	resp, err := c.sessions.AuthenticatedRequest(ctx, s, xrpc.Procedure(op, mapper.CreateRecordInput{
		Repo:       s.DID,
		Collection: model.CollectionPost,
		Record:     mapper.NewPostRecord(text, c.langs, c.now()),
	}))
	if err != nil {
		return "", err
	}

	out, err := mapper.CreatedRecord(resp.Body)
	if err != nil {
		return "", err
	}

	c.log(ctx).Info("post created", "uri", out.URI)
	return out.URI, nil
}

// LikePost likes a post as s's account. Liking a post the account already
// likes succeeds without writing a second like.
func (c *SDKClient) LikePost(ctx context.Context, service string, s *Session, postURI string) (bool, error) {
	const op = NSIDCreateRecord

	uri, err := parsePostURI(op, postURI)
	if err != nil {
		return false, err
	}
	if s == nil {
		return false, apierr.New(apierr.KindAuthRequired, op, "login required to like")
	}
	if err := validService(service, op); err != nil {
		return false, err
	}

	resp, err := c.sessions.AuthenticatedRequest(ctx, s, xrpc.Query(NSIDGetPosts, url.Values{"uris": {uri.String()}}))
	if err != nil {
		return false, err
	}
	posts, err := mapper.Posts(resp.Body)
	if err != nil {
		return false, err
	}
	if len(posts) == 0 {
		return false, apierr.New(apierr.KindNotFound, op, "post not found")
	}

	post := posts[0]
	if post.LikedByViewer() {
		return true, nil
	}
	if post.CID == "" {
		return false, apierr.Malformed(NSIDGetPosts, "post view has no cid")
	}

	_, err = c.sessions.AuthenticatedRequest(ctx, s, xrpc.Procedure(op, mapper.CreateRecordInput{
		Repo:       s.DID,
		Collection: model.CollectionLike,
		Record:     mapper.NewLikeRecord(mapper.StrongRef{URI: post.ID, CID: post.CID}, c.now()),
	}))
	if e, ok := apierr.As(err); ok && e.Status == http.StatusConflict {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	c.log(ctx).Debug("post liked", "uri", post.ID)
	return true, nil
}

func validService(service, op string) error {
	if _, err := xrpc.ParseService(service); err != nil {
		return &apierr.Error{Kind: apierr.KindValidation, Op: op, Message: "invalid service endpoint", Err: err}
	}
	return nil
}
