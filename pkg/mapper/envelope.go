package mapper

import (
	"encoding/json"
	"fmt"

	"github.com/aussiebroadwan/skytab/pkg/apierr"
	"github.com/aussiebroadwan/skytab/pkg/model"
)

const (
	opFeedPage = "mapper.FeedPage"
	opThread   = "mapper.Thread"
	opPosts    = "mapper.Posts"
)

// feedEnvelope is the output of getTimeline, getFeed and getAuthorFeed.
type feedEnvelope struct {
	Cursor json.RawMessage `json:"cursor"`
	Feed   *[]struct {
		Post json.RawMessage `json:"post"`
	} `json:"feed"`
}

// FeedPage maps a feed listing. Items keep server order. A single malformed
// item fails the whole page.
func FeedPage(body []byte) (model.Page[model.Post], error) {
	var env feedEnvelope
	if err := object(opFeedPage, "response", body, &env); err != nil {
		return model.Page[model.Post]{}, err
	}
	if env.Feed == nil {
		return model.Page[model.Post]{}, apierr.Malformed(opFeedPage, "missing required field %q", "feed")
	}

	items := make([]model.Post, 0, len(*env.Feed))
	for i, item := range *env.Feed {
		post, err := ToPost(item.Post)
		if err != nil {
			return model.Page[model.Post]{}, itemErr(opFeedPage, fmt.Sprintf("feed[%d]", i), err)
		}
		items = append(items, post)
	}

	return model.Page[model.Post]{Items: items, Cursor: optionalString(env.Cursor)}, nil
}

type threadEnvelope struct {
	Thread json.RawMessage `json:"thread"`
}

type threadNode struct {
	Type    json.RawMessage   `json:"$type"`
	Post    json.RawMessage   `json:"post"`
	Replies []json.RawMessage `json:"replies"`
}

// Thread maps getPostThread output into the root post and its direct
// replies. A root that is not found or blocked is NotFound; such replies
// are dropped.
func Thread(body []byte) (model.Post, []model.Post, error) {
	var env threadEnvelope
	if err := object(opThread, "response", body, &env); err != nil {
		return model.Post{}, nil, err
	}

	var root threadNode
	if err := object(opThread, "thread", env.Thread, &root); err != nil {
		return model.Post{}, nil, err
	}

	switch t := optionalString(root.Type); t {
	case TypeNotFoundPost:
		return model.Post{}, nil, apierr.New(apierr.KindNotFound, opThread, "post not found")
	case TypeBlockedPost:
		return model.Post{}, nil, apierr.New(apierr.KindNotFound, opThread, "post is blocked")
	case TypeThreadViewPost, "":
	default:
		return model.Post{}, nil, apierr.Malformed(opThread, "unexpected thread type %q", t)
	}

	post, err := ToPost(root.Post)
	if err != nil {
		return model.Post{}, nil, itemErr(opThread, "thread.post", err)
	}

	replies := make([]model.Post, 0, len(root.Replies))
	for i, raw := range root.Replies {
		var node threadNode
		if err := object(opThread, "reply", raw, &node); err != nil {
			return model.Post{}, nil, err
		}
		if t := optionalString(node.Type); t != TypeThreadViewPost && t != "" {
			continue
		}
		reply, err := ToPost(node.Post)
		if err != nil {
			return model.Post{}, nil, itemErr(opThread, fmt.Sprintf("replies[%d]", i), err)
		}
		replies = append(replies, reply)
	}

	return post, replies, nil
}

type postsEnvelope struct {
	Posts *[]json.RawMessage `json:"posts"`
}

// Posts maps getPosts output. Posts the server could not resolve are simply
// absent from the list.
func Posts(body []byte) ([]model.Post, error) {
	var env postsEnvelope
	if err := object(opPosts, "response", body, &env); err != nil {
		return nil, err
	}
	if env.Posts == nil {
		return nil, apierr.Malformed(opPosts, "missing required field %q", "posts")
	}

	out := make([]model.Post, 0, len(*env.Posts))
	for i, raw := range *env.Posts {
		post, err := ToPost(raw)
		if err != nil {
			return nil, itemErr(opPosts, fmt.Sprintf("posts[%d]", i), err)
		}
		out = append(out, post)
	}
	return out, nil
}

// itemErr prefixes a nested mapping error with its location.
func itemErr(op, where string, err error) error {
	e, ok := apierr.As(err)
	if !ok {
		return apierr.Wrap(apierr.KindMalformedResponse, op, err)
	}
	return &apierr.Error{
		Kind:    e.Kind,
		Op:      op,
		Message: where + ": " + e.Message,
		Err:     e.Err,
	}
}
