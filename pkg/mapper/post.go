package mapper

import (
	"bytes"
	"encoding/json"

	"github.com/aussiebroadwan/skytab/pkg/apierr"
	"github.com/aussiebroadwan/skytab/pkg/model"
)

// Lexicon $type values recognised in views.
const (
	TypeImagesView          = "app.bsky.embed.images#view"
	TypeRecordWithMediaView = "app.bsky.embed.recordWithMedia#view"
	TypeThreadViewPost      = "app.bsky.feed.defs#threadViewPost"
	TypeNotFoundPost        = "app.bsky.feed.defs#notFoundPost"
	TypeBlockedPost         = "app.bsky.feed.defs#blockedPost"
)

const (
	opToPost   = "mapper.ToPost"
	opToAuthor = "mapper.ToAuthor"
)

// profileViewBasic is app.bsky.actor.defs#profileViewBasic.
type profileViewBasic struct {
	DID         json.RawMessage `json:"did"`
	Handle      json.RawMessage `json:"handle"`
	DisplayName json.RawMessage `json:"displayName"`
	Avatar      json.RawMessage `json:"avatar"`
}

// postView is app.bsky.feed.defs#postView.
type postView struct {
	URI         json.RawMessage `json:"uri"`
	CID         json.RawMessage `json:"cid"`
	Author      json.RawMessage `json:"author"`
	Record      json.RawMessage `json:"record"`
	Embed       json.RawMessage `json:"embed"`
	LikeCount   json.RawMessage `json:"likeCount"`
	RepostCount json.RawMessage `json:"repostCount"`
	ReplyCount  json.RawMessage `json:"replyCount"`
	IndexedAt   json.RawMessage `json:"indexedAt"`
	Viewer      json.RawMessage `json:"viewer"`
}

type postRecord struct {
	Text      json.RawMessage `json:"text"`
	CreatedAt json.RawMessage `json:"createdAt"`
}

type embedView struct {
	Type   json.RawMessage `json:"$type"`
	Images []struct {
		Fullsize json.RawMessage `json:"fullsize"`
		Thumb    json.RawMessage `json:"thumb"`
	} `json:"images"`
	Media json.RawMessage `json:"media"`
}

type viewerState struct {
	Like json.RawMessage `json:"like"`
}

// ToAuthor maps a profileViewBasic. The did is required.
func ToAuthor(raw json.RawMessage) (model.Author, error) {
	var w profileViewBasic
	if err := object(opToAuthor, "author", raw, &w); err != nil {
		return model.Author{}, err
	}

	did, err := requiredString(opToAuthor, "did", w.DID, false)
	if err != nil {
		return model.Author{}, err
	}

	return model.Author{
		DID:         did,
		Handle:      optionalString(w.Handle),
		DisplayName: optionalString(w.DisplayName),
		AvatarURL:   optionalString(w.Avatar),
	}, nil
}

// ToPost maps a postView. uri, author.did and record.text are required;
// record.text may be the empty string (image-only posts).
func ToPost(raw json.RawMessage) (model.Post, error) {
	var w postView
	if err := object(opToPost, "post", raw, &w); err != nil {
		return model.Post{}, err
	}

	uri, err := requiredString(opToPost, "uri", w.URI, false)
	if err != nil {
		return model.Post{}, err
	}

	if isAbsent(w.Author) {
		return model.Post{}, apierr.Malformed(opToPost, "missing required object %q", "author")
	}
	author, err := ToAuthor(w.Author)
	if err != nil {
		return model.Post{}, err
	}

	var rec postRecord
	if err := object(opToPost, "record", w.Record, &rec); err != nil {
		return model.Post{}, err
	}
	text, err := requiredString(opToPost, "record.text", rec.Text, true)
	if err != nil {
		return model.Post{}, err
	}

	createdAt := timestamp(rec.CreatedAt)
	if createdAt.IsZero() {
		createdAt = timestamp(w.IndexedAt)
	}

	post := model.Post{
		ID:           uri,
		CID:          optionalString(w.CID),
		Author:       author,
		Text:         text,
		CreatedAt:    createdAt,
		Images:       images(w.Embed),
		LikesCount:   counter(w.LikeCount),
		RepostsCount: counter(w.RepostCount),
		RepliesCount: counter(w.ReplyCount),
	}

	if viewer := bytes.TrimSpace(w.Viewer); len(viewer) > 0 && viewer[0] == '{' {
		var v viewerState
		if json.Unmarshal(viewer, &v) == nil {
			post.ViewerLike = optionalString(v.Like)
		}
	}

	return post, nil
}

// images extracts full-size image URLs from an embed view. Unknown or
// malformed embeds yield no images.
func images(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if isAbsent(raw) || raw[0] != '{' {
		return nil
	}

	var e embedView
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil
	}

	switch optionalString(e.Type) {
	case TypeImagesView:
		var urls []string
		for _, img := range e.Images {
			u := optionalString(img.Fullsize)
			if u == "" {
				u = optionalString(img.Thumb)
			}
			if u == "" {
				continue
			}
			urls = append(urls, u)
			if len(urls) == model.MaxImages {
				break
			}
		}
		return urls
	case TypeRecordWithMediaView:
		return images(e.Media)
	default:
		return nil
	}
}
