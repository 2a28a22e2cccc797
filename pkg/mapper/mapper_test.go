package mapper_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/skytab/pkg/apierr"
	"github.com/aussiebroadwan/skytab/pkg/mapper"
	"github.com/aussiebroadwan/skytab/pkg/model"
	"github.com/stretchr/testify/require"
)

const fullPost = `{
	"uri": "at://did:plc:alice/app.bsky.feed.post/3kabc",
	"cid": "bafyreia",
	"author": {
		"did": "did:plc:alice",
		"handle": "alice.test",
		"displayName": "Alice",
		"avatar": "https://cdn.test/alice.jpg",
		"labels": []
	},
	"record": {
		"$type": "app.bsky.feed.post",
		"text": "hello world",
		"createdAt": "2024-03-01T12:00:00.123Z"
	},
	"embed": {
		"$type": "app.bsky.embed.images#view",
		"images": [
			{"fullsize": "https://cdn.test/1.jpg", "thumb": "https://cdn.test/1t.jpg", "alt": ""},
			{"thumb": "https://cdn.test/2t.jpg", "alt": ""}
		]
	},
	"likeCount": 3,
	"repostCount": 1,
	"replyCount": 2,
	"indexedAt": "2024-03-01T12:00:01Z",
	"viewer": {"like": "at://did:plc:bob/app.bsky.feed.like/3klike"}
}`

func TestToPost(t *testing.T) {
	t.Parallel()

	post, err := mapper.ToPost(json.RawMessage(fullPost))
	require.NoError(t, err)

	require.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3kabc", post.ID)
	require.Equal(t, "bafyreia", post.CID)
	require.Equal(t, model.Author{
		DID:         "did:plc:alice",
		Handle:      "alice.test",
		DisplayName: "Alice",
		AvatarURL:   "https://cdn.test/alice.jpg",
	}, post.Author)
	require.Equal(t, "hello world", post.Text)
	require.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 123_000_000, time.UTC), post.CreatedAt)
	require.Equal(t, []string{"https://cdn.test/1.jpg", "https://cdn.test/2t.jpg"}, post.Images)
	require.Equal(t, 3, post.LikesCount)
	require.Equal(t, 1, post.RepostsCount)
	require.Equal(t, 2, post.RepliesCount)
	require.True(t, post.LikedByViewer())
}

func TestToPostRequiredFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"not an object", `[1,2]`},
		{"null", `null`},
		{"missing uri", `{"author":{"did":"did:plc:a"},"record":{"text":"x"}}`},
		{"uri wrong type", `{"uri":42,"author":{"did":"did:plc:a"},"record":{"text":"x"}}`},
		{"missing author", `{"uri":"at://a/b/c","record":{"text":"x"}}`},
		{"missing author did", `{"uri":"at://a/b/c","author":{"handle":"a.test"},"record":{"text":"x"}}`},
		{"empty author did", `{"uri":"at://a/b/c","author":{"did":""},"record":{"text":"x"}}`},
		{"author did wrong type", `{"uri":"at://a/b/c","author":{"did":["x"]},"record":{"text":"x"}}`},
		{"missing record", `{"uri":"at://a/b/c","author":{"did":"did:plc:a"}}`},
		{"missing text", `{"uri":"at://a/b/c","author":{"did":"did:plc:a"},"record":{}}`},
		{"text wrong type", `{"uri":"at://a/b/c","author":{"did":"did:plc:a"},"record":{"text":7}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := mapper.ToPost(json.RawMessage(tt.raw))
			require.Error(t, err)
			require.ErrorIs(t, err, apierr.ErrMalformedResponse)
		})
	}
}

func TestToPostIgnoresUnknownFields(t *testing.T) {
	t.Parallel()

	raw := `{
		"uri": "at://did:plc:a/app.bsky.feed.post/1",
		"author": {"did": "did:plc:a", "pronouns": "n/a", "verification": {"level": 9}},
		"record": {"text": "", "facets": [], "reply": {"root": {}}},
		"threadgate": {"lists": []},
		"brandNewField": true
	}`

	post, err := mapper.ToPost(json.RawMessage(raw))
	require.NoError(t, err)
	require.Equal(t, "did:plc:a", post.Author.DID)
	require.Empty(t, post.Text)
	require.False(t, post.Author.HasAvatar())
	require.Empty(t, post.Images)
	require.False(t, post.LikedByViewer())
}

func TestToPostOptionalFieldsDegrade(t *testing.T) {
	t.Parallel()

	raw := `{
		"uri": "at://did:plc:a/app.bsky.feed.post/1",
		"author": {"did": "did:plc:a", "handle": 5, "avatar": false},
		"record": {"text": "x", "createdAt": "yesterday"},
		"indexedAt": "2024-01-02T03:04:05Z",
		"embed": {"$type": "app.bsky.embed.external#view", "external": {}},
		"likeCount": -4,
		"repostCount": "many",
		"viewer": []
	}`

	post, err := mapper.ToPost(json.RawMessage(raw))
	require.NoError(t, err)
	require.Empty(t, post.Author.Handle)
	require.Empty(t, post.Author.AvatarURL)
	require.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), post.CreatedAt)
	require.Empty(t, post.Images)
	require.Zero(t, post.LikesCount)
	require.Zero(t, post.RepostsCount)
	require.Empty(t, post.ViewerLike)
}

func TestToPostCapsImages(t *testing.T) {
	t.Parallel()

	var imgs []string
	for i := range 6 {
		imgs = append(imgs, `{"fullsize":"https://cdn.test/`+string(rune('a'+i))+`.jpg"}`)
	}
	raw := `{
		"uri": "at://did:plc:a/app.bsky.feed.post/1",
		"author": {"did": "did:plc:a"},
		"record": {"text": "x"},
		"embed": {
			"$type": "app.bsky.embed.recordWithMedia#view",
			"record": {},
			"media": {"$type": "app.bsky.embed.images#view", "images": [` + strings.Join(imgs, ",") + `]}
		}
	}`

	post, err := mapper.ToPost(json.RawMessage(raw))
	require.NoError(t, err)
	require.Len(t, post.Images, model.MaxImages)
	require.Equal(t, "https://cdn.test/a.jpg", post.Images[0])
}

func TestToAuthor(t *testing.T) {
	t.Parallel()

	author, err := mapper.ToAuthor(json.RawMessage(`{"did":"did:plc:x","handle":"x.test"}`))
	require.NoError(t, err)
	require.Equal(t, "did:plc:x", author.DID)
	require.Equal(t, "x.test", author.Handle)

	_, err = mapper.ToAuthor(json.RawMessage(`{"handle":"x.test"}`))
	require.ErrorIs(t, err, apierr.ErrMalformedResponse)
}

func TestFeedPage(t *testing.T) {
	t.Parallel()

	body := `{"cursor":"c2","feed":[{"post":` + fullPost + `},{"post":` + fullPost + `,"reason":{"$type":"app.bsky.feed.defs#reasonRepost"}}]}`
	page, err := mapper.FeedPage([]byte(body))
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, "c2", page.Cursor)
	require.False(t, page.Done())

	page, err = mapper.FeedPage([]byte(`{"feed":[]}`))
	require.NoError(t, err)
	require.Empty(t, page.Items)
	require.True(t, page.Done())

	_, err = mapper.FeedPage([]byte(`{"cursor":"x"}`))
	require.ErrorIs(t, err, apierr.ErrMalformedResponse)

	_, err = mapper.FeedPage([]byte(`{"feed":[{"post":{"uri":"at://a/b/c"}}]}`))
	require.ErrorIs(t, err, apierr.ErrMalformedResponse)
	require.Contains(t, err.Error(), "feed[0]")
}

func TestThread(t *testing.T) {
	t.Parallel()

	body := `{"thread":{
		"$type":"app.bsky.feed.defs#threadViewPost",
		"post":` + fullPost + `,
		"replies":[
			{"$type":"app.bsky.feed.defs#threadViewPost","post":` + fullPost + `,"replies":[]},
			{"$type":"app.bsky.feed.defs#notFoundPost","uri":"at://x/y/z","notFound":true},
			{"$type":"app.bsky.feed.defs#blockedPost","uri":"at://x/y/w","blocked":true}
		]
	}}`

	root, replies, err := mapper.Thread([]byte(body))
	require.NoError(t, err)
	require.Equal(t, "hello world", root.Text)
	require.Len(t, replies, 1)

	for _, typ := range []string{mapper.TypeNotFoundPost, mapper.TypeBlockedPost} {
		_, _, err = mapper.Thread([]byte(`{"thread":{"$type":"` + typ + `","uri":"at://x/y/z"}}`))
		require.ErrorIs(t, err, apierr.ErrNotFound)
	}

	_, _, err = mapper.Thread([]byte(`{"thread":{"$type":"app.bsky.feed.defs#somethingNew"}}`))
	require.ErrorIs(t, err, apierr.ErrMalformedResponse)
}

func TestPosts(t *testing.T) {
	t.Parallel()

	posts, err := mapper.Posts([]byte(`{"posts":[` + fullPost + `]}`))
	require.NoError(t, err)
	require.Len(t, posts, 1)

	posts, err = mapper.Posts([]byte(`{"posts":[]}`))
	require.NoError(t, err)
	require.Empty(t, posts)

	_, err = mapper.Posts([]byte(`{}`))
	require.ErrorIs(t, err, apierr.ErrMalformedResponse)
}

func TestRecords(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("AEST", 10*3600))

	post := mapper.NewPostRecord("hi", nil, now)
	raw, err := json.Marshal(post)
	require.NoError(t, err)
	require.JSONEq(t, `{"$type":"app.bsky.feed.post","text":"hi","createdAt":"2024-05-05T21:08:09.000Z"}`, string(raw))

	like := mapper.NewLikeRecord(mapper.StrongRef{URI: "at://did:plc:a/app.bsky.feed.post/1", CID: "bafy"}, now)
	raw, err = json.Marshal(like)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"$type":"app.bsky.feed.like",
		"subject":{"uri":"at://did:plc:a/app.bsky.feed.post/1","cid":"bafy"},
		"createdAt":"2024-05-05T21:08:09.000Z"
	}`, string(raw))

	out, err := mapper.CreatedRecord([]byte(`{"uri":"at://did:plc:a/app.bsky.feed.post/2","cid":"bafz","commit":{}}`))
	require.NoError(t, err)
	require.Equal(t, "at://did:plc:a/app.bsky.feed.post/2", out.URI)

	_, err = mapper.CreatedRecord([]byte(`{"cid":"bafz"}`))
	require.ErrorIs(t, err, apierr.ErrMalformedResponse)
}
