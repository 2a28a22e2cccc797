package model_test

import (
	"testing"

	"github.com/aussiebroadwan/skytab/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestParsePostURI(t *testing.T) {
	t.Parallel()

	t.Run("did authority", func(t *testing.T) {
		u, err := model.ParsePostURI("at://did:plc:abc123/app.bsky.feed.post/3l3qo2vuowo2b")
		require.NoError(t, err)
		require.Equal(t, "did:plc:abc123", u.Authority)
		require.Equal(t, model.CollectionPost, u.Collection)
		require.Equal(t, "3l3qo2vuowo2b", u.RKey)
		require.True(t, u.AuthorityIsDID())
		require.Equal(t, "at://did:plc:abc123/app.bsky.feed.post/3l3qo2vuowo2b", u.String())
	})

	t.Run("handle authority", func(t *testing.T) {
		u, err := model.ParsePostURI("at://alice.bsky.social/app.bsky.feed.post/3k")
		require.NoError(t, err)
		require.False(t, u.AuthorityIsDID())
	})

	bad := []string{
		"",
		"https://bsky.app/profile/alice/post/3k",
		"at://did:plc:abc123",
		"at://did:plc:abc123/app.bsky.feed.post",
		"at://did:plc:abc123/app.bsky.feed.post/",
		"at://did:plc:abc123/app.bsky.feed.post/3k/extra",
		"at://did:plc:abc123/app.bsky.feed.like/3k",
		"at://not a handle/app.bsky.feed.post/3k",
		"at://did:plc:abc123/app.bsky.feed.post/3k?x=1",
		"at://did:plc:abc123/app.bsky.feed.post/..",
	}
	for _, s := range bad {
		_, err := model.ParsePostURI(s)
		require.ErrorIs(t, err, model.ErrInvalidURI, "uri %q", s)
	}
}

func TestAuthorEquality(t *testing.T) {
	t.Parallel()

	a := model.Author{DID: "did:plc:alice", Handle: "alice.test"}
	renamed := model.Author{DID: "did:plc:alice", Handle: "alice2.test"}
	other := model.Author{DID: "did:plc:bob", Handle: "alice.test"}

	require.True(t, a.Same(renamed))
	require.False(t, a.Same(other))
	require.False(t, model.Author{}.Same(model.Author{}))
}

func TestPageDone(t *testing.T) {
	t.Parallel()

	require.True(t, model.Page[model.Post]{}.Done())
	require.False(t, model.Page[model.Post]{Cursor: "c"}.Done())
}
