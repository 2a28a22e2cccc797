// Package model holds the client's stable domain types. Wire shapes live in
// package mapper; nothing here depends on the lexicon JSON layout.
package model

import "time"

// MaxImages is the most images a post can carry.
const MaxImages = 4

// Author is a snapshot of an account as embedded in a post. DID is the
// primary key; Handle is mutable and must never be used for equality.
type Author struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Same reports whether a and b are the same account.
func (a Author) Same(b Author) bool {
	return a.DID != "" && a.DID == b.DID
}

// HasAvatar reports whether an avatar URL is present.
func (a Author) HasAvatar() bool { return a.AvatarURL != "" }

// Post is a post view. Counters are eventually-consistent snapshots taken
// when the post was fetched.
type Post struct {
	// ID is the post's AT-URI.
	ID string `json:"id"`

	// CID is the content hash of the record version that was viewed. It is
	// needed to reference the post from like or reply records.
	CID string `json:"cid,omitempty"`

	Author    Author    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`

	// Images are full-size image URLs in display order, at most MaxImages.
	Images []string `json:"images,omitempty"`

	LikesCount   int `json:"likesCount"`
	RepostsCount int `json:"repostsCount"`
	RepliesCount int `json:"repliesCount"`

	// ViewerLike is the AT-URI of the viewer's like record, empty when the
	// viewer has not liked the post or the request was unauthenticated.
	ViewerLike string `json:"viewerLike,omitempty"`
}

// LikedByViewer reports whether the authenticated viewer has liked the post.
func (p Post) LikedByViewer() bool { return p.ViewerLike != "" }

// Page is one page of a cursor-paginated listing. An empty Cursor means the
// listing is exhausted.
type Page[T any] struct {
	Items  []T    `json:"items"`
	Cursor string `json:"cursor,omitempty"`
}

// Done reports whether no further pages exist.
func (p Page[T]) Done() bool { return p.Cursor == "" }
