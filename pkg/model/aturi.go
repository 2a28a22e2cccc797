package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Collections this client reads and writes.
const (
	CollectionPost = "app.bsky.feed.post"
	CollectionLike = "app.bsky.feed.like"
)

var (
	ErrInvalidURI = errors.New("model: invalid at-uri")

	didPattern    = regexp.MustCompile(`^did:[a-z]+:[a-zA-Z0-9._:%-]*[a-zA-Z0-9._-]$`)
	handlePattern = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
	nsidPattern   = regexp.MustCompile(`^[a-zA-Z]([a-zA-Z0-9-]{0,62})?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,62})?)+$`)
	rkeyPattern   = regexp.MustCompile(`^[a-zA-Z0-9._:~-]{1,512}$`)
)

// URI is a parsed record AT-URI: at://<authority>/<collection>/<rkey>.
type URI struct {
	Authority  string
	Collection string
	RKey       string
}

func (u URI) String() string {
	return "at://" + u.Authority + "/" + u.Collection + "/" + u.RKey
}

// AuthorityIsDID reports whether the authority is a DID rather than a handle.
func (u URI) AuthorityIsDID() bool {
	return strings.HasPrefix(u.Authority, "did:")
}

// ParseURI parses a record AT-URI. All three path parts are required.
func ParseURI(s string) (URI, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "at://")
	if !ok {
		return URI{}, fmt.Errorf("%w: missing at:// scheme", ErrInvalidURI)
	}
	if strings.ContainsAny(rest, "?#") {
		return URI{}, fmt.Errorf("%w: query and fragment not allowed", ErrInvalidURI)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return URI{}, fmt.Errorf("%w: want authority/collection/rkey", ErrInvalidURI)
	}

	u := URI{Authority: parts[0], Collection: parts[1], RKey: parts[2]}

	if !didPattern.MatchString(u.Authority) && !handlePattern.MatchString(u.Authority) {
		return URI{}, fmt.Errorf("%w: bad authority %q", ErrInvalidURI, u.Authority)
	}
	if !nsidPattern.MatchString(u.Collection) {
		return URI{}, fmt.Errorf("%w: bad collection %q", ErrInvalidURI, u.Collection)
	}
	if !rkeyPattern.MatchString(u.RKey) || u.RKey == "." || u.RKey == ".." {
		return URI{}, fmt.Errorf("%w: bad record key %q", ErrInvalidURI, u.RKey)
	}

	return u, nil
}

// ParsePostURI parses an AT-URI and requires it to name a post record.
func ParsePostURI(s string) (URI, error) {
	u, err := ParseURI(s)
	if err != nil {
		return URI{}, err
	}
	if u.Collection != CollectionPost {
		return URI{}, fmt.Errorf("%w: collection %q is not %s", ErrInvalidURI, u.Collection, CollectionPost)
	}
	return u, nil
}
