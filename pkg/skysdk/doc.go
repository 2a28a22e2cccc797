/*
Package skysdk is the client facade for Bluesky-compatible AT Protocol
services.

# Overview

An SDKClient bundles a transport (package xrpc), a session manager (package
session), the lexicon mappers (package mapper) and the feed paginator
(package feed) behind six operations:

	client := skysdk.NewSDKClient(skysdk.Config{})

	sess, err := client.Login(ctx, "https://bsky.social", "alice.bsky.social", appPassword)

	page, err := client.GetTimeline(ctx, "https://bsky.social", sess, "", 50)
	uri, err := client.CreatePost(ctx, "https://bsky.social", sess, "hello")
	ok, err := client.LikePost(ctx, "https://bsky.social", sess, page.Items[0].ID)
	post, err := client.GetPostDetail(ctx, "https://bsky.social", sess, uri)
	replies, err := client.GetPostReplies(ctx, "https://bsky.social", sess, uri, "")

# Sessions

Authenticated calls go to the session's own endpoint, which is the account's
PDS when the login response names one. Tokens are refreshed transparently;
the *Session a caller holds is never modified, and CurrentSession returns the
newest one so the shell can persist it.

# Errors

Every error carries an apierr.Kind. ValidationError and AuthRequired are
raised before any network call, so a shell can tell "fix your input" and
"log in" apart from connectivity problems:

	switch apierr.KindOf(err) {
	case apierr.KindValidation:
	case apierr.KindAuthRequired, apierr.KindSessionExpired:
	case apierr.KindNetwork, apierr.KindServiceUnavailable, apierr.KindRateLimited:
	}
*/
package skysdk
