/*
Package xrpc executes AT Protocol XRPC calls over HTTP.

A Client is stateless apart from an optional client-side rate limiter. Each
call to Execute makes up to RetryPolicy.MaxAttempts attempts, every attempt
bounded by Config.AttemptTimeout:

	client := xrpc.NewClient(xrpc.Config{})
	resp, err := client.Execute(ctx, "https://bsky.social",
		xrpc.Query("app.bsky.actor.getProfile", url.Values{"actor": {"alice.test"}}))

Failures are classified into apierr kinds:

  - network failure, attempt timeout: KindNetwork, retried
  - 429: KindRateLimited, retried after Retry-After / RateLimit-Reset, or
    exponential backoff with jitter when the server gives no hint
  - 5xx: retried, surfaced as KindServiceUnavailable once attempts run out
  - 401, or 400 ExpiredToken/InvalidToken: KindAuthExpired, not retried
  - 404 or XRPC error NotFound: KindNotFound
  - any other 4xx: KindClient

Callers never see raw net/http errors; the original cause stays reachable
through errors.Unwrap.
*/
package xrpc
