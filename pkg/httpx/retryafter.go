package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter computes how long a rate-limited caller should wait before
// retrying. It checks Retry-After first (delta-seconds or HTTP-date), then
// the RateLimit-Reset header (unix seconds) that XRPC services send. The
// boolean is false when neither header yields a usable wait.
func ParseRetryAfter(header http.Header, now time.Time) (time.Duration, bool) {
	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second, true
		}
		if at, err := http.ParseTime(v); err == nil {
			return clampWait(at.Sub(now)), true
		}
	}

	if v := strings.TrimSpace(header.Get("RateLimit-Reset")); v != "" {
		if resetUnix, err := strconv.ParseInt(v, 10, 64); err == nil {
			return clampWait(time.Unix(resetUnix, 0).Sub(now)), true
		}
	}

	return 0, false
}

func clampWait(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
