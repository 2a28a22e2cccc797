package xrpc

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aussiebroadwan/skytab/pkg/apierr"
	"github.com/aussiebroadwan/skytab/pkg/httpx"
)

// XRPC error names that carry meaning beyond the status code.
const (
	ErrorExpiredToken = "ExpiredToken"
	ErrorInvalidToken = "InvalidToken"
	ErrorNotFound     = "NotFound"
)

// classify maps a non-2xx response to an *apierr.Error. It returns nil for
// 2xx responses.
func classify(op string, status int, header http.Header, body []byte, now time.Time) *apierr.Error {
	if status >= 200 && status < 300 {
		return nil
	}

	e := &apierr.Error{Op: op, Status: status}

	var xe httpx.XRPCError
	if err := json.Unmarshal(body, &xe); err == nil {
		e.Code = xe.Error
		e.Message = xe.Message
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}

	switch {
	case status == http.StatusTooManyRequests:
		e.Kind = apierr.KindRateLimited
		if wait, ok := httpx.ParseRetryAfter(header, now); ok {
			e.RetryAfter = wait
		}
	case status == http.StatusUnauthorized:
		e.Kind = apierr.KindAuthExpired
	case status == http.StatusBadRequest && (e.Code == ErrorExpiredToken || e.Code == ErrorInvalidToken):
		e.Kind = apierr.KindAuthExpired
	case status == http.StatusNotFound || e.Code == ErrorNotFound:
		e.Kind = apierr.KindNotFound
	case status >= 500:
		e.Kind = apierr.KindServiceUnavailable
	default:
		e.Kind = apierr.KindClient
	}

	return e
}
