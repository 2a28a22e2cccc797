package xrpc

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/aussiebroadwan/skytab/pkg/apierr"
)

// Request describes one XRPC call.
type Request struct {
	// Method is http.MethodGet for queries and http.MethodPost for procedures.
	Method string

	// NSID is the lexicon method id, e.g. "app.bsky.feed.getTimeline".
	NSID string

	// Params are encoded into the query string.
	Params url.Values

	// Body is JSON-encoded for procedures. Nil means no body.
	Body any

	// Token, when set, is sent as "Authorization: Bearer <token>".
	Token string

	// Header holds extra request headers.
	Header http.Header
}

// Query builds a GET request.
func Query(nsid string, params url.Values) Request {
	return Request{Method: http.MethodGet, NSID: nsid, Params: params}
}

// Procedure builds a POST request with a JSON body.
func Procedure(nsid string, body any) Request {
	return Request{Method: http.MethodPost, NSID: nsid, Body: body}
}

// WithToken returns a copy of r carrying the bearer token.
func (r Request) WithToken(token string) Request {
	r.Token = token
	return r
}

// Response is a successful (2xx) XRPC response with its body fully read.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the body into v. A body that does not fit v is reported
// as MalformedResponse.
func (r *Response) Decode(op string, v any) error {
	if len(r.Body) == 0 {
		return apierr.Malformed(op, "empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &apierr.Error{Kind: apierr.KindMalformedResponse, Op: op, Message: "decode response", Err: err}
	}
	return nil
}
