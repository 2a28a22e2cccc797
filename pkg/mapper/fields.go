package mapper

import (
	"bytes"
	"encoding/json"
	"math"
	"time"

	"github.com/aussiebroadwan/skytab/pkg/apierr"
)

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// requiredString returns the string at raw. Absent or non-string values are
// MalformedResponse; allowEmpty controls whether "" is accepted.
func requiredString(op, field string, raw json.RawMessage, allowEmpty bool) (string, error) {
	if isAbsent(raw) {
		return "", apierr.Malformed(op, "missing required field %q", field)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", apierr.Malformed(op, "field %q is not a string", field)
	}
	if s == "" && !allowEmpty {
		return "", apierr.Malformed(op, "required field %q is empty", field)
	}
	return s, nil
}

// optionalString returns the string at raw or "" if absent or mistyped.
func optionalString(raw json.RawMessage) string {
	if isAbsent(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// counter returns a non-negative integer count; anything else is 0.
func counter(raw json.RawMessage) int {
	if isAbsent(raw) {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil || f < 0 || math.IsNaN(f) {
		return 0
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}

// timestamp parses an RFC 3339 datetime; the zero time when unusable.
func timestamp(raw json.RawMessage) time.Time {
	s := optionalString(raw)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// object decodes raw into a struct of raw fields. Anything other than a JSON
// object is MalformedResponse.
func object(op, field string, raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if isAbsent(raw) {
		return apierr.Malformed(op, "missing required object %q", field)
	}
	if raw[0] != '{' {
		return apierr.Malformed(op, "field %q is not an object", field)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &apierr.Error{Kind: apierr.KindMalformedResponse, Op: op, Message: "decode " + field, Err: err}
	}
	return nil
}
