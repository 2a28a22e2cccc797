// Package mapper translates app.bsky lexicon JSON into the domain model and
// builds the records the client writes.
//
// Mapping is pure. Required fields (post uri, author did, record text) that
// are absent or of the wrong JSON type produce a MalformedResponse error;
// optional fields that are absent or mistyped fall back to their zero value;
// unknown fields are ignored so additive schema changes keep working.
package mapper
