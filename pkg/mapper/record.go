package mapper

import (
	"encoding/json"
	"time"

	"github.com/aussiebroadwan/skytab/pkg/model"
)

// RecordTimeFormat is the datetime layout written into records.
const RecordTimeFormat = "2006-01-02T15:04:05.000Z"

// StrongRef is com.atproto.repo.strongRef.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// PostRecord is an app.bsky.feed.post record.
type PostRecord struct {
	Type      string   `json:"$type"`
	Text      string   `json:"text"`
	CreatedAt string   `json:"createdAt"`
	Langs     []string `json:"langs,omitempty"`
}

// LikeRecord is an app.bsky.feed.like record.
type LikeRecord struct {
	Type      string    `json:"$type"`
	Subject   StrongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

// NewPostRecord builds a post record. The text is not validated here.
func NewPostRecord(text string, langs []string, now time.Time) PostRecord {
	return PostRecord{
		Type:      model.CollectionPost,
		Text:      text,
		CreatedAt: now.UTC().Format(RecordTimeFormat),
		Langs:     langs,
	}
}

// NewLikeRecord builds a like record for the given post.
func NewLikeRecord(subject StrongRef, now time.Time) LikeRecord {
	return LikeRecord{
		Type:      model.CollectionLike,
		Subject:   subject,
		CreatedAt: now.UTC().Format(RecordTimeFormat),
	}
}

// CreateRecordInput is the com.atproto.repo.createRecord request body.
type CreateRecordInput struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey,omitempty"`
	Record     any    `json:"record"`
}

// CreateRecordOutput is the successful createRecord response.
type CreateRecordOutput struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

const opCreateRecord = "mapper.CreatedRecord"

// CreatedRecord maps a createRecord response. The uri is required.
func CreatedRecord(body []byte) (CreateRecordOutput, error) {
	var w struct {
		URI json.RawMessage `json:"uri"`
		CID json.RawMessage `json:"cid"`
	}
	if err := object(opCreateRecord, "response", body, &w); err != nil {
		return CreateRecordOutput{}, err
	}
	uri, err := requiredString(opCreateRecord, "uri", w.URI, false)
	if err != nil {
		return CreateRecordOutput{}, err
	}
	return CreateRecordOutput{URI: uri, CID: optionalString(w.CID)}, nil
}
