package repo

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/skyfeed/internal/codec"
)

// ErrUnknownRecordType is returned for records whose $type is outside the
// collections this service understands.
var ErrUnknownRecordType = errors.New("unknown record type")

// StrongRef points at a specific version of another record.
type StrongRef struct {
	URI string `cbor:"uri"`
	CID string `cbor:"cid,omitempty"`
}

// ReplyRef marks a post as a reply within a thread.
type ReplyRef struct {
	Root   StrongRef `cbor:"root"`
	Parent StrongRef `cbor:"parent"`
}

// Post is an app.bsky.feed.post record.
type Post struct {
	Type      string    `cbor:"$type"`
	Text      string    `cbor:"text"`
	CreatedAt string    `cbor:"createdAt"`
	Langs     []string  `cbor:"langs,omitempty"`
	Tags      []string  `cbor:"tags,omitempty"`
	Reply     *ReplyRef `cbor:"reply,omitempty"`
}

// CreatedTime parses CreatedAt as RFC 3339.
func (p *Post) CreatedTime() (time.Time, error) {
	return parseTimestamp(p.CreatedAt)
}

// IsReply reports whether the post carries a reply reference.
func (p *Post) IsReply() bool {
	return p.Reply != nil
}

// Like is an app.bsky.feed.like record.
type Like struct {
	Type      string    `cbor:"$type"`
	Subject   StrongRef `cbor:"subject"`
	CreatedAt string    `cbor:"createdAt"`
}

// Follow is an app.bsky.graph.follow record. Subject is the followed DID.
type Follow struct {
	Type      string `cbor:"$type"`
	Subject   string `cbor:"subject"`
	CreatedAt string `cbor:"createdAt"`
}

type typeTag struct {
	Type string `cbor:"$type"`
}

// DecodeRecord decodes a DAG-CBOR record block into *Post, *Like or *Follow
// and returns it with its $type.
func DecodeRecord(data []byte) (string, any, error) {
	var tag typeTag
	if err := codec.Unmarshal(data, &tag); err != nil {
		return "", nil, fmt.Errorf("decode record type: %w", err)
	}

	var rec any
	switch tag.Type {
	case CollectionPost:
		rec = &Post{}
	case CollectionLike:
		rec = &Like{}
	case CollectionFollow:
		rec = &Follow{}
	default:
		return tag.Type, nil, fmt.Errorf("%q: %w", tag.Type, ErrUnknownRecordType)
	}

	if err := codec.Unmarshal(data, rec); err != nil {
		return tag.Type, nil, fmt.Errorf("decode %s record: %w", tag.Type, err)
	}
	return tag.Type, rec, nil
}

// EncodeRecord encodes a record to DAG-CBOR, filling $type from the
// record's Go type when it is empty.
func EncodeRecord(rec any) ([]byte, error) {
	switch r := rec.(type) {
	case *Post:
		if r.Type == "" {
			r.Type = CollectionPost
		}
	case *Like:
		if r.Type == "" {
			r.Type = CollectionLike
		}
	case *Follow:
		if r.Type == "" {
			r.Type = CollectionFollow
		}
	default:
		return nil, fmt.Errorf("encode %T: %w", rec, ErrUnknownRecordType)
	}
	return codec.Marshal(rec)
}

// parseTimestamp accepts the datetime formats records are written with.
// Most clients emit RFC 3339 with fractional seconds and a Z suffix.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	// Some clients omit the zone; treat those as UTC.
	t, err := time.Parse("2006-01-02T15:04:05.999999999", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
