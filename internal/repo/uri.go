package repo

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidURI is returned for strings that are not at:// record URIs.
var ErrInvalidURI = errors.New("invalid at-uri")

const uriScheme = "at://"

// ATURI addresses a record: at://<authority>/<collection>/<rkey>.
type ATURI struct {
	Authority  string
	Collection string
	RKey       string
}

// String renders the URI.
func (u ATURI) String() string {
	var b strings.Builder
	b.WriteString(uriScheme)
	b.WriteString(u.Authority)
	if u.Collection != "" {
		b.WriteByte('/')
		b.WriteString(u.Collection)
		if u.RKey != "" {
			b.WriteByte('/')
			b.WriteString(u.RKey)
		}
	}
	return b.String()
}

// RecordURI builds the URI of the record at path inside repo.
// path is "<collection>/<rkey>" as carried by a commit operation.
func RecordURI(repo, path string) (ATURI, error) {
	collection, rkey, ok := strings.Cut(path, "/")
	if !ok || collection == "" || rkey == "" || strings.Contains(rkey, "/") {
		return ATURI{}, fmt.Errorf("record path %q: %w", path, ErrInvalidURI)
	}
	if repo == "" {
		return ATURI{}, fmt.Errorf("empty repo: %w", ErrInvalidURI)
	}
	return ATURI{Authority: repo, Collection: collection, RKey: rkey}, nil
}

// ParseATURI parses an at:// URI. Collection and rkey are optional.
func ParseATURI(s string) (ATURI, error) {
	rest, ok := strings.CutPrefix(s, uriScheme)
	if !ok {
		return ATURI{}, fmt.Errorf("%q: missing scheme: %w", s, ErrInvalidURI)
	}
	parts := strings.Split(rest, "/")
	if len(parts) > 3 || parts[0] == "" {
		return ATURI{}, fmt.Errorf("%q: %w", s, ErrInvalidURI)
	}
	u := ATURI{Authority: parts[0]}
	if len(parts) > 1 {
		u.Collection = parts[1]
	}
	if len(parts) > 2 {
		u.RKey = parts[2]
	}
	if (len(parts) > 1 && u.Collection == "") || (len(parts) > 2 && u.RKey == "") {
		return ATURI{}, fmt.Errorf("%q: empty path segment: %w", s, ErrInvalidURI)
	}
	return u, nil
}
