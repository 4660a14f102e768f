package codec

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	gocid "github.com/ipfs/go-cid"
)

// linkTag is the CBOR tag DAG-CBOR uses for content links.
const linkTag = 42

// ErrNotLink is returned when a CBOR item expected to be a link is some
// other tag or type.
var ErrNotLink = errors.New("not a DAG-CBOR link")

// Link is a CID carried as a DAG-CBOR link: tag 42 wrapping a byte string
// of 0x00 (identity multibase) followed by the binary CID.
type Link struct {
	CID gocid.Cid
}

// NewLink wraps c as a Link.
func NewLink(c gocid.Cid) Link {
	return Link{CID: c}
}

// MarshalCBOR implements cbor.Marshaler. An undefined CID encodes as null.
func (l Link) MarshalCBOR() ([]byte, error) {
	if !l.CID.Defined() {
		return encMode.Marshal(nil)
	}
	content := append([]byte{0x00}, l.CID.Bytes()...)
	return encMode.Marshal(cbor.Tag{Number: linkTag, Content: content})
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (l *Link) UnmarshalCBOR(data []byte) error {
	var tag cbor.RawTag
	if err := decMode.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("decode link: %w", ErrNotLink)
	}
	if tag.Number != linkTag {
		return fmt.Errorf("decode link: tag %d: %w", tag.Number, ErrNotLink)
	}

	var raw []byte
	if err := decMode.Unmarshal(tag.Content, &raw); err != nil {
		return fmt.Errorf("decode link content: %w", err)
	}
	if len(raw) < 2 || raw[0] != 0x00 {
		return fmt.Errorf("decode link: missing identity multibase prefix: %w", ErrNotLink)
	}

	c, err := gocid.Cast(raw[1:])
	if err != nil {
		return fmt.Errorf("decode link cid: %w", err)
	}
	l.CID = c
	return nil
}

// String returns the CID's canonical string form.
func (l Link) String() string {
	return l.CID.String()
}
