// Package codec wraps the CBOR configuration shared by every package that
// touches relay frames, CAR headers or repository records.
//
// Records in a repository are DAG-CBOR: deterministic map ordering, string
// keys only, and content links carried as CBOR tag 42. Consumers import this
// package rather than fxamacker/cbor directly so the modes stay consistent.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode produces Core Deterministic Encoding (RFC 8949 §4.2). The same
// logical value always encodes to the same bytes, which keeps block CIDs
// stable for fixtures built in tests.
var encMode cbor.EncMode

// decMode accepts standard CBOR and ignores unknown map keys so new record
// fields added upstream do not break decoding.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Records never use non-string map keys. Decoding into any must
		// yield map[string]any rather than map[any]any.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes exactly one CBOR data item from data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// UnmarshalFirst decodes the first CBOR data item in data into v and
// returns the bytes that follow it. Relay frames are two concatenated
// items (header then body), so this is how they are split.
func UnmarshalFirst(data []byte, v any) (rest []byte, err error) {
	return decMode.UnmarshalFirst(data, v)
}

// RawMessage is an undecoded CBOR item, used to defer body decoding until
// the frame header has been inspected.
type RawMessage = cbor.RawMessage
