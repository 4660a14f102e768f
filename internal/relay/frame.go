package relay

import (
	"errors"
	"fmt"

	"github.com/roach88/skyfeed/internal/codec"
	"github.com/roach88/skyfeed/internal/repo"
)

// Frame operations.
const (
	opMessage = 1
	opError   = -1
)

// Message types carried in the frame header. Only commits are decoded;
// the rest are recognized so they can be skipped quietly.
const (
	TypeCommit   = "#commit"
	TypeIdentity = "#identity"
	TypeAccount  = "#account"
	TypeInfo     = "#info"
	TypeSync     = "#sync"
)

// ErrMalformedFrame is returned when a frame's header or body cannot be
// decoded.
var ErrMalformedFrame = errors.New("malformed frame")

// EventError reports a well-formed message frame whose body could not be
// decoded. It affects that one event only: the stream is still in sync and
// the next frame can be read. Seq and Repo are filled in when the body
// carries them.
type EventError struct {
	Type string
	Seq  int64
	Repo string
	Err  error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("%s event seq %d repo %q: %v", e.Type, e.Seq, e.Repo, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

// IsEventError reports whether err is an *EventError.
func IsEventError(err error) bool {
	var ee *EventError
	return errors.As(err, &ee)
}

// eventID is the part of an event body needed to report a decode failure.
type eventID struct {
	Seq  int64  `cbor:"seq"`
	Repo string `cbor:"repo"`
}

type frameHeader struct {
	Op int64  `cbor:"op"`
	T  string `cbor:"t,omitempty"`
}

type errorBody struct {
	Error   string `cbor:"error"`
	Message string `cbor:"message,omitempty"`
}

// Error is an error frame sent by the relay, e.g. FutureCursor or
// ConsumerTooSlow.
type Error struct {
	Name    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "relay error: " + e.Name
	}
	return fmt.Sprintf("relay error: %s: %s", e.Name, e.Message)
}

// DecodeFrame decodes one binary websocket message. It returns the commit
// for #commit frames, a nil event for other message types, and *Error for
// error frames. A #commit body that does not decode yields *EventError;
// a bad header or unknown op yields ErrMalformedFrame.
func DecodeFrame(data []byte) (*repo.CommitEvent, error) {
	var hdr frameHeader
	body, err := codec.UnmarshalFirst(data, &hdr)
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedFrame, err)
	}

	switch hdr.Op {
	case opError:
		var eb errorBody
		if err := codec.Unmarshal(body, &eb); err != nil {
			return nil, fmt.Errorf("%w: error body: %v", ErrMalformedFrame, err)
		}
		return nil, &Error{Name: eb.Error, Message: eb.Message}
	case opMessage:
	default:
		return nil, fmt.Errorf("%w: unknown op %d", ErrMalformedFrame, hdr.Op)
	}

	if hdr.T != TypeCommit {
		return nil, nil
	}

	var evt repo.CommitEvent
	if err := codec.Unmarshal(body, &evt); err != nil {
		ee := &EventError{
			Type: hdr.T,
			Err:  fmt.Errorf("%w: commit body: %v", ErrMalformedFrame, err),
		}
		var id eventID
		if codec.Unmarshal(body, &id) == nil {
			ee.Seq, ee.Repo = id.Seq, id.Repo
		}
		return nil, ee
	}
	return &evt, nil
}

// EncodeFrame builds the frame the relay sends for a commit.
func EncodeFrame(evt *repo.CommitEvent) ([]byte, error) {
	return EncodeMessageFrame(TypeCommit, evt)
}

// EncodeMessageFrame builds a message frame of type t with body.
func EncodeMessageFrame(t string, body any) ([]byte, error) {
	return encodeFrame(frameHeader{Op: opMessage, T: t}, body)
}

// EncodeErrorFrame builds an error frame.
func EncodeErrorFrame(name, message string) ([]byte, error) {
	return encodeFrame(frameHeader{Op: opError}, errorBody{Error: name, Message: message})
}

func encodeFrame(hdr frameHeader, body any) ([]byte, error) {
	h, err := codec.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("encode frame header: %w", err)
	}
	b, err := codec.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode frame body: %w", err)
	}
	return append(h, b...), nil
}
