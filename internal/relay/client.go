// Package relay subscribes to a relay's repository event stream.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/roach88/skyfeed/internal/repo"
)

// SubscribeReposPath is the XRPC endpoint of the repository event stream.
const SubscribeReposPath = "/xrpc/com.atproto.sync.subscribeRepos"

// Subscriber opens event stream subscriptions. A nil cursor starts at the
// live head.
type Subscriber interface {
	Subscribe(ctx context.Context, cursor *int64) (Subscription, error)
}

// Subscription is an open event stream. Next blocks until the next commit
// arrives. An *EventError from Next concerns one event and Next may be
// called again; any other error ends the subscription.
type Subscription interface {
	Next(ctx context.Context) (*repo.CommitEvent, error)
	Close() error
}

// ErrUnexpectedMessage is returned for websocket messages that are not
// binary frames.
var ErrUnexpectedMessage = errors.New("unexpected websocket message type")

// Client is a Subscriber over websocket.
type Client struct {
	base   *url.URL
	dialer *websocket.Dialer
	header http.Header
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithUserAgent sets the User-Agent header sent when dialing.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.header.Set("User-Agent", ua)
	}
}

// NewClient returns a Client for the relay at relayURL. ws, wss, http and
// https schemes are accepted; http(s) is dialed as ws(s).
func NewClient(relayURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("relay url %q: unsupported scheme %q", relayURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("relay url %q: missing host", relayURL)
	}

	c := &Client{
		base:   u,
		dialer: websocket.DefaultDialer,
		header: http.Header{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the subscription URL for cursor.
func (c *Client) URL(cursor *int64) string {
	u := *c.base
	u.Path = SubscribeReposPath
	q := url.Values{}
	if cursor != nil {
		q.Set("cursor", strconv.FormatInt(*cursor, 10))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Subscribe dials the relay.
func (c *Client) Subscribe(ctx context.Context, cursor *int64) (Subscription, error) {
	target := c.URL(cursor)
	conn, resp, err := c.dialer.DialContext(ctx, target, c.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", target, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &wsSubscription{conn: conn}, nil
}

type wsSubscription struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// Next reads frames until a commit arrives. Frames of other types are
// skipped. A commit whose body does not decode is returned as *EventError
// and the connection stays usable. Cancelling ctx closes the connection.
func (s *wsSubscription) Next(ctx context.Context) (*repo.CommitEvent, error) {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read frame: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			return nil, fmt.Errorf("%w: %d", ErrUnexpectedMessage, msgType)
		}

		evt, err := DecodeFrame(data)
		if err != nil {
			return nil, err
		}
		if evt != nil {
			return evt, nil
		}
	}
}

func (s *wsSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
