package testutil

import (
	"context"
	"sync"

	"github.com/roach88/skyfeed/internal/relay"
	"github.com/roach88/skyfeed/internal/repo"
)

// Session scripts one subscription. DialErr fails Subscribe itself.
// Otherwise Next returns Commits in order, then Err. A nil entry in
// Commits stands for a commit body that failed to decode: Next returns an
// *relay.EventError in its place. A session with a nil Err goes idle after
// its commits: Next blocks until the context ends.
type Session struct {
	DialErr error
	Commits []*repo.CommitEvent
	Err     error
}

// ScriptedRelay is a relay.Subscriber that replays scripted sessions and
// records the cursor each subscription asked for.
//
// Once the script runs out, further subscriptions are idle. Idle()
// signals each time a subscription starts blocking, which tests use to
// know every scripted commit has been handed to the consumer.
//
// Thread-safety: all methods are safe for concurrent use.
type ScriptedRelay struct {
	mu       sync.Mutex
	sessions []Session
	cursors  []*int64
	idle     chan struct{}
}

// NewScriptedRelay creates a relay that plays sessions in order.
func NewScriptedRelay(sessions ...Session) *ScriptedRelay {
	return &ScriptedRelay{
		sessions: sessions,
		idle:     make(chan struct{}, 16),
	}
}

var _ relay.Subscriber = (*ScriptedRelay)(nil)

// Subscribe implements relay.Subscriber.
func (r *ScriptedRelay) Subscribe(ctx context.Context, cursor *int64) (relay.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var recorded *int64
	if cursor != nil {
		c := *cursor
		recorded = &c
	}
	r.cursors = append(r.cursors, recorded)

	var s Session
	if len(r.sessions) > 0 {
		s = r.sessions[0]
		r.sessions = r.sessions[1:]
	}
	if s.DialErr != nil {
		return nil, s.DialErr
	}
	return &scriptedSubscription{session: s, idle: r.idle}, nil
}

// Cursors returns the cursor passed to each Subscribe call, in order. A nil
// entry means the subscription started from the live head.
func (r *ScriptedRelay) Cursors() []*int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*int64(nil), r.cursors...)
}

// Idle returns a channel that receives once per subscription that has
// delivered all its commits and is now blocking.
func (r *ScriptedRelay) Idle() <-chan struct{} {
	return r.idle
}

type scriptedSubscription struct {
	session Session
	pos     int
	idle    chan struct{}
	closed  bool
}

func (s *scriptedSubscription) Next(ctx context.Context) (*repo.CommitEvent, error) {
	if s.pos < len(s.session.Commits) {
		evt := s.session.Commits[s.pos]
		s.pos++
		if evt == nil {
			return nil, &relay.EventError{Type: relay.TypeCommit, Err: relay.ErrMalformedFrame}
		}
		return evt, nil
	}
	if s.session.Err != nil {
		return nil, s.session.Err
	}
	select {
	case s.idle <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *scriptedSubscription) Close() error {
	s.closed = true
	return nil
}
