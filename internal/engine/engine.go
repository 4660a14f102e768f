package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"github.com/roach88/skyfeed/internal/metrics"
	"github.com/roach88/skyfeed/internal/relay"
	"github.com/roach88/skyfeed/internal/repo"
)

// CheckpointInterval is how often, in stream sequence numbers, the
// engine records its position.
const CheckpointInterval = 1000

// DefaultReconnectDelay is how long the engine waits before reopening a
// subscription after a transport fault.
const DefaultReconnectDelay = 5 * time.Second

// Handler consumes the decoded operations of one commit.
type Handler interface {
	Handle(ctx context.Context, ops repo.Ops) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ops repo.Ops) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ops repo.Ops) error {
	return f(ctx, ops)
}

// Checkpointer persists the stream position per service.
type Checkpointer interface {
	GetCursor(ctx context.Context, service string) (int64, bool, error)
	UpsertCursor(ctx context.Context, service string, cursor int64) error
}

// Engine supervises the relay subscription.
//
// Commits are processed strictly one at a time on the Run goroutine. A
// failure inside one commit is logged and the loop continues. A transport
// fault closes the subscription; after ReconnectDelay the engine reopens it
// from the last checkpointed cursor.
//
// Thread-safety:
//   - Run(): must be called from exactly one goroutine
//   - State(): safe from any goroutine
type Engine struct {
	service     string
	subscriber  relay.Subscriber
	handler     Handler
	checkpoints Checkpointer

	clock          clock.Clock
	reconnectDelay time.Duration
	metrics        *metrics.Metrics
	sessions       SessionIDGenerator

	state atomic.Int32

	// cursor is where the next subscription starts; nil means the live
	// head. Only the Run goroutine touches it.
	cursor *int64
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithClock sets the clock used for reconnect delays.
func WithClock(c clock.Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithReconnectDelay overrides DefaultReconnectDelay.
func WithReconnectDelay(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.reconnectDelay = d
	}
}

// WithMetrics records commit, checkpoint and reconnect counts.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithSessionIDs replaces the UUIDv7 session ID generator.
func WithSessionIDs(g SessionIDGenerator) EngineOption {
	return func(e *Engine) {
		e.sessions = g
	}
}

// New creates an Engine for service. service is the checkpoint key,
// normally the feed generator's DID.
func New(
	service string,
	sub relay.Subscriber,
	h Handler,
	cp Checkpointer,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		service:        service,
		subscriber:     sub,
		handler:        h,
		checkpoints:    cp,
		clock:          clock.WallClock,
		reconnectDelay: DefaultReconnectDelay,
		sessions:       UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current connection state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Run consumes the stream until ctx is cancelled, then returns ctx.Err().
// No other error ends it.
func (e *Engine) Run(ctx context.Context) error {
	defer e.setState(StateStopped)
	e.setState(StateDisconnected)
	slog.Info("engine starting", "service", e.service)

	if err := e.loadCursor(ctx); err != nil {
		return err
	}

	for {
		err := e.stream(ctx)
		if ctx.Err() != nil {
			slog.Info("engine stopping: context cancelled")
			return ctx.Err()
		}

		e.setState(StateDisconnected)
		slog.Warn("relay subscription ended",
			"error", err,
			"cursor", cursorValue(e.cursor),
			"retry_in", e.reconnectDelay,
		)
		if err := e.wait(ctx); err != nil {
			slog.Info("engine stopping: context cancelled")
			return err
		}
		e.metrics.Reconnected()
	}
}

// loadCursor reads the checkpoint, retrying after the reconnect delay if
// the store cannot be read.
func (e *Engine) loadCursor(ctx context.Context) error {
	for {
		cursor, ok, err := e.checkpoints.GetCursor(ctx, e.service)
		if err == nil {
			if ok {
				e.cursor = &cursor
				slog.Info("resuming from checkpoint", "cursor", cursor)
			} else {
				slog.Info("no checkpoint, starting from live head")
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("read checkpoint failed", "error", err, "retry_in", e.reconnectDelay)
		if err := e.wait(ctx); err != nil {
			return err
		}
	}
}

// wait blocks for the reconnect delay or until ctx is cancelled.
func (e *Engine) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.clock.After(e.reconnectDelay):
		return nil
	}
}

// stream runs one subscription session until it fails.
func (e *Engine) stream(ctx context.Context) error {
	log := slog.With("session", e.sessions.Generate())

	e.setState(StateConnecting)
	log.Info("connecting to relay", "cursor", cursorValue(e.cursor))

	sub, err := e.subscriber.Subscribe(ctx, e.cursor)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()

	e.setState(StateStreaming)
	log.Info("streaming")

	for {
		evt, err := sub.Next(ctx)
		var skipped *relay.EventError
		if errors.As(err, &skipped) {
			e.metrics.CommitSeen()
			e.metrics.CommitFailed()
			log.Error("skipping undecodable event",
				"error", skipped.Err,
				"type", skipped.Type,
				"seq", skipped.Seq,
				"repo", skipped.Repo,
			)
			continue
		}
		if err != nil {
			return err
		}
		e.metrics.CommitSeen()
		if err := e.processCommit(ctx, log, evt); err != nil {
			e.metrics.CommitFailed()
			log.Error("commit processing failed",
				"error", err,
				"seq", evt.Seq,
				"repo", evt.Repo,
			)
		}
	}
}

// processCommit checkpoints when due, then decodes and hands the commit to
// the handler. Panics are recovered into a *CommitError.
func (e *Engine) processCommit(ctx context.Context, log *slog.Logger, evt *repo.CommitEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CommitError{
				Code: ErrCodePanic,
				Seq:  evt.Seq,
				Repo: evt.Repo,
				Err:  fmt.Errorf("%v", r),
			}
		}
	}()

	if evt.Seq%CheckpointInterval == 0 {
		e.checkpoint(ctx, log, evt.Seq)
	}

	if len(evt.Blocks) == 0 {
		e.metrics.CommitSkipped()
		return nil
	}

	ops, skipped := repo.Decode(evt)
	for _, s := range skipped {
		log.Debug("operation skipped", "error", s)
	}
	e.metrics.OpsSkipped(len(skipped))

	if err := e.handler.Handle(ctx, ops); err != nil {
		return &CommitError{
			Code: ErrCodeHandlerFailed,
			Seq:  evt.Seq,
			Repo: evt.Repo,
			Err:  err,
		}
	}
	return nil
}

// checkpoint moves the in-memory cursor to seq and persists it. A failed
// write is logged; the in-memory cursor still advances.
func (e *Engine) checkpoint(ctx context.Context, log *slog.Logger, seq int64) {
	e.cursor = &seq
	if err := e.checkpoints.UpsertCursor(ctx, e.service, seq); err != nil {
		log.Error("checkpoint write failed", "error", err, "seq", seq)
		return
	}
	e.metrics.CheckpointWritten()
	log.Debug("checkpoint written", "seq", seq)
}

func cursorValue(c *int64) any {
	if c == nil {
		return "head"
	}
	return *c
}
