package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/domain"
	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/position"
)

// moveTimeout bounds how long an optimistic mutation stays pending before the
// agent rolls it back and reports a timeout.
const moveTimeout = 5 * time.Second

// API is the server surface the agent mutates and resyncs through.
type API interface {
	Move(ctx context.Context, boardID string, op domain.MoveOperation, idempotencyKey string) (domain.CanonicalEvent, error)
	FetchBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error)
}

// EventSource yields the live canonical event stream. Connect blocks until a
// stream is established; the returned channel closes when the transport is
// lost.
type EventSource interface {
	Connect(ctx context.Context) (<-chan domain.CanonicalEvent, error)
}

// Notice is a user-facing signal: a rolled-back move, a vanished entity, a
// transport drop. The agent never blocks on notice delivery.
type Notice struct {
	Kind     string
	EntityID string
	Message  string
}

// Agent keeps one board replica in sync. Mutations apply locally first and
// reconcile against the committed event; every stream (re)connect starts with
// a full resync because events missed while disconnected are gone.
type Agent struct {
	api      API
	boardID  string
	clientID string
	timeout  time.Duration
	logger   *log.Logger

	mu    sync.Mutex
	state *BoardState

	notices chan Notice
}

// New creates an agent around an initial snapshot.
func New(api API, boardID string, snapshot domain.BoardSnapshot, logger *log.Logger) *Agent {
	if logger == nil {
		logger = log.StandardLogger()
	}
	a := &Agent{
		api:      api,
		boardID:  boardID,
		clientID: uuid.NewString(),
		timeout:  moveTimeout,
		logger:   logger,
		state:    NewBoardState(snapshot),
		notices:  make(chan Notice, 16),
	}
	return a
}

// ClientID is the origin identifier stamped on this agent's mutations.
func (a *Agent) ClientID() string {
	return a.clientID
}

// Notices is the stream of user-facing sync signals.
func (a *Agent) Notices() <-chan Notice {
	return a.notices
}

// Snapshot returns a copy of the current replica.
func (a *Agent) Snapshot() domain.BoardSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Clone().BoardSnapshot
}

// MoveTask applies the move optimistically, then reconciles with the server's
// committed event. On failure the optimistic change is rolled back and the
// error reported through a notice as well as the return value.
func (a *Agent) MoveTask(ctx context.Context, taskID, targetListID, beforeID, afterID string) error {
	op := domain.MoveOperation{
		EntityType:       domain.EntityTask,
		EntityID:         taskID,
		TargetParentID:   targetListID,
		BeforeNeighborID: beforeID,
		AfterNeighborID:  afterID,
	}

	a.mu.Lock()
	rollback := a.state.Clone()
	before, after := a.state.NeighborKeys(targetListID, beforeID, afterID)
	if key, err := position.Allocate(before, after); err == nil {
		a.state.MoveTaskLocal(taskID, targetListID, key)
	}
	a.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	ev, err := a.api.Move(callCtx, a.boardID, op, uuid.NewString())
	if err != nil {
		return a.moveFailed(ctx, err, rollback, taskID, func(s *BoardState) {
			s.RemoveTask(taskID)
		})
	}

	a.applyCommitted(ctx, ev)
	return nil
}

// MoveList repositions a list within the board with the same optimistic
// discipline as MoveTask.
func (a *Agent) MoveList(ctx context.Context, listID, beforeID, afterID string) error {
	op := domain.MoveOperation{
		EntityType:       domain.EntityList,
		EntityID:         listID,
		TargetParentID:   a.boardID,
		BeforeNeighborID: beforeID,
		AfterNeighborID:  afterID,
	}

	a.mu.Lock()
	rollback := a.state.Clone()
	before, after := a.state.ListNeighborKeys(beforeID, afterID)
	if key, err := position.Allocate(before, after); err == nil {
		a.state.MoveListLocal(listID, key)
	}
	a.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	ev, err := a.api.Move(callCtx, a.boardID, op, uuid.NewString())
	if err != nil {
		return a.moveFailed(ctx, err, rollback, listID, func(s *BoardState) {
			s.removeList(listID)
		})
	}

	a.applyCommitted(ctx, ev)
	return nil
}

// moveFailed restores the pre-move replica and classifies the failure. Only
// the agent's own confirmation window maps to ErrTimeout; a deadline or
// cancellation inherited from the caller's ctx is returned as is. A vanished
// entity is additionally dropped from the restored state.
func (a *Agent) moveFailed(ctx context.Context, err error, rollback *BoardState, entityID string, drop func(*BoardState)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = rollback
	switch {
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		err = domain.ErrTimeout
		a.notify(Notice{Kind: "timeout", EntityID: entityID, Message: "move not confirmed, rolled back"})
	case ctx.Err() != nil:
		// The caller gave up; roll back quietly.
	case errors.Is(err, domain.ErrNotFound):
		drop(a.state)
		a.notify(Notice{Kind: "not-found", EntityID: entityID, Message: "entity no longer exists"})
	default:
		a.notify(Notice{Kind: domain.ErrorKind(err), EntityID: entityID, Message: "move rejected, rolled back"})
	}
	return err
}

// applyCommitted folds a committed event from a mutation response into the
// replica. The response may race the same event arriving on the stream;
// revision dedupe makes either order safe.
func (a *Agent) applyCommitted(ctx context.Context, ev domain.CanonicalEvent) {
	a.mu.Lock()
	gap := ev.Revision > a.state.Revision+1
	if !gap {
		a.state.Apply(ev)
	}
	a.mu.Unlock()
	if gap {
		if err := a.Resync(ctx); err != nil {
			a.logger.WithError(err).Error("resync after revision gap failed")
		}
	}
}

// ApplyRemote folds a streamed event into the replica. A revision gap means
// events were lost and triggers a full resync.
func (a *Agent) ApplyRemote(ctx context.Context, ev domain.CanonicalEvent) {
	if ev.BoardID != a.boardID {
		return
	}
	a.applyCommitted(ctx, ev)
}

// Resync replaces the replica with a fresh authoritative snapshot.
func (a *Agent) Resync(ctx context.Context) error {
	snapshot, err := a.api.FetchBoard(ctx, a.boardID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.state = NewBoardState(snapshot)
	a.mu.Unlock()
	a.logger.WithFields(log.Fields{"board": a.boardID, "revision": snapshot.Revision}).Debug("resynced")
	return nil
}

// Run consumes the event stream until ctx is cancelled. Every successful
// connect is followed by a mandatory resync; a dropped stream surfaces a
// transport-lost notice and reconnects with backoff.
func (a *Agent) Run(ctx context.Context, source EventSource) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		events, err := source.Connect(ctx)
		if err != nil {
			a.logger.WithError(err).Warn("stream connect failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if err := a.Resync(ctx); err != nil {
			a.logger.WithError(err).Error("post-connect resync failed")
		}
		for ev := range events {
			a.ApplyRemote(ctx, ev)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.notify(Notice{Kind: "transport-lost", Message: "event stream dropped, reconnecting"})
	}
}

func (a *Agent) notify(n Notice) {
	select {
	case a.notices <- n:
	default:
		a.logger.WithField("kind", n.Kind).Warn("notice dropped, consumer not draining")
	}
}
