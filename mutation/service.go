// Package mutation turns client operations into committed state changes and
// canonical events. Transient ordering conflicts are retried here inside a
// bounded loop; every committed event is handed to the realtime fan-out and
// the activity feed.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/activity"
	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/domain"
	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/position"
)

// maxAttempts bounds the optimistic retry loop for stale neighbor keys.
const maxAttempts = 3

// Store is the transactional board store. Each method is a single attempt;
// the service owns the retry policy.
type Store interface {
	Move(ctx context.Context, op domain.MoveOperation, actorID, originClientID string) (domain.CanonicalEvent, error)
	CreateList(ctx context.Context, boardID, actorID, originClientID, title string) (domain.CanonicalEvent, error)
	CreateTask(ctx context.Context, listID, actorID, originClientID string, task domain.Task) (domain.CanonicalEvent, error)
	UpdateTask(ctx context.Context, taskID, actorID, originClientID string, patch domain.TaskPatch) (domain.CanonicalEvent, error)
	DeleteTask(ctx context.Context, taskID, actorID, originClientID string) (domain.CanonicalEvent, error)
	DeleteList(ctx context.Context, listID, actorID, originClientID string) (domain.CanonicalEvent, error)
	CompactTaskList(ctx context.Context, listID string) error
	CompactBoardLists(ctx context.Context, boardID string) error
}

// Publisher hands committed canonical events to the realtime backbone.
type Publisher interface {
	Publish(ctx context.Context, ev domain.CanonicalEvent) error
}

// Invalidator drops cached board snapshots after a commit.
type Invalidator interface {
	Invalidate(ctx context.Context, boardID string)
}

// Service validates and applies structural operations.
type Service struct {
	store       Store
	publisher   Publisher
	activity    activity.Sink
	cache       Invalidator
	logger      *log.Logger
	compactions sync.WaitGroup
}

// New creates a mutation service. The activity sink and cache invalidator may
// be nil.
func New(store Store, publisher Publisher, sink activity.Sink, cache Invalidator, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if sink == nil {
		sink = activity.Noop{}
	}
	return &Service{store: store, publisher: publisher, activity: sink, cache: cache, logger: logger}
}

// ApplyMove commits a move operation, retrying stale neighbor reads up to
// maxAttempts before surfacing a conflict.
func (s *Service) ApplyMove(ctx context.Context, op domain.MoveOperation, actorID, originClientID string) (domain.CanonicalEvent, error) {
	ctx, span := otel.Tracer("mutation").Start(ctx, "mutation.ApplyMove")
	defer span.End()
	span.SetAttributes(
		attribute.String("entity.type", string(op.EntityType)),
		attribute.String("entity.id", op.EntityID),
	)

	if op.EntityID == "" || op.TargetParentID == "" {
		return domain.CanonicalEvent{}, fmt.Errorf("move operation missing entity or target: %w", domain.ErrNotFound)
	}
	return s.withRetry(ctx, actorID, func() (domain.CanonicalEvent, error) {
		return s.store.Move(ctx, op, actorID, originClientID)
	})
}

// CreateList appends a new list to a board and broadcasts the result.
func (s *Service) CreateList(ctx context.Context, boardID, actorID, originClientID, title string) (domain.CanonicalEvent, error) {
	return s.withRetry(ctx, actorID, func() (domain.CanonicalEvent, error) {
		return s.store.CreateList(ctx, boardID, actorID, originClientID, title)
	})
}

// CreateTask appends a new task to a list and broadcasts the result.
func (s *Service) CreateTask(ctx context.Context, listID, actorID, originClientID string, task domain.Task) (domain.CanonicalEvent, error) {
	return s.withRetry(ctx, actorID, func() (domain.CanonicalEvent, error) {
		return s.store.CreateTask(ctx, listID, actorID, originClientID, task)
	})
}

// UpdateTask patches non-structural task fields.
func (s *Service) UpdateTask(ctx context.Context, taskID, actorID, originClientID string, patch domain.TaskPatch) (domain.CanonicalEvent, error) {
	return s.withRetry(ctx, actorID, func() (domain.CanonicalEvent, error) {
		return s.store.UpdateTask(ctx, taskID, actorID, originClientID, patch)
	})
}

// DeleteTask removes a task.
func (s *Service) DeleteTask(ctx context.Context, taskID, actorID, originClientID string) (domain.CanonicalEvent, error) {
	return s.withRetry(ctx, actorID, func() (domain.CanonicalEvent, error) {
		return s.store.DeleteTask(ctx, taskID, actorID, originClientID)
	})
}

// DeleteList removes a list and its tasks.
func (s *Service) DeleteList(ctx context.Context, listID, actorID, originClientID string) (domain.CanonicalEvent, error) {
	return s.withRetry(ctx, actorID, func() (domain.CanonicalEvent, error) {
		return s.store.DeleteList(ctx, listID, actorID, originClientID)
	})
}

// withRetry is the explicit bounded conflict-retry loop. Attempts re-read
// neighbor state inside the store transaction, so a retry after
// ErrOrderingConflict observes fresh keys.
func (s *Service) withRetry(ctx context.Context, actorID string, attempt func() (domain.CanonicalEvent, error)) (domain.CanonicalEvent, error) {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		ev, err := attempt()
		if err == nil {
			s.committed(ctx, ev, actorID)
			return ev, nil
		}
		if !errors.Is(err, domain.ErrOrderingConflict) {
			return domain.CanonicalEvent{}, err
		}
		lastErr = err
		s.logger.WithError(err).WithField("attempt", i+1).Debug("ordering conflict, retrying with fresh neighbors")
	}
	return domain.CanonicalEvent{}, fmt.Errorf("%w: %d attempts exhausted: %v", domain.ErrConflict, maxAttempts, lastErr)
}

// committed runs the post-commit side effects: activity append
// (fire-and-forget), cache invalidation, broadcast, and opportunistic
// compaction when the committed key has grown past the threshold. None of
// these may fail the mutation.
func (s *Service) committed(ctx context.Context, ev domain.CanonicalEvent, actorID string) {
	s.activity.Append(activity.Entry{
		Action:     ev.Type,
		EntityType: string(ev.EntityType),
		EntityID:   ev.EntityID,
		UserID:     actorID,
		BoardID:    ev.BoardID,
		Timestamp:  ev.Timestamp,
	})
	if s.cache != nil {
		s.cache.Invalidate(ctx, ev.BoardID)
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			// Subscribers recover through resync; the commit stands.
			s.logger.WithError(err).WithField("board", ev.BoardID).Error("event publish failed")
		}
	}
	if position.Overlong(ev.NewPosition) {
		s.compact(ev)
	}
}

func (s *Service) compact(ev domain.CanonicalEvent) {
	s.compactions.Add(1)
	go func() {
		defer s.compactions.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		var err error
		switch ev.EntityType {
		case domain.EntityTask:
			err = s.store.CompactTaskList(ctx, ev.NewParentID)
		case domain.EntityList:
			err = s.store.CompactBoardLists(ctx, ev.NewParentID)
		}
		if err != nil {
			s.logger.WithError(err).WithField("parent", ev.NewParentID).Error("compaction failed")
		}
	}()
}

// Close waits for in-flight background compactions to finish. Call it at
// shutdown after the server stops accepting mutations.
func (s *Service) Close() {
	s.compactions.Wait()
}
