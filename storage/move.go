package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/domain"
	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/position"
)

func orderingConflict(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrOrderingConflict, err)
}

// lockBoard serializes structural writers per board by taking a row lock on
// the board for the duration of the transaction.
func lockBoard(ctx context.Context, tx *sql.Tx, boardID string) (int64, error) {
	var revision int64
	err := tx.QueryRowContext(ctx, `SELECT revision FROM boards WHERE id=$1 FOR UPDATE`, boardID).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("board %s: %w", boardID, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("lock board: %w", err)
	}
	return revision, nil
}

func requireMember(ctx context.Context, tx *sql.Tx, boardID, userID string) error {
	var isMember bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM board_members WHERE board_id=$1 AND user_id=$2)`,
		boardID, userID).Scan(&isMember)
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !isMember {
		return fmt.Errorf("user %s on board %s: %w", userID, boardID, domain.ErrForbidden)
	}
	return nil
}

func bumpRevision(ctx context.Context, tx *sql.Tx, boardID string) (int64, error) {
	var revision int64
	err := tx.QueryRowContext(ctx,
		`UPDATE boards SET revision = revision + 1 WHERE id=$1 RETURNING revision`,
		boardID).Scan(&revision)
	if err != nil {
		return 0, fmt.Errorf("bump revision: %w", err)
	}
	return revision, nil
}

// Move is a single transactional attempt at applying a move operation.
// Neighbor keys are re-fetched inside the transaction; client-supplied
// positions are never trusted. Callers retry on domain.ErrOrderingConflict.
func (s *Store) Move(ctx context.Context, op domain.MoveOperation, actorID, originClientID string) (domain.CanonicalEvent, error) {
	switch op.EntityType {
	case domain.EntityTask:
		return s.moveTask(ctx, op, actorID, originClientID)
	case domain.EntityList:
		return s.moveList(ctx, op, actorID, originClientID)
	default:
		return domain.CanonicalEvent{}, fmt.Errorf("entity type %q: %w", op.EntityType, domain.ErrNotFound)
	}
}

func (s *Store) moveTask(ctx context.Context, op domain.MoveOperation, actorID, originClientID string) (domain.CanonicalEvent, error) {
	var ev domain.CanonicalEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var boardID string
		err := tx.QueryRowContext(ctx, `SELECT board_id FROM lists WHERE id=$1`, op.TargetParentID).Scan(&boardID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("target list %s: %w", op.TargetParentID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("resolve target list: %w", err)
		}

		if _, err := lockBoard(ctx, tx, boardID); err != nil {
			return err
		}
		if err := requireMember(ctx, tx, boardID, actorID); err != nil {
			return err
		}

		var currentListID string
		err = tx.QueryRowContext(ctx,
			`SELECT t.list_id FROM tasks t JOIN lists l ON l.id = t.list_id WHERE t.id=$1 AND l.board_id=$2`,
			op.EntityID, boardID).Scan(&currentListID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("task %s: %w", op.EntityID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("resolve task: %w", err)
		}

		before, after, err := s.taskNeighborKeys(ctx, tx, op)
		if err != nil {
			return err
		}
		key, err := position.Allocate(before, after)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET list_id=$1, position=$2, updated_at=NOW() WHERE id=$3`,
			op.TargetParentID, key, op.EntityID)
		if err != nil {
			if isUniqueViolation(err) {
				return orderingConflict(err)
			}
			return fmt.Errorf("update task position: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("task %s: %w", op.EntityID, domain.ErrNotFound)
		}

		revision, err := bumpRevision(ctx, tx, boardID)
		if err != nil {
			return err
		}
		ev = domain.CanonicalEvent{
			BoardID:        boardID,
			EntityType:     domain.EntityTask,
			EntityID:       op.EntityID,
			Type:           domain.TaskMoved,
			NewParentID:    op.TargetParentID,
			NewPosition:    key,
			Revision:       revision,
			OriginClientID: originClientID,
			Timestamp:      time.Now().UnixMilli(),
		}
		return nil
	})
	return ev, err
}

// taskNeighborKeys resolves the gap bounds for a task move inside the
// transaction. The named neighbors' keys are re-fetched, never trusted from
// the client, and the lower bound is then tightened to the highest key
// already sitting inside the gap. Without the tightening two movers aiming
// between the same neighbors would both allocate the same midpoint; with it
// the second bisects the remaining sub-gap. When no neighbor is named the
// gap is the whole list and the move appends to the tail.
func (s *Store) taskNeighborKeys(ctx context.Context, tx *sql.Tx, op domain.MoveOperation) (string, string, error) {
	var before, after string
	if op.BeforeNeighborID != "" {
		err := tx.QueryRowContext(ctx,
			`SELECT position FROM tasks WHERE id=$1 AND list_id=$2`,
			op.BeforeNeighborID, op.TargetParentID).Scan(&before)
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", fmt.Errorf("before neighbor %s: %w", op.BeforeNeighborID, domain.ErrNotFound)
		}
		if err != nil {
			return "", "", fmt.Errorf("fetch before neighbor: %w", err)
		}
	}
	if op.AfterNeighborID != "" {
		err := tx.QueryRowContext(ctx,
			`SELECT position FROM tasks WHERE id=$1 AND list_id=$2`,
			op.AfterNeighborID, op.TargetParentID).Scan(&after)
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", fmt.Errorf("after neighbor %s: %w", op.AfterNeighborID, domain.ErrNotFound)
		}
		if err != nil {
			return "", "", fmt.Errorf("fetch after neighbor: %w", err)
		}
	}
	var occupied sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT MAX(position) FROM tasks
		WHERE list_id=$1 AND id <> $2 AND position > $3 AND ($4 = '' OR position < $4)`,
		op.TargetParentID, op.EntityID, before, after).Scan(&occupied)
	if err != nil {
		return "", "", fmt.Errorf("scan gap occupancy: %w", err)
	}
	if occupied.Valid {
		before = occupied.String
	}
	return before, after, nil
}

func (s *Store) moveList(ctx context.Context, op domain.MoveOperation, actorID, originClientID string) (domain.CanonicalEvent, error) {
	var ev domain.CanonicalEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		boardID := op.TargetParentID
		if _, err := lockBoard(ctx, tx, boardID); err != nil {
			return err
		}
		if err := requireMember(ctx, tx, boardID, actorID); err != nil {
			return err
		}

		// Lists belong to one board for their lifetime.
		var currentBoardID string
		err := tx.QueryRowContext(ctx, `SELECT board_id FROM lists WHERE id=$1`, op.EntityID).Scan(&currentBoardID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && currentBoardID != boardID) {
			return fmt.Errorf("list %s: %w", op.EntityID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("resolve list: %w", err)
		}

		before, after, err := s.listNeighborKeys(ctx, tx, op, boardID)
		if err != nil {
			return err
		}
		key, err := position.Allocate(before, after)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE lists SET position=$1 WHERE id=$2`, key, op.EntityID); err != nil {
			if isUniqueViolation(err) {
				return orderingConflict(err)
			}
			return fmt.Errorf("update list position: %w", err)
		}

		revision, err := bumpRevision(ctx, tx, boardID)
		if err != nil {
			return err
		}
		ev = domain.CanonicalEvent{
			BoardID:        boardID,
			EntityType:     domain.EntityList,
			EntityID:       op.EntityID,
			Type:           domain.ListMoved,
			NewParentID:    boardID,
			NewPosition:    key,
			Revision:       revision,
			OriginClientID: originClientID,
			Timestamp:      time.Now().UnixMilli(),
		}
		return nil
	})
	return ev, err
}

// listNeighborKeys mirrors taskNeighborKeys for board-level list moves,
// including the lower-bound tightening against keys already inside the gap.
func (s *Store) listNeighborKeys(ctx context.Context, tx *sql.Tx, op domain.MoveOperation, boardID string) (string, string, error) {
	var before, after string
	if op.BeforeNeighborID != "" {
		err := tx.QueryRowContext(ctx,
			`SELECT position FROM lists WHERE id=$1 AND board_id=$2`,
			op.BeforeNeighborID, boardID).Scan(&before)
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", fmt.Errorf("before neighbor %s: %w", op.BeforeNeighborID, domain.ErrNotFound)
		}
		if err != nil {
			return "", "", fmt.Errorf("fetch before neighbor: %w", err)
		}
	}
	if op.AfterNeighborID != "" {
		err := tx.QueryRowContext(ctx,
			`SELECT position FROM lists WHERE id=$1 AND board_id=$2`,
			op.AfterNeighborID, boardID).Scan(&after)
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", fmt.Errorf("after neighbor %s: %w", op.AfterNeighborID, domain.ErrNotFound)
		}
		if err != nil {
			return "", "", fmt.Errorf("fetch after neighbor: %w", err)
		}
	}
	var occupied sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT MAX(position) FROM lists
		WHERE board_id=$1 AND id <> $2 AND position > $3 AND ($4 = '' OR position < $4)`,
		boardID, op.EntityID, before, after).Scan(&occupied)
	if err != nil {
		return "", "", fmt.Errorf("scan gap occupancy: %w", err)
	}
	if occupied.Valid {
		before = occupied.String
	}
	return before, after, nil
}

// CompactTaskList renumbers every task of a list with evenly spaced keys
// inside one transaction. Concurrent readers observe either the pre- or
// post-compaction keys, never a mix; the board revision is untouched because
// the visual order does not change.
func (s *Store) CompactTaskList(ctx context.Context, listID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var boardID string
		err := tx.QueryRowContext(ctx, `SELECT board_id FROM lists WHERE id=$1`, listID).Scan(&boardID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("list %s: %w", listID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("resolve list: %w", err)
		}
		if _, err := lockBoard(ctx, tx, boardID); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `SELECT id FROM tasks WHERE list_id=$1 ORDER BY position`, listID)
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		ids, err := scanIDs(rows)
		if err != nil {
			return err
		}
		return renumber(ctx, tx, `UPDATE tasks SET position=$1 WHERE id=$2`, ids)
	})
}

// CompactBoardLists renumbers a board's lists the same way.
func (s *Store) CompactBoardLists(ctx context.Context, boardID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockBoard(ctx, tx, boardID); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, `SELECT id FROM lists WHERE board_id=$1 ORDER BY position`, boardID)
		if err != nil {
			return fmt.Errorf("list lists: %w", err)
		}
		ids, err := scanIDs(rows)
		if err != nil {
			return err
		}
		return renumber(ctx, tx, `UPDATE lists SET position=$1 WHERE id=$2`, ids)
	})
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

func renumber(ctx context.Context, tx *sql.Tx, query string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := position.Spread(len(ids))
	// Two passes so intermediate states never trip the sibling uniqueness
	// constraint: park every row on a prefixed temporary key first.
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, query, "~"+keys[i], id); err != nil {
			return fmt.Errorf("park position: %w", err)
		}
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, query, keys[i], id); err != nil {
			return fmt.Errorf("renumber position: %w", err)
		}
	}
	return nil
}
