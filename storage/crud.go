package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/domain"
	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/position"
)

// CreateBoard creates a board owned by actorID, who becomes its first member.
func (s *Store) CreateBoard(ctx context.Context, actorID, title string) (domain.Board, error) {
	board := domain.Board{ID: uuid.NewString(), OwnerID: actorID, Title: title}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO boards (id, owner_id, title) VALUES ($1, $2, $3)`,
			board.ID, actorID, title); err != nil {
			return fmt.Errorf("insert board: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO board_members (board_id, user_id, role) VALUES ($1, $2, 'owner')`,
			board.ID, actorID); err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}
		return nil
	})
	return board, err
}

// CreateList appends a list at the tail of the board order.
func (s *Store) CreateList(ctx context.Context, boardID, actorID, originClientID, title string) (domain.CanonicalEvent, error) {
	var ev domain.CanonicalEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockBoard(ctx, tx, boardID); err != nil {
			return err
		}
		if err := requireMember(ctx, tx, boardID, actorID); err != nil {
			return err
		}

		var tail string
		err := tx.QueryRowContext(ctx,
			`SELECT position FROM lists WHERE board_id=$1 ORDER BY position DESC LIMIT 1`,
			boardID).Scan(&tail)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("fetch tail position: %w", err)
		}
		key, err := position.Allocate(tail, "")
		if err != nil {
			return err
		}

		list := domain.List{ID: uuid.NewString(), BoardID: boardID, Title: title, Position: key}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lists (id, board_id, title, position) VALUES ($1, $2, $3, $4)`,
			list.ID, boardID, title, key); err != nil {
			if isUniqueViolation(err) {
				return orderingConflict(err)
			}
			return fmt.Errorf("insert list: %w", err)
		}

		revision, err := bumpRevision(ctx, tx, boardID)
		if err != nil {
			return err
		}
		ev = domain.CanonicalEvent{
			BoardID:        boardID,
			EntityType:     domain.EntityList,
			EntityID:       list.ID,
			Type:           domain.ListCreated,
			NewParentID:    boardID,
			NewPosition:    key,
			Revision:       revision,
			OriginClientID: originClientID,
			Timestamp:      time.Now().UnixMilli(),
			List:           &list,
		}
		return nil
	})
	return ev, err
}

// CreateTask appends a task at the tail of the list order.
func (s *Store) CreateTask(ctx context.Context, listID, actorID, originClientID string, task domain.Task) (domain.CanonicalEvent, error) {
	var ev domain.CanonicalEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
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
		if err := requireMember(ctx, tx, boardID, actorID); err != nil {
			return err
		}

		var tail string
		err = tx.QueryRowContext(ctx,
			`SELECT position FROM tasks WHERE list_id=$1 ORDER BY position DESC LIMIT 1`,
			listID).Scan(&tail)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("fetch tail position: %w", err)
		}
		key, err := position.Allocate(tail, "")
		if err != nil {
			return err
		}

		task.ID = uuid.NewString()
		task.ListID = listID
		task.Position = key
		if task.Status == "" {
			task.Status = "open"
		}
		if task.Priority == "" {
			task.Priority = "normal"
		}
		labels, err := json.Marshal(task.Labels)
		if err != nil {
			return fmt.Errorf("marshal labels: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (id, list_id, title, notes, status, priority, due_date, assignee_id, labels, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)`,
			task.ID, listID, task.Title, task.Notes, task.Status, task.Priority,
			task.DueDate, task.AssigneeID, labels, key); err != nil {
			if isUniqueViolation(err) {
				return orderingConflict(err)
			}
			return fmt.Errorf("insert task: %w", err)
		}

		revision, err := bumpRevision(ctx, tx, boardID)
		if err != nil {
			return err
		}
		ev = domain.CanonicalEvent{
			BoardID:        boardID,
			EntityType:     domain.EntityTask,
			EntityID:       task.ID,
			Type:           domain.TaskCreated,
			NewParentID:    listID,
			NewPosition:    key,
			Revision:       revision,
			OriginClientID: originClientID,
			Timestamp:      time.Now().UnixMilli(),
			Task:           &task,
		}
		return nil
	})
	return ev, err
}

// UpdateTask applies a field patch to a task. Structural fields (list,
// position) are only changed through Move.
func (s *Store) UpdateTask(ctx context.Context, taskID, actorID, originClientID string, patch domain.TaskPatch) (domain.CanonicalEvent, error) {
	var ev domain.CanonicalEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var boardID string
		err := tx.QueryRowContext(ctx,
			`SELECT l.board_id FROM tasks t JOIN lists l ON l.id = t.list_id WHERE t.id=$1`,
			taskID).Scan(&boardID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("resolve task: %w", err)
		}
		if _, err := lockBoard(ctx, tx, boardID); err != nil {
			return err
		}
		if err := requireMember(ctx, tx, boardID, actorID); err != nil {
			return err
		}

		var labels any
		if patch.Labels != nil {
			data, err := json.Marshal(*patch.Labels)
			if err != nil {
				return fmt.Errorf("marshal labels: %w", err)
			}
			labels = data
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET
				title = COALESCE($1, title),
				notes = COALESCE($2, notes),
				status = COALESCE($3, status),
				priority = COALESCE($4, priority),
				due_date = COALESCE($5, due_date),
				assignee_id = COALESCE($6, assignee_id),
				labels = COALESCE($7, labels),
				updated_at = NOW()
			WHERE id = $8`,
			patch.Title, patch.Notes, patch.Status, patch.Priority,
			patch.DueDate, patch.AssigneeID, labels, taskID); err != nil {
			return fmt.Errorf("update task: %w", err)
		}

		task, err := fetchTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		revision, err := bumpRevision(ctx, tx, boardID)
		if err != nil {
			return err
		}
		ev = domain.CanonicalEvent{
			BoardID:        boardID,
			EntityType:     domain.EntityTask,
			EntityID:       taskID,
			Type:           domain.TaskUpdated,
			NewParentID:    task.ListID,
			NewPosition:    task.Position,
			Revision:       revision,
			OriginClientID: originClientID,
			Timestamp:      time.Now().UnixMilli(),
			Task:           &task,
		}
		return nil
	})
	return ev, err
}

// DeleteTask removes a task and bumps the board revision.
func (s *Store) DeleteTask(ctx context.Context, taskID, actorID, originClientID string) (domain.CanonicalEvent, error) {
	var ev domain.CanonicalEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var boardID, listID string
		err := tx.QueryRowContext(ctx,
			`SELECT l.board_id, t.list_id FROM tasks t JOIN lists l ON l.id = t.list_id WHERE t.id=$1`,
			taskID).Scan(&boardID, &listID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("resolve task: %w", err)
		}
		if _, err := lockBoard(ctx, tx, boardID); err != nil {
			return err
		}
		if err := requireMember(ctx, tx, boardID, actorID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID); err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		revision, err := bumpRevision(ctx, tx, boardID)
		if err != nil {
			return err
		}
		ev = domain.CanonicalEvent{
			BoardID:        boardID,
			EntityType:     domain.EntityTask,
			EntityID:       taskID,
			Type:           domain.TaskDeleted,
			Revision:       revision,
			OriginClientID: originClientID,
			Timestamp:      time.Now().UnixMilli(),
		}
		return nil
	})
	return ev, err
}

// DeleteList removes a list and all of its tasks.
func (s *Store) DeleteList(ctx context.Context, listID, actorID, originClientID string) (domain.CanonicalEvent, error) {
	var ev domain.CanonicalEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
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
		if err := requireMember(ctx, tx, boardID, actorID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM lists WHERE id=$1`, listID); err != nil {
			return fmt.Errorf("delete list: %w", err)
		}
		revision, err := bumpRevision(ctx, tx, boardID)
		if err != nil {
			return err
		}
		ev = domain.CanonicalEvent{
			BoardID:        boardID,
			EntityType:     domain.EntityList,
			EntityID:       listID,
			Type:           domain.ListDeleted,
			Revision:       revision,
			OriginClientID: originClientID,
			Timestamp:      time.Now().UnixMilli(),
		}
		return nil
	})
	return ev, err
}

func fetchTask(ctx context.Context, tx *sql.Tx, taskID string) (domain.Task, error) {
	var (
		task      domain.Task
		due       sql.NullTime
		assignee  sql.NullString
		rawLabels []byte
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, list_id, title, notes, status, priority, due_date, assignee_id, labels, position
		FROM tasks WHERE id=$1`, taskID).
		Scan(&task.ID, &task.ListID, &task.Title, &task.Notes, &task.Status,
			&task.Priority, &due, &assignee, &rawLabels, &task.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("fetch task: %w", err)
	}
	if due.Valid {
		task.DueDate = &due.Time
	}
	if assignee.Valid {
		task.AssigneeID = assignee.String
	}
	if err := json.Unmarshal(rawLabels, &task.Labels); err != nil {
		return domain.Task{}, fmt.Errorf("decode labels: %w", err)
	}
	return task, nil
}
