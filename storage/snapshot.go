package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/domain"
)

// FetchBoard returns the full resync payload for a board: every list and task
// in position order plus the board's latest revision. A single read
// transaction keeps the snapshot consistent against concurrent movers.
func (s *Store) FetchBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
	var snap domain.BoardSnapshot
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return snap, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`SELECT id, owner_id, title, revision FROM boards WHERE id=$1`, boardID).
		Scan(&snap.ID, &snap.OwnerID, &snap.Title, &snap.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("board %s: %w", boardID, domain.ErrNotFound)
	}
	if err != nil {
		return snap, fmt.Errorf("fetch board: %w", err)
	}

	listRows, err := tx.QueryContext(ctx,
		`SELECT id, board_id, title, position FROM lists WHERE board_id=$1 ORDER BY position`, boardID)
	if err != nil {
		return snap, fmt.Errorf("fetch lists: %w", err)
	}
	defer listRows.Close()
	listIndex := map[string]int{}
	for listRows.Next() {
		var l domain.List
		if err := listRows.Scan(&l.ID, &l.BoardID, &l.Title, &l.Position); err != nil {
			return snap, fmt.Errorf("scan list: %w", err)
		}
		listIndex[l.ID] = len(snap.Lists)
		snap.Lists = append(snap.Lists, domain.ListSnapshot{List: l, Tasks: []domain.Task{}})
	}
	if err := listRows.Err(); err != nil {
		return snap, fmt.Errorf("iterate lists: %w", err)
	}

	taskRows, err := tx.QueryContext(ctx, `
		SELECT t.id, t.list_id, t.title, t.notes, t.status, t.priority, t.due_date, t.assignee_id, t.labels, t.position
		FROM tasks t JOIN lists l ON l.id = t.list_id
		WHERE l.board_id=$1
		ORDER BY t.list_id, t.position`, boardID)
	if err != nil {
		return snap, fmt.Errorf("fetch tasks: %w", err)
	}
	defer taskRows.Close()
	for taskRows.Next() {
		var (
			t         domain.Task
			due       sql.NullTime
			assignee  sql.NullString
			rawLabels []byte
		)
		if err := taskRows.Scan(&t.ID, &t.ListID, &t.Title, &t.Notes, &t.Status,
			&t.Priority, &due, &assignee, &rawLabels, &t.Position); err != nil {
			return snap, fmt.Errorf("scan task: %w", err)
		}
		if due.Valid {
			t.DueDate = &due.Time
		}
		if assignee.Valid {
			t.AssigneeID = assignee.String
		}
		if err := json.Unmarshal(rawLabels, &t.Labels); err != nil {
			return snap, fmt.Errorf("decode labels: %w", err)
		}
		if idx, ok := listIndex[t.ListID]; ok {
			snap.Lists[idx].Tasks = append(snap.Lists[idx].Tasks, t)
		}
	}
	if err := taskRows.Err(); err != nil {
		return snap, fmt.Errorf("iterate tasks: %w", err)
	}
	return snap, nil
}

// IsMember reports whether userID may view and mutate the board.
func (s *Store) IsMember(ctx context.Context, boardID, userID string) (bool, error) {
	var isMember bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM board_members WHERE board_id=$1 AND user_id=$2)`,
		boardID, userID).Scan(&isMember)
	if err != nil {
		return false, fmt.Errorf("membership check: %w", err)
	}
	return isMember, nil
}

// AddMember grants board access to a user.
func (s *Store) AddMember(ctx context.Context, boardID, actorID, userID, role string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockBoard(ctx, tx, boardID); err != nil {
			return err
		}
		if err := requireMember(ctx, tx, boardID, actorID); err != nil {
			return err
		}
		if role == "" {
			role = "editor"
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO board_members (board_id, user_id, role) VALUES ($1, $2, $3)
			ON CONFLICT (board_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
			boardID, userID, role); err != nil {
			return fmt.Errorf("upsert membership: %w", err)
		}
		return nil
	})
}
