// Package client is the sync agent embedded in a client process: it keeps a
// local replica of one board, applies optimistic mutations immediately, and
// reconciles against canonical events and resync snapshots.
package client

import (
	"sort"

	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/domain"
)

// BoardState is the local replica of one board. Lists and tasks are kept in
// position order at all times; Revision tracks the latest canonical event
// folded in.
type BoardState struct {
	domain.BoardSnapshot
}

// NewBoardState builds a replica from a snapshot.
func NewBoardState(snapshot domain.BoardSnapshot) *BoardState {
	s := &BoardState{BoardSnapshot: snapshot}
	s.sortAll()
	return s
}

// Clone deep-copies the replica so optimistic mutations can be rolled back.
func (s *BoardState) Clone() *BoardState {
	out := &BoardState{BoardSnapshot: domain.BoardSnapshot{Board: s.Board}}
	out.Lists = make([]domain.ListSnapshot, len(s.Lists))
	for i, ls := range s.Lists {
		copied := domain.ListSnapshot{List: ls.List}
		copied.Tasks = make([]domain.Task, len(ls.Tasks))
		copy(copied.Tasks, ls.Tasks)
		out.Lists[i] = copied
	}
	return out
}

// Apply folds one canonical event into the replica. Events at or below the
// current revision are duplicates and change nothing; the return value is
// false for them. Callers are responsible for revision-gap detection.
func (s *BoardState) Apply(ev domain.CanonicalEvent) bool {
	if ev.Revision <= s.Revision {
		return false
	}
	switch ev.Type {
	case domain.ListCreated:
		if ev.List != nil {
			s.Lists = append(s.Lists, domain.ListSnapshot{List: *ev.List})
		}
	case domain.ListMoved:
		if ls := s.list(ev.EntityID); ls != nil {
			ls.Position = ev.NewPosition
		}
	case domain.ListDeleted:
		s.removeList(ev.EntityID)
	case domain.TaskCreated:
		if ev.Task != nil {
			if ls := s.list(ev.Task.ListID); ls != nil {
				ls.Tasks = append(ls.Tasks, *ev.Task)
			}
		}
	case domain.TaskMoved:
		task, ok := s.takeTask(ev.EntityID)
		if ok {
			task.ListID = ev.NewParentID
			task.Position = ev.NewPosition
			if ls := s.list(ev.NewParentID); ls != nil {
				ls.Tasks = append(ls.Tasks, task)
			}
		}
	case domain.TaskUpdated:
		if ev.Task != nil {
			if ls := s.list(ev.Task.ListID); ls != nil {
				for i := range ls.Tasks {
					if ls.Tasks[i].ID == ev.Task.ID {
						ls.Tasks[i] = *ev.Task
						break
					}
				}
			}
		}
	case domain.TaskDeleted:
		s.takeTask(ev.EntityID)
	}
	s.Revision = ev.Revision
	s.sortAll()
	return true
}

// MoveTaskLocal repositions a task optimistically using a locally computed
// order key. The canonical event or a resync replaces the key later.
func (s *BoardState) MoveTaskLocal(taskID, targetListID, positionKey string) bool {
	task, ok := s.takeTask(taskID)
	if !ok {
		return false
	}
	ls := s.list(targetListID)
	if ls == nil {
		return false
	}
	task.ListID = targetListID
	task.Position = positionKey
	ls.Tasks = append(ls.Tasks, task)
	s.sortAll()
	return true
}

// MoveListLocal repositions a list optimistically.
func (s *BoardState) MoveListLocal(listID, positionKey string) bool {
	ls := s.list(listID)
	if ls == nil {
		return false
	}
	ls.Position = positionKey
	s.sortAll()
	return true
}

// ListNeighborKeys reports the order keys surrounding the named neighbor
// lists, for computing a provisional list position.
func (s *BoardState) ListNeighborKeys(beforeID, afterID string) (string, string) {
	var before, after string
	for i := range s.Lists {
		if s.Lists[i].ID == beforeID {
			before = s.Lists[i].Position
		}
		if s.Lists[i].ID == afterID {
			after = s.Lists[i].Position
		}
	}
	if beforeID == "" && afterID == "" && len(s.Lists) > 0 {
		before = s.Lists[len(s.Lists)-1].Position
	}
	return before, after
}

// RemoveTask drops a task from the replica, wherever it lives.
func (s *BoardState) RemoveTask(taskID string) bool {
	_, ok := s.takeTask(taskID)
	return ok
}

// Task finds a task by id.
func (s *BoardState) Task(taskID string) (domain.Task, bool) {
	for i := range s.Lists {
		for _, task := range s.Lists[i].Tasks {
			if task.ID == taskID {
				return task, true
			}
		}
	}
	return domain.Task{}, false
}

// NeighborKeys reports the order keys surrounding the named neighbors in the
// target list, for computing a provisional position.
func (s *BoardState) NeighborKeys(listID, beforeID, afterID string) (string, string) {
	ls := s.list(listID)
	if ls == nil {
		return "", ""
	}
	var before, after string
	for _, task := range ls.Tasks {
		if task.ID == beforeID {
			before = task.Position
		}
		if task.ID == afterID {
			after = task.Position
		}
	}
	if beforeID == "" && afterID == "" && len(ls.Tasks) > 0 {
		before = ls.Tasks[len(ls.Tasks)-1].Position
	}
	return before, after
}

func (s *BoardState) list(listID string) *domain.ListSnapshot {
	for i := range s.Lists {
		if s.Lists[i].ID == listID {
			return &s.Lists[i]
		}
	}
	return nil
}

func (s *BoardState) removeList(listID string) {
	for i := range s.Lists {
		if s.Lists[i].ID == listID {
			s.Lists = append(s.Lists[:i], s.Lists[i+1:]...)
			return
		}
	}
}

func (s *BoardState) takeTask(taskID string) (domain.Task, bool) {
	for i := range s.Lists {
		tasks := s.Lists[i].Tasks
		for j := range tasks {
			if tasks[j].ID == taskID {
				task := tasks[j]
				s.Lists[i].Tasks = append(tasks[:j], tasks[j+1:]...)
				return task, true
			}
		}
	}
	return domain.Task{}, false
}

func (s *BoardState) sortAll() {
	sort.Slice(s.Lists, func(i, j int) bool {
		if s.Lists[i].Position == s.Lists[j].Position {
			return s.Lists[i].ID < s.Lists[j].ID
		}
		return s.Lists[i].Position < s.Lists[j].Position
	})
	for i := range s.Lists {
		tasks := s.Lists[i].Tasks
		sort.Slice(tasks, func(a, b int) bool {
			if tasks[a].Position == tasks[b].Position {
				return tasks[a].ID < tasks[b].ID
			}
			return tasks[a].Position < tasks[b].Position
		})
	}
}
