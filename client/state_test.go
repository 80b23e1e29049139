package client

import (
	"testing"

	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/domain"
)

func testSnapshot() domain.BoardSnapshot {
	return domain.BoardSnapshot{
		Board: domain.Board{ID: "b1", Revision: 1},
		Lists: []domain.ListSnapshot{
			{List: domain.List{ID: "l1", BoardID: "b1", Title: "Todo", Position: "i"}, Tasks: []domain.Task{
				{ID: "t1", ListID: "l1", Title: "first", Position: "i"},
				{ID: "t2", ListID: "l1", Title: "second", Position: "r"},
			}},
			{List: domain.List{ID: "l2", BoardID: "b1", Title: "Done", Position: "r"}},
		},
	}
}

func taskIDs(ls domain.ListSnapshot) []string {
	ids := make([]string, len(ls.Tasks))
	for i, task := range ls.Tasks {
		ids[i] = task.ID
	}
	return ids
}

func TestApplyTaskMovedReordersSiblings(t *testing.T) {
	s := NewBoardState(testSnapshot())
	applied := s.Apply(domain.CanonicalEvent{
		BoardID:     "b1",
		EntityType:  domain.EntityTask,
		EntityID:    "t1",
		Type:        domain.TaskMoved,
		NewParentID: "l1",
		NewPosition: "w",
		Revision:    2,
	})
	if !applied {
		t.Fatal("expected event to apply")
	}
	if got := taskIDs(s.Lists[0]); len(got) != 2 || got[0] != "t2" || got[1] != "t1" {
		t.Fatalf("unexpected order: %v", got)
	}
	if s.Revision != 2 {
		t.Fatalf("revision not advanced: %d", s.Revision)
	}
}

func TestApplyIsIdempotentByRevision(t *testing.T) {
	s := NewBoardState(testSnapshot())
	ev := domain.CanonicalEvent{
		BoardID:     "b1",
		EntityType:  domain.EntityTask,
		EntityID:    "t1",
		Type:        domain.TaskMoved,
		NewParentID: "l2",
		NewPosition: "i",
		Revision:    2,
	}
	if !s.Apply(ev) {
		t.Fatal("first apply should succeed")
	}
	if s.Apply(ev) {
		t.Fatal("duplicate apply should be a no-op")
	}
	if len(s.Lists[0].Tasks) != 1 || len(s.Lists[1].Tasks) != 1 {
		t.Fatalf("duplicate apply changed state: %+v", s.Lists)
	}
}

func TestApplyStaleEventIsIgnored(t *testing.T) {
	s := NewBoardState(testSnapshot())
	if s.Apply(domain.CanonicalEvent{Type: domain.TaskDeleted, EntityID: "t1", Revision: 1}) {
		t.Fatal("event at current revision must not apply")
	}
	if _, ok := s.Task("t1"); !ok {
		t.Fatal("stale event mutated state")
	}
}

func TestApplyCreateAndDeleteLifecycle(t *testing.T) {
	s := NewBoardState(testSnapshot())
	created := domain.Task{ID: "t3", ListID: "l2", Title: "new", Position: "i"}
	if !s.Apply(domain.CanonicalEvent{
		BoardID: "b1", EntityType: domain.EntityTask, EntityID: "t3",
		Type: domain.TaskCreated, Revision: 2, Task: &created,
	}) {
		t.Fatal("create should apply")
	}
	if got := taskIDs(s.Lists[1]); len(got) != 1 || got[0] != "t3" {
		t.Fatalf("task not created: %v", got)
	}
	if !s.Apply(domain.CanonicalEvent{
		BoardID: "b1", EntityType: domain.EntityTask, EntityID: "t3",
		Type: domain.TaskDeleted, Revision: 3,
	}) {
		t.Fatal("delete should apply")
	}
	if len(s.Lists[1].Tasks) != 0 {
		t.Fatalf("task not deleted: %+v", s.Lists[1].Tasks)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewBoardState(testSnapshot())
	clone := s.Clone()
	s.Apply(domain.CanonicalEvent{Type: domain.TaskDeleted, EntityID: "t1", Revision: 2})
	if _, ok := clone.Task("t1"); !ok {
		t.Fatal("mutating the original leaked into the clone")
	}
}

func TestNeighborKeysDefaultToTail(t *testing.T) {
	s := NewBoardState(testSnapshot())
	before, after := s.NeighborKeys("l1", "", "")
	if before != "r" || after != "" {
		t.Fatalf("expected tail append keys, got %q %q", before, after)
	}
	before, after = s.NeighborKeys("l1", "t1", "t2")
	if before != "i" || after != "r" {
		t.Fatalf("unexpected neighbor keys %q %q", before, after)
	}
}
