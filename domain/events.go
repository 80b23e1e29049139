package domain

// Event type constants carried by canonical events.
const (
	BoardCreated = "board-created"
	ListCreated  = "list-created"
	ListMoved    = "list-moved"
	ListDeleted  = "list-deleted"
	TaskCreated  = "task-created"
	TaskMoved    = "task-moved"
	TaskUpdated  = "task-updated"
	TaskDeleted  = "task-deleted"
)

// MoveOperation is a client request to reposition a list within its board or a
// task within (or across) lists. Neighbor identifiers name the entities the
// moved item should land between; either may be empty at a boundary. Neighbor
// state is re-validated server side, never trusted as sent.
type MoveOperation struct {
	EntityType       EntityType `json:"entityType"`
	EntityID         string     `json:"entityId"`
	TargetParentID   string     `json:"targetParentId"`
	BeforeNeighborID string     `json:"beforeNeighborId,omitempty"`
	AfterNeighborID  string     `json:"afterNeighborId,omitempty"`
}

// CanonicalEvent is the single authoritative description of a committed
// structural change. It is produced once per commit, broadcast to every room
// member and never mutated afterwards. Applying the same {EntityID, Revision}
// twice is a no-op, so at-least-once delivery is safe.
type CanonicalEvent struct {
	BoardID        string     `json:"boardId"`
	EntityType     EntityType `json:"entityType"`
	EntityID       string     `json:"entityId"`
	Type           string     `json:"type"`
	NewParentID    string     `json:"newParentId,omitempty"`
	NewPosition    string     `json:"newPosition,omitempty"`
	Revision       int64      `json:"revision"`
	OriginClientID string     `json:"originClientId,omitempty"`
	Timestamp      int64      `json:"timestamp"`

	// Entity carries the full row for created/updated entities so subscribers
	// can apply the change without a follow-up fetch.
	List *List `json:"list,omitempty"`
	Task *Task `json:"task,omitempty"`
}
