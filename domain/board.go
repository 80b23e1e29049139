package domain

import "time"

// EntityType identifies which kind of sibling a structural operation targets.
type EntityType string

const (
	EntityList EntityType = "list"
	EntityTask EntityType = "task"
)

// Board groups ordered lists and carries the revision counter for every
// structural mutation committed underneath it.
type Board struct {
	ID       string `json:"id"`
	OwnerID  string `json:"ownerId"`
	Title    string `json:"title"`
	Revision int64  `json:"revision"`
}

// List is an ordered column of tasks. Position is an order key, comparable
// lexicographically against its siblings within the same board.
type List struct {
	ID       string `json:"id"`
	BoardID  string `json:"boardId"`
	Title    string `json:"title"`
	Position string `json:"position"`
}

// Task is a single board item. A task belongs to exactly one list at any
// instant; moving it between lists reassigns ListID and Position atomically.
type Task struct {
	ID         string     `json:"id"`
	ListID     string     `json:"listId"`
	Title      string     `json:"title"`
	Notes      string     `json:"notes,omitempty"`
	Status     string     `json:"status"`
	Priority   string     `json:"priority"`
	DueDate    *time.Time `json:"dueDate,omitempty"`
	AssigneeID string     `json:"assigneeId,omitempty"`
	Labels     []string   `json:"labels,omitempty"`
	Position   string     `json:"position"`
}

// TaskPatch carries the updatable, non-structural task fields. Nil fields are
// left unchanged; list and position only change through a move operation.
type TaskPatch struct {
	Title      *string    `json:"title,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
	Status     *string    `json:"status,omitempty"`
	Priority   *string    `json:"priority,omitempty"`
	DueDate    *time.Time `json:"dueDate,omitempty"`
	AssigneeID *string    `json:"assigneeId,omitempty"`
	Labels     *[]string  `json:"labels,omitempty"`
}

// ListSnapshot is a list with its tasks in position order.
type ListSnapshot struct {
	List
	Tasks []Task `json:"tasks"`
}

// BoardSnapshot is the full resync payload: every list and task of a board in
// position order, plus the board's latest revision.
type BoardSnapshot struct {
	Board
	Lists []ListSnapshot `json:"lists"`
}
