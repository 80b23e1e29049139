package api

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/domain"
	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/hub"
)

// postBodyMaxSize bounds every mutation request body.
const postBodyMaxSize = 64 * 1024 // 64 KiB

// Snapshots serves full board reads, typically through the snapshot cache.
type Snapshots interface {
	FetchBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error)
}

// Members answers board membership questions, creates boards, and shares
// them with other users.
type Members interface {
	IsMember(ctx context.Context, boardID, userID string) (bool, error)
	CreateBoard(ctx context.Context, actorID, title string) (domain.Board, error)
	AddMember(ctx context.Context, boardID, actorID, userID, role string) error
}

// Mutator applies structural operations and returns the committed event.
type Mutator interface {
	ApplyMove(ctx context.Context, op domain.MoveOperation, actorID, originClientID string) (domain.CanonicalEvent, error)
	CreateList(ctx context.Context, boardID, actorID, originClientID, title string) (domain.CanonicalEvent, error)
	CreateTask(ctx context.Context, listID, actorID, originClientID string, task domain.Task) (domain.CanonicalEvent, error)
	UpdateTask(ctx context.Context, taskID, actorID, originClientID string, patch domain.TaskPatch) (domain.CanonicalEvent, error)
	DeleteTask(ctx context.Context, taskID, actorID, originClientID string) (domain.CanonicalEvent, error)
	DeleteList(ctx context.Context, listID, actorID, originClientID string) (domain.CanonicalEvent, error)
}

// Authenticator resolves the acting user from the Authorization header.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper records idempotency keys so retried mutations are not reapplied.
type Deduper interface {
	Add(ctx context.Context, userID, key string) (bool, error)
	Remove(ctx context.Context, userID, key string) error
}

// Deps bundles everything the HTTP layer needs. Deduper may be nil, which
// disables idempotency-key handling.
type Deps struct {
	Snapshots Snapshots
	Members   Members
	Mutator   Mutator
	Auth      Authenticator
	Deduper   Deduper
	Hub       *hub.Hub
	Logger    *log.Logger
}

type createBoardRequest struct {
	Title string `json:"title"`
}

type createListRequest struct {
	Title string `json:"title"`
}

type addMemberRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role,omitempty"`
}

type duplicateResponse struct {
	Duplicate bool `json:"duplicate"`
}

type errorResponse struct {
	Error string `json:"error"`
}
