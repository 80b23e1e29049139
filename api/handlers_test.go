package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/domain"
	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/hub"
)

type staticAuth struct {
	userID string
	err    error
}

func (a staticAuth) UserIDFromAuthHeader(string) (string, error) {
	return a.userID, a.err
}

type fakeMutator struct {
	mu    sync.Mutex
	calls int
	moves []domain.MoveOperation
	event domain.CanonicalEvent
	errs  []error
}

func (m *fakeMutator) next() error {
	if len(m.errs) == 0 {
		return nil
	}
	err := m.errs[0]
	m.errs = m.errs[1:]
	return err
}

func (m *fakeMutator) ApplyMove(ctx context.Context, op domain.MoveOperation, actorID, originClientID string) (domain.CanonicalEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.next(); err != nil {
		return domain.CanonicalEvent{}, err
	}
	m.moves = append(m.moves, op)
	ev := m.event
	ev.EntityID = op.EntityID
	ev.OriginClientID = originClientID
	return ev, nil
}

func (m *fakeMutator) CreateList(ctx context.Context, boardID, actorID, originClientID, title string) (domain.CanonicalEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.next(); err != nil {
		return domain.CanonicalEvent{}, err
	}
	return domain.CanonicalEvent{BoardID: boardID, EntityType: domain.EntityList, Type: domain.ListCreated, Revision: 1}, nil
}

func (m *fakeMutator) CreateTask(ctx context.Context, listID, actorID, originClientID string, task domain.Task) (domain.CanonicalEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.next(); err != nil {
		return domain.CanonicalEvent{}, err
	}
	return domain.CanonicalEvent{EntityType: domain.EntityTask, Type: domain.TaskCreated, NewParentID: listID, Revision: 1}, nil
}

func (m *fakeMutator) UpdateTask(ctx context.Context, taskID, actorID, originClientID string, patch domain.TaskPatch) (domain.CanonicalEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.next(); err != nil {
		return domain.CanonicalEvent{}, err
	}
	return domain.CanonicalEvent{EntityType: domain.EntityTask, EntityID: taskID, Type: domain.TaskUpdated, Revision: 1}, nil
}

func (m *fakeMutator) DeleteTask(ctx context.Context, taskID, actorID, originClientID string) (domain.CanonicalEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.next(); err != nil {
		return domain.CanonicalEvent{}, err
	}
	return domain.CanonicalEvent{EntityType: domain.EntityTask, EntityID: taskID, Type: domain.TaskDeleted, Revision: 1}, nil
}

func (m *fakeMutator) DeleteList(ctx context.Context, listID, actorID, originClientID string) (domain.CanonicalEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.next(); err != nil {
		return domain.CanonicalEvent{}, err
	}
	return domain.CanonicalEvent{EntityType: domain.EntityList, EntityID: listID, Type: domain.ListDeleted, Revision: 1}, nil
}

func (m *fakeMutator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type fakeMembers struct {
	member  bool
	boards  []domain.Board
	addErr  error
	added   []string
	addRole string
}

func (f *fakeMembers) IsMember(ctx context.Context, boardID, userID string) (bool, error) {
	return f.member, nil
}

func (f *fakeMembers) CreateBoard(ctx context.Context, actorID, title string) (domain.Board, error) {
	board := domain.Board{ID: "b-new", OwnerID: actorID, Title: title, Revision: 0}
	f.boards = append(f.boards, board)
	return board, nil
}

func (f *fakeMembers) AddMember(ctx context.Context, boardID, actorID, userID, role string) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, userID)
	f.addRole = role
	return nil
}

type fakeSnapshots struct {
	snapshot domain.BoardSnapshot
	err      error
}

func (f *fakeSnapshots) FetchBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
	return f.snapshot, f.err
}

func newTestDeps(mutator *fakeMutator) Deps {
	return Deps{
		Snapshots: &fakeSnapshots{},
		Members:   &fakeMembers{member: true},
		Mutator:   mutator,
		Auth:      staticAuth{userID: "u1"},
		Hub:       hub.New(log.New()),
		Logger:    log.New(),
	}
}

func do(e *echo.Echo, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestPostMoveReturnsCommittedEvent(t *testing.T) {
	mutator := &fakeMutator{event: domain.CanonicalEvent{
		BoardID:     "b1",
		EntityType:  domain.EntityTask,
		Type:        domain.TaskMoved,
		NewParentID: "l2",
		NewPosition: "m",
		Revision:    9,
	}}
	e := echo.New()
	Register(e, newTestDeps(mutator))

	body := `{"entityType":"task","entityId":"t1","targetParentId":"l2","afterNeighborId":"t9"}`
	rec := do(e, http.MethodPost, "/api/boards/b1/moves", body, map[string]string{"X-Client-ID": "client-7"})

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var ev domain.CanonicalEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &ev); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ev.EntityID != "t1" || ev.Revision != 9 || ev.NewPosition != "m" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.OriginClientID != "client-7" {
		t.Fatalf("origin client id not carried: %+v", ev)
	}
	if len(mutator.moves) != 1 || mutator.moves[0].AfterNeighborID != "t9" {
		t.Fatalf("unexpected recorded op: %+v", mutator.moves)
	}
}

func TestPostMoveConflictMapsToConflictStatus(t *testing.T) {
	mutator := &fakeMutator{errs: []error{domain.ErrConflict}}
	e := echo.New()
	Register(e, newTestDeps(mutator))

	body := `{"entityType":"task","entityId":"t1","targetParentId":"l1"}`
	rec := do(e, http.MethodPost, "/api/boards/b1/moves", body, nil)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"conflict"`) {
		t.Fatalf("expected conflict error kind, got %s", rec.Body.String())
	}
}

func TestMutationRoutesRequireAuth(t *testing.T) {
	deps := newTestDeps(&fakeMutator{})
	deps.Auth = staticAuth{err: errMissingAuthorization}
	e := echo.New()
	Register(e, deps)

	rec := do(e, http.MethodPost, "/api/boards/b1/moves", `{}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPostMoveRejectsUnknownFields(t *testing.T) {
	mutator := &fakeMutator{}
	e := echo.New()
	Register(e, newTestDeps(mutator))

	body := `{"entityType":"task","entityId":"t1","targetParentId":"l1","bogus":true}`
	rec := do(e, http.MethodPost, "/api/boards/b1/moves", body, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if mutator.callCount() != 0 {
		t.Fatalf("mutator should not run on malformed input")
	}
}

func TestDuplicateIdempotencyKeyIsNotReapplied(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()

	mutator := &fakeMutator{event: domain.CanonicalEvent{BoardID: "b1", Type: domain.TaskMoved, Revision: 1}}
	deps := newTestDeps(mutator)
	deps.Deduper = NewRedisDeduper(redis.NewClient(&redis.Options{Addr: m.Addr()}), time.Minute)
	e := echo.New()
	Register(e, deps)

	body := `{"entityType":"task","entityId":"t1","targetParentId":"l1"}`
	headers := map[string]string{"Idempotency-Key": "k1"}

	first := do(e, http.MethodPost, "/api/boards/b1/moves", body, headers)
	second := do(e, http.MethodPost, "/api/boards/b1/moves", body, headers)

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("unexpected statuses %d, %d", first.Code, second.Code)
	}
	if !strings.Contains(second.Body.String(), `"duplicate":true`) {
		t.Fatalf("expected duplicate marker, got %s", second.Body.String())
	}
	if mutator.callCount() != 1 {
		t.Fatalf("expected a single apply, got %d", mutator.callCount())
	}
}

func TestFailedMutationReleasesIdempotencyKey(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()

	mutator := &fakeMutator{
		event: domain.CanonicalEvent{BoardID: "b1", Type: domain.TaskMoved, Revision: 1},
		errs:  []error{domain.ErrConflict},
	}
	deps := newTestDeps(mutator)
	deps.Deduper = NewRedisDeduper(redis.NewClient(&redis.Options{Addr: m.Addr()}), time.Minute)
	e := echo.New()
	Register(e, deps)

	body := `{"entityType":"task","entityId":"t1","targetParentId":"l1"}`
	headers := map[string]string{"Idempotency-Key": "k1"}

	if rec := do(e, http.MethodPost, "/api/boards/b1/moves", body, headers); rec.Code != http.StatusConflict {
		t.Fatalf("expected first attempt to fail with 409, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/api/boards/b1/moves", body, headers); rec.Code != http.StatusOK {
		t.Fatalf("expected retry with same key to apply, got %d: %s", rec.Code, rec.Body.String())
	}
	if mutator.callCount() != 2 {
		t.Fatalf("expected two applies, got %d", mutator.callCount())
	}
}

func TestGetBoardForbiddenForNonMembers(t *testing.T) {
	deps := newTestDeps(&fakeMutator{})
	deps.Members = &fakeMembers{member: false}
	e := echo.New()
	Register(e, deps)

	rec := do(e, http.MethodGet, "/api/boards/b1", "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestGetBoardReturnsSnapshotInPositionOrder(t *testing.T) {
	deps := newTestDeps(&fakeMutator{})
	deps.Snapshots = &fakeSnapshots{snapshot: domain.BoardSnapshot{
		Board: domain.Board{ID: "b1", Title: "Launch", Revision: 12},
		Lists: []domain.ListSnapshot{
			{List: domain.List{ID: "l1", BoardID: "b1", Title: "Todo", Position: "i"}, Tasks: []domain.Task{
				{ID: "t1", ListID: "l1", Title: "first", Position: "i"},
				{ID: "t2", ListID: "l1", Title: "second", Position: "r"},
			}},
		},
	}}
	e := echo.New()
	Register(e, deps)

	rec := do(e, http.MethodGet, "/api/boards/b1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var snapshot domain.BoardSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.Revision != 12 || len(snapshot.Lists) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if snapshot.Lists[0].Tasks[0].ID != "t1" || snapshot.Lists[0].Tasks[1].ID != "t2" {
		t.Fatalf("task order lost: %+v", snapshot.Lists[0].Tasks)
	}
}

func TestPostMemberSharesBoard(t *testing.T) {
	members := &fakeMembers{member: true}
	deps := newTestDeps(&fakeMutator{})
	deps.Members = members
	e := echo.New()
	Register(e, deps)

	rec := do(e, http.MethodPost, "/api/boards/b1/members", `{"userId":"u2","role":"viewer"}`, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if len(members.added) != 1 || members.added[0] != "u2" || members.addRole != "viewer" {
		t.Fatalf("membership not recorded: %+v", members)
	}

	members.addErr = domain.ErrForbidden
	rec = do(e, http.MethodPost, "/api/boards/b1/members", `{"userId":"u3"}`, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-member actor, got %d", rec.Code)
	}
}

func TestPostBoardCreatesAndReturnsBoard(t *testing.T) {
	deps := newTestDeps(&fakeMutator{})
	e := echo.New()
	Register(e, deps)

	rec := do(e, http.MethodPost, "/api/boards", `{"title":"Launch"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var board domain.Board
	if err := json.Unmarshal(rec.Body.Bytes(), &board); err != nil {
		t.Fatalf("decode board: %v", err)
	}
	if board.Title != "Launch" || board.OwnerID != "u1" {
		t.Fatalf("unexpected board: %+v", board)
	}
}
