package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func readSSELine(t *testing.T, r *bufio.Reader, deadline time.Time) string {
	t.Helper()
	for time.Now().Before(deadline) {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line != "" {
			return line
		}
	}
	t.Fatal("timed out reading stream line")
	return ""
}

func TestStreamDeliversRoomEvents(t *testing.T) {
	deps := newTestDeps(&fakeMutator{})
	e := echo.New()
	Register(e, deps)
	srv := httptest.NewServer(e)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream?boards=b1&connectionId=c1&token=a.b.c", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	deadline := time.Now().Add(2 * time.Second)
	if line := readSSELine(t, reader, deadline); line != "event: connected" {
		t.Fatalf("expected connected event, got %q", line)
	}
	if line := readSSELine(t, reader, deadline); !strings.Contains(line, `"connectionId":"c1"`) {
		t.Fatalf("expected connection id announcement, got %q", line)
	}

	deps.Hub.Broadcast("b1", []byte(`{"entityId":"t1","revision":3}`), "")

	if line := readSSELine(t, reader, deadline); line != `data: {"entityId":"t1","revision":3}` {
		t.Fatalf("unexpected payload line: %q", line)
	}
}

func TestStreamRejectsNonMemberBoards(t *testing.T) {
	deps := newTestDeps(&fakeMutator{})
	deps.Members = &fakeMembers{member: false}
	e := echo.New()
	Register(e, deps)

	rec := do(e, http.MethodGet, "/stream?boards=b1&token=a.b.c", "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestJoinAndLeaveRoomRoutes(t *testing.T) {
	deps := newTestDeps(&fakeMutator{})
	e := echo.New()
	Register(e, deps)

	deps.Hub.Register("c9")

	rec := do(e, http.MethodPost, "/stream/c9/rooms/b1", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("join: expected 204, got %d", rec.Code)
	}
	if deps.Hub.RoomSize("b1") != 1 {
		t.Fatalf("expected room membership after join")
	}

	rec = do(e, http.MethodDelete, "/stream/c9/rooms/b1", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("leave: expected 204, got %d", rec.Code)
	}
	if deps.Hub.RoomSize("b1") != 0 {
		t.Fatalf("expected empty room after leave")
	}
}

func TestJoinRoomUnknownConnection(t *testing.T) {
	deps := newTestDeps(&fakeMutator{})
	e := echo.New()
	Register(e, deps)

	rec := do(e, http.MethodPost, "/stream/ghost/rooms/b1", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
