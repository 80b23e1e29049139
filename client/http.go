package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/domain"
)

// HTTPAPI talks to the board service over its JSON routes.
type HTTPAPI struct {
	BaseURL  string
	Token    string
	ClientID string
	Client   *http.Client
}

func (c *HTTPAPI) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

// Move posts a move operation and returns the committed canonical event.
func (c *HTTPAPI) Move(ctx context.Context, boardID string, op domain.MoveOperation, idempotencyKey string) (domain.CanonicalEvent, error) {
	body, err := sonic.ConfigStd.Marshal(op)
	if err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("encode move: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/boards/"+url.PathEscape(boardID)+"/moves", bytes.NewReader(body))
	if err != nil {
		return domain.CanonicalEvent{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("X-Client-ID", c.ClientID)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return domain.CanonicalEvent{}, err
	}
	defer resp.Body.Close()
	if err := statusError(resp.StatusCode); err != nil {
		return domain.CanonicalEvent{}, err
	}
	var ev domain.CanonicalEvent
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(&ev); err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// FetchBoard retrieves the authoritative board snapshot.
func (c *HTTPAPI) FetchBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/boards/"+url.PathEscape(boardID), nil)
	if err != nil {
		return domain.BoardSnapshot{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return domain.BoardSnapshot{}, err
	}
	defer resp.Body.Close()
	if err := statusError(resp.StatusCode); err != nil {
		return domain.BoardSnapshot{}, err
	}
	var snapshot domain.BoardSnapshot
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return domain.BoardSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, nil
}

func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return domain.ErrNotFound
	case status == http.StatusForbidden, status == http.StatusUnauthorized:
		return domain.ErrForbidden
	case status == http.StatusConflict:
		return domain.ErrConflict
	case status == http.StatusGatewayTimeout:
		return domain.ErrTimeout
	default:
		return fmt.Errorf("unexpected status %d", status)
	}
}

// SSESource connects to the server's event stream.
type SSESource struct {
	BaseURL      string
	Token        string
	ConnectionID string
	Boards       []string
	Client       *http.Client
}

func (s *SSESource) httpClient() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}

// Connect opens the stream and returns a channel of decoded canonical
// events. The channel closes when the stream drops; the caller resyncs and
// reconnects.
func (s *SSESource) Connect(ctx context.Context) (<-chan domain.CanonicalEvent, error) {
	q := url.Values{}
	q.Set("token", s.Token)
	if s.ConnectionID != "" {
		q.Set("connectionId", s.ConnectionID)
	}
	if len(s.Boards) > 0 {
		q.Set("boards", strings.Join(s.Boards, ","))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/stream?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream rejected: %w", statusError(resp.StatusCode))
	}

	events := make(chan domain.CanonicalEvent, 16)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		reader := bufio.NewReader(resp.Body)
		eventName := ""
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				eventName = ""
			case strings.HasPrefix(line, "event: "):
				eventName = line[len("event: "):]
			case strings.HasPrefix(line, "data: "):
				if eventName == "connected" {
					continue
				}
				var ev domain.CanonicalEvent
				if err := sonic.ConfigStd.Unmarshal([]byte(line[len("data: "):]), &ev); err != nil {
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}
