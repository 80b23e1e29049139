package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

func registerStream(e *echo.Echo, d Deps) {
	e.GET("/stream", streamEvents(d))
	e.POST("/stream/:connectionID/rooms/:boardID", joinRoom(d))
	e.DELETE("/stream/:connectionID/rooms/:boardID", leaveRoom(d))
}

type connectedEvent struct {
	ConnectionID string `json:"connectionId"`
}

// streamAuth resolves the user for stream routes. EventSource cannot set
// headers, so a token query parameter stands in for the Authorization header.
func streamAuth(c echo.Context, d Deps) (string, error) {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		if token := c.QueryParam("token"); token != "" {
			authHeader = "Bearer " + token
		}
	}
	return d.Auth.UserIDFromAuthHeader(authHeader)
}

// streamEvents is the SSE endpoint. The connection registers with the hub,
// joins the rooms named in the boards query parameter, announces its
// connection id, then relays every queued payload until the client goes away.
func streamEvents(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := streamAuth(c, d)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()

		var boards []string
		for _, boardID := range strings.Split(c.QueryParam("boards"), ",") {
			boardID = strings.TrimSpace(boardID)
			if boardID == "" {
				continue
			}
			member, err := d.Members.IsMember(ctx, boardID, userID)
			if err != nil {
				return writeError(c, err)
			}
			if !member {
				return c.JSON(http.StatusForbidden, errorResponse{Error: "forbidden"})
			}
			boards = append(boards, boardID)
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		conn := d.Hub.Register(c.QueryParam("connectionId"))
		defer d.Hub.Unregister(conn.ID)
		for _, boardID := range boards {
			if err := d.Hub.Join(conn.ID, boardID); err != nil {
				return writeError(c, err)
			}
		}

		hello, err := json.Marshal(connectedEvent{ConnectionID: conn.ID})
		if err != nil {
			return err
		}
		if err := writeSSE(c, "connected", hello); err != nil {
			return err
		}
		flusher.Flush()

		for {
			select {
			case <-ctx.Done():
				return nil
			case payload, open := <-conn.Events():
				if !open {
					// Replaced by a reconnect with the same connection id.
					return nil
				}
				if err := writeSSE(c, "", payload); err != nil {
					c.Logger().Error(err)
					return err
				}
				flusher.Flush()
			}
		}
	}
}

func writeSSE(c echo.Context, event string, data []byte) error {
	w := c.Response()
	if event != "" {
		if _, err := w.Write([]byte("event: " + event + "\n")); err != nil {
			return err
		}
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}

// joinRoom subscribes an existing stream connection to a board room. The
// membership check runs here so the hub itself stays authorization-free.
func joinRoom(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := streamAuth(c, d)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardID")
		member, err := d.Members.IsMember(c.Request().Context(), boardID, userID)
		if err != nil {
			return writeError(c, err)
		}
		if !member {
			return c.JSON(http.StatusForbidden, errorResponse{Error: "forbidden"})
		}
		if err := d.Hub.Join(c.Param("connectionID"), boardID); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func leaveRoom(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := streamAuth(c, d); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		d.Hub.Leave(c.Param("connectionID"), c.Param("boardID"))
		return c.NoContent(http.StatusNoContent)
	}
}
