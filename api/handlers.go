// Package api exposes the board engine over HTTP: JSON mutation routes,
// board snapshot reads for resync, and the SSE event stream.
package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/domain"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	e.GET("/healthz", healthz())
	e.POST("/api/boards", postBoard(d))
	e.POST("/api/boards/:boardID/members", postMember(d))
	e.GET("/api/boards/:boardID", getBoard(d))
	e.POST("/api/boards/:boardID/moves", postMove(d))
	e.POST("/api/boards/:boardID/lists", postList(d))
	e.POST("/api/lists/:listID/tasks", postTask(d))
	e.PATCH("/api/tasks/:taskID", patchTask(d))
	e.DELETE("/api/tasks/:taskID", deleteTask(d))
	e.DELETE("/api/lists/:listID", deleteList(d))
	registerStream(e, d)
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

var errInvalidBody = errors.New("invalid body")

// badRequest wraps malformed-input failures so writeError can answer 400
// without growing the domain error taxonomy.
func badRequest(error) error {
	return errInvalidBody
}

// errorStatus maps domain error kinds onto HTTP statuses. Anything
// unclassified is an internal error.
func errorStatus(err error) int {
	switch domain.ErrorKind(err) {
	case "not-found":
		return http.StatusNotFound
	case "forbidden":
		return http.StatusForbidden
	case "conflict":
		return http.StatusConflict
	case "timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c echo.Context, err error) error {
	if errors.Is(err, errInvalidBody) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
	}
	return c.JSON(status, errorResponse{Error: domain.ErrorKind(err)})
}

// decodeStrict decodes a bounded request body and rejects unknown fields.
func decodeStrict(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, postBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func originClientID(c echo.Context) string {
	return c.Request().Header.Get("X-Client-ID")
}

// mutate runs the shared mutation-route plumbing: auth, optional
// idempotency-key dedupe, then the operation itself. Committed events are
// returned to the caller verbatim so clients can apply the authoritative
// result without waiting for the stream.
func mutate(c echo.Context, d Deps, route string, apply func(ctx echo.Context, userID string) (domain.CanonicalEvent, error)) (err error) {
	metrics := newRequestMetrics(d.Logger, route)
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	authStart := time.Now()
	userID, authErr := d.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	metrics.ObserveAuth(time.Since(authStart))
	if authErr != nil {
		metrics.SetErrorStage("auth")
		err = c.String(http.StatusUnauthorized, authErr.Error())
		return err
	}

	dedupeKey := c.Request().Header.Get("Idempotency-Key")
	if dedupeKey != "" && d.Deduper != nil {
		added, dedupeErr := d.Deduper.Add(c.Request().Context(), userID, dedupeKey)
		if dedupeErr != nil {
			// Dedupe is best effort; a broken deduper must not take writes down.
			d.Logger.WithError(dedupeErr).Warn("idempotency check failed, applying anyway")
		} else if !added {
			metrics.SetDuplicate(true)
			err = c.JSON(http.StatusOK, duplicateResponse{Duplicate: true})
			return err
		}
	}

	applyStart := time.Now()
	ev, applyErr := apply(c, userID)
	metrics.ObserveApply(time.Since(applyStart))
	if applyErr != nil {
		if dedupeKey != "" && d.Deduper != nil {
			if rmErr := d.Deduper.Remove(c.Request().Context(), userID, dedupeKey); rmErr != nil {
				d.Logger.WithError(rmErr).Warn("unable to release idempotency key")
			}
		}
		metrics.SetErrorStage("apply")
		err = writeError(c, applyErr)
		return err
	}
	metrics.SetRevision(ev.Revision)
	err = c.JSON(http.StatusOK, ev)
	return err
}

func postMove(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		return mutate(c, d, "/api/boards/:boardID/moves", func(c echo.Context, userID string) (domain.CanonicalEvent, error) {
			var op domain.MoveOperation
			if err := decodeStrict(c, &op); err != nil {
				return domain.CanonicalEvent{}, badRequest(err)
			}
			return d.Mutator.ApplyMove(c.Request().Context(), op, userID, originClientID(c))
		})
	}
}

func postList(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		return mutate(c, d, "/api/boards/:boardID/lists", func(c echo.Context, userID string) (domain.CanonicalEvent, error) {
			var req createListRequest
			if err := decodeStrict(c, &req); err != nil || req.Title == "" {
				return domain.CanonicalEvent{}, badRequest(err)
			}
			return d.Mutator.CreateList(c.Request().Context(), c.Param("boardID"), userID, originClientID(c), req.Title)
		})
	}
}

func postTask(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		return mutate(c, d, "/api/lists/:listID/tasks", func(c echo.Context, userID string) (domain.CanonicalEvent, error) {
			var task domain.Task
			if err := decodeStrict(c, &task); err != nil || task.Title == "" {
				return domain.CanonicalEvent{}, badRequest(err)
			}
			return d.Mutator.CreateTask(c.Request().Context(), c.Param("listID"), userID, originClientID(c), task)
		})
	}
}

func patchTask(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		return mutate(c, d, "/api/tasks/:taskID", func(c echo.Context, userID string) (domain.CanonicalEvent, error) {
			var patch domain.TaskPatch
			if err := decodeStrict(c, &patch); err != nil {
				return domain.CanonicalEvent{}, badRequest(err)
			}
			return d.Mutator.UpdateTask(c.Request().Context(), c.Param("taskID"), userID, originClientID(c), patch)
		})
	}
}

func deleteTask(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		return mutate(c, d, "/api/tasks/:taskID", func(c echo.Context, userID string) (domain.CanonicalEvent, error) {
			return d.Mutator.DeleteTask(c.Request().Context(), c.Param("taskID"), userID, originClientID(c))
		})
	}
}

func deleteList(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		return mutate(c, d, "/api/lists/:listID", func(c echo.Context, userID string) (domain.CanonicalEvent, error) {
			return d.Mutator.DeleteList(c.Request().Context(), c.Param("listID"), userID, originClientID(c))
		})
	}
}

func postBoard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createBoardRequest
		if err := decodeStrict(c, &req); err != nil || req.Title == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		board, err := d.Members.CreateBoard(c.Request().Context(), userID, req.Title)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, board)
	}
}

// postMember shares a board. The storage layer verifies the actor's own
// membership inside the transaction.
func postMember(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req addMemberRequest
		if err := decodeStrict(c, &req); err != nil || req.UserID == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if err := d.Members.AddMember(c.Request().Context(), c.Param("boardID"), userID, req.UserID, req.Role); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// getBoard is the resync read: the complete board in position order plus the
// revision the snapshot reflects.
func getBoard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(d.Logger, "/api/boards/:boardID")
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()
		ctx := c.Request().Context()

		authStart := time.Now()
		userID, authErr := d.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		boardID := c.Param("boardID")
		member, memberErr := d.Members.IsMember(ctx, boardID, userID)
		if memberErr != nil {
			metrics.SetErrorStage("membership")
			err = writeError(c, memberErr)
			return err
		}
		if !member {
			metrics.SetErrorStage("membership")
			err = c.JSON(http.StatusForbidden, errorResponse{Error: "forbidden"})
			return err
		}

		fetchStart := time.Now()
		snapshot, fetchErr := d.Snapshots.FetchBoard(ctx, boardID)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			err = writeError(c, fetchErr)
			return err
		}
		metrics.SetListsReturned(len(snapshot.Lists))
		metrics.SetRevision(snapshot.Revision)
		err = c.JSON(http.StatusOK, snapshot)
		return err
	}
}
