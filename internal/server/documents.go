package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/singleflight"

	"github.com/user/docqa/internal/ingest"
	"github.com/user/docqa/internal/rag"
	"github.com/user/docqa/internal/ratelimit"
	"github.com/user/docqa/internal/session"
)

// DocumentsHandler serves the upload / status / retrieve surface.
type DocumentsHandler struct {
	Reg            *session.Registry
	Queue          *ingest.Queue
	Limiter        *ratelimit.Limiter
	Cache          *session.Cache
	Backend        rag.Backend
	MaxUploadBytes int64

	// authRequired makes the JWT subject authoritative for uid
	authRequired bool
	sf           singleflight.Group
	logger       *log.Logger
}

type retrieveRequest struct {
	QueryText string `json:"query_text"`
	UID       string `json:"uid"`
}

func (h *DocumentsHandler) Register(g *echo.Group, authRequired bool) {
	h.authRequired = authRequired
	if h.logger == nil {
		h.logger = log.New(log.Writer(), "[API] ", log.LstdFlags)
	}
	g.POST("/document", h.upload)
	g.GET("/task/:id", h.task)
	g.GET("/status/:uid", h.status)
	g.POST("/retrieve", h.retrieve)
}

// uid resolves the acting user. With auth on, the token subject wins over
// anything the client sends.
func (h *DocumentsHandler) uid(c echo.Context, claimed string) (string, error) {
	if h.authRequired {
		sub, _ := c.Get("user_id").(string)
		if sub == "" {
			return "", echo.NewHTTPError(http.StatusUnauthorized, "missing token subject")
		}
		return sub, nil
	}
	if claimed == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "uid is required")
	}
	return claimed, nil
}

// upload accepts a multipart document and queues it for ingestion. Returns 202
// with a task ID to poll; processing replaces whatever session the uid had.
func (h *DocumentsHandler) upload(c echo.Context) error {
	uid, err := h.uid(c, c.FormValue("uid"))
	if err != nil {
		return err
	}

	ok, err := h.Limiter.Allow(c.Request().Context(), uid, "document", time.Now())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		uploadsTotal.WithLabelValues("throttled").Inc()
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, slow down")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if h.MaxUploadBytes > 0 && fh.Size > h.MaxUploadBytes {
		uploadsTotal.WithLabelValues("too_large").Inc()
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds %d bytes", h.MaxUploadBytes))
	}
	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()
	var rd io.Reader = src
	if h.MaxUploadBytes > 0 {
		rd = io.LimitReader(src, h.MaxUploadBytes+1)
	}
	data, err := io.ReadAll(rd)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if h.MaxUploadBytes > 0 && int64(len(data)) > h.MaxUploadBytes {
		uploadsTotal.WithLabelValues("too_large").Inc()
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds %d bytes", h.MaxUploadBytes))
	}

	taskID, err := h.Queue.Enqueue(c.Request().Context(), uid, data, fh.Header.Get("Content-Type"))
	if err != nil {
		if errors.Is(err, ingest.ErrQueueFull) {
			uploadsTotal.WithLabelValues("rejected").Inc()
			return echo.NewHTTPError(http.StatusTooManyRequests, "service busy, try again later")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	uploadsTotal.WithLabelValues("accepted").Inc()
	h.logger.Printf("queued document for uid %s as task %s (%d bytes)", uid, taskID, len(data))
	return c.JSON(http.StatusAccepted, map[string]string{
		"task_id": taskID,
		"status":  string(session.StatusProcessing),
	})
}

// task reports an ingestion task's lifecycle state.
func (h *DocumentsHandler) task(c echo.Context) error {
	task, err := h.Queue.Task(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ingest.ErrTaskNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "task not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := map[string]interface{}{
		"task_id": task.ID,
		"status":  string(task.Status),
	}
	if task.Error != "" {
		resp["error"] = task.Error
	}
	return c.JSON(http.StatusOK, resp)
}

// status reports the session state for a uid in the wire format clients poll:
// "processing", "ready" or "error: <reason>".
func (h *DocumentsHandler) status(c echo.Context) error {
	uid, err := h.uid(c, c.Param("uid"))
	if err != nil {
		return err
	}
	state, err := h.Reg.Status(c.Request().Context(), uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if state.Status == session.StatusAbsent {
		return echo.NewHTTPError(http.StatusNotFound, session.ErrNotFound.Error())
	}
	wire := string(state.Status)
	if state.Status == session.StatusError {
		wire = "error: " + state.Detail
	}
	return c.JSON(http.StatusOK, map[string]string{"uid": uid, "status": wire})
}

// retrieve answers a query against the uid's ready artifact.
func (h *DocumentsHandler) retrieve(c echo.Context) error {
	var req retrieveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.QueryText == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query_text is required")
	}
	uid, err := h.uid(c, req.UID)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	ok, err := h.Limiter.Allow(ctx, uid, "retrieve", time.Now())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		queriesTotal.WithLabelValues("throttled").Inc()
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, slow down")
	}

	state, err := h.Reg.Status(ctx, uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	switch state.Status {
	case session.StatusAbsent:
		queriesTotal.WithLabelValues("no_session").Inc()
		return echo.NewHTTPError(http.StatusNotFound, session.ErrNotFound.Error())
	case session.StatusProcessing:
		queriesTotal.WithLabelValues("not_ready").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, "document is still being processed")
	case session.StatusError:
		queriesTotal.WithLabelValues("failed_session").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, "document processing failed: "+state.Detail)
	}

	artifact, err := h.artifact(c, uid)
	if err != nil {
		return err
	}

	answer, err := h.Backend.Answer(ctx, req.QueryText, artifact)
	if err != nil {
		if errors.Is(err, rag.ErrQuotaExceeded) {
			queriesTotal.WithLabelValues("quota").Inc()
			return echo.NewHTTPError(http.StatusTooManyRequests, rag.ErrQuotaExceeded.Error())
		}
		queriesTotal.WithLabelValues("error").Inc()
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if err := h.Reg.Touch(ctx, uid); err != nil {
		h.logger.Printf("touch %s: %v", uid, err)
	}
	queriesTotal.WithLabelValues("ok").Inc()
	return c.JSON(http.StatusOK, map[string]string{"answer": answer})
}

// artifact loads the uid's artifact, preferring the local cache. Cold loads
// deserialize from the store under singleflight so concurrent queries for the
// same uid rebuild the index once, not N times.
func (h *DocumentsHandler) artifact(c echo.Context, uid string) (*rag.Artifact, error) {
	if a, ok := h.Cache.Get(uid); ok {
		cacheHits.Inc()
		return a, nil
	}
	cacheMisses.Inc()

	v, err, _ := h.sf.Do(uid, func() (interface{}, error) {
		if a, ok := h.Cache.Get(uid); ok {
			return a, nil
		}
		// other requests share this load; the winner disconnecting must not
		// fail them
		blob, ok, err := h.Reg.Artifact(context.WithoutCancel(c.Request().Context()), uid)
		if err != nil {
			return nil, err
		}
		if !ok {
			// ready status but artifact expired underneath us
			return nil, session.ErrNotFound
		}
		a, err := rag.UnmarshalArtifact(blob)
		if err != nil {
			return nil, fmt.Errorf("corrupt artifact for uid %s: %w", uid, err)
		}
		h.Cache.Put(uid, a)
		return a, nil
	})
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, session.ErrNotFound.Error())
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return v.(*rag.Artifact), nil
}
