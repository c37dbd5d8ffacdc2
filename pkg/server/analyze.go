package server

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"inkwell/pkg/pipeline"
	"inkwell/pkg/utils"
)

type analyzeReq struct {
	SceneCount int    `json:"scene_count"`
	Style      string `json:"style_category"`
}

// POST /api/books/:id/analyze streams progress events and ends with done or error.
func (s *Server) handlePostAnalyze(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req analyzeReq
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
		}
	}
	if req.SceneCount < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "scene_count must be positive")
	}
	if s.pipeline == nil {
		return c.JSON(http.StatusServiceUnavailable, utils.ErrJSON("analysis is not configured"))
	}

	ctx := c.Request().Context()
	if _, err := s.store.GetBook(ctx, id); err != nil {
		return s.fail(c, err)
	}
	if run, ok := s.pipeline.Running(id); ok {
		return c.JSON(http.StatusConflict, utils.ErrJSON("analysis "+run+" is already running for this book"))
	}

	w, err := utils.NewSSEWriter(c)
	if err != nil {
		return s.fail(c, err)
	}
	defer w.Close()

	opts := pipeline.Options{
		SceneCount: cmp.Or(req.SceneCount, s.sceneCount),
		Style:      strings.ToLower(strings.TrimSpace(req.Style)),
		Progress: func(e pipeline.Event) {
			if err := w.Event("progress", e); err != nil {
				s.log.Warn("failed to send progress", "book", id, "error", err)
			}
		},
	}
	s.log.Info("starting analysis", "book", id, "scenes", opts.SceneCount)
	// The run outlives a dropped client and stops only when the server does.
	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	defer stop()
	defer context.AfterFunc(s.Ctx, stop)()
	report, err := s.pipeline.Analyze(runCtx, id, opts)
	if err != nil {
		if errors.Is(err, pipeline.ErrAlreadyRunning) {
			s.log.Warn("analysis raced with another run", "book", id)
		}
		return w.Event("error", utils.ErrJSON(err.Error()))
	}
	return w.Event("done", report)
}
