package server

import (
	"cmp"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"inkwell/pkg/diff"
	"inkwell/pkg/store"
	"inkwell/pkg/t2i"
	"inkwell/pkg/utils"
)

type scenePatchReq struct {
	Title            *string `json:"title"`
	ScenePromptDraft *string `json:"scene_prompt_draft"`
	IsSelected       *bool   `json:"is_selected"`
}

// PATCH /api/books/:id/scenes/:sid
func (s *Server) handlePatchScene(c echo.Context) error {
	bookID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	sceneID, err := pathID(c, "sid")
	if err != nil {
		return err
	}
	var req scenePatchReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	if req.Title == nil && req.ScenePromptDraft == nil && req.IsSelected == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "nothing to update")
	}
	if req.Title != nil {
		t := strings.TrimSpace(*req.Title)
		if t == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "title must not be empty")
		}
		req.Title = &t
	}

	ctx := c.Request().Context()
	before, err := s.store.GetScene(ctx, bookID, sceneID)
	if err != nil {
		return s.fail(c, err)
	}
	after, err := s.store.UpdateScene(ctx, bookID, sceneID, store.ScenePatch{
		Title:            req.Title,
		ScenePromptDraft: req.ScenePromptDraft,
		IsSelected:       req.IsSelected,
	})
	if err != nil {
		return s.fail(c, err)
	}

	resp := map[string]any{"scene": after}
	if req.ScenePromptDraft != nil {
		pd := diff.Prompt(before.ScenePromptDraft, after.ScenePromptDraft)
		resp["prompt_diff"] = pd
		s.log.Info("scene prompt edited", "book", bookID, "scene", sceneID, "changed", pd.Changed(), "prompt", utils.LimitStr(after.ScenePromptDraft, 50))
	}
	return c.JSON(http.StatusOK, resp)
}

type generateReq struct {
	Provider        string   `json:"provider"`
	Prompt          string   `json:"prompt"`
	ReferenceImages []string `json:"reference_images"`
}

// POST /api/books/:id/scenes/:sid/generate
func (s *Server) handlePostGenerate(c echo.Context) error {
	bookID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	sceneID, err := pathID(c, "sid")
	if err != nil {
		return err
	}
	var req generateReq
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
		}
	}
	if s.queue == nil {
		return s.fail(c, t2i.ErrUnavailable)
	}

	ctx := c.Request().Context()
	scene, err := s.store.GetScene(ctx, bookID, sceneID)
	if err != nil {
		return s.fail(c, err)
	}
	p, err := s.t2i.Pick(strings.ToLower(strings.TrimSpace(req.Provider)))
	if err != nil {
		return s.fail(c, err)
	}
	if !p.Available() {
		return s.fail(c, t2i.ErrUnavailable)
	}

	prompt := cmp.Or(strings.TrimSpace(req.Prompt), p.FormatPrompt(scene.T2IPrompt), scene.ScenePromptDraft)
	if prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scene has no prompt")
	}

	jobID, resCh, errCh, err := s.queue.Add(p, t2i.NewRequest(prompt, req.ReferenceImages...))
	if err != nil {
		return s.fail(c, err)
	}

	select {
	case <-ctx.Done():
		return s.fail(c, ctx.Err())
	case res, ok := <-resCh:
		if !ok {
			return s.fail(c, <-errCh)
		}
		return c.JSON(http.StatusOK, map[string]any{"job_id": jobID, "result": res})
	case err, ok := <-errCh:
		if !ok {
			return c.JSON(http.StatusOK, map[string]any{"job_id": jobID, "result": <-resCh})
		}
		return s.fail(c, err)
	}
}
