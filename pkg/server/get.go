package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"inkwell/pkg/schema"
)

func (s *Server) handleGetRoot(c echo.Context) error {
	status := map[string]any{
		"service":   "inkwell",
		"status":    "ok",
		"providers": s.registry.Available(),
		"t2i":       s.t2i.Status(),
	}
	if s.queue != nil {
		status["queue"] = s.queue.Len()
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleListBooks(c echo.Context) error {
	books, err := s.store.ListBooks(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	if books == nil {
		books = []*schema.Book{}
	}
	return c.JSON(http.StatusOK, books)
}

func (s *Server) handleGetBook(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	book, err := s.store.GetBook(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	resp := map[string]any{"book": book}
	if s.pipeline != nil {
		if run, ok := s.pipeline.Running(id); ok {
			resp["running"] = run
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetScenes(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := s.store.GetBook(ctx, id); err != nil {
		return s.fail(c, err)
	}
	scenes, err := s.store.Scenes(ctx, id)
	if err != nil {
		return s.fail(c, err)
	}
	if scenes == nil {
		scenes = []schema.Scene{}
	}
	return c.JSON(http.StatusOK, scenes)
}
