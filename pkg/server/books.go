package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"inkwell/pkg/analysis"
	"inkwell/pkg/schema"
	"inkwell/pkg/utils"
)

type bookReq struct {
	Title            string   `json:"title"`
	Author           string   `json:"author"`
	Text             string   `json:"text"`
	StyleCategory    string   `json:"style_category"`
	ManuscriptLang   string   `json:"manuscript_lang"`
	IsWellKnown      bool     `json:"is_well_known"`
	KnownAdaptations []string `json:"known_adaptations"`
}

// POST /api/books
func (s *Server) handlePostBook(c echo.Context) error {
	var req bookReq
	if err := c.Bind(&req); err != nil {
		s.log.Warn("invalid JSON in /api/books", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title and text are required")
	}

	style := strings.ToLower(strings.TrimSpace(req.StyleCategory))
	if style != "" && !utils.ContainsFold(analysis.StyleCategories, style) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown style_category "+req.StyleCategory)
	}

	ctx := c.Request().Context()
	book := &schema.Book{
		Title:            req.Title,
		Author:           strings.TrimSpace(req.Author),
		Text:             req.Text,
		StyleCategory:    style,
		ManuscriptLang:   strings.ToLower(strings.TrimSpace(req.ManuscriptLang)),
		IsWellKnown:      req.IsWellKnown,
		KnownAdaptations: utils.DedupeStrings(req.KnownAdaptations),
	}
	if book.ManuscriptLang == "" {
		book.ManuscriptLang = "en"
	}
	if err := s.store.CreateBook(ctx, book); err != nil {
		return s.fail(c, err)
	}

	chunks := analysis.Split(book.Text, s.chunkSize)
	if err := s.store.ReplaceChunks(ctx, book.ID, chunks); err != nil {
		return s.fail(c, err)
	}
	s.log.Info("book created", "book", book.ID, "title", book.Title, "chunks", len(chunks))
	return c.JSON(http.StatusCreated, map[string]any{"book": book, "chunks": len(chunks)})
}

// POST /api/books/:id/chunk-analyses accepts a bare array or {"chunk_analyses": [...]}.
func (s *Server) handlePostChunkAnalyses(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	items, err := utils.DecodeItems(string(body), "chunk_analyses")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid chunk analyses: "+err.Error())
	}

	analyses := make([]schema.ChunkAnalysis, 0, len(items))
	for i, raw := range items {
		var ca schema.ChunkAnalysis
		if err := json.Unmarshal(raw, &ca); err != nil {
			return c.JSON(http.StatusBadRequest, utils.ErrJSON("chunk analysis "+strconv.Itoa(i)+": "+err.Error()))
		}
		if ca.ChunkIndex < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "chunk_index must not be negative")
		}
		analyses = append(analyses, analysis.Normalize(ca))
	}

	ctx := c.Request().Context()
	if _, err := s.store.GetBook(ctx, id); err != nil {
		return s.fail(c, err)
	}
	if err := s.store.ReplaceChunkAnalyses(ctx, id, analyses); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "count": len(analyses)})
}
