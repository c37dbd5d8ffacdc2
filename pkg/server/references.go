package server

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"inkwell/pkg/imaging"
	"inkwell/pkg/schema"
	"inkwell/pkg/store"
	"inkwell/pkg/utils"
)

type searchReq struct {
	MainOnly bool `json:"main_only"`
}

// POST /api/books/:id/search-references
func (s *Server) handlePostSearchReferences(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req searchReq
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
		}
	}
	if s.pipeline == nil {
		return c.JSON(http.StatusServiceUnavailable, utils.ErrJSON("reference search is not configured"))
	}
	refs, err := s.pipeline.SearchReferences(c.Request().Context(), id, req.MainOnly)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"entities": refs})
}

func entityType(v string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(v))
	if t != schema.EntityCharacter && t != schema.EntityLocation {
		return "", echo.NewHTTPError(http.StatusBadRequest, "entity_type must be character or location")
	}
	return t, nil
}

// findEntity checks that the entity belongs to the book.
func (s *Server) findEntity(c echo.Context, bookID int64, typ string, entityID int64) (schema.Entity, error) {
	entities, err := s.store.Entities(c.Request().Context(), bookID, typ, false)
	if err != nil {
		return schema.Entity{}, err
	}
	i := slices.IndexFunc(entities, func(e schema.Entity) bool { return e.ID == entityID })
	if i < 0 {
		return schema.Entity{}, fmt.Errorf("%s %d: %w", typ, entityID, store.ErrNotFound)
	}
	return entities[i], nil
}

// POST /api/books/:id/reference-upload (multipart: entity_type, entity_id, file)
func (s *Server) handlePostReferenceUpload(c echo.Context) error {
	bookID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	typ, err := entityType(c.FormValue("entity_type"))
	if err != nil {
		return err
	}
	entityID, err := strconv.ParseInt(c.FormValue("entity_id"), 10, 64)
	if err != nil || entityID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid entity_id")
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if fh.Size > imaging.MaxUpload {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, imaging.ErrTooLarge.Error())
	}

	entity, err := s.findEntity(c, bookID, typ, entityID)
	if err != nil {
		return s.fail(c, err)
	}

	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable file")
	}
	defer f.Close()

	dir := filepath.Join(s.uploadDir, strconv.FormatInt(bookID, 10))
	saved, err := imaging.SaveWebP(f, dir, fmt.Sprintf("%s-%d", typ, entityID))
	switch {
	case errors.Is(err, imaging.ErrUnsupported):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, imaging.ErrTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case err != nil:
		return s.fail(c, err)
	}

	url := "/uploads/" + strconv.FormatInt(bookID, 10) + "/" + saved.Name
	ctx := c.Request().Context()
	img := &schema.ReferenceImage{
		BookID:     bookID,
		EntityType: typ,
		EntityID:   entityID,
		URL:        url,
		Thumbnail:  url,
		Width:      saved.Width,
		Height:     saved.Height,
		Source:     store.SourceUser,
	}
	if _, err := s.store.AddReferenceImage(ctx, img); err != nil {
		return s.fail(c, err)
	}
	trimmed, err := s.store.TrimReferenceImages(ctx, typ, entityID, store.DefaultReferenceKeep)
	if err != nil {
		return s.fail(c, err)
	}
	s.log.Info("reference uploaded", "book", bookID, "entity", entity.Name, "file", saved.Name, "trimmed", trimmed)
	return c.JSON(http.StatusCreated, map[string]any{"reference": img, "trimmed": trimmed})
}

// GET /api/books/:id/references?entity_type=character&entity_id=1
func (s *Server) handleGetReferences(c echo.Context) error {
	bookID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	typ, err := entityType(c.QueryParam("entity_type"))
	if err != nil {
		return err
	}
	entityID, err := strconv.ParseInt(c.QueryParam("entity_id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid entity_id")
	}
	if _, err := s.findEntity(c, bookID, typ, entityID); err != nil {
		return s.fail(c, err)
	}
	imgs, err := s.store.ReferenceImages(c.Request().Context(), typ, entityID)
	if err != nil {
		return s.fail(c, err)
	}
	if imgs == nil {
		imgs = []schema.ReferenceImage{}
	}
	return c.JSON(http.StatusOK, imgs)
}

type selectReq struct {
	IsSelected bool `json:"is_selected"`
}

// PATCH /api/references/:rid
func (s *Server) handlePatchReference(c echo.Context) error {
	id, err := pathID(c, "rid")
	if err != nil {
		return err
	}
	var req selectReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	if err := s.store.SelectReferenceImage(c.Request().Context(), id, req.IsSelected); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "id": id, "is_selected": req.IsSelected})
}
