package server

import (
	"cmp"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"inkwell/pkg/engines"
	"inkwell/pkg/schema"
	"inkwell/pkg/store"
)

type enginesReq struct {
	EntityClass   string `json:"entity_class"`
	EntityType    string `json:"entity_type"`
	StyleCategory string `json:"style_category"`
	TopN          int    `json:"top_n"`
}

// POST /api/books/:id/engines ranks the available providers for one entity
// with the book's ratings applied.
func (s *Server) handlePostEngines(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req enginesReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	req.EntityType = cmp.Or(strings.ToLower(strings.TrimSpace(req.EntityType)), schema.EntityCharacter)
	if req.EntityType != schema.EntityCharacter && req.EntityType != schema.EntityLocation {
		return echo.NewHTTPError(http.StatusBadRequest, "entity_type must be character or location")
	}

	ctx := c.Request().Context()
	book, err := s.store.GetBook(ctx, id)
	if err != nil {
		return s.fail(c, err)
	}
	ratings, err := s.store.EngineRatings(ctx, id)
	if err != nil {
		return s.fail(c, err)
	}

	style := cmp.Or(strings.TrimSpace(req.StyleCategory), book.StyleCategory, "fiction")
	available := s.registry.Available()
	key, _ := engines.Lookup(req.EntityClass, req.EntityType, style)
	return c.JSON(http.StatusOK, map[string]any{
		"affinity_key": key,
		"providers":    engines.Select(req.EntityClass, req.EntityType, style, available, ratings, req.TopN),
		"ranked":       engines.Rank(req.EntityClass, req.EntityType, style, available, ratings),
	})
}

type ratingReq struct {
	Provider string `json:"provider"`
	Action   string `json:"action"`
}

type ratingView struct {
	Provider string `json:"provider"`
	Likes    int    `json:"likes"`
	Dislikes int    `json:"dislikes"`
	NetScore int    `json:"net_score"`
}

func viewOf(r schema.EngineRating) ratingView {
	return ratingView{Provider: r.Provider, Likes: r.Likes, Dislikes: r.Dislikes, NetScore: r.NetScore()}
}

// PATCH /api/books/:id/engine-ratings
func (s *Server) handlePatchEngineRating(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req ratingReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	req.Action = strings.ToLower(strings.TrimSpace(req.Action))
	if !slices.Contains(s.registry.Names(), req.Provider) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown provider "+req.Provider)
	}
	if req.Action != store.ActionLike && req.Action != store.ActionDislike {
		return echo.NewHTTPError(http.StatusBadRequest, "action must be like or dislike")
	}

	ctx := c.Request().Context()
	if _, err := s.store.GetBook(ctx, id); err != nil {
		return s.fail(c, err)
	}
	rating, err := s.store.RateEngine(ctx, id, req.Provider, req.Action)
	if err != nil {
		return s.fail(c, err)
	}
	s.log.Info("engine rated", "book", id, "provider", req.Provider, "action", req.Action, "net", rating.NetScore())
	return c.JSON(http.StatusOK, viewOf(rating))
}

// GET /api/books/:id/engine-ratings
func (s *Server) handleGetEngineRatings(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := s.store.GetBook(ctx, id); err != nil {
		return s.fail(c, err)
	}
	ratings, err := s.store.ListEngineRatings(ctx, id)
	if err != nil {
		return s.fail(c, err)
	}
	out := make([]ratingView, len(ratings))
	for i, r := range ratings {
		out[i] = viewOf(r)
	}
	return c.JSON(http.StatusOK, out)
}
