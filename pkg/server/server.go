package server

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"inkwell/pkg/pipeline"
	"inkwell/pkg/providers"
	"inkwell/pkg/queue"
	"inkwell/pkg/store"
	"inkwell/pkg/t2i"
	"inkwell/pkg/utils"
)

type Deps struct {
	Store     store.Repository
	Pipeline  *pipeline.Pipeline
	Registry  *providers.Registry
	T2I       *t2i.Providers
	Queue     *queue.Queue
	UploadDir string
	ChunkSize int
	// SceneCount is used when an analyze request does not name one.
	SceneCount int
	Logger     *log.Logger
}

type Server struct {
	Echo *echo.Echo
	Ctx  context.Context

	store      store.Repository
	pipeline   *pipeline.Pipeline
	registry   *providers.Registry
	t2i        *t2i.Providers
	queue      *queue.Queue
	uploadDir  string
	chunkSize  int
	sceneCount int
	log        *log.Logger
}

func NewServer(ctx context.Context, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		Echo:       e,
		Ctx:        ctx,
		store:      deps.Store,
		pipeline:   deps.Pipeline,
		registry:   cmp.Or(deps.Registry, providers.NewRegistry()),
		t2i:        cmp.Or(deps.T2I, t2i.NewProviders()),
		queue:      deps.Queue,
		uploadDir:  cmp.Or(deps.UploadDir, "uploads"),
		chunkSize:  deps.ChunkSize,
		sceneCount: deps.SceneCount,
		log:        cmp.Or(deps.Logger, log.Default()),
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.Echo.GET("/", s.handleGetRoot)
	s.Echo.Static("/uploads", s.uploadDir)

	api := s.Echo.Group("/api")
	api.POST("/books", s.handlePostBook)
	api.GET("/books", s.handleListBooks)
	api.GET("/books/:id", s.handleGetBook)
	api.POST("/books/:id/chunk-analyses", s.handlePostChunkAnalyses)
	api.POST("/books/:id/analyze", s.handlePostAnalyze)

	api.GET("/books/:id/scenes", s.handleGetScenes)
	api.PATCH("/books/:id/scenes/:sid", s.handlePatchScene)
	api.POST("/books/:id/scenes/:sid/generate", s.handlePostGenerate)

	api.POST("/books/:id/engines", s.handlePostEngines)
	api.GET("/books/:id/engine-ratings", s.handleGetEngineRatings)
	api.PATCH("/books/:id/engine-ratings", s.handlePatchEngineRating)

	api.POST("/books/:id/search-references", s.handlePostSearchReferences)
	api.POST("/books/:id/reference-upload", s.handlePostReferenceUpload)
	api.GET("/books/:id/references", s.handleGetReferences)
	api.PATCH("/references/:rid", s.handlePatchReference)
}

func (s *Server) Start(addr string) error {
	s.log.Info("server listening", "addr", addr)
	if s.queue != nil {
		s.queue.Start()
	}
	return s.Echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	if s.queue != nil {
		s.queue.Stop()
	}
	return s.Echo.Shutdown(ctx)
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// fail maps operational errors to a status code and a JSON body.
func (s *Server) fail(c echo.Context, err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		code = http.StatusConflict
	case errors.Is(err, queue.ErrFull), errors.Is(err, queue.ErrStopped),
		errors.Is(err, t2i.ErrUnavailable), errors.Is(err, pipeline.ErrNoDispatcher):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		code = 499
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.JSON(code, utils.ErrJSON(err.Error()))
}
