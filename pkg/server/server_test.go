package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/pkg/inference"
	"inkwell/pkg/pipeline"
	"inkwell/pkg/providers"
	"inkwell/pkg/queue"
	"inkwell/pkg/schema"
	"inkwell/pkg/store"
	"inkwell/pkg/t2i"
)

type harness struct {
	srv  *Server
	db   *store.DB
	pipe *pipeline.Pipeline
	dir  string
}

// offline fails every model call after gate opens, so each step falls back.
func offline(gate <-chan struct{}) inference.Inferencer {
	return inference.Func(func(ctx context.Context, _ *openai.ChatCompletionNewParams, _, _ string) (string, error) {
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return "", errors.New("model offline")
	})
}

func newHarness(t *testing.T, gate <-chan struct{}) *harness {
	t.Helper()
	dir := t.TempDir()
	logger := log.New(io.Discard)
	db, err := store.Open(filepath.Join(dir, "inkwell.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q := queue.New(4, logger)
	q.Start()
	t.Cleanup(q.Stop)

	pipe := pipeline.New(pipeline.Config{Inferencer: offline(gate), Store: db, Logger: logger})
	srv := NewServer(context.Background(), Deps{
		Store:    db,
		Pipeline: pipe,
		Registry: providers.Default(providers.Keys{Unsplash: "u", Pexels: "p", Pixabay: "x", SerpAPI: "s"}),
		T2I: t2i.NewProviders(
			t2i.NewAbstract(logger),
			t2i.NewFlux("", "", logger),
		),
		Queue:     q,
		UploadDir: filepath.Join(dir, "uploads"),
		Logger:    logger,
	})
	return &harness{srv: srv, db: db, pipe: pipe, dir: dir}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.srv.Echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (h *harness) createBook(t *testing.T) int64 {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/books", map[string]any{
		"title":          "Iron Sky",
		"text":           strings.Repeat("The hangar shook as the android stepped forward. ", 40),
		"style_category": "sci-fi",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[struct {
		Book   schema.Book `json:"book"`
		Chunks int         `json:"chunks"`
	}](t, rec)
	assert.Equal(t, 1, resp.Chunks)
	return resp.Book.ID
}

func TestRootAndBooks(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	id := h.createBook(t)
	rec = h.do(t, http.MethodGet, fmt.Sprintf("/api/books/%d", id), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Iron Sky")

	rec = h.do(t, http.MethodGet, "/api/books/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)

	rec = h.do(t, http.MethodPost, "/api/books", map[string]any{"title": "No text"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/books/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEngineRatingsRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	id := h.createBook(t)
	path := fmt.Sprintf("/api/books/%d/engine-ratings", id)

	for _, action := range []string{"like", "like", "dislike"} {
		rec := h.do(t, http.MethodPatch, path, map[string]string{"provider": "pixabay", "action": action})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := h.do(t, http.MethodPatch, path, map[string]string{"provider": "Pexels", "action": "dislike"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, -1, decode[ratingView](t, rec).NetScore)

	rec = h.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]ratingView](t, rec)
	assert.Equal(t, []ratingView{
		{Provider: "pexels", Likes: 0, Dislikes: 1, NetScore: -1},
		{Provider: "pixabay", Likes: 2, Dislikes: 1, NetScore: 1},
	}, got)

	rec = h.do(t, http.MethodPatch, path, map[string]string{"provider": "flickr", "action": "like"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(t, http.MethodPatch, path, map[string]string{"provider": "pixabay", "action": "love"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(t, http.MethodPatch, "/api/books/404/engine-ratings", map[string]string{"provider": "pixabay", "action": "like"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEngineSelection(t *testing.T) {
	h := newHarness(t, nil)
	id := h.createBook(t)

	rec := h.do(t, http.MethodPost, fmt.Sprintf("/api/books/%d/engines", id), map[string]any{"entity_class": "AI"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		Key       string   `json:"affinity_key"`
		Providers []string `json:"providers"`
	}](t, rec)
	assert.Equal(t, "AI|sci-fi", resp.Key)
	assert.Equal(t, []string{"pixabay", "serpapi"}, resp.Providers)

	rec = h.do(t, http.MethodPost, fmt.Sprintf("/api/books/%d/engines", id), map[string]any{"entity_type": "prop"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func seedScene(t *testing.T, h *harness, bookID int64) schema.Scene {
	t.Helper()
	scenes := []schema.Scene{{
		Title:            "Hangar Fire",
		SceneType:        schema.SceneClimax,
		ChunkStartIndex:  0,
		ChunkEndIndex:    2,
		ScenePromptDraft: "a chrome android in rain",
		T2IPrompt:        schema.T2IPrompt{Abstract: "chrome android in a burning hangar, wide shot"},
	}}
	require.NoError(t, h.db.ReplaceScenes(context.Background(), bookID, scenes))
	return scenes[0]
}

func TestPatchSceneReturnsPromptDiff(t *testing.T) {
	h := newHarness(t, nil)
	id := h.createBook(t)
	scene := seedScene(t, h, id)
	path := fmt.Sprintf("/api/books/%d/scenes/%d", id, scene.ID)

	rec := h.do(t, http.MethodPatch, path, map[string]any{"scene_prompt_draft": "a chrome android in fog", "is_selected": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		Scene      schema.Scene `json:"scene"`
		PromptDiff struct {
			Deltas []struct {
				Op   string `json:"op"`
				Text string `json:"text"`
			} `json:"deltas"`
		} `json:"prompt_diff"`
	}](t, rec)
	assert.Equal(t, "a chrome android in fog", resp.Scene.ScenePromptDraft)
	assert.True(t, resp.Scene.IsSelected)
	assert.Equal(t, "Hangar Fire", resp.Scene.Title)

	ops := map[string]string{}
	for _, d := range resp.PromptDiff.Deltas {
		ops[d.Op] += d.Text
	}
	assert.Equal(t, "fog", ops["insert"])
	assert.Equal(t, "rain", ops["delete"])

	rec = h.do(t, http.MethodPatch, path, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(t, http.MethodPatch, fmt.Sprintf("/api/books/%d/scenes/999", id), map[string]any{"title": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateUsesQueue(t *testing.T) {
	h := newHarness(t, nil)
	id := h.createBook(t)
	scene := seedScene(t, h, id)
	path := fmt.Sprintf("/api/books/%d/scenes/%d/generate", id, scene.ID)

	rec := h.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		JobID  string     `json:"job_id"`
		Result t2i.Result `json:"result"`
	}](t, rec)
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, "abstract", resp.Result.Provider)
	assert.Equal(t, scene.T2IPrompt.Abstract, resp.Result.PromptUsed)

	rec = h.do(t, http.MethodPost, path, map[string]string{"provider": "flux"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAnalyzeStreamsProgress(t *testing.T) {
	h := newHarness(t, nil)
	id := h.createBook(t)

	rec := h.do(t, http.MethodPost, fmt.Sprintf("/api/books/%d/analyze", id), map[string]int{"scene_count": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, `"stage":"chunk_analysis"`)
	assert.Contains(t, body, "event: done")
	assert.NotContains(t, body, "event: error")

	rec = h.do(t, http.MethodGet, fmt.Sprintf("/api/books/%d/scenes", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]schema.Scene](t, rec), 1)
}

func TestAnalyzeConflictWhileRunning(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, gate)
	id := h.createBook(t)

	done := make(chan error, 1)
	go func() {
		_, err := h.pipe.Analyze(context.Background(), id, pipeline.Options{SceneCount: 1})
		done <- err
	}()
	require.Eventually(t, func() bool {
		_, ok := h.pipe.Running(id)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	rec := h.do(t, http.MethodPost, fmt.Sprintf("/api/books/%d/analyze", id), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already running")

	close(gate)
	require.NoError(t, <-done)
}

func TestAnalyzeSurvivesClientDisconnect(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, gate)
	id := h.createBook(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/books/%d/analyze", id), strings.NewReader(`{"scene_count": 1}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	served := make(chan struct{})
	go func() {
		defer close(served)
		h.srv.Echo.ServeHTTP(rec, req)
	}()
	require.Eventually(t, func() bool {
		_, ok := h.pipe.Running(id)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	close(gate)
	<-served

	book, err := h.db.GetBook(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusAnalyzed, book.Status)
	scenes, err := h.db.Scenes(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, scenes, 1)
}

func TestIngestChunkAnalyses(t *testing.T) {
	h := newHarness(t, nil)
	id := h.createBook(t)
	path := fmt.Sprintf("/api/books/%d/chunk-analyses", id)

	rec := h.do(t, http.MethodPost, path, map[string]any{"chunk_analyses": []map[string]any{
		{"chunk_index": 0, "dramatic_score": 1.7, "visual_density": "HIGH", "narrative_position": "climax", "dramatic_moment": "sparks"},
		{"chunk_index": 1, "dramatic_score": 0.2, "visual_density": "dense"},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"count":2`)

	got, err := h.db.ChunkAnalyses(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].DramaticScore)
	assert.Equal(t, schema.DensityHigh, got[0].VisualDensity)
	assert.Equal(t, "sparks", got[0].VisualMoment)
	assert.Equal(t, schema.DensityMedium, got[1].VisualDensity)
	assert.Equal(t, schema.PositionRisingAction, got[1].NarrativePosition)

	rec = h.do(t, http.MethodPost, path, "not json at all")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func upload(t *testing.T, h *harness, bookID, entityID int64, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("entity_type", "character"))
	require.NoError(t, mw.WriteField("entity_id", fmt.Sprint(entityID)))
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/books/%d/reference-upload", bookID), &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.srv.Echo.ServeHTTP(rec, req)
	return rec
}

func TestReferenceUpload(t *testing.T) {
	h := newHarness(t, nil)
	id := h.createBook(t)
	chars := []schema.Entity{{Name: "K-7", Description: "android"}}
	require.NoError(t, h.db.ReplaceEntities(context.Background(), id, schema.EntityCharacter, chars))

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 16, 16))))

	rec := upload(t, h, id, chars[0].ID, "k7.png", img.Bytes())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[struct {
		Reference schema.ReferenceImage `json:"reference"`
	}](t, rec)
	assert.Equal(t, store.SourceUser, resp.Reference.Source)
	assert.True(t, strings.HasSuffix(resp.Reference.URL, ".webp"))

	rel := strings.TrimPrefix(resp.Reference.URL, "/uploads/")
	_, err := os.Stat(filepath.Join(h.dir, "uploads", filepath.FromSlash(rel)))
	assert.NoError(t, err)

	rec = h.do(t, http.MethodGet, fmt.Sprintf("/api/books/%d/references?entity_type=character&entity_id=%d", id, chars[0].ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	refs := decode[[]schema.ReferenceImage](t, rec)
	require.Len(t, refs, 1)

	rec = h.do(t, http.MethodPatch, fmt.Sprintf("/api/references/%d", refs[0].ID), map[string]bool{"is_selected": true})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = upload(t, h, id, chars[0].ID, "notes.txt", []byte("just some words"))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = upload(t, h, id, 999, "k7.png", img.Bytes())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
