package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"

	"inkwell/pkg/analysis"
	"inkwell/pkg/composer"
	"inkwell/pkg/diff"
	"inkwell/pkg/inference"
	"inkwell/pkg/ontology"
	"inkwell/pkg/scenes"
	"inkwell/pkg/schema"
	"inkwell/pkg/search"
	"inkwell/pkg/store"
	"inkwell/pkg/tokens"
	"inkwell/pkg/utils"
)

const DefaultSceneCount = 10

const (
	StageChunking = "chunking"
	StageAnalysis = "chunk_analysis"
	StageOntology = "ontology"
	StageTokens   = "entity_tokens"
	StageScenes   = "scenes"
	StageCompose  = "compose"
	StagePersist  = "persist"
)

var ErrAlreadyRunning = errors.New("analysis already running for this book")

// Event is one progress notification of an analysis run.
type Event struct {
	RunID string `json:"run_id"`
	Stage string `json:"stage"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

type Options struct {
	SceneCount int
	// Style overrides the book's style category.
	Style    string
	Progress func(Event)
}

type Report struct {
	RunID      string              `json:"run_id"`
	BookID     int64               `json:"book_id"`
	Style      string              `json:"style_category"`
	Candidates int                 `json:"candidates"`
	Scenes     []schema.Scene      `json:"scenes"`
	Steps      []schema.StepReport `json:"steps"`
	Diff       diff.ScenesDiff     `json:"diff"`
	Duration   time.Duration       `json:"duration"`
}

// Fallbacks lists the steps that degraded to their deterministic fallback.
func (r Report) Fallbacks() []string {
	var out []string
	for _, s := range r.Steps {
		if s.Fallback {
			out = append(out, s.Step)
		}
	}
	return out
}

type Config struct {
	Inferencer inference.Inferencer
	Store      store.Repository
	// Dispatcher is only needed by SearchReferences.
	Dispatcher  *search.Dispatcher
	Logger      *log.Logger
	ChunkSize   int
	BatchSize   int
	CountTokens bool
	Scenes      scenes.Options
}

type Pipeline struct {
	cfg        Config
	store      store.Repository
	classifier *ontology.Classifier
	tokens     *tokens.Builder
	refiner    *scenes.Refiner
	composer   *composer.Composer
	dispatcher *search.Dispatcher
	running    *utils.SyncMap[map[int64]string, int64, string]
	log        *log.Logger
}

func New(cfg Config) *Pipeline {
	logger := cmp.Or(cfg.Logger, log.Default())
	return &Pipeline{
		cfg:        cfg,
		store:      cfg.Store,
		classifier: ontology.NewClassifier(cfg.Inferencer, logger),
		tokens:     tokens.NewBuilder(cfg.Inferencer, logger),
		refiner:    scenes.NewRefiner(cfg.Inferencer, logger),
		composer:   composer.New(cfg.Inferencer, logger),
		dispatcher: cfg.Dispatcher,
		running:    utils.NewSyncMap[map[int64]string](),
		log:        logger,
	}
}

// Running returns the run id of the analysis in progress for a book, if any.
func (p *Pipeline) Running(bookID int64) (string, bool) {
	return p.running.Load(bookID)
}

// Analyze runs the full extraction for one book and replaces its scenes.
// Chunks and chunk analyses already stored are reused.
func (p *Pipeline) Analyze(ctx context.Context, bookID int64, opts Options) (Report, error) {
	runID := ksuid.New().String()
	if current, loaded := p.running.LoadOrStore(bookID, runID); loaded {
		return Report{}, fmt.Errorf("%w: run %s", ErrAlreadyRunning, current)
	}
	defer p.running.Delete(bookID)

	begin := time.Now()
	logger := p.log.With("book", bookID, "run", runID)
	var mu sync.Mutex
	emit := func(stage string, done, total int) {
		if opts.Progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		opts.Progress(Event{RunID: runID, Stage: stage, Done: done, Total: total})
	}

	book, err := p.store.GetBook(ctx, bookID)
	if err != nil {
		return Report{}, err
	}
	if err := p.store.SetBookStatus(ctx, bookID, schema.StatusAnalyzing, ""); err != nil {
		return Report{}, err
	}

	report, err := p.analyze(ctx, logger, book, runID, opts, emit)
	report.Duration = time.Since(begin)
	if err != nil {
		// A canceled run puts the book back where it was.
		status, msg := schema.StatusError, err.Error()
		if errors.Is(err, context.Canceled) {
			status, msg = cmp.Or(book.Status, schema.StatusUploaded), book.Error
		}
		if serr := p.store.SetBookStatus(context.WithoutCancel(ctx), bookID, status, msg); serr != nil {
			logger.Error("failed to record analysis error", "error", serr)
		}
		return report, err
	}
	if err := p.store.SetBookStatus(ctx, bookID, schema.StatusAnalyzed, ""); err != nil {
		return report, err
	}
	logger.Info("analysis complete", "scenes", len(report.Scenes), "fallbacks", report.Fallbacks(), "took", report.Duration)
	return report, nil
}

func (p *Pipeline) analyze(ctx context.Context, logger *log.Logger, book *schema.Book, runID string, opts Options, emit func(string, int, int)) (Report, error) {
	report := Report{RunID: runID, BookID: book.ID, Scenes: []schema.Scene{}}
	sceneCount := opts.SceneCount
	if sceneCount <= 0 {
		sceneCount = DefaultSceneCount
	}

	chunks, err := p.chunks(ctx, book)
	if err != nil {
		return report, err
	}
	emit(StageChunking, len(chunks), len(chunks))
	if len(chunks) == 0 {
		logger.Warn("book has no text to analyse")
		return report, nil
	}

	analyses, steps, err := p.chunkAnalyses(ctx, logger, book, chunks, emit)
	report.Steps = append(report.Steps, steps...)
	if err != nil {
		return report, err
	}

	if book, err = p.store.GetBook(ctx, book.ID); err != nil {
		return report, err
	}
	report.Style = cmp.Or(opts.Style, book.StyleCategory, "fiction")

	characters, err := p.store.Entities(ctx, book.ID, schema.EntityCharacter, false)
	if err != nil {
		return report, err
	}
	locations, err := p.store.Entities(ctx, book.ID, schema.EntityLocation, false)
	if err != nil {
		return report, err
	}

	chunkText := make(map[int]string, len(chunks))
	for _, c := range chunks {
		chunkText[c.Index] = c.Text
	}

	// Scene extraction does not depend on the entities, so it runs next to
	// classification and token building.
	var (
		extracted   []schema.Scene
		candidates  []schema.SceneCandidate
		sceneReport schema.StepReport
		entities    []schema.Entity
		visualSteps []schema.StepReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		extracted, candidates, sceneReport = scenes.Extract(gctx, p.refiner, analyses, scenes.Request{
			SceneCount:     sceneCount,
			ManuscriptLang: cmp.Or(book.ManuscriptLang, "en"),
			RunID:          runID,
			ChunkText:      chunkText,
		}, p.cfg.Scenes)
		emit(StageScenes, len(extracted), sceneCount)
		return nil
	})
	g.Go(func() error {
		entities, visualSteps = p.visuals(gctx, slices.Concat(characters, locations), emit)
		return nil
	})
	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	report.Steps = append(report.Steps, visualSteps...)
	report.Steps = append(report.Steps, sceneReport)
	report.Candidates = len(candidates)

	var charOntologies []schema.EntityOntology
	for _, e := range entities {
		if e.Type == schema.EntityCharacter && e.Ontology != nil {
			charOntologies = append(charOntologies, *e.Ontology)
		}
	}

	composed, composeReport := p.composer.Compose(ctx, extracted, charOntologies, report.Style)
	report.Steps = append(report.Steps, composeReport)
	emit(StageCompose, len(composed), len(extracted))

	for _, e := range entities {
		if err := p.store.UpdateEntityVisuals(ctx, e.Type, e.ID, e.Ontology, e.Tokens); err != nil {
			return report, fmt.Errorf("save %s %q visuals: %w", e.Type, e.Name, err)
		}
	}
	previous, err := p.store.Scenes(ctx, book.ID)
	if err != nil {
		return report, err
	}
	if err := p.store.ReplaceScenes(ctx, book.ID, composed); err != nil {
		return report, err
	}
	emit(StagePersist, len(composed), len(composed))

	report.Scenes = composed
	report.Diff = diff.Scenes(previous, composed)
	return report, nil
}

func (p *Pipeline) chunks(ctx context.Context, book *schema.Book) ([]schema.Chunk, error) {
	chunks, err := p.store.Chunks(ctx, book.ID)
	if err != nil || len(chunks) > 0 {
		return chunks, err
	}
	chunks = analysis.Split(book.Text, p.cfg.ChunkSize)
	if len(chunks) == 0 {
		return nil, nil
	}
	if err := p.store.ReplaceChunks(ctx, book.ID, chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

// chunkAnalyses returns stored analyses, or runs the batch analysis and saves
// its analyses, main entities and style category.
func (p *Pipeline) chunkAnalyses(ctx context.Context, logger *log.Logger, book *schema.Book, chunks []schema.Chunk, emit func(string, int, int)) ([]schema.ChunkAnalysis, []schema.StepReport, error) {
	stored, err := p.store.ChunkAnalyses(ctx, book.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(stored) > 0 {
		logger.Info("reusing stored chunk analyses", "count", len(stored))
		emit(StageAnalysis, len(stored), len(stored))
		if err := p.ensureEntities(ctx, book.ID, stored); err != nil {
			return nil, nil, err
		}
		return stored, nil, nil
	}

	analyzer := analysis.New(p.cfg.Inferencer, logger, analysis.Options{
		BatchSize:   p.cfg.BatchSize,
		CountTokens: p.cfg.CountTokens,
		Progress:    func(done, total int) { emit(StageAnalysis, done, total) },
	})
	res, steps := analyzer.Run(ctx, chunks)
	if err := ctx.Err(); err != nil {
		return nil, steps, err
	}

	if err := p.store.ReplaceChunkAnalyses(ctx, book.ID, res.ChunkAnalyses); err != nil {
		return nil, steps, err
	}
	if err := p.store.ReplaceEntities(ctx, book.ID, schema.EntityCharacter, characterEntities(res.Characters)); err != nil {
		return nil, steps, err
	}
	if err := p.store.ReplaceEntities(ctx, book.ID, schema.EntityLocation, locationEntities(res.Locations)); err != nil {
		return nil, steps, err
	}
	if book.StyleCategory == "" {
		if err := p.store.SetBookStyle(ctx, book.ID, res.StyleCategory); err != nil {
			return nil, steps, err
		}
	}
	return res.ChunkAnalyses, steps, nil
}

// ensureEntities derives characters and locations from the analyses when the
// book has none, ranking them by mention count.
func (p *Pipeline) ensureEntities(ctx context.Context, bookID int64, analyses []schema.ChunkAnalysis) error {
	for _, entityType := range []string{schema.EntityCharacter, schema.EntityLocation} {
		existing, err := p.store.Entities(ctx, bookID, entityType, false)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}
		derived := mentioned(analyses, entityType)
		if len(derived) == 0 {
			continue
		}
		if err := p.store.ReplaceEntities(ctx, bookID, entityType, derived); err != nil {
			return err
		}
	}
	return nil
}

// visuals classifies every entity in one call and then builds their tokens.
func (p *Pipeline) visuals(ctx context.Context, entities []schema.Entity, emit func(string, int, int)) ([]schema.Entity, []schema.StepReport) {
	if len(entities) == 0 {
		return nil, nil
	}

	inputs := make([]schema.EntityInput, len(entities))
	for i, e := range entities {
		inputs[i] = e.Input()
	}
	onts, ontReport := p.classifier.Classify(ctx, inputs)
	emit(StageOntology, len(onts), len(entities))

	tokInputs := make([]tokens.Input, len(entities))
	for i, e := range entities {
		tokInputs[i] = tokens.InputFrom(onts[i], e.Description)
	}
	toks, tokReport := p.tokens.Build(ctx, tokInputs)
	emit(StageTokens, len(toks), len(entities))

	out := slices.Clone(entities)
	for i := range out {
		out[i].Ontology = &onts[i]
		out[i].Tokens = &toks[i]
	}
	return out, []schema.StepReport{ontReport, tokReport}
}
