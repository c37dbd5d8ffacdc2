package main

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"inkwell/pkg/analysis"
	"inkwell/pkg/pipeline"
	"inkwell/pkg/schema"
	"inkwell/pkg/utils"
)

var analyzeFlags struct {
	book       int64
	title      string
	text       string
	chunks     string
	characters string
	locations  string
	scenes     int
	style      string
	report     bool
	out        string
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run scene extraction for a manuscript and print the scenes",
	Long: `Imports a manuscript (or reuses --book) and runs the full analysis.

Precomputed chunk analyses (--chunks) and entities (--characters,
--locations) skip the model batch analysis. Every model step falls back
to its deterministic result when the model is unreachable.

Example:
  inkwell analyze --title "Iron Sky" --text book.txt --chunks analyses.json --scenes 5`,
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.Int64Var(&analyzeFlags.book, "book", 0, "re-run an existing book")
	f.StringVar(&analyzeFlags.title, "title", "", "book title")
	f.StringVar(&analyzeFlags.text, "text", "", "manuscript text file")
	f.StringVar(&analyzeFlags.chunks, "chunks", "", "JSON file of chunk analyses")
	f.StringVar(&analyzeFlags.characters, "characters", "", "JSON file of characters")
	f.StringVar(&analyzeFlags.locations, "locations", "", "JSON file of locations")
	f.IntVar(&analyzeFlags.scenes, "scenes", 0, "number of scenes (default from config)")
	f.StringVar(&analyzeFlags.style, "style", "", "style category override")
	f.BoolVar(&analyzeFlags.report, "report", false, "print the full run report instead of the scenes")
	f.StringVar(&analyzeFlags.out, "out", "", "also write the run report to this JSON file")
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.db.Close()

	bookID := analyzeFlags.book
	if bookID == 0 {
		if bookID, err = importBook(cmd, a); err != nil {
			return err
		}
	}

	report, err := a.pipeline.Analyze(ctx, bookID, pipeline.Options{
		SceneCount: cmp.Or(analyzeFlags.scenes, cfg.Analysis.SceneCount),
		Style:      strings.ToLower(strings.TrimSpace(analyzeFlags.style)),
		Progress: func(e pipeline.Event) {
			logger.Debug("progress", "stage", e.Stage, "done", e.Done, "total", e.Total)
		},
	})
	if err != nil {
		return err
	}
	if fb := report.Fallbacks(); len(fb) > 0 {
		logger.Warn("steps used their fallback", "steps", fb)
	}

	if analyzeFlags.out != "" {
		if err := utils.Save(analyzeFlags.out, report); err != nil {
			return fmt.Errorf("save report: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if analyzeFlags.report {
		fmt.Fprintln(out, utils.PrettyJSON(report))
		return nil
	}
	fmt.Fprintln(out, utils.PrettyJSON(report.Scenes))
	report.Diff.Print(cmd.ErrOrStderr())
	return nil
}

func importBook(cmd *cobra.Command, a *app) (int64, error) {
	if analyzeFlags.text == "" {
		return 0, errors.New("--text or --book is required")
	}
	text, err := os.ReadFile(analyzeFlags.text)
	if err != nil {
		return 0, err
	}
	ctx := cmd.Context()
	book := &schema.Book{
		Title:          strings.TrimSpace(analyzeFlags.title),
		Text:           string(text),
		StyleCategory:  strings.ToLower(strings.TrimSpace(analyzeFlags.style)),
		ManuscriptLang: "en",
	}
	if book.Title == "" {
		book.Title = strings.TrimSuffix(filepath.Base(analyzeFlags.text), filepath.Ext(analyzeFlags.text))
	}
	if err := a.db.CreateBook(ctx, book); err != nil {
		return 0, err
	}
	if err := a.db.ReplaceChunks(ctx, book.ID, analysis.Split(book.Text, cfg.Analysis.ChunkSize)); err != nil {
		return 0, err
	}

	if analyzeFlags.chunks != "" {
		analyses, err := utils.Load[[]schema.ChunkAnalysis](analyzeFlags.chunks)
		if err != nil {
			return 0, fmt.Errorf("load chunk analyses: %w", err)
		}
		for i := range analyses {
			analyses[i] = analysis.Normalize(analyses[i])
		}
		if err := a.db.ReplaceChunkAnalyses(ctx, book.ID, analyses); err != nil {
			return 0, err
		}
	}
	for typ, path := range map[string]string{
		schema.EntityCharacter: analyzeFlags.characters,
		schema.EntityLocation:  analyzeFlags.locations,
	} {
		if path == "" {
			continue
		}
		entities, err := utils.Load[[]schema.Entity](path)
		if err != nil {
			return 0, fmt.Errorf("load %ss: %w", typ, err)
		}
		for i := range entities {
			entities[i].IsMain = true
		}
		if err := a.db.ReplaceEntities(ctx, book.ID, typ, entities); err != nil {
			return 0, err
		}
	}
	logger.Info("book imported", "book", book.ID, "title", book.Title)
	return book.ID, nil
}
