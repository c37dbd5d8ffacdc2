package analysis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"inkwell/pkg/inference"
	"inkwell/pkg/schema"
	"inkwell/pkg/utils"
)

const (
	Step            = "chunk_analysis"
	ConsolidateStep = "consolidation"

	DefaultChunkSize = 4000
	DefaultBatchSize = 10
	mainLimit        = 5
	neutralDramatic  = 0.3
)

const batchPrompt = `You are analyzing a book to extract visual and narrative elements for AI illustration generation.

Analyze the following text excerpts (chunks). For EACH chunk, provide:
1. Characters mentioned (name, physical description, personality, typical emotions, visual_type)
2. Locations mentioned (name, visual description, atmosphere)
3. The most dramatic or visual moment (brief scene description)
4. A dramatic score from 0.0 to 1.0 (how visually interesting this chunk is)
5. visual_density (low|medium|high) and narrative_position (opening_hook|inciting_incident|rising_action|midpoint|climax|resolution)
6. Which characters and locations appear in each chunk (by name)

Focus on VISUAL details: age, height, build, hair, eyes, skin, clothing for characters.
For locations: architecture, colors, lighting, weather, mood.
Use the chunk_index shown in each "--- CHUNK i ---" header.

Return ONLY valid JSON of the form {"characters": [...], "locations": [...], "chunk_analyses": [...]}.`

const consolidatePrompt = `Given these character and location extractions from multiple sections of a book, consolidate into:

1. Top 5 MAIN CHARACTERS (most frequently mentioned, most important to plot). Merge duplicates into one detailed physical description and keep the 2 most characteristic emotions.
2. Top 5 MAIN LOCATIONS (most important to story). Merge duplicate descriptions.
3. OVERALL TONE AND STYLE: genre, narrative mood and a visual style recommendation for illustrations.

Return ONLY valid JSON of the form {"main_characters": [...], "main_locations": [...], "tone_and_style": {"genre": "", "mood": "", "visual_style": ""}}.`

// Result is the merged output of a full analysis run.
type Result struct {
	Characters    []schema.ExtractedCharacter `json:"main_characters"`
	Locations     []schema.ExtractedLocation  `json:"main_locations"`
	Tone          schema.ToneAndStyle         `json:"tone_and_style"`
	StyleCategory string                      `json:"style_category"`
	ChunkAnalyses []schema.ChunkAnalysis      `json:"chunk_analyses"`
}

// Batch is the extraction for one group of chunks.
type Batch struct {
	Characters []schema.ExtractedCharacter
	Locations  []schema.ExtractedLocation
	Analyses   []schema.ChunkAnalysis
}

type Options struct {
	BatchSize int
	// CountTokens logs the tiktoken size of every batch prompt.
	CountTokens bool
	Progress    func(done, total int)
}

type Analyzer struct {
	inf  inference.Inferencer
	log  *log.Logger
	opts Options
}

func New(inf inference.Inferencer, logger *log.Logger, opts Options) *Analyzer {
	opts.BatchSize = cmp.Or(max(opts.BatchSize, 0), DefaultBatchSize)
	return &Analyzer{inf: inf, log: cmp.Or(logger, log.Default()), opts: opts}
}

// Split chunks a manuscript on whitespace boundaries. limit <= 0 uses DefaultChunkSize.
func Split(text string, limit int) []schema.Chunk {
	if limit <= 0 {
		limit = DefaultChunkSize
	}
	parts := utils.ChunkText(text, limit)
	chunks := make([]schema.Chunk, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		chunks = append(chunks, schema.Chunk{Index: len(chunks), Text: p})
	}
	return chunks
}

// AnalyzeBatch sends one group of chunks to the model. Analyses that name a
// chunk outside the batch are dropped.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, chunks []schema.Chunk) (Batch, error) {
	if len(chunks) == 0 {
		return Batch{}, nil
	}

	parts := make([]string, len(chunks))
	for i, ch := range chunks {
		parts[i] = fmt.Sprintf("--- CHUNK %d ---\n%s", ch.Index, ch.Text)
	}
	user := strings.Join(parts, "\n\n")

	if a.opts.CountTokens {
		if n, err := utils.NumTokensFromMessages(batchPrompt + user); err == nil {
			a.log.Debug("chunk batch size", "first", chunks[0].Index, "last", chunks[len(chunks)-1].Index, "tokens", n)
		}
	}

	params := inference.Params(0.3, 4096)
	params.ResponseFormat = schema.ChunkBatchResponseFormat()
	out, err := a.inf.Infer(ctx, params, batchPrompt, user)
	if err != nil {
		return Batch{}, err
	}

	raw, err := utils.ExtractJSON(out)
	if err != nil {
		return Batch{}, err
	}
	var res schema.ChunkBatchResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		a.log.Error("failed to parse batch analysis", "error", err, "raw", utils.Truncate(out, 500))
		return Batch{}, fmt.Errorf("decode chunk batch: %w", err)
	}

	inBatch := make(map[int]bool, len(chunks))
	for _, ch := range chunks {
		inBatch[ch.Index] = true
	}
	b := Batch{Characters: res.Characters, Locations: res.Locations}
	for _, d := range res.ChunkAnalyses {
		ca := normalizeDraft(d)
		if !inBatch[ca.ChunkIndex] {
			a.log.Warn("chunk analysis for unknown chunk", "chunk", ca.ChunkIndex)
			continue
		}
		b.Analyses = append(b.Analyses, ca)
	}
	return b, nil
}

// Consolidate reduces every batch extraction to the main cast and the book tone.
func (a *Analyzer) Consolidate(ctx context.Context, batches []Batch) (schema.Consolidation, schema.StepReport) {
	report := schema.StepReport{Step: ConsolidateStep}

	var chars []schema.ExtractedCharacter
	var locs []schema.ExtractedLocation
	for _, b := range batches {
		chars = append(chars, b.Characters...)
		locs = append(locs, b.Locations...)
	}
	if len(chars) == 0 && len(locs) == 0 {
		return schema.Consolidation{}, report
	}

	user, err := json.Marshal(map[string]any{"all_characters": chars, "all_locations": locs})
	if err == nil {
		params := inference.Params(0.3, 4096)
		params.ResponseFormat = schema.ConsolidationResponseFormat()

		var out string
		out, err = a.inf.Infer(ctx, params, consolidatePrompt, string(user))
		if err == nil {
			var c schema.Consolidation
			if c, err = decodeConsolidation(out); err == nil {
				c.MainCharacters = utils.Head(c.MainCharacters, mainLimit)
				c.MainLocations = utils.Head(c.MainLocations, mainLimit)
				return c, report
			}
		}
	}

	a.log.Warn("consolidation failed, merging batch entities", "error", err)
	report.Fallback = true
	report.Error = err
	return schema.Consolidation{
		MainCharacters: utils.Head(mergeCharacters(chars), mainLimit),
		MainLocations:  utils.Head(mergeLocations(locs), mainLimit),
	}, report
}

// Run analyses every chunk in batches and consolidates the entities. Every
// input chunk gets exactly one ChunkAnalysis in the result.
func (a *Analyzer) Run(ctx context.Context, chunks []schema.Chunk) (Result, []schema.StepReport) {
	report := schema.StepReport{Step: Step}
	if len(chunks) == 0 {
		return Result{StyleCategory: StyleCategory("")}, []schema.StepReport{report}
	}

	var (
		batches []Batch
		errs    []error
		failed  int
	)
	total := len(chunks)
	for start := 0; start < total; start += a.opts.BatchSize {
		group := chunks[start:min(start+a.opts.BatchSize, total)]
		a.log.Info("analyzing chunk batch", "first", group[0].Index, "last", group[len(group)-1].Index, "total", total)

		b, err := a.AnalyzeBatch(ctx, group)
		if err != nil {
			a.log.Warn("chunk batch failed", "first", group[0].Index, "error", err)
			errs = append(errs, err)
			failed++
		}
		batches = append(batches, b)
		if a.opts.Progress != nil {
			a.opts.Progress(start+len(group), total)
		}
	}

	analyses := fill(chunks, batches)
	if failed > 0 {
		report.Fallback = true
		report.Error = errors.Join(errs...)
		report.Detail = fmt.Sprintf("%d of %d batches failed", failed, len(batches))
	}

	cons, consReport := a.Consolidate(ctx, batches)
	return Result{
		Characters:    cons.MainCharacters,
		Locations:     cons.MainLocations,
		Tone:          cons.ToneAndStyle,
		StyleCategory: StyleCategory(cons.ToneAndStyle.Genre),
		ChunkAnalyses: analyses,
	}, []schema.StepReport{report, consReport}
}

// Neutral is the record used for a chunk the model never analysed.
func Neutral(index int) schema.ChunkAnalysis {
	return schema.ChunkAnalysis{
		ChunkIndex:        index,
		DramaticScore:     neutralDramatic,
		VisualDensity:     schema.DensityLow,
		NarrativePosition: schema.PositionRisingAction,
		CharactersPresent: []string{},
		LocationsPresent:  []string{},
	}
}

// fill returns one analysis per chunk in chunk order, first record wins.
func fill(chunks []schema.Chunk, batches []Batch) []schema.ChunkAnalysis {
	byIndex := make(map[int]schema.ChunkAnalysis)
	for _, b := range batches {
		for _, ca := range b.Analyses {
			if _, ok := byIndex[ca.ChunkIndex]; !ok {
				byIndex[ca.ChunkIndex] = ca
			}
		}
	}
	out := make([]schema.ChunkAnalysis, len(chunks))
	for i, ch := range chunks {
		ca, ok := byIndex[ch.Index]
		if !ok {
			ca = Neutral(ch.Index)
		}
		out[i] = ca
	}
	return out
}

func normalizeDraft(d schema.ChunkAnalysisDraft) schema.ChunkAnalysis {
	return Normalize(schema.ChunkAnalysis{
		ChunkIndex:        int(d.ChunkIndex),
		DramaticScore:     d.DramaticScore,
		VisualDensity:     d.VisualDensity,
		NarrativePosition: d.NarrativePosition,
		CharactersPresent: d.CharactersPresent,
		LocationsPresent:  d.LocationsPresent,
		VisualMoment:      d.DramaticMoment,
	})
}

var positions = []string{
	schema.PositionOpeningHook, schema.PositionIncitingIncident, schema.PositionRisingAction,
	schema.PositionMidpoint, schema.PositionClimax, schema.PositionResolution,
}

// Normalize clamps the score to [0, 1] and replaces unknown density and
// position values with medium and rising_action.
func Normalize(ca schema.ChunkAnalysis) schema.ChunkAnalysis {
	ca.DramaticScore = min(max(ca.DramaticScore, 0), 1)
	ca.VisualDensity = strings.ToLower(strings.TrimSpace(ca.VisualDensity))
	ca.NarrativePosition = strings.ToLower(strings.TrimSpace(ca.NarrativePosition))
	ca.CharactersPresent = names(ca.CharactersPresent)
	ca.LocationsPresent = names(ca.LocationsPresent)
	ca.VisualMoment = strings.TrimSpace(ca.VisualMoment)
	switch ca.VisualDensity {
	case schema.DensityLow, schema.DensityMedium, schema.DensityHigh:
	default:
		ca.VisualDensity = schema.DensityMedium
	}
	if !slices.Contains(positions, ca.NarrativePosition) {
		ca.NarrativePosition = schema.PositionRisingAction
	}
	return ca
}

func names(in []string) []string {
	if out := utils.DedupeStrings(in); out != nil {
		return out
	}
	return []string{}
}

func decodeConsolidation(out string) (schema.Consolidation, error) {
	raw, err := utils.ExtractJSON(out)
	if err != nil {
		return schema.Consolidation{}, err
	}
	var c schema.Consolidation
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return schema.Consolidation{}, fmt.Errorf("decode consolidation: %w", err)
	}
	if len(c.MainCharacters) == 0 && len(c.MainLocations) == 0 {
		return schema.Consolidation{}, errors.New("consolidation returned no entities")
	}
	return c, nil
}

// mergeCharacters joins characters by name in first-seen order, ranked by
// how many batches mentioned them.
func mergeCharacters(in []schema.ExtractedCharacter) []schema.ExtractedCharacter {
	var out []schema.ExtractedCharacter
	counts := map[string]int{}
	at := map[string]int{}
	for _, c := range in {
		key := utils.NormName(c.Name)
		if key == "" {
			continue
		}
		counts[key]++
		i, ok := at[key]
		if !ok {
			at[key] = len(out)
			out = append(out, c)
			continue
		}
		m := &out[i]
		if len(c.PhysicalDescription) > len(m.PhysicalDescription) {
			m.PhysicalDescription = c.PhysicalDescription
		}
		m.Personality = cmp.Or(m.Personality, c.Personality)
		m.VisualType = cmp.Or(m.VisualType, c.VisualType)
		m.Emotions = utils.DedupeStrings(slices.Concat(m.Emotions, c.Emotions))
	}
	slices.SortStableFunc(out, func(a, b schema.ExtractedCharacter) int {
		return cmp.Compare(counts[utils.NormName(b.Name)], counts[utils.NormName(a.Name)])
	})
	for i := range out {
		out[i].Emotions = utils.Head(out[i].Emotions, 2)
	}
	return out
}

func mergeLocations(in []schema.ExtractedLocation) []schema.ExtractedLocation {
	var out []schema.ExtractedLocation
	counts := map[string]int{}
	at := map[string]int{}
	for _, l := range in {
		key := utils.NormName(l.Name)
		if key == "" {
			continue
		}
		counts[key]++
		i, ok := at[key]
		if !ok {
			at[key] = len(out)
			out = append(out, l)
			continue
		}
		m := &out[i]
		if len(l.VisualDescription) > len(m.VisualDescription) {
			m.VisualDescription = l.VisualDescription
		}
		m.Atmosphere = cmp.Or(m.Atmosphere, l.Atmosphere)
	}
	slices.SortStableFunc(out, func(a, b schema.ExtractedLocation) int {
		return cmp.Compare(counts[utils.NormName(b.Name)], counts[utils.NormName(a.Name)])
	})
	return out
}
