package scenes

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"inkwell/pkg/inference"
	"inkwell/pkg/schema"
	"inkwell/pkg/utils"
)

const Step = "scene_refine"

const (
	maxEntities       = 10
	maxMoments        = 3
	excerptPerChunk   = 200
	excerptTotalLimit = 800
)

const systemPrompt = `Given N candidate scene windows from a novel, select and refine exactly {scene_count} scenes.

LANGUAGE RULES (mandatory):
- title, narrative_summary, visual_description and scene_prompt_draft are stored and used for image search and text-to-image APIs: write them ONLY in ENGLISH.
- If manuscript_lang is not "en", also provide "title_display" and "narrative_summary_display" in the manuscript language for display. Omit both when manuscript_lang is "en".

Prioritise scenes with:
- High dramatic tension or emotional peak
- Clear visual composition potential
- 2 or more entities present
- State change, conflict, revelation, or turning point
- Strong environmental context
- Good spread across different parts of the book (avoid clustering)

For each selected scene return:
{
  "scene_id": 1,
  "title": "5-7 word evocative title IN ENGLISH",
  "title_display": "optional, manuscript language",
  "scene_type": "climax|conflict|turning_point|revelation|emotional_peak|action|atmospheric",
  "chunk_start_index": 0,
  "chunk_end_index": 4,
  "narrative_summary": "2-3 sentences IN ENGLISH: what happens and why it matters",
  "narrative_summary_display": "optional, manuscript language",
  "visual_description": "the KEY VISUAL MOMENT IN ENGLISH: foreground, background, character positions, lighting, mood",
  "characters_present": ["name1", "name2"],
  "primary_location": "location name",
  "visual_intensity": 0.0,
  "illustration_priority": "high|medium|low",
  "scene_prompt_draft": "text-to-image ready prompt IN ENGLISH: visual style, character appearance, environment, lighting, composition"
}

A scene spans 3 to 7 consecutive chunks.
Return ONLY valid JSON: {"scenes": [...]}`

// Request carries everything the refiner needs besides the candidates.
type Request struct {
	SceneCount     int
	ManuscriptLang string
	RunID          string
	// ChunkText maps chunk index to manuscript text for excerpts. Optional.
	ChunkText map[int]string
}

// Summary is the compact view of a candidate sent to the model.
type Summary struct {
	CandidateID        int      `json:"candidate_id"`
	ChunkStartIndex    int      `json:"chunk_start_index"`
	ChunkEndIndex      int      `json:"chunk_end_index"`
	CompositeScore     float64  `json:"composite_score"`
	AvgDramaticScore   float64  `json:"avg_dramatic_score"`
	EntitiesPresent    []string `json:"entities_present"`
	NarrativePositions []string `json:"narrative_positions"`
	VisualMoments      []string `json:"visual_moments,omitempty"`
	TextExcerpt        string   `json:"text_excerpt,omitempty"`
}

type payload struct {
	SceneCount     int       `json:"scene_count"`
	ManuscriptLang string    `json:"manuscript_lang"`
	Candidates     []Summary `json:"candidates"`
	AnalysisRunID  string    `json:"analysis_run_id,omitempty"`
}

// Refiner asks the model to pick and describe exactly N scenes from the candidates.
type Refiner struct {
	inf inference.Inferencer
	log *log.Logger
}

func NewRefiner(inf inference.Inferencer, logger *log.Logger) *Refiner {
	return &Refiner{inf: inf, log: cmp.Or(logger, log.Default())}
}

// Summarize builds the model-facing view of each candidate.
func Summarize(candidates []schema.SceneCandidate, chunkText map[int]string) []Summary {
	out := make([]Summary, 0, len(candidates))
	for i, c := range candidates {
		s := Summary{
			CandidateID:        i + 1,
			ChunkStartIndex:    c.ChunkStart,
			ChunkEndIndex:      c.ChunkEnd,
			CompositeScore:     c.CompositeScore,
			AvgDramaticScore:   c.AvgDramatic,
			EntitiesPresent:    slices.Clone(utils.Head(c.UniqueEntities, maxEntities)),
			NarrativePositions: []string{},
		}
		for _, ch := range c.SampleChunks {
			if ch.NarrativePosition != "" && !slices.Contains(s.NarrativePositions, ch.NarrativePosition) {
				s.NarrativePositions = append(s.NarrativePositions, ch.NarrativePosition)
			}
			if m := strings.TrimSpace(ch.VisualMoment); m != "" && len(s.VisualMoments) < maxMoments {
				s.VisualMoments = append(s.VisualMoments, m)
			}
		}
		if s.EntitiesPresent == nil {
			s.EntitiesPresent = []string{}
		}
		s.TextExcerpt = excerpt(c, chunkText)
		out = append(out, s)
	}
	return out
}

func excerpt(c schema.SceneCandidate, chunkText map[int]string) string {
	if len(chunkText) == 0 {
		return ""
	}
	var texts []string
	total := 0
	for idx := c.ChunkStart; idx <= c.ChunkEnd; idx++ {
		t := strings.TrimSpace(chunkText[idx])
		if t == "" {
			continue
		}
		t = utils.Truncate(t, excerptPerChunk)
		texts = append(texts, t)
		total += len([]rune(t))
		if total > excerptTotalLimit {
			break
		}
	}
	return strings.Join(texts, " [...] ")
}

// Refine returns exactly req.SceneCount scenes whenever candidates is non-empty.
func (r *Refiner) Refine(ctx context.Context, candidates []schema.SceneCandidate, req Request) ([]schema.Scene, schema.StepReport) {
	report := schema.StepReport{Step: Step}
	if len(candidates) == 0 || req.SceneCount <= 0 {
		return []schema.Scene{}, report
	}
	lang := cmp.Or(strings.ToLower(strings.TrimSpace(req.ManuscriptLang)), "en")

	user, err := json.Marshal(payload{
		SceneCount:     req.SceneCount,
		ManuscriptLang: lang,
		Candidates:     Summarize(candidates, req.ChunkText),
		AnalysisRunID:  req.RunID,
	})
	if err != nil {
		return r.fallbackAll(candidates, req.SceneCount, report, fmt.Errorf("marshal candidates: %w", err))
	}

	r.log.Info("refining scenes", "candidates", len(candidates), "scenes", req.SceneCount, "lang", lang, "run", req.RunID)
	params := inference.Params(0.3, 4096)
	params.ResponseFormat = schema.SceneResponseFormat()
	system := strings.ReplaceAll(systemPrompt, "{scene_count}", fmt.Sprint(req.SceneCount))

	out, err := r.inf.Infer(ctx, params, system, string(user))
	if err != nil {
		return r.fallbackAll(candidates, req.SceneCount, report, err)
	}

	items, err := utils.DecodeItems(out, "scenes")
	if err != nil {
		r.log.Error("failed to parse scene response", "error", err, "raw", utils.Truncate(out, 500))
		return r.fallbackAll(candidates, req.SceneCount, report, err)
	}

	scenes := make([]schema.Scene, 0, req.SceneCount)
	for i, raw := range items {
		if len(scenes) == req.SceneCount {
			break
		}
		var d schema.SceneDraft
		if err := json.Unmarshal(raw, &d); err != nil {
			r.log.Warn("malformed scene item", "index", i, "error", err)
			continue
		}
		scenes = append(scenes, Validate(d, len(scenes), lang))
	}

	if missing := req.SceneCount - len(scenes); missing > 0 {
		r.log.Warn("model returned fewer scenes than requested", "want", req.SceneCount, "got", len(scenes))
		scenes = pad(scenes, candidates, req.SceneCount)
		report.Fallback = true
		report.Detail = fmt.Sprintf("%d of %d scenes built from candidates", missing, req.SceneCount)
	}
	return scenes, report
}

func (r *Refiner) fallbackAll(candidates []schema.SceneCandidate, count int, report schema.StepReport, err error) ([]schema.Scene, schema.StepReport) {
	r.log.Warn("scene refinement failed, using candidate fallback", "error", err)
	report.Fallback = true
	report.Error = err
	return pad(nil, candidates, count), report
}

// Validate normalises one model scene. pos is its zero-based output position.
func Validate(d schema.SceneDraft, pos int, lang string) schema.Scene {
	start := max(int(d.ChunkStartIndex), 0)
	end := int(d.ChunkEndIndex)
	start, end = ClampSpan(start, end)

	intensity := d.VisualIntensity
	if intensity <= 0 {
		intensity = 0.5
	}

	s := schema.Scene{
		Title:                strings.TrimSpace(d.Title),
		SceneType:            strings.ToLower(strings.TrimSpace(d.SceneType)),
		ChunkStartIndex:      start,
		ChunkEndIndex:        end,
		NarrativeSummary:     strings.TrimSpace(d.NarrativeSummary),
		VisualDescription:    strings.TrimSpace(d.VisualDescription),
		CharactersPresent:    utils.DedupeStrings(d.CharactersPresent),
		PrimaryLocation:      strings.TrimSpace(d.PrimaryLocation),
		VisualIntensity:      min(max(intensity, 0), 1),
		IllustrationPriority: strings.ToLower(strings.TrimSpace(d.IllustrationPriority)),
		ScenePromptDraft:     strings.TrimSpace(d.ScenePromptDraft),
	}
	if s.Title == "" {
		s.Title = fmt.Sprintf("Scene %d", pos+1)
	}
	if !slices.Contains(schema.SceneTypes, s.SceneType) {
		s.SceneType = schema.SceneAtmospheric
	}
	switch s.IllustrationPriority {
	case schema.PriorityHigh, schema.PriorityMedium, schema.PriorityLow:
	default:
		s.IllustrationPriority = schema.PriorityMedium
	}
	if s.CharactersPresent == nil {
		s.CharactersPresent = []string{}
	}
	if lang != "en" {
		s.TitleDisplay = strings.TrimSpace(d.TitleDisplay)
		s.NarrativeSummaryDisplay = strings.TrimSpace(d.NarrativeSummaryDisplay)
	}
	return s
}

// ClampSpan moves end so the inclusive span lies in [3, 7].
func ClampSpan(start, end int) (int, int) {
	switch span := end - start + 1; {
	case span < minSpan:
		end = start + minSpan - 1
	case span > maxSpan:
		end = start + maxSpan - 1
	}
	return start, end
}

// Fallback builds a scene straight from a candidate window.
func Fallback(c schema.SceneCandidate, pos int) schema.Scene {
	start, end := ClampSpan(c.ChunkStart, c.ChunkEnd)
	chars := slices.Clone(utils.Head(c.UniqueEntities, 3))
	if chars == nil {
		chars = []string{}
	}
	return schema.Scene{
		Title:                fmt.Sprintf("Scene %d", pos+1),
		SceneType:            schema.SceneAtmospheric,
		ChunkStartIndex:      start,
		ChunkEndIndex:        end,
		CharactersPresent:    chars,
		VisualIntensity:      min(max(c.CompositeScore, 0), 1),
		IllustrationPriority: schema.PriorityMedium,
	}
}

// pad appends fallback scenes until there are count, preferring candidates no
// existing scene already covers, then cycling through all of them in rank order.
func pad(scenes []schema.Scene, candidates []schema.SceneCandidate, count int) []schema.Scene {
	if len(candidates) == 0 {
		return scenes
	}
	var unused []schema.SceneCandidate
	for _, c := range candidates {
		covered := slices.ContainsFunc(scenes, func(s schema.Scene) bool {
			return overlapsRange(c.ChunkStart, c.ChunkEnd, s.ChunkStartIndex, s.ChunkEndIndex, 0.5)
		})
		if !covered {
			unused = append(unused, c)
		}
	}
	for i := 0; len(scenes) < count; i++ {
		var c schema.SceneCandidate
		if i < len(unused) {
			c = unused[i]
		} else {
			c = candidates[(i-len(unused))%len(candidates)]
		}
		scenes = append(scenes, Fallback(c, len(scenes)))
	}
	return scenes
}
