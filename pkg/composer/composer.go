package composer

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"inkwell/pkg/inference"
	"inkwell/pkg/ontology"
	"inkwell/pkg/schema"
	"inkwell/pkg/utils"
)

const Step = "scene_compose"

const (
	minAbstract  = 50
	maxPrompt    = 400
	maxFraming   = 3
	fluxSuffix   = ", high detail, 8k, cinematic"
	sdNegative   = "blurry, low quality, watermark, text, duplicate, cropped"
	abstractFill = "detailed cinematic illustration, dramatic lighting"
)

// FramingTerms are the recognised camera framing terms, lower case.
var FramingTerms = []string{
	"wide shot", "close-up", "medium shot", "establishing shot",
	"over-the-shoulder", "low angle", "bird's eye view", "dutch angle",
	"tracking shot", "wide angle", "panoramic",
}

var systemPrompt = `You are building visual composition tokens and text-to-image (T2I) prompts for book illustration scenes.

LANGUAGE: all output must be in ENGLISH (scene_visual_tokens and every t2i_prompt_json field).

You receive a JSON array of scenes, each with scene_id, title, visual_description, scene_prompt_draft,
characters_present, primary_location, scene_type and character_ontologies (entity_class,
anti_human_override, visual_markers).

For EACH scene return, in input order, inside {"scenes": [...]}:
{
  "scene_id": <same as input scene_id>,
  "scene_visual_tokens": {
    "core_tokens": ["6 key visual elements of the scene"],
    "style_tokens": ["4 atmosphere, lighting or mood descriptors"],
    "composition_tokens": ["3 camera angle or framing terms"],
    "character_tokens": ["visual markers of the characters present"],
    "environment_tokens": ["location-specific visual tokens"]
  },
  "t2i_prompt_json": {
    "abstract": "model-agnostic prompt, 60-200 characters: subjects, environment, lighting, mood, composition",
    "flux": "FLUX-optimised: trigger words, emphasis syntax, weight hints",
    "sd": "SD-optimised: emphasis via (), negative prompt hint in --neg format"
  }
}

CRITICAL RULES:
- composition_tokens MUST contain at least one of: ` + strings.Join(FramingTerms, ", ") + `
- When a character has anti_human_override=true its character_tokens must reflect its NON-HUMAN nature
  (use visual_markers and entity_class, never person, man, woman, portrait, face or human)
- abstract must be at least 50 characters and visually specific
- Output order MUST match input order exactly`

type characterView struct {
	Name              string   `json:"name"`
	EntityClass       string   `json:"entity_class"`
	AntiHumanOverride bool     `json:"anti_human_override"`
	VisualMarkers     []string `json:"visual_markers"`
	SearchArchetype   *string  `json:"search_archetype"`
}

type sceneView struct {
	SceneID             int             `json:"scene_id"`
	Title               string          `json:"title"`
	VisualDescription   string          `json:"visual_description"`
	ScenePromptDraft    string          `json:"scene_prompt_draft"`
	CharactersPresent   []string        `json:"characters_present"`
	PrimaryLocation     string          `json:"primary_location"`
	SceneType           string          `json:"scene_type"`
	CharacterOntologies []characterView `json:"character_ontologies"`
	StyleCategory       string          `json:"style_category"`
}

// Composer adds visual tokens and T2I prompts to refined scenes.
type Composer struct {
	inf inference.Inferencer
	log *log.Logger
}

func New(inf inference.Inferencer, logger *log.Logger) *Composer {
	return &Composer{inf: inf, log: cmp.Or(logger, log.Default())}
}

// Compose returns a copy of scenes with scene_visual_tokens and t2i_prompt_json
// filled. It never fails; model problems degrade to the deterministic builders.
func (c *Composer) Compose(ctx context.Context, scenes []schema.Scene, characters []schema.EntityOntology, style string) ([]schema.Scene, schema.StepReport) {
	report := schema.StepReport{Step: Step}
	if len(scenes) == 0 {
		return []schema.Scene{}, report
	}
	style = cmp.Or(strings.TrimSpace(style), "fiction")

	views := make([]sceneView, len(scenes))
	for i, s := range scenes {
		views[i] = sceneView{
			SceneID:             i + 1,
			Title:               s.Title,
			VisualDescription:   utils.Truncate(s.VisualDescription, 500),
			ScenePromptDraft:    utils.Truncate(s.ScenePromptDraft, 300),
			CharactersPresent:   s.CharactersPresent,
			PrimaryLocation:     s.PrimaryLocation,
			SceneType:           cmp.Or(s.SceneType, schema.SceneAtmospheric),
			CharacterOntologies: relevantViews(s, characters),
			StyleCategory:       style,
		}
	}

	user, err := json.Marshal(views)
	if err != nil {
		return c.fallbackAll(scenes, characters, style, report, fmt.Errorf("marshal scenes: %w", err))
	}

	c.log.Info("composing scenes", "count", len(scenes), "style", style)
	params := inference.Params(0.3, 6000)
	params.ResponseFormat = schema.CompositionResponseFormat()

	out, err := c.inf.Infer(ctx, params, systemPrompt, string(user))
	if err != nil {
		return c.fallbackAll(scenes, characters, style, report, err)
	}

	items, err := utils.DecodeItems(out, "scenes")
	if err != nil {
		c.log.Error("failed to parse composition response", "error", err, "raw", utils.Truncate(out, 500))
		return c.fallbackAll(scenes, characters, style, report, err)
	}

	byID := make(map[int]schema.Composition, len(items))
	byPos := make([]*schema.Composition, len(items))
	for i, raw := range items {
		var comp schema.Composition
		if err := json.Unmarshal(raw, &comp); err != nil {
			c.log.Warn("malformed composition item", "index", i, "error", err)
			continue
		}
		byPos[i] = &comp
		if id := int(comp.SceneID); id > 0 {
			if _, dup := byID[id]; !dup {
				byID[id] = comp
			}
		}
	}

	results := make([]schema.Scene, len(scenes))
	misses := 0
	for i, s := range scenes {
		comp, ok := byID[i+1]
		if !ok && len(byID) == 0 && i < len(byPos) && byPos[i] != nil {
			comp, ok = *byPos[i], true
		}
		if !ok {
			results[i] = Fallback(s, characters, style)
			misses++
			continue
		}
		results[i] = c.apply(s, comp, characters, style)
	}

	if misses > 0 {
		report.Fallback = true
		report.Detail = fmt.Sprintf("%d of %d scenes used fallback composition", misses, len(scenes))
	}
	return results, report
}

func (c *Composer) fallbackAll(scenes []schema.Scene, characters []schema.EntityOntology, style string, report schema.StepReport, err error) ([]schema.Scene, schema.StepReport) {
	c.log.Warn("scene composition failed, using fallback", "error", err)
	results := make([]schema.Scene, len(scenes))
	for i, s := range scenes {
		results[i] = Fallback(s, characters, style)
	}
	report.Fallback = true
	report.Error = err
	return results, report
}

func (c *Composer) apply(s schema.Scene, comp schema.Composition, characters []schema.EntityOntology, style string) schema.Scene {
	svt := comp.SceneVisualTokens
	svt.CoreTokens = orEmpty(utils.DedupeStrings(svt.CoreTokens))
	svt.StyleTokens = orEmpty(utils.DedupeStrings(svt.StyleTokens))
	svt.EnvironmentTokens = orEmpty(utils.DedupeStrings(svt.EnvironmentTokens))
	svt.CompositionTokens = EnsureFraming(svt.CompositionTokens)
	svt.CharacterTokens = scrubCharacters(utils.DedupeStrings(svt.CharacterTokens), relevant(s, characters))

	t2i := comp.T2IPrompt
	if len([]rune(strings.TrimSpace(t2i.Abstract))) < minAbstract {
		t2i = BuildPrompts(s, svt, style)
	} else {
		t2i.Abstract = utils.Truncate(strings.TrimSpace(t2i.Abstract), maxPrompt)
		t2i.Flux = cmp.Or(fits(t2i.Flux), flux(t2i.Abstract))
		t2i.SD = cmp.Or(fits(t2i.SD), sd(t2i.Abstract))
	}

	s.SceneVisualTokens = svt
	s.T2IPrompt = t2i
	return s
}

// EnsureFraming guarantees at least one framing term, capped at three tokens.
func EnsureFraming(tokens []string) []string {
	tokens = utils.DedupeStrings(tokens)
	switch i := slices.IndexFunc(tokens, IsFraming); {
	case i == -1:
		tokens = append([]string{"wide shot"}, tokens...)
	case i >= maxFraming:
		t := tokens[i]
		tokens = slices.Insert(slices.Delete(tokens, i, i+1), 0, t)
	}
	return utils.Head(tokens, maxFraming)
}

func IsFraming(token string) bool {
	return slices.Contains(FramingTerms, strings.ToLower(strings.TrimSpace(token)))
}

// scrubCharacters removes human terms when any present character is
// non-human and adds each non-human character's own markers.
func scrubCharacters(tokens []string, present []schema.EntityOntology) []string {
	var nonHuman []schema.EntityOntology
	for _, o := range present {
		if o.AntiHumanOverride {
			nonHuman = append(nonHuman, o)
		}
	}
	if len(nonHuman) == 0 {
		return orEmpty(tokens)
	}

	kept := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !ontology.ContainsHumanTerm(t) {
			kept = append(kept, t)
		}
	}
	for _, o := range nonHuman {
		kept = append(kept, markersFor(o)...)
	}
	return orEmpty(utils.DedupeStrings(kept))
}

func markersFor(o schema.EntityOntology) []string {
	var out []string
	for _, m := range utils.Head(o.VisualMarkers, 2) {
		if !ontology.ContainsHumanTerm(m) {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		out = append(out, ontology.Archetype(o.EntityClass))
	}
	return out
}

// Fallback builds tokens and prompts for a scene without the model.
func Fallback(s schema.Scene, characters []schema.EntityOntology, style string) schema.Scene {
	style = cmp.Or(strings.TrimSpace(style), "fiction")
	sceneType := cmp.Or(s.SceneType, schema.SceneAtmospheric)

	rel := relevant(s, characters)
	var charTokens []string
	for _, o := range rel {
		if o.AntiHumanOverride {
			charTokens = append(charTokens, markersFor(o)...)
		} else {
			charTokens = append(charTokens, utils.Head(o.VisualMarkers, 2)...)
		}
	}
	charTokens = utils.Head(scrubCharacters(utils.DedupeStrings(charTokens), rel), 4)
	if len(charTokens) == 0 {
		charTokens = []string{"figure", "silhouette"}
	}

	svt := schema.SceneVisualTokens{
		CoreTokens:        []string{sceneType, style, "dramatic", "detailed", "cinematic", "high contrast"},
		StyleTokens:       []string{"cinematic lighting", "dramatic atmosphere", "high detail", "moody"},
		CompositionTokens: []string{"wide shot", "establishing shot", "medium shot"},
		CharacterTokens:   charTokens,
		EnvironmentTokens: []string{cmp.Or(s.PrimaryLocation, "environment"), "atmospheric", "detailed"},
	}
	s.SceneVisualTokens = svt
	s.T2IPrompt = BuildPrompts(s, svt, style)
	return s
}

// BuildPrompts derives all three prompt dialects from the scene data. The
// abstract is the prompt draft when long enough, otherwise it is assembled
// from the title, type, location, tokens and style.
func BuildPrompts(s schema.Scene, svt schema.SceneVisualTokens, style string) schema.T2IPrompt {
	var abstract string
	if draft := strings.TrimSpace(s.ScenePromptDraft); len([]rune(draft)) >= minAbstract {
		abstract = utils.Truncate(draft, 300)
	} else {
		parts := []string{s.Title, cmp.Or(s.SceneType, schema.SceneAtmospheric) + " scene"}
		if s.PrimaryLocation != "" {
			parts = append(parts, "in "+s.PrimaryLocation)
		}
		if core := utils.Head(svt.CoreTokens, 4); len(core) > 0 {
			parts = append(parts, strings.Join(core, ", "))
		}
		if len(svt.CompositionTokens) > 0 {
			parts = append(parts, svt.CompositionTokens[0])
		}
		parts = append(parts, style)
		abstract = strings.Join(slices.DeleteFunc(parts, func(p string) bool { return strings.TrimSpace(p) == "" }), ", ")
	}
	if len([]rune(abstract)) < minAbstract {
		abstract += ", " + abstractFill
	}

	return schema.T2IPrompt{
		Abstract: utils.Truncate(abstract, maxPrompt),
		Flux:     flux(abstract),
		SD:       sd(abstract),
	}
}

const (
	sdOpen  = "("
	sdClose = ":1.2), masterpiece, best quality --neg " + sdNegative
)

// fits keeps a model-written dialect prompt only when it is within the cap.
// Cutting it would drop its suffix, so an overlong one is rebuilt instead.
func fits(p string) string {
	p = strings.TrimSpace(p)
	if len([]rune(p)) > maxPrompt {
		return ""
	}
	return p
}

// flux and sd shorten the abstract so the wrapped prompt stays within
// maxPrompt with its suffix intact.
func flux(abstract string) string {
	return clip(abstract, maxPrompt-len([]rune(fluxSuffix))) + fluxSuffix
}

func sd(abstract string) string {
	return sdOpen + clip(abstract, maxPrompt-len([]rune(sdOpen+sdClose))) + sdClose
}

func clip(s string, n int) string {
	return strings.TrimRight(utils.Truncate(strings.TrimSpace(s), n), " ,")
}

func relevant(s schema.Scene, characters []schema.EntityOntology) []schema.EntityOntology {
	var out []schema.EntityOntology
	for _, o := range characters {
		if utils.ContainsFold(s.CharactersPresent, o.Name) {
			out = append(out, o)
		}
	}
	return out
}

func relevantViews(s schema.Scene, characters []schema.EntityOntology) []characterView {
	rel := relevant(s, characters)
	out := make([]characterView, len(rel))
	for i, o := range rel {
		out[i] = characterView{
			Name:              o.Name,
			EntityClass:       cmp.Or(o.EntityClass, "human"),
			AntiHumanOverride: o.AntiHumanOverride,
			VisualMarkers:     utils.Head(o.VisualMarkers, 4),
			SearchArchetype:   o.SearchArchetype,
		}
	}
	return out
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
