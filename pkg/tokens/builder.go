package tokens

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"inkwell/pkg/inference"
	"inkwell/pkg/ontology"
	"inkwell/pkg/schema"
	"inkwell/pkg/utils"
)

const Step = "entity_tokens"

const (
	maxCore      = 6
	maxStyle     = 4
	maxArchetype = 3
	maxAnti      = 3
)

var nonHumanAnti = []string{"human portrait", "person", "face"}

// Input is one entity as seen by the token builder.
type Input struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	EntityClass       string   `json:"entity_class"`
	AntiHumanOverride bool     `json:"anti_human_override"`
	VisualMarkers     []string `json:"visual_markers"`
	SearchArchetype   *string  `json:"search_archetype"`
}

// InputFrom joins a classified ontology with the entity description.
func InputFrom(o schema.EntityOntology, description string) Input {
	return Input{
		Name:              o.Name,
		Description:       description,
		EntityClass:       o.EntityClass,
		AntiHumanOverride: o.AntiHumanOverride,
		VisualMarkers:     o.VisualMarkers,
		SearchArchetype:   o.SearchArchetype,
	}
}

const systemPrompt = `You build image-search tokens for fictional characters and locations.

For each input entity return one object, in input order, inside {"entities": [...]}:
{
  "name": "entity name exactly as given",
  "core_tokens": ["up to 6 concrete visual search terms"],
  "style_tokens": ["up to 4 lighting, mood or art-style terms"],
  "archetype_tokens": ["up to 3 archetype phrases"],
  "anti_tokens": ["up to 3 terms the search must avoid"]
}

RULES:
- Every token must be in ENGLISH, whatever the language of the description.
- When anti_human_override is true: never use portrait, person, man, woman, face or human in core_tokens;
  archetype_tokens must not be empty; anti_tokens lists the human imagery to avoid.
- When anti_human_override is false: archetype_tokens and anti_tokens are empty arrays.
- Prefer short noun phrases a stock photo or art site would index.`

// Builder converts ontology records into structured search tokens.
type Builder struct {
	inf inference.Inferencer
	log *log.Logger
}

func NewBuilder(inf inference.Inferencer, logger *log.Logger) *Builder {
	return &Builder{inf: inf, log: cmp.Or(logger, log.Default())}
}

type parsed struct {
	v  schema.EntityVisualTokens
	ok bool
}

// Build returns one token record per input, in input order.
func (b *Builder) Build(ctx context.Context, inputs []Input) ([]schema.EntityVisualTokens, schema.StepReport) {
	report := schema.StepReport{Step: Step}
	if len(inputs) == 0 {
		return []schema.EntityVisualTokens{}, report
	}

	user, err := json.Marshal(inputs)
	if err != nil {
		return b.fallbackAll(inputs, report, fmt.Errorf("marshal token inputs: %w", err))
	}

	b.log.Info("building entity tokens", "count", len(inputs))
	params := inference.Params(0.2, 4096)
	params.ResponseFormat = schema.TokenResponseFormat()

	out, err := b.inf.Infer(ctx, params, systemPrompt, string(user))
	if err != nil {
		return b.fallbackAll(inputs, report, err)
	}

	items, err := utils.DecodeItems(out, "entities")
	if err != nil {
		b.log.Error("failed to parse token response", "error", err, "raw", utils.Truncate(out, 500))
		return b.fallbackAll(inputs, report, err)
	}

	decoded := make([]parsed, len(items))
	for i, raw := range items {
		if err := json.Unmarshal(raw, &decoded[i].v); err != nil {
			b.log.Warn("malformed token item", "index", i, "error", err)
			decoded[i] = parsed{}
			continue
		}
		decoded[i].ok = true
	}

	names := make([]string, len(inputs))
	for i, in := range inputs {
		names[i] = in.Name
	}
	aligned := utils.Align(names, decoded, func(p parsed) string { return p.v.Name })

	results := make([]schema.EntityVisualTokens, len(inputs))
	misses := 0
	for i, got := range aligned {
		if got == nil || !got.ok {
			results[i] = Fallback(inputs[i])
			misses++
			continue
		}
		results[i] = Validate(got.v, inputs[i])
	}

	if misses > 0 {
		report.Fallback = true
		report.Detail = fmt.Sprintf("%d of %d entities used fallback tokens", misses, len(inputs))
	}
	return results, report
}

func (b *Builder) fallbackAll(inputs []Input, report schema.StepReport, err error) ([]schema.EntityVisualTokens, schema.StepReport) {
	b.log.Warn("entity token build failed, using fallback", "error", err)
	results := make([]schema.EntityVisualTokens, len(inputs))
	for i, in := range inputs {
		results[i] = Fallback(in)
	}
	report.Fallback = true
	report.Error = err
	return results, report
}

// Validate applies the non-human exclusion rules and size limits to a model record.
func Validate(t schema.EntityVisualTokens, in Input) schema.EntityVisualTokens {
	t.Name = in.Name
	t.CoreTokens = utils.DedupeStrings(t.CoreTokens)
	t.StyleTokens = utils.Head(utils.DedupeStrings(t.StyleTokens), maxStyle)
	archetype := utils.DedupeStrings(t.ArchetypeTokens)

	if !in.AntiHumanOverride {
		t.CoreTokens = utils.Head(t.CoreTokens, maxCore)
		t.ArchetypeTokens = []string{}
		t.AntiTokens = []string{}
		return ensureSlices(t)
	}

	archetype = stripHuman(archetype)
	if len(archetype) == 0 {
		archetype = []string{archetypeOf(in)}
	}
	t.ArchetypeTokens = utils.Head(archetype, maxArchetype)

	core := stripHuman(t.CoreTokens)
	for _, a := range archetype {
		if len(core) >= maxCore {
			break
		}
		if !utils.ContainsFold(core, a) {
			core = append(core, a)
		}
	}
	t.CoreTokens = utils.Head(core, maxCore)

	anti := utils.DedupeStrings(t.AntiTokens)
	if len(anti) == 0 {
		anti = append([]string(nil), nonHumanAnti...)
	}
	t.AntiTokens = utils.Head(anti, maxAnti)
	return ensureSlices(t)
}

// Fallback builds tokens from the visual markers and class without the model.
func Fallback(in Input) schema.EntityVisualTokens {
	markers := utils.Head(utils.DedupeStrings(in.VisualMarkers), 3)
	t := schema.EntityVisualTokens{
		Name:        in.Name,
		StyleTokens: []string{"cinematic lighting", "high detail"},
	}

	if !in.AntiHumanOverride {
		t.CoreTokens = fill(markers, "figure", "detailed", "cinematic")
		t.ArchetypeTokens = []string{}
		t.AntiTokens = []string{}
		return t
	}

	t.CoreTokens = fill(stripHuman(markers), classArchetype(in.EntityClass), "detailed", "dramatic lighting")
	t.ArchetypeTokens = []string{archetypeOf(in)}
	t.AntiTokens = append([]string(nil), nonHumanAnti...)
	return t
}

func archetypeOf(in Input) string {
	if in.SearchArchetype != nil {
		if a := strings.TrimSpace(*in.SearchArchetype); a != "" && !ontology.ContainsHumanTerm(a) {
			return a
		}
	}
	return classArchetype(in.EntityClass)
}

// classArchetype is the readable class name, or "creature" when that name
// is itself a human term such as "human enhanced".
func classArchetype(class string) string {
	a := ontology.Archetype(cmp.Or(class, "creature"))
	if ontology.ContainsHumanTerm(a) {
		return "creature"
	}
	return a
}

func fill(base []string, fillers ...string) []string {
	out := append([]string(nil), base...)
	for _, f := range fillers {
		if !utils.ContainsFold(out, f) {
			out = append(out, f)
		}
	}
	return utils.Head(out, maxCore)
}

func stripHuman(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !ontology.ContainsHumanTerm(v) {
			out = append(out, v)
		}
	}
	return out
}

func ensureSlices(t schema.EntityVisualTokens) schema.EntityVisualTokens {
	if t.CoreTokens == nil {
		t.CoreTokens = []string{}
	}
	if t.StyleTokens == nil {
		t.StyleTokens = []string{}
	}
	if t.ArchetypeTokens == nil {
		t.ArchetypeTokens = []string{}
	}
	if t.AntiTokens == nil {
		t.AntiTokens = []string{}
	}
	return t
}
