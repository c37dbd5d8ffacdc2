package ontology

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"inkwell/pkg/inference"
	"inkwell/pkg/schema"
	"inkwell/pkg/utils"
)

const Step = "ontology"

var markerFillers = []string{"detailed", "high contrast", "dramatic lighting"}

var systemPrompt = `You are classifying fictional entities for visual image search.

For each entity, select entity_class from EXACTLY this list:
` + strings.Join(Classes, ", ") + `

Return ONLY valid JSON of the form {"entities": [...]}, one object per input entity:
{
  "name": "entity name",
  "entity_class": "<one value from the list above>",
  "materiality": "organic|mechanical|holographic|energy-based|hybrid|immaterial",
  "power_status": "dominant|subordinate|assistant|childlike|corrupted|neutral",
  "embodiment": "physical|digital_avatar|disembodied|amorphous",
  "visual_markers": ["3 to 6 concrete visual markers"],
  "anti_human_override": true or false,
  "search_archetype": "short visual archetype phrase for non-human, or null"
}

RULES:
- All output must be in ENGLISH: visual_markers and search_archetype feed image search and text-to-image APIs.
- anti_human_override = true for all classes EXCEPT: ` + strings.Join(humanFamily, ", ") + `
- search_archetype is required (non-null) when anti_human_override = true
- visual_markers must be concrete and visual, not abstract (e.g. "glowing red eyes", not "menacing")
- visual_markers must have exactly 3 to 6 items
- Choose the most specific class available
- Output order MUST match input order exactly
- Locations are places or settings: use "construct" for built structures or the most relevant class, and anti_human_override = false`

type parsed struct {
	v  schema.EntityOntology
	ok bool
}

// Classifier assigns every character and location a class from the closed taxonomy.
type Classifier struct {
	inf inference.Inferencer
	log *log.Logger
}

func NewClassifier(inf inference.Inferencer, logger *log.Logger) *Classifier {
	return &Classifier{inf: inf, log: cmp.Or(logger, log.Default())}
}

// Classify returns one ontology per input entity, in input order. The model
// is asked once for the whole batch; any failure degrades to Fallback.
func (c *Classifier) Classify(ctx context.Context, entities []schema.EntityInput) ([]schema.EntityOntology, schema.StepReport) {
	report := schema.StepReport{Step: Step}
	if len(entities) == 0 {
		return []schema.EntityOntology{}, report
	}

	user, err := json.Marshal(entities)
	if err != nil {
		return c.fallbackAll(entities, report, fmt.Errorf("marshal entities: %w", err))
	}

	c.log.Info("classifying entities", "count", len(entities))
	params := inference.Params(0.1, 4096)
	params.ResponseFormat = schema.OntologyResponseFormat()

	out, err := c.inf.Infer(ctx, params, systemPrompt, string(user))
	if err != nil {
		return c.fallbackAll(entities, report, err)
	}

	items, err := utils.DecodeItems(out, "entities")
	if err != nil {
		c.log.Error("failed to parse ontology response", "error", err, "raw", utils.Truncate(out, 500))
		return c.fallbackAll(entities, report, err)
	}

	decoded := make([]parsed, len(items))
	for i, raw := range items {
		if err := json.Unmarshal(raw, &decoded[i].v); err != nil {
			c.log.Warn("malformed ontology item", "index", i, "error", err)
			decoded[i] = parsed{}
			continue
		}
		decoded[i].ok = true
	}

	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}
	aligned := utils.Align(names, decoded, func(p parsed) string { return p.v.Name })

	results := make([]schema.EntityOntology, len(entities))
	misses := 0
	for i, got := range aligned {
		if got == nil || !got.ok {
			results[i] = Fallback(entities[i])
			misses++
			continue
		}
		results[i] = c.normalize(got.v, entities[i])
	}

	if len(items) != len(entities) {
		c.log.Warn("ontology count mismatch", "want", len(entities), "got", len(items))
	}
	if misses > 0 {
		report.Fallback = true
		report.Detail = fmt.Sprintf("%d of %d entities used the fallback ontology", misses, len(entities))
	}
	return results, report
}

func (c *Classifier) fallbackAll(entities []schema.EntityInput, report schema.StepReport, err error) ([]schema.EntityOntology, schema.StepReport) {
	c.log.Warn("ontology classification failed, using fallback", "error", err)
	results := make([]schema.EntityOntology, len(entities))
	for i, e := range entities {
		results[i] = Fallback(e)
	}
	report.Fallback = true
	report.Error = err
	return results, report
}

// normalize enforces the taxonomy rules on one model record.
func (c *Classifier) normalize(o schema.EntityOntology, in schema.EntityInput) schema.EntityOntology {
	o.Name = in.Name
	if !IsValidClass(o.EntityClass) {
		c.log.Warn("unknown entity_class, defaulting to human", "name", in.Name, "entity_class", o.EntityClass)
		o.EntityClass = "human"
	}

	o.AntiHumanOverride = IsNonHuman(o.EntityClass)
	if o.AntiHumanOverride {
		if o.SearchArchetype == nil || strings.TrimSpace(*o.SearchArchetype) == "" {
			a := Archetype(o.EntityClass)
			o.SearchArchetype = &a
		}
	} else if o.SearchArchetype != nil && strings.TrimSpace(*o.SearchArchetype) == "" {
		o.SearchArchetype = nil
	}

	o.VisualMarkers = NormalizeMarkers(o.VisualMarkers)

	fb := Fallback(in)
	o.Materiality = cmp.Or(o.Materiality, materialityFor(o.AntiHumanOverride))
	o.PowerStatus = cmp.Or(o.PowerStatus, fb.PowerStatus)
	o.Embodiment = cmp.Or(o.Embodiment, fb.Embodiment)
	return o
}

// NormalizeMarkers drops blanks, pads to 3 with generic fillers and truncates to 6.
func NormalizeMarkers(markers []string) []string {
	out := make([]string, 0, 6)
	for _, m := range markers {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	for _, f := range markerFillers {
		if len(out) >= 3 {
			break
		}
		out = append(out, f)
	}
	return utils.Head(out, 6)
}

// Fallback derives a safe ontology from the declared visual type alone.
func Fallback(in schema.EntityInput) schema.EntityOntology {
	class := "human"
	switch strings.ToLower(strings.TrimSpace(in.VisualType)) {
	case "ai", "robot", "android":
		class = "robot"
	case "alien", "creature":
		class = "alien"
	}
	override := IsNonHuman(class)

	o := schema.EntityOntology{
		Name:              in.Name,
		EntityClass:       class,
		Materiality:       materialityFor(override),
		PowerStatus:       "neutral",
		Embodiment:        "physical",
		VisualMarkers:     []string{"detailed figure", "dramatic lighting", "high contrast"},
		AntiHumanOverride: override,
	}
	if override {
		a := Archetype(class)
		o.SearchArchetype = &a
	}
	return o
}

func materialityFor(override bool) string {
	if override {
		return "mechanical"
	}
	return "organic"
}
