package schema

import (
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
)

// OntologyBatch is the classifier response envelope.
type OntologyBatch struct {
	Entities []EntityOntology `json:"entities" jsonschema_description:"One ontology record per input entity, in input order"`
}

// TokenBatch is the entity token builder response envelope.
type TokenBatch struct {
	Entities []EntityVisualTokens `json:"entities" jsonschema_description:"One token record per input entity, in input order"`
}

// SceneDraft is a refined scene as the model returns it. Indices are floats
// because models occasionally emit 3.0 for 3.
type SceneDraft struct {
	SceneID                 float64  `json:"scene_id"`
	Title                   string   `json:"title" jsonschema_description:"5-7 word evocative title in English"`
	TitleDisplay            string   `json:"title_display,omitempty" jsonschema_description:"Same title in the manuscript language; omit for English manuscripts"`
	SceneType               string   `json:"scene_type" jsonschema:"enum=climax,enum=conflict,enum=turning_point,enum=revelation,enum=emotional_peak,enum=action,enum=atmospheric"`
	ChunkStartIndex         float64  `json:"chunk_start_index"`
	ChunkEndIndex           float64  `json:"chunk_end_index"`
	NarrativeSummary        string   `json:"narrative_summary" jsonschema_description:"2-3 sentences in English: what happens and why it matters"`
	NarrativeSummaryDisplay string   `json:"narrative_summary_display,omitempty" jsonschema_description:"Same summary in the manuscript language; omit for English manuscripts"`
	VisualDescription       string   `json:"visual_description" jsonschema_description:"English description of the key visual moment: foreground, background, positions, lighting, mood"`
	CharactersPresent       []string `json:"characters_present"`
	PrimaryLocation         string   `json:"primary_location"`
	VisualIntensity         float64  `json:"visual_intensity"`
	IllustrationPriority    string   `json:"illustration_priority" jsonschema:"enum=high,enum=medium,enum=low"`
	ScenePromptDraft        string   `json:"scene_prompt_draft" jsonschema_description:"Text-to-image ready prompt in English"`
}

type SceneBatch struct {
	Scenes []SceneDraft `json:"scenes"`
}

// Composition is the composer output for one scene.
type Composition struct {
	SceneID           float64           `json:"scene_id"`
	SceneVisualTokens SceneVisualTokens `json:"scene_visual_tokens"`
	T2IPrompt         T2IPrompt         `json:"t2i_prompt_json"`
}

type CompositionBatch struct {
	Scenes []Composition `json:"scenes" jsonschema_description:"One composition per input scene, in input order"`
}

type ExtractedCharacter struct {
	Name                string   `json:"name"`
	PhysicalDescription string   `json:"physical_description" jsonschema_description:"Age, height, build, hair, eyes, skin, clothing"`
	Personality         string   `json:"personality"`
	Emotions            []string `json:"emotions"`
	VisualType          string   `json:"visual_type,omitempty" jsonschema_description:"human, AI, robot, android, alien, creature or other"`
}

type ExtractedLocation struct {
	Name              string `json:"name"`
	VisualDescription string `json:"visual_description" jsonschema_description:"Architecture, colors, lighting, weather"`
	Atmosphere        string `json:"atmosphere"`
}

type ChunkAnalysisDraft struct {
	ChunkIndex        float64  `json:"chunk_index"`
	DramaticMoment    string   `json:"dramatic_moment" jsonschema_description:"The most dramatic or visual moment in the chunk"`
	DramaticScore     float64  `json:"dramatic_score" jsonschema_description:"0.0 to 1.0, how visually interesting the chunk is"`
	VisualDensity     string   `json:"visual_density" jsonschema:"enum=low,enum=medium,enum=high"`
	NarrativePosition string   `json:"narrative_position" jsonschema:"enum=opening_hook,enum=inciting_incident,enum=rising_action,enum=midpoint,enum=climax,enum=resolution"`
	CharactersPresent []string `json:"characters_present"`
	LocationsPresent  []string `json:"locations_present"`
}

type ChunkBatchResult struct {
	Characters    []ExtractedCharacter `json:"characters"`
	Locations     []ExtractedLocation  `json:"locations"`
	ChunkAnalyses []ChunkAnalysisDraft `json:"chunk_analyses"`
}

type ToneAndStyle struct {
	Genre       string `json:"genre"`
	Mood        string `json:"mood"`
	VisualStyle string `json:"visual_style"`
}

type Consolidation struct {
	MainCharacters []ExtractedCharacter `json:"main_characters" jsonschema_description:"Top 5 main characters with merged profiles"`
	MainLocations  []ExtractedLocation  `json:"main_locations" jsonschema_description:"Top 5 main locations with merged descriptions"`
	ToneAndStyle   ToneAndStyle         `json:"tone_and_style"`
}

func generateSchema[T any]() any {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return r.Reflect(v)
}

var (
	ontologySchema      = generateSchema[OntologyBatch]()
	tokenSchema         = generateSchema[TokenBatch]()
	sceneSchema         = generateSchema[SceneBatch]()
	compositionSchema   = generateSchema[CompositionBatch]()
	chunkBatchSchema    = generateSchema[ChunkBatchResult]()
	consolidationSchema = generateSchema[Consolidation]()
)

func responseFormat(name, description string, schema any) openai.ChatCompletionNewParamsResponseFormatUnion {
	p := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        name,
		Description: openai.String(description),
		Schema:      schema,
		Strict:      openai.Bool(false),
	}
	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: p},
	}
}

func OntologyResponseFormat() openai.ChatCompletionNewParamsResponseFormatUnion {
	return responseFormat("entity_ontology", "Closed-taxonomy classification of fictional entities", ontologySchema)
}

func TokenResponseFormat() openai.ChatCompletionNewParamsResponseFormatUnion {
	return responseFormat("entity_visual_tokens", "English image-search tokens per entity", tokenSchema)
}

func SceneResponseFormat() openai.ChatCompletionNewParamsResponseFormatUnion {
	return responseFormat("scenes", "Scenes selected and refined from candidate windows", sceneSchema)
}

func CompositionResponseFormat() openai.ChatCompletionNewParamsResponseFormatUnion {
	return responseFormat("scene_composition", "Visual tokens and text-to-image prompts per scene", compositionSchema)
}

func ChunkBatchResponseFormat() openai.ChatCompletionNewParamsResponseFormatUnion {
	return responseFormat("chunk_analysis", "Characters, locations and per-chunk narrative signals", chunkBatchSchema)
}

func ConsolidationResponseFormat() openai.ChatCompletionNewParamsResponseFormatUnion {
	return responseFormat("consolidation", "Main characters, main locations and overall tone", consolidationSchema)
}
