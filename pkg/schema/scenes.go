package schema

const (
	SceneClimax        = "climax"
	SceneConflict      = "conflict"
	SceneTurningPoint  = "turning_point"
	SceneRevelation    = "revelation"
	SceneEmotionalPeak = "emotional_peak"
	SceneAction        = "action"
	SceneAtmospheric   = "atmospheric"
)

var SceneTypes = []string{
	SceneClimax, SceneConflict, SceneTurningPoint, SceneRevelation,
	SceneEmotionalPeak, SceneAction, SceneAtmospheric,
}

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Scene is an illustratable moment spanning 3 to 7 chunks.
type Scene struct {
	ID                      int64             `json:"id,omitempty"`
	Title                   string            `json:"title"`
	TitleDisplay            string            `json:"title_display,omitempty"`
	SceneType               string            `json:"scene_type"`
	ChunkStartIndex         int               `json:"chunk_start_index"`
	ChunkEndIndex           int               `json:"chunk_end_index"`
	NarrativeSummary        string            `json:"narrative_summary"`
	NarrativeSummaryDisplay string            `json:"narrative_summary_display,omitempty"`
	VisualDescription       string            `json:"visual_description"`
	CharactersPresent       []string          `json:"characters_present"`
	PrimaryLocation         string            `json:"primary_location"`
	VisualIntensity         float64           `json:"visual_intensity"`
	IllustrationPriority    string            `json:"illustration_priority"`
	ScenePromptDraft        string            `json:"scene_prompt_draft"`
	SceneVisualTokens       SceneVisualTokens `json:"scene_visual_tokens"`
	T2IPrompt               T2IPrompt         `json:"t2i_prompt_json"`
	IsSelected              bool              `json:"is_selected"`
}

func (s Scene) Span() int {
	return s.ChunkEndIndex - s.ChunkStartIndex + 1
}

type SceneVisualTokens struct {
	CoreTokens        []string `json:"core_tokens" jsonschema_description:"6 key visual elements of the scene"`
	StyleTokens       []string `json:"style_tokens" jsonschema_description:"4 atmosphere, lighting or mood descriptors"`
	CompositionTokens []string `json:"composition_tokens" jsonschema_description:"3 camera angle or framing terms, e.g. wide shot, low angle, close-up"`
	CharacterTokens   []string `json:"character_tokens" jsonschema_description:"Visual markers of the characters present"`
	EnvironmentTokens []string `json:"environment_tokens" jsonschema_description:"Location-specific visual tokens"`
}

// T2IPrompt carries one semantic prompt in three model dialects.
type T2IPrompt struct {
	Abstract string `json:"abstract" jsonschema_description:"Model-agnostic prompt, 60-200 characters: subjects, environment, lighting, mood, composition"`
	Flux     string `json:"flux" jsonschema_description:"FLUX-optimised prompt with trigger words and weight hints"`
	SD       string `json:"sd" jsonschema_description:"Stable Diffusion prompt using () emphasis and a --neg negative hint"`
}
