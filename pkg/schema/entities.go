package schema

const (
	EntityCharacter = "character"
	EntityLocation  = "location"
)

// EntityInput is what the ontology classifier receives per character or location.
type EntityInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	VisualType  string `json:"visual_type,omitempty"`
	EntityRole  string `json:"entity_role,omitempty"`
}

type EntityOntology struct {
	Name              string   `json:"name" jsonschema_description:"Entity name exactly as given in the input"`
	EntityClass       string   `json:"entity_class" jsonschema_description:"One value from the closed entity class list"`
	Materiality       string   `json:"materiality" jsonschema_description:"organic|mechanical|holographic|energy-based|hybrid|immaterial"`
	PowerStatus       string   `json:"power_status" jsonschema_description:"dominant|subordinate|assistant|childlike|corrupted|neutral"`
	Embodiment        string   `json:"embodiment" jsonschema_description:"physical|digital_avatar|disembodied|amorphous"`
	VisualMarkers     []string `json:"visual_markers" jsonschema_description:"3 to 6 concrete visual markers in English"`
	AntiHumanOverride bool     `json:"anti_human_override" jsonschema_description:"True for every class outside the human family"`
	SearchArchetype   *string  `json:"search_archetype" jsonschema_description:"Short visual archetype phrase for non-human entities, otherwise null"`
}

type EntityVisualTokens struct {
	Name            string   `json:"name" jsonschema_description:"Entity name exactly as given in the input"`
	CoreTokens      []string `json:"core_tokens" jsonschema_description:"Up to 6 English search tokens describing the entity"`
	StyleTokens     []string `json:"style_tokens" jsonschema_description:"Up to 4 style, lighting or mood tokens"`
	ArchetypeTokens []string `json:"archetype_tokens" jsonschema_description:"Up to 3 archetype phrases, only for non-human entities"`
	AntiTokens      []string `json:"anti_tokens" jsonschema_description:"Up to 3 terms to exclude from search, only for non-human entities"`
}

// Entity is a persisted character or location with its derived visual data.
type Entity struct {
	ID          int64               `json:"id"`
	BookID      int64               `json:"book_id"`
	Type        string              `json:"entity_type"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	VisualType  string              `json:"visual_type,omitempty"`
	Role        string              `json:"role,omitempty"`
	IsMain      bool                `json:"is_main"`
	Ontology    *EntityOntology     `json:"ontology,omitempty"`
	Tokens      *EntityVisualTokens `json:"tokens,omitempty"`
}

// Input converts the record into classifier input.
func (e Entity) Input() EntityInput {
	return EntityInput{
		Name:        e.Name,
		Description: e.Description,
		VisualType:  e.VisualType,
		EntityRole:  e.Role,
	}
}
