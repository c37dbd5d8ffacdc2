package schema

import "encoding/json"

const (
	DensityLow    = "low"
	DensityMedium = "medium"
	DensityHigh   = "high"
)

const (
	PositionOpeningHook      = "opening_hook"
	PositionIncitingIncident = "inciting_incident"
	PositionRisingAction     = "rising_action"
	PositionMidpoint         = "midpoint"
	PositionClimax           = "climax"
	PositionResolution       = "resolution"
)

// Chunk is one slice of manuscript text, indexed from zero in reading order.
type Chunk struct {
	Index int    `json:"chunk_index"`
	Text  string `json:"text"`
}

// ChunkAnalysis holds the per-chunk narrative signals consumed by scene extraction.
type ChunkAnalysis struct {
	ChunkIndex        int               `json:"chunk_index"`
	DramaticScore     float64           `json:"dramatic_score"`
	VisualDensity     string            `json:"visual_density"`
	NarrativePosition string            `json:"narrative_position"`
	CharactersPresent []string          `json:"characters_present"`
	LocationsPresent  []string          `json:"locations_present"`
	VisualLayers      map[string]string `json:"visual_layers,omitempty"`
	VisualMoment      string            `json:"visual_moment,omitempty"`
}

// UnmarshalJSON also accepts dramatic_moment as the visual moment.
func (c *ChunkAnalysis) UnmarshalJSON(data []byte) error {
	type plain ChunkAnalysis
	var aux struct {
		plain
		DramaticMoment string `json:"dramatic_moment"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = ChunkAnalysis(aux.plain)
	if c.VisualMoment == "" {
		c.VisualMoment = aux.DramaticMoment
	}
	return nil
}

// SceneCandidate is a scored window of consecutive chunks produced by the
// deterministic pass. It is never persisted.
type SceneCandidate struct {
	ChunkStart     int             `json:"chunk_start"`
	ChunkEnd       int             `json:"chunk_end"`
	CompositeScore float64         `json:"composite_score"`
	AvgDramatic    float64         `json:"avg_dramatic"`
	AvgDensity     float64         `json:"avg_density"`
	UniqueEntities []string        `json:"unique_entities"`
	SampleChunks   []ChunkAnalysis `json:"-"`
}

// Span is the inclusive number of chunks covered by the window.
func (c SceneCandidate) Span() int {
	return c.ChunkEnd - c.ChunkStart + 1
}
