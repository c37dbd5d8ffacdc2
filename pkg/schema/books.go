package schema

import "time"

const (
	StatusUploaded  = "uploaded"
	StatusAnalyzing = "analyzing"
	StatusAnalyzed  = "analyzed"
	StatusError     = "error"
)

type Book struct {
	ID               int64     `json:"id"`
	Title            string    `json:"title"`
	Author           string    `json:"author,omitempty"`
	Text             string    `json:"-"`
	StyleCategory    string    `json:"style_category"`
	ManuscriptLang   string    `json:"manuscript_lang"`
	IsWellKnown      bool      `json:"is_well_known"`
	KnownAdaptations []string  `json:"known_adaptations,omitempty"`
	Status           string    `json:"status"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// EngineRating is the per-book like/dislike counter for one search provider.
type EngineRating struct {
	BookID   int64  `json:"book_id"`
	Provider string `json:"provider"`
	Likes    int    `json:"likes"`
	Dislikes int    `json:"dislikes"`
}

func (r EngineRating) NetScore() int {
	return r.Likes - r.Dislikes
}

// ImageResult is the normalised shape every image provider returns.
type ImageResult struct {
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Credit    string `json:"credit"`
	License   string `json:"license"`
	Provider  string `json:"provider"`
}

type ReferenceImage struct {
	ID         int64     `json:"id"`
	BookID     int64     `json:"book_id"`
	EntityType string    `json:"entity_type"`
	EntityID   int64     `json:"entity_id"`
	URL        string    `json:"url"`
	Thumbnail  string    `json:"thumbnail"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	Source     string    `json:"source"`
	IsSelected bool      `json:"is_selected"`
	CreatedAt  time.Time `json:"created_at"`
}
