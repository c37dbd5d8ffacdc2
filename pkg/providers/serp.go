package providers

import (
	"cmp"
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"inkwell/pkg/schema"
)

const serpBaseURL = "https://serpapi.com"

type serpImages struct {
	ImagesResults []struct {
		Original       string `json:"original"`
		Thumbnail      string `json:"thumbnail"`
		OriginalWidth  int    `json:"original_width"`
		OriginalHeight int    `json:"original_height"`
		Source         string `json:"source"`
	} `json:"images_results"`
}

// googleImages runs a SerpAPI google_images search on behalf of provider.
func (c *client) googleImages(ctx context.Context, query string, count int, credit, license string) ([]schema.ImageResult, error) {
	var resp serpImages
	params := url.Values{
		"engine":  {"google_images"},
		"q":       {query},
		"api_key": {c.key},
		"safe":    {"active"},
		"num":     {strconv.Itoa(count)},
	}
	if err := c.getJSON(ctx, "/search.json", params, nil, &resp); err != nil {
		return nil, err
	}

	results := make([]schema.ImageResult, 0, len(resp.ImagesResults))
	for _, img := range resp.ImagesResults {
		results = append(results, schema.ImageResult{
			URL:       img.Original,
			Thumbnail: img.Thumbnail,
			Width:     img.OriginalWidth,
			Height:    img.OriginalHeight,
			Credit:    cmp.Or(img.Source, credit),
			License:   license,
			Provider:  c.name,
		})
	}
	return keepWithURL(results, count), nil
}

// SerpAPI is a general Google Images search.
type SerpAPI struct{ client }

func NewSerpAPI(apiKey string, opts ...Option) *SerpAPI {
	return &SerpAPI{newClient("serpapi", apiKey, serpBaseURL, rate.Every(time.Second), 5, opts)}
}

func (p *SerpAPI) Available() bool { return p.key != "" }

func (p *SerpAPI) Search(ctx context.Context, query, _ string, count int) ([]schema.ImageResult, error) {
	if !p.Available() {
		return nil, ErrUnavailable
	}
	return p.googleImages(ctx, query, clampCount(count, 100), "Google Images", "Verify license before use")
}

// DeviantArt has no public search API; it is Google Images restricted to the site.
type DeviantArt struct{ client }

func NewDeviantArt(serpAPIKey string, opts ...Option) *DeviantArt {
	return &DeviantArt{newClient("deviantart", serpAPIKey, serpBaseURL, rate.Every(time.Second), 5, opts)}
}

func (p *DeviantArt) Available() bool { return p.key != "" }

func (p *DeviantArt) FormatQuery(query string) string {
	q := strings.TrimSpace(query)
	if strings.Contains(strings.ToLower(q), "deviantart") {
		return q
	}
	return q + " site:deviantart.com"
}

func (p *DeviantArt) Search(ctx context.Context, query, _ string, count int) ([]schema.ImageResult, error) {
	if !p.Available() {
		return nil, ErrUnavailable
	}
	return p.googleImages(ctx, query, clampCount(count, 100), "DeviantArt", "Verify license before use (fan art)")
}
