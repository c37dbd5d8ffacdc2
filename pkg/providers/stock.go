package providers

import (
	"cmp"
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"inkwell/pkg/schema"
)

// Unsplash searches realistic photography. 50 requests per hour on the free tier.
type Unsplash struct{ client }

func NewUnsplash(accessKey string, opts ...Option) *Unsplash {
	return &Unsplash{newClient("unsplash", accessKey, "https://api.unsplash.com", rate.Every(time.Hour/50), 10, opts)}
}

func (p *Unsplash) Available() bool { return p.key != "" }

func (p *Unsplash) Search(ctx context.Context, query, contentType string, count int) ([]schema.ImageResult, error) {
	if !p.Available() {
		return nil, ErrUnavailable
	}
	count = clampCount(count, 30)

	var resp struct {
		Results []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
			URLs   struct {
				Regular string `json:"regular"`
				Full    string `json:"full"`
				Thumb   string `json:"thumb"`
				Small   string `json:"small"`
			} `json:"urls"`
			User struct {
				Name string `json:"name"`
			} `json:"user"`
		} `json:"results"`
	}
	params := url.Values{
		"query":       {query},
		"per_page":    {strconv.Itoa(count)},
		"orientation": {orientation(contentType)},
	}
	header := http.Header{"Authorization": {"Client-ID " + p.key}}
	if err := p.getJSON(ctx, "/search/photos", params, header, &resp); err != nil {
		return nil, err
	}

	results := make([]schema.ImageResult, 0, len(resp.Results))
	for _, img := range resp.Results {
		results = append(results, schema.ImageResult{
			URL:       cmp.Or(img.URLs.Regular, img.URLs.Full),
			Thumbnail: cmp.Or(img.URLs.Thumb, img.URLs.Small),
			Width:     img.Width,
			Height:    img.Height,
			Credit:    cmp.Or(img.User.Name, "Unsplash"),
			License:   "Unsplash License (free for commercial use)",
			Provider:  p.name,
		})
	}
	return keepWithURL(results, count), nil
}

// Pexels searches portraits and lifestyle photography.
type Pexels struct{ client }

func NewPexels(apiKey string, opts ...Option) *Pexels {
	return &Pexels{newClient("pexels", apiKey, "https://api.pexels.com", rate.Every(time.Hour/200), 20, opts)}
}

func (p *Pexels) Available() bool { return p.key != "" }

func (p *Pexels) Search(ctx context.Context, query, contentType string, count int) ([]schema.ImageResult, error) {
	if !p.Available() {
		return nil, ErrUnavailable
	}
	count = clampCount(count, 80)

	var resp struct {
		Photos []struct {
			Width        int    `json:"width"`
			Height       int    `json:"height"`
			Photographer string `json:"photographer"`
			Src          struct {
				Large    string `json:"large"`
				Original string `json:"original"`
				Small    string `json:"small"`
				Medium   string `json:"medium"`
			} `json:"src"`
		} `json:"photos"`
	}
	params := url.Values{
		"query":       {query},
		"per_page":    {strconv.Itoa(count)},
		"orientation": {orientation(contentType)},
	}
	header := http.Header{"Authorization": {p.key}}
	if err := p.getJSON(ctx, "/v1/search", params, header, &resp); err != nil {
		return nil, err
	}

	results := make([]schema.ImageResult, 0, len(resp.Photos))
	for _, ph := range resp.Photos {
		results = append(results, schema.ImageResult{
			URL:       cmp.Or(ph.Src.Large, ph.Src.Original),
			Thumbnail: cmp.Or(ph.Src.Small, ph.Src.Medium),
			Width:     ph.Width,
			Height:    ph.Height,
			Credit:    cmp.Or(ph.Photographer, "Pexels"),
			License:   "Pexels License (free for commercial use)",
			Provider:  p.name,
		})
	}
	return keepWithURL(results, count), nil
}

// Pixabay covers illustrations and concept art. Queries are "+"-joined tags.
type Pixabay struct{ client }

func NewPixabay(apiKey string, opts ...Option) *Pixabay {
	return &Pixabay{newClient("pixabay", apiKey, "https://pixabay.com", rate.Every(time.Second), 10, opts)}
}

func (p *Pixabay) Available() bool { return p.key != "" }

func (p *Pixabay) FormatQuery(query string) string {
	return strings.Join(strings.Fields(query), "+")
}

func (p *Pixabay) Search(ctx context.Context, query, _ string, count int) ([]schema.ImageResult, error) {
	if !p.Available() {
		return nil, ErrUnavailable
	}
	count = clampCount(count, 200)

	var resp struct {
		Hits []struct {
			LargeImageURL string `json:"largeImageURL"`
			WebformatURL  string `json:"webformatURL"`
			PreviewURL    string `json:"previewURL"`
			ImageWidth    int    `json:"imageWidth"`
			ImageHeight   int    `json:"imageHeight"`
			User          string `json:"user"`
		} `json:"hits"`
	}
	params := url.Values{
		"key":        {p.key},
		"q":          {query},
		"image_type": {"all"},
		"per_page":   {strconv.Itoa(max(count, 3))},
		"safesearch": {"true"},
	}
	if err := p.getJSON(ctx, "/api/", params, nil, &resp); err != nil {
		return nil, err
	}

	results := make([]schema.ImageResult, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		results = append(results, schema.ImageResult{
			URL:       cmp.Or(h.LargeImageURL, h.WebformatURL),
			Thumbnail: cmp.Or(h.PreviewURL, h.WebformatURL),
			Width:     h.ImageWidth,
			Height:    h.ImageHeight,
			Credit:    cmp.Or(h.User, "Pixabay"),
			License:   "Pixabay License (free for commercial use)",
			Provider:  p.name,
		})
	}
	return keepWithURL(results, count), nil
}
