package providers

import (
	"cmp"
	"context"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"inkwell/pkg/schema"
)

// Openverse searches open-licensed media. No key required.
type Openverse struct{ client }

func NewOpenverse(opts ...Option) *Openverse {
	return &Openverse{newClient("openverse", "", "https://api.openverse.org", rate.Every(200*time.Millisecond), 5, opts)}
}

func (p *Openverse) Available() bool { return true }

func (p *Openverse) FormatQuery(query string) string {
	return strings.TrimSpace(strings.ReplaceAll(query, "+", " "))
}

func (p *Openverse) Search(ctx context.Context, query, _ string, count int) ([]schema.ImageResult, error) {
	count = clampCount(count, 500)

	var resp struct {
		Results []struct {
			URL        string `json:"url"`
			Thumbnail  string `json:"thumbnail"`
			Width      int    `json:"width"`
			Height     int    `json:"height"`
			Creator    string `json:"creator"`
			Source     string `json:"source"`
			License    string `json:"license"`
			LicenseURL string `json:"license_url"`
		} `json:"results"`
	}
	params := url.Values{
		"q":            {query},
		"page_size":    {strconv.Itoa(count)},
		"license_type": {"all"},
		"mature":       {"false"},
	}
	if err := p.getJSON(ctx, "/v1/images/", params, nil, &resp); err != nil {
		return nil, err
	}

	results := make([]schema.ImageResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, schema.ImageResult{
			URL:       r.URL,
			Thumbnail: cmp.Or(r.Thumbnail, r.URL),
			Width:     r.Width,
			Height:    r.Height,
			Credit:    cmp.Or(r.Creator, r.Source, "Openverse"),
			License:   cmp.Or(r.LicenseURL, r.License, "Open license"),
			Provider:  p.name,
		})
	}
	return keepWithURL(results, count), nil
}

var htmlTag = regexp.MustCompile(`<[^>]+>`)

// Wikimedia searches Commons bitmaps. Best for historical figures and real places.
type Wikimedia struct{ client }

func NewWikimedia(opts ...Option) *Wikimedia {
	return &Wikimedia{newClient("wikimedia", "", "https://commons.wikimedia.org", rate.Every(200*time.Millisecond), 5, opts)}
}

func (p *Wikimedia) Available() bool { return true }

func (p *Wikimedia) FormatQuery(query string) string { return strings.TrimSpace(query) }

type extValue struct {
	Value string `json:"value"`
}

func (p *Wikimedia) Search(ctx context.Context, query, _ string, count int) ([]schema.ImageResult, error) {
	count = clampCount(count, 50)

	var resp struct {
		Query struct {
			Pages map[string]struct {
				Index     int `json:"index"`
				ImageInfo []struct {
					URL         string `json:"url"`
					ThumbURL    string `json:"thumburl"`
					Width       int    `json:"width"`
					Height      int    `json:"height"`
					ThumbWidth  int    `json:"thumbwidth"`
					ThumbHeight int    `json:"thumbheight"`
					ExtMetadata struct {
						Artist           extValue `json:"Artist"`
						LicenseShortName extValue `json:"LicenseShortName"`
					} `json:"extmetadata"`
				} `json:"imageinfo"`
			} `json:"pages"`
		} `json:"query"`
	}
	params := url.Values{
		"action":       {"query"},
		"generator":    {"search"},
		"gsrsearch":    {"filetype:bitmap " + query},
		"gsrnamespace": {"6"},
		"gsrlimit":     {strconv.Itoa(count)},
		"prop":         {"imageinfo"},
		"iiprop":       {"url|size|extmetadata"},
		"iiurlwidth":   {"800"},
		"format":       {"json"},
	}
	if err := p.getJSON(ctx, "/w/api.php", params, nil, &resp); err != nil {
		return nil, err
	}

	// pages is keyed by page id; the search rank is in index.
	type ranked struct {
		index int
		res   schema.ImageResult
	}
	var hits []ranked
	for _, page := range resp.Query.Pages {
		if len(page.ImageInfo) == 0 {
			continue
		}
		info := page.ImageInfo[0]
		u := cmp.Or(info.ThumbURL, info.URL)
		if u == "" {
			continue
		}
		artist := strings.TrimSpace(htmlTag.ReplaceAllString(info.ExtMetadata.Artist.Value, ""))
		hits = append(hits, ranked{page.Index, schema.ImageResult{
			URL:       u,
			Thumbnail: u,
			Width:     cmp.Or(info.ThumbWidth, info.Width),
			Height:    cmp.Or(info.ThumbHeight, info.Height),
			Credit:    cmp.Or(artist, "Wikimedia Commons"),
			License:   cmp.Or(info.ExtMetadata.LicenseShortName.Value, "Public Domain / CC"),
			Provider:  p.name,
		}})
	}
	slices.SortFunc(hits, func(a, b ranked) int { return cmp.Compare(a.index, b.index) })

	results := make([]schema.ImageResult, len(hits))
	for i, h := range hits {
		results[i] = h.res
	}
	return keepWithURL(results, count), nil
}
