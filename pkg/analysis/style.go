package analysis

import "strings"

// StyleCategories are the genre buckets the engine affinity table is keyed by.
var StyleCategories = []string{
	"fiction", "romance", "thriller", "historical", "adventure", "mystery",
	"fantasy", "mythology", "folklore", "sci-fi", "cyberpunk", "horror",
}

// genreKeywords is checked in order; the first bucket with a matching keyword wins.
var genreKeywords = []struct {
	style string
	words []string
}{
	{"cyberpunk", []string{"cyberpunk", "dystopi", "neon"}},
	{"sci-fi", []string{"sci-fi", "science fiction", "scifi", "space", "futur"}},
	{"horror", []string{"horror", "gothic", "terror", "supernatural thriller"}},
	{"mythology", []string{"myth"}},
	{"folklore", []string{"folk", "fairy tale", "legend"}},
	{"fantasy", []string{"fantasy", "magic", "epic"}},
	{"historical", []string{"histor", "period", "war"}},
	{"mystery", []string{"mystery", "detective", "crime", "noir"}},
	{"thriller", []string{"thriller", "suspense", "spy"}},
	{"romance", []string{"romance", "romantic", "love"}},
	{"adventure", []string{"adventure", "quest", "action"}},
}

// StyleCategory maps a free-form genre label to one of StyleCategories.
// Unrecognised labels map to "fiction".
func StyleCategory(genre string) string {
	g := strings.ToLower(strings.TrimSpace(genre))
	if g == "" {
		return "fiction"
	}
	for _, s := range StyleCategories {
		if g == s {
			return s
		}
	}
	for _, k := range genreKeywords {
		for _, w := range k.words {
			if strings.Contains(g, w) {
				return k.style
			}
		}
	}
	return "fiction"
}
