package engines

import (
	"cmp"
	"slices"
	"strings"

	"inkwell/pkg/ontology"
	"inkwell/pkg/schema"
)

const (
	defaultTopN = 2
	minNet      = -5
	maxNet      = 10
)

// Ranked is one provider with its table score and feedback-adjusted score.
type Ranked struct {
	Provider string  `json:"provider"`
	Base     float64 `json:"base_score"`
	Adjusted float64 `json:"adjusted_score"`
}

// Lookup resolves the affinity row for an entity. It returns the key that
// matched, or "default" when no row applies.
func Lookup(entityClass, entityType, style string) (string, []Score) {
	style = strings.ToLower(strings.TrimSpace(style))
	class := canonicalClass(entityClass)

	if entityType == schema.EntityLocation {
		if key := "location|" + style; affinity[key] != nil {
			return key, affinity[key]
		}
		return "location|fiction", affinity["location|fiction"]
	}

	if key := class + "|" + style; affinity[key] != nil {
		return key, affinity[key]
	}
	parent := ontology.Parent(class)
	for range 2 {
		if parent == "" {
			break
		}
		if key := parent + "|" + style; affinity[key] != nil {
			return key, affinity[key]
		}
		parent = ontology.Parent(parent)
	}
	if key := "human|" + style; affinity[key] != nil {
		return key, affinity[key]
	}
	if row := affinity["human|fiction"]; row != nil {
		return "human|fiction", row
	}
	return "default", defaultScores
}

// Adjust applies the per-book feedback multiplier 1 + 0.1*clamp(net, -5, 10).
func Adjust(base float64, net int) float64 {
	return base * (1 + 0.1*float64(min(max(net, minNet), maxNet)))
}

// Rank returns the available providers from the matched row, best first.
// Ties keep the row order.
func Rank(entityClass, entityType, style string, available []string, ratings map[string]int) []Ranked {
	_, row := Lookup(entityClass, entityType, style)
	out := make([]Ranked, 0, len(row))
	for _, s := range row {
		if !slices.Contains(available, s.Provider) {
			continue
		}
		out = append(out, Ranked{
			Provider: s.Provider,
			Base:     s.Base,
			Adjusted: Adjust(s.Base, ratings[s.Provider]),
		})
	}
	slices.SortStableFunc(out, func(a, b Ranked) int { return cmp.Compare(b.Adjusted, a.Adjusted) })
	return out
}

// Select picks up to topN providers for an entity. When at least one provider
// is available it returns exactly min(topN, len(available)) names, padding
// from available in the given order. topN <= 0 means 2.
func Select(entityClass, entityType, style string, available []string, ratings map[string]int, topN int) []string {
	if topN <= 0 {
		topN = defaultTopN
	}
	available = unique(available)

	selected := make([]string, 0, topN)
	for _, r := range Rank(entityClass, entityType, style, available, ratings) {
		if len(selected) == topN {
			break
		}
		selected = append(selected, r.Provider)
	}
	for _, p := range available {
		if len(selected) >= topN {
			break
		}
		if !slices.Contains(selected, p) {
			selected = append(selected, p)
		}
	}
	return selected
}

func canonicalClass(class string) string {
	class = strings.TrimSpace(class)
	if ontology.IsValidClass(class) {
		return class
	}
	for _, c := range ontology.Classes {
		if strings.EqualFold(c, class) {
			return c
		}
	}
	return class
}

func unique(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p != "" && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}
