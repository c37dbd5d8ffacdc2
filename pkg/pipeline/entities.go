package pipeline

import (
	"cmp"
	"slices"
	"strings"

	"inkwell/pkg/schema"
	"inkwell/pkg/utils"
)

const derivedLimit = 10

func characterEntities(in []schema.ExtractedCharacter) []schema.Entity {
	out := make([]schema.Entity, 0, len(in))
	for _, c := range in {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		desc := c.PhysicalDescription
		if c.Personality != "" {
			desc = strings.TrimSpace(desc + ". " + c.Personality)
		}
		out = append(out, schema.Entity{
			Type:        schema.EntityCharacter,
			Name:        strings.TrimSpace(c.Name),
			Description: desc,
			VisualType:  strings.ToLower(strings.TrimSpace(c.VisualType)),
			Role:        "main",
			IsMain:      true,
		})
	}
	return out
}

func locationEntities(in []schema.ExtractedLocation) []schema.Entity {
	out := make([]schema.Entity, 0, len(in))
	for _, l := range in {
		if strings.TrimSpace(l.Name) == "" {
			continue
		}
		desc := l.VisualDescription
		if l.Atmosphere != "" {
			desc = strings.TrimSpace(desc + ". " + l.Atmosphere)
		}
		out = append(out, schema.Entity{
			Type:        schema.EntityLocation,
			Name:        strings.TrimSpace(l.Name),
			Description: desc,
			Role:        "setting",
			IsMain:      true,
		})
	}
	return out
}

// mentioned builds bare entities from the names in the analyses. The five most
// mentioned are marked main.
func mentioned(analyses []schema.ChunkAnalysis, entityType string) []schema.Entity {
	type tally struct {
		name  string
		count int
		first int
	}
	counts := map[string]*tally{}
	for _, a := range analyses {
		names := a.CharactersPresent
		if entityType == schema.EntityLocation {
			names = a.LocationsPresent
		}
		for _, n := range names {
			k := utils.NormName(n)
			if k == "" {
				continue
			}
			if t, ok := counts[k]; ok {
				t.count++
				continue
			}
			counts[k] = &tally{name: strings.TrimSpace(n), count: 1, first: len(counts)}
		}
	}

	ranked := make([]*tally, 0, len(counts))
	for _, t := range counts {
		ranked = append(ranked, t)
	}
	slices.SortFunc(ranked, func(a, b *tally) int {
		return cmp.Or(cmp.Compare(b.count, a.count), cmp.Compare(a.first, b.first))
	})

	out := make([]schema.Entity, 0, min(len(ranked), derivedLimit))
	for i, t := range utils.Head(ranked, derivedLimit) {
		out = append(out, schema.Entity{
			Type:   entityType,
			Name:   t.name,
			IsMain: i < 5,
		})
	}
	return out
}
