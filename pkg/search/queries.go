package search

import (
	"cmp"
	"slices"
	"strings"

	"inkwell/pkg/schema"
	"inkwell/pkg/utils"
)

const maxQueries = 6

// portraitPhrases never reach a provider for a non-human entity.
var portraitPhrases = []string{"man portrait", "woman portrait", "person portrait", "human portrait"}

// BookInfo is the book context that shapes reference queries.
type BookInfo struct {
	Title            string
	Author           string
	StyleCategory    string
	IsWellKnown      bool
	KnownAdaptations []string
}

func BookInfoFrom(b schema.Book) BookInfo {
	return BookInfo{
		Title:            b.Title,
		Author:           b.Author,
		StyleCategory:    b.StyleCategory,
		IsWellKnown:      b.IsWellKnown,
		KnownAdaptations: b.KnownAdaptations,
	}
}

// BuildQueries returns up to six distinct search phrases for one entity.
// Adaptation and title queries are only added for well-known books.
func BuildQueries(entityType, description string, book BookInfo, tokens schema.EntityVisualTokens, ont schema.EntityOntology) []string {
	desc := phrase(utils.Truncate(description, 80))
	style := strings.ToLower(strings.TrimSpace(book.StyleCategory))
	core := phrase(utils.Head(tokens.CoreTokens, 3)...)

	var queries []string
	switch {
	case entityType == schema.EntityLocation:
		queries = locationQueries(desc, core, style)
	case ont.AntiHumanOverride:
		queries = nonHumanQueries(desc, core, style, tokens, ont)
	default:
		queries = humanQueries(desc, core, style, tokens)
	}

	if book.IsWellKnown {
		subject := subjectOf(entityType, desc, core, tokens, ont)
		var known []string
		if len(book.KnownAdaptations) > 0 {
			known = append(known, phrase(book.KnownAdaptations[0], subject))
		}
		if book.Title != "" {
			known = append(known, phrase(book.Title, subject))
		}
		// near the front so the cap never drops them
		queries = slices.Insert(queries, min(1, len(queries)), known...)
	}

	out := make([]string, 0, len(queries))
	for _, q := range queries {
		if q == "" || !allowed(q, entityType, ont.AntiHumanOverride) {
			continue
		}
		out = append(out, q)
	}
	return utils.Head(utils.DedupeStrings(out), maxQueries)
}

func humanQueries(desc, core, style string, tokens schema.EntityVisualTokens) []string {
	look := cmp.Or(core, desc)
	return []string{
		phrase(look, "portrait"),
		phrase(desc, "person portrait"),
		phrase(desc, style, "character illustration"),
		phrase(core, firstToken(tokens.StyleTokens)),
		phrase(desc, "illustration"),
	}
}

func nonHumanQueries(desc, core, style string, tokens schema.EntityVisualTokens, ont schema.EntityOntology) []string {
	archetype := archetypeOf(tokens, ont)
	return []string{
		archetype,
		phrase(archetype, style),
		phrase(core, "concept art"),
		phrase(strings.Join(utils.Head(tokens.ArchetypeTokens, 2), " "), style, "illustration"),
		phrase(desc, strings.ReplaceAll(ont.EntityClass, "_", " ")),
		phrase(firstToken(ont.VisualMarkers), archetype),
	}
}

func locationQueries(desc, core, style string) []string {
	return []string{
		phrase(desc, "landscape scenery"),
		phrase(desc, "interior"),
		phrase(core, style),
		phrase(desc, style, "concept art"),
		phrase(desc, "establishing shot"),
	}
}

func subjectOf(entityType, desc, core string, tokens schema.EntityVisualTokens, ont schema.EntityOntology) string {
	if entityType != schema.EntityLocation && ont.AntiHumanOverride {
		return archetypeOf(tokens, ont)
	}
	return cmp.Or(desc, core)
}

func archetypeOf(tokens schema.EntityVisualTokens, ont schema.EntityOntology) string {
	if ont.SearchArchetype != nil && strings.TrimSpace(*ont.SearchArchetype) != "" {
		return phrase(*ont.SearchArchetype)
	}
	if a := firstToken(tokens.ArchetypeTokens); a != "" {
		return a
	}
	return strings.ReplaceAll(ont.EntityClass, "_", " ")
}

func allowed(q, entityType string, override bool) bool {
	lower := strings.ToLower(q)
	if entityType == schema.EntityLocation {
		return !strings.Contains(lower, "portrait")
	}
	if override {
		return !utils.StringContains(lower, false, portraitPhrases...)
	}
	return true
}

// phrase joins the non-empty parts with single spaces.
func phrase(parts ...string) string {
	var words []string
	for _, p := range parts {
		words = append(words, strings.Fields(p)...)
	}
	return strings.Join(words, " ")
}

func firstToken(tokens []string) string {
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return ""
}
