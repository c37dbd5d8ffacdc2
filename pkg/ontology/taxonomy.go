package ontology

import (
	"slices"
	"strings"
)

// Classes is the closed entity class taxonomy, grouped by family.
var Classes = []string{
	// human variants
	"human", "human_supernatural", "human_transformed", "human_enhanced",
	"clone", "human_hybrid",
	// mechanical and digital
	"android", "robot", "AI", "cyborg", "golem", "construct",
	// divine and cosmic
	"deity", "demigod", "angel", "demon", "cosmic_entity", "elemental",
	// spirits and undead
	"spirit", "ghost", "undead", "shade",
	// fae and mythical
	"fae", "mythical_beast", "folkloric", "trickster",
	// animal based
	"animal", "anthropomorphic_animal", "beast", "chimera", "shapeshifter",
	// plant and object
	"plant_being", "animated_object",
	// alien and unknown
	"alien", "alien_humanoid", "hivemind", "eldritch",
}

// parents is a single-inheritance map used for tiered engine lookup.
var parents = map[string]string{
	"human_supernatural":     "human",
	"human_transformed":      "human",
	"human_enhanced":         "human",
	"clone":                  "human",
	"human_hybrid":           "human_supernatural",
	"cyborg":                 "android",
	"android":                "robot",
	"golem":                  "construct",
	"animated_object":        "construct",
	"plant_being":            "construct",
	"ghost":                  "spirit",
	"shade":                  "spirit",
	"demigod":                "deity",
	"angel":                  "deity",
	"demon":                  "deity",
	"cosmic_entity":          "deity",
	"elemental":              "spirit",
	"fae":                    "mythical_beast",
	"folkloric":              "mythical_beast",
	"trickster":              "mythical_beast",
	"beast":                  "mythical_beast",
	"chimera":                "mythical_beast",
	"shapeshifter":           "mythical_beast",
	"anthropomorphic_animal": "animal",
	"alien_humanoid":         "alien",
	"hivemind":               "alien",
	"eldritch":               "cosmic_entity",
}

// humanFamily keeps a human visual form. Demigods are included because they
// are usually drawn as people.
var humanFamily = []string{
	"human", "human_supernatural", "human_transformed", "human_enhanced",
	"clone", "human_hybrid", "demigod",
}

var nonHuman = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Classes))
	for _, c := range Classes {
		if !slices.Contains(humanFamily, c) {
			m[c] = struct{}{}
		}
	}
	return m
}()

// HumanTerms may never appear in the core search tokens of a non-human entity.
var HumanTerms = []string{"portrait", "person", "man", "woman", "face", "human"}

func IsValidClass(class string) bool {
	return slices.Contains(Classes, class)
}

// IsNonHuman reports whether class requires the anti-human override.
// Unknown classes are treated as human.
func IsNonHuman(class string) bool {
	_, ok := nonHuman[class]
	return ok
}

// NonHumanClasses returns the override set in taxonomy order.
func NonHumanClasses() []string {
	out := make([]string, 0, len(nonHuman))
	for _, c := range Classes {
		if IsNonHuman(c) {
			out = append(out, c)
		}
	}
	return out
}

// Parent returns the parent class, or "" for roots and unknown classes.
func Parent(class string) string {
	return parents[class]
}

// IsHumanTerm reports whether token is one of HumanTerms, ignoring case.
func IsHumanTerm(token string) bool {
	t := strings.ToLower(strings.TrimSpace(token))
	return slices.Contains(HumanTerms, t)
}

// ContainsHumanTerm reports whether any word of token is a human term,
// so "human portrait" and "Old Man" both match.
func ContainsHumanTerm(token string) bool {
	for _, w := range strings.Fields(strings.ToLower(token)) {
		if slices.Contains(HumanTerms, strings.Trim(w, ",.;:!?'\"()")) {
			return true
		}
	}
	return false
}

// Archetype is the readable form of a class, used when the model omits one.
func Archetype(class string) string {
	return strings.ReplaceAll(class, "_", " ")
}
