package tokens

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/pkg/inference"
	"inkwell/pkg/ontology"
	"inkwell/pkg/schema"
)

func reply(out string, err error) inference.Inferencer {
	return inference.Func(func(context.Context, *openai.ChatCompletionNewParams, string, string) (string, error) {
		return out, err
	})
}

func strptr(s string) *string { return &s }

var inputs = []Input{
	{
		Name:              "Susan",
		EntityClass:       "human",
		VisualMarkers:     []string{"sharp eyes", "grey hair", "formal suit"},
		AntiHumanOverride: false,
	},
	{
		Name:              "Robbie",
		EntityClass:       "robot",
		AntiHumanOverride: true,
		VisualMarkers:     []string{"glowing red eyes", "cylindrical body", "metal plating"},
		SearchArchetype:   strptr("boxy robot"),
	},
	{
		Name:              "HAL",
		EntityClass:       "AI",
		AntiHumanOverride: true,
		VisualMarkers:     []string{"glowing red camera eye", "disembodied voice"},
	},
}

func assertInvariants(t *testing.T, in []Input, got []schema.EntityVisualTokens) {
	t.Helper()
	require.Len(t, got, len(in))
	for i, tok := range got {
		assert.Equal(t, in[i].Name, tok.Name)
		assert.LessOrEqual(t, len(tok.CoreTokens), 6)
		assert.LessOrEqual(t, len(tok.StyleTokens), 4)
		assert.LessOrEqual(t, len(tok.ArchetypeTokens), 3)
		assert.LessOrEqual(t, len(tok.AntiTokens), 3)
		if in[i].AntiHumanOverride {
			for _, c := range tok.CoreTokens {
				assert.False(t, ontology.IsHumanTerm(c), "%s core token %q", tok.Name, c)
				assert.False(t, ontology.ContainsHumanTerm(c), "%s core token %q", tok.Name, c)
			}
			assert.NotEmpty(t, tok.ArchetypeTokens, tok.Name)
		} else {
			assert.Empty(t, tok.ArchetypeTokens, tok.Name)
			assert.Empty(t, tok.AntiTokens, tok.Name)
		}
	}
}

func TestBuildStripsHumanTermsAndBackfills(t *testing.T) {
	out := `{"entities": [
		{"name": "Susan", "core_tokens": ["scientist", "lab coat", "grey hair"], "style_tokens": ["noir"], "archetype_tokens": ["robopsychologist"], "anti_tokens": ["robot"]},
		{"name": "Robbie", "core_tokens": ["Robot", "PORTRAIT", "man", "metal body", "Face", "human", "red eyes"], "archetype_tokens": ["boxy robot", "retro automaton", "tin toy", "extra"]},
		{"name": "HAL", "core_tokens": ["camera eye", "red light"], "style_tokens": ["a","b","c","d","e"], "archetype_tokens": []}
	]}`

	got, report := NewBuilder(reply(out, nil), log.New(io.Discard)).Build(context.Background(), inputs)
	assertInvariants(t, inputs, got)
	assert.False(t, report.Fallback)

	assert.Equal(t, []string{"scientist", "lab coat", "grey hair"}, got[0].CoreTokens)

	assert.Equal(t, []string{"Robot", "metal body", "red eyes", "boxy robot", "retro automaton", "tin toy"}, got[1].CoreTokens)
	assert.Equal(t, []string{"boxy robot", "retro automaton", "tin toy"}, got[1].ArchetypeTokens)
	assert.NotEmpty(t, got[1].AntiTokens)

	assert.Equal(t, []string{"AI"}, got[2].ArchetypeTokens)
	assert.Len(t, got[2].StyleTokens, 4)
}

func TestBuildFallbackOnError(t *testing.T) {
	got, report := NewBuilder(reply("", errors.New("quota")), log.New(io.Discard)).Build(context.Background(), inputs)
	assertInvariants(t, inputs, got)
	assert.True(t, report.Fallback)

	assert.Equal(t, []string{"sharp eyes", "grey hair", "formal suit", "figure", "detailed", "cinematic"}, got[0].CoreTokens)
	assert.Equal(t, []string{"boxy robot"}, got[1].ArchetypeTokens)
	assert.Equal(t, []string{"human portrait", "person", "face"}, got[1].AntiTokens)
	assert.Contains(t, got[2].CoreTokens, "AI")
	assert.Equal(t, []string{"AI"}, got[2].ArchetypeTokens)
}

func TestBuildFallbackOnMalformedResponse(t *testing.T) {
	got, report := NewBuilder(reply("sorry, I cannot help", nil), log.New(io.Discard)).Build(context.Background(), inputs)
	assertInvariants(t, inputs, got)
	assert.True(t, report.Fallback)
}

func TestBuildPadsMissingEntities(t *testing.T) {
	out := `[{"name": "Robbie", "core_tokens": ["robot"], "archetype_tokens": ["boxy robot"]}]`
	got, report := NewBuilder(reply(out, nil), log.New(io.Discard)).Build(context.Background(), inputs)
	assertInvariants(t, inputs, got)
	assert.True(t, report.Fallback)
	assert.Equal(t, []string{"robot", "boxy robot"}, got[1].CoreTokens)
}

func TestBuildEmptyInput(t *testing.T) {
	got, _ := NewBuilder(reply("", errors.New("unused")), log.New(io.Discard)).Build(context.Background(), nil)
	assert.Empty(t, got)
}

func TestFallbackNonHumanMarkersWithHumanWords(t *testing.T) {
	in := Input{
		Name:              "Shade",
		EntityClass:       "ghost",
		AntiHumanOverride: true,
		VisualMarkers:     []string{"pale face", "trailing mist", "hollow eyes"},
	}
	tok := Fallback(in)
	for _, c := range tok.CoreTokens {
		assert.False(t, ontology.ContainsHumanTerm(c), c)
	}
	assert.Equal(t, "trailing mist", tok.CoreTokens[0])
	assert.True(t, strings.Contains(strings.Join(tok.CoreTokens, " "), "ghost"))
}

func TestOverrideWithHumanClassNameKeepsCoreClean(t *testing.T) {
	in := []Input{{
		Name:              "Vex",
		EntityClass:       "human_enhanced",
		AntiHumanOverride: true,
		VisualMarkers:     []string{"steel"},
	}}
	out := `{"entities": [{"name": "Vex", "core_tokens": ["steel", "man"], "archetype_tokens": ["human"]}]}`
	got, report := NewBuilder(reply(out, nil), log.New(io.Discard)).Build(context.Background(), in)
	assertInvariants(t, in, got)
	assert.False(t, report.Fallback)
	assert.Equal(t, []string{"steel", "creature"}, got[0].CoreTokens)
	assert.Equal(t, []string{"creature"}, got[0].ArchetypeTokens)

	fb := Fallback(in[0])
	assertInvariants(t, in, []schema.EntityVisualTokens{fb})
	assert.Equal(t, []string{"steel", "creature", "detailed", "dramatic lighting"}, fb.CoreTokens)
}
