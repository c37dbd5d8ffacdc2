package ontology

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/pkg/inference"
	"inkwell/pkg/schema"
)

func reply(out string, err error, calls *int) inference.Inferencer {
	return inference.Func(func(context.Context, *openai.ChatCompletionNewParams, string, string) (string, error) {
		if calls != nil {
			*calls++
		}
		return out, err
	})
}

func newTestClassifier(inf inference.Inferencer) *Classifier {
	return NewClassifier(inf, log.New(io.Discard))
}

var trio = []schema.EntityInput{
	{Name: "Mara", Description: "a young pilot", VisualType: "human"},
	{Name: "K-7", Description: "a chrome android", VisualType: "android"},
	{Name: "Vesper", Description: "a winged beast", VisualType: "creature"},
}

func TestClassifyEmptyInputMakesNoCall(t *testing.T) {
	calls := 0
	got, report := newTestClassifier(reply("", nil, &calls)).Classify(context.Background(), nil)
	assert.Empty(t, got)
	assert.False(t, report.Fallback)
	assert.Zero(t, calls)
}

func TestClassifyEnforcesOverride(t *testing.T) {
	out := "```json\n" + `{"entities": [
		{"name": "Mara", "entity_class": "human", "anti_human_override": true, "visual_markers": ["flight jacket", "scar", "goggles"]},
		{"name": "K-7", "entity_class": "android", "anti_human_override": false, "visual_markers": ["chrome plating"]},
		{"name": "Vesper", "entity_class": "mythical_beast", "visual_markers": ["a","b","c","d","e","f","g","h"], "search_archetype": "winged chimera"}
	]}` + "\n```"

	calls := 0
	got, report := newTestClassifier(reply(out, nil, &calls)).Classify(context.Background(), trio)
	require.Len(t, got, 3)
	assert.Equal(t, 1, calls)
	assert.False(t, report.Fallback)

	for i, o := range got {
		assert.Equal(t, trio[i].Name, o.Name)
		assert.Equal(t, IsNonHuman(o.EntityClass), o.AntiHumanOverride, o.Name)
		assert.GreaterOrEqual(t, len(o.VisualMarkers), 3)
		assert.LessOrEqual(t, len(o.VisualMarkers), 6)
	}

	assert.False(t, got[0].AntiHumanOverride)
	assert.True(t, got[1].AntiHumanOverride)
	require.NotNil(t, got[1].SearchArchetype)
	assert.Equal(t, "android", *got[1].SearchArchetype)
	assert.Equal(t, []string{"chrome plating", "detailed", "high contrast"}, got[1].VisualMarkers)
	assert.Equal(t, "winged chimera", *got[2].SearchArchetype)
	assert.Len(t, got[2].VisualMarkers, 6)
}

func TestClassifyUnknownClassBecomesHuman(t *testing.T) {
	out := `[{"name": "Mara", "entity_class": "wizard", "anti_human_override": true}]`
	got, _ := newTestClassifier(reply(out, nil, nil)).Classify(context.Background(), trio[:1])
	require.Len(t, got, 1)
	assert.Equal(t, "human", got[0].EntityClass)
	assert.False(t, got[0].AntiHumanOverride)
	assert.Nil(t, got[0].SearchArchetype)
}

func TestClassifyFallbackOnError(t *testing.T) {
	got, report := newTestClassifier(reply("", errors.New("timeout"), nil)).Classify(context.Background(), trio)
	require.Len(t, got, 3)
	assert.True(t, report.Fallback)
	require.Error(t, report.Error)

	assert.Equal(t, "human", got[0].EntityClass)
	assert.Equal(t, "organic", got[0].Materiality)
	assert.False(t, got[0].AntiHumanOverride)

	assert.Equal(t, "robot", got[1].EntityClass)
	assert.Equal(t, "mechanical", got[1].Materiality)
	assert.True(t, got[1].AntiHumanOverride)

	assert.Equal(t, "alien", got[2].EntityClass)
	assert.True(t, got[2].AntiHumanOverride)
	for _, o := range got {
		assert.Equal(t, []string{"detailed figure", "dramatic lighting", "high contrast"}, o.VisualMarkers)
	}
}

func TestClassifyFallbackOnMalformedJSON(t *testing.T) {
	for _, out := range []string{"not json at all", `{"foo": 1}`, `"just a string"`} {
		got, report := newTestClassifier(reply(out, nil, nil)).Classify(context.Background(), trio)
		require.Len(t, got, 3, out)
		assert.True(t, report.Fallback, out)
	}
}

func TestClassifyPadsShortResponse(t *testing.T) {
	out := `[{"name": "Mara", "entity_class": "human_enhanced", "visual_markers": ["cybernetic arm", "visor", "boots"]}]`
	got, report := newTestClassifier(reply(out, nil, nil)).Classify(context.Background(), trio)
	require.Len(t, got, 3)
	assert.True(t, report.Fallback)
	assert.Equal(t, "human_enhanced", got[0].EntityClass)
	assert.Equal(t, "robot", got[1].EntityClass)
	assert.Equal(t, "alien", got[2].EntityClass)
}

func TestClassifyRealignsByName(t *testing.T) {
	out := `[
		{"name": "Vespers", "entity_class": "chimera", "visual_markers": ["wings", "claws", "mane"]},
		{"name": "Mara", "entity_class": "human", "visual_markers": ["jacket", "goggles", "scar"]},
		{"name": "k-7", "entity_class": "cyborg", "visual_markers": ["chrome", "wires", "red eye"]}
	]`
	got, report := newTestClassifier(reply(out, nil, nil)).Classify(context.Background(), trio)
	require.Len(t, got, 3)
	assert.False(t, report.Fallback)
	assert.Equal(t, "human", got[0].EntityClass)
	assert.Equal(t, "cyborg", got[1].EntityClass)
	assert.Equal(t, "chimera", got[2].EntityClass)
	assert.Equal(t, "Vesper", got[2].Name)
}

func TestClassifyTruncatesLongResponse(t *testing.T) {
	out := `[
		{"name": "Mara", "entity_class": "human"},
		{"name": "Extra", "entity_class": "ghost"}
	]`
	got, _ := newTestClassifier(reply(out, nil, nil)).Classify(context.Background(), trio[:1])
	require.Len(t, got, 1)
	assert.Equal(t, "Mara", got[0].Name)
}
