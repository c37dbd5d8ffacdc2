package composer

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

var characters = []schema.EntityOntology{
	{Name: "Mara", EntityClass: "human", VisualMarkers: []string{"flight jacket", "weathered face", "goggles"}},
	{Name: "K-7", EntityClass: "android", AntiHumanOverride: true, VisualMarkers: []string{"chrome plating", "red optic", "exposed wiring"}, SearchArchetype: strptr("sleek android")},
}

var sceneList = []schema.Scene{
	{Title: "Duel In The Hangar", SceneType: "climax", ChunkStartIndex: 4, ChunkEndIndex: 8, CharactersPresent: []string{"Mara", "K-7"}, PrimaryLocation: "Hangar"},
	{Title: "Quiet Dawn", SceneType: "atmospheric", ChunkStartIndex: 16, ChunkEndIndex: 19, CharactersPresent: []string{"k-7"}},
}

func assertComposed(t *testing.T, got []schema.Scene, want int) {
	t.Helper()
	require.Len(t, got, want)
	for _, s := range got {
		assert.GreaterOrEqual(t, len([]rune(s.T2IPrompt.Abstract)), 50, s.Title)
		assert.LessOrEqual(t, len([]rune(s.T2IPrompt.Abstract)), 400)
		assert.LessOrEqual(t, len([]rune(s.T2IPrompt.Flux)), 400)
		assert.LessOrEqual(t, len([]rune(s.T2IPrompt.SD)), 400)
		assert.NotEmpty(t, s.T2IPrompt.Flux)
		assert.NotEmpty(t, s.T2IPrompt.SD)
		assert.LessOrEqual(t, len(s.SceneVisualTokens.CompositionTokens), 3)
		hasFraming := false
		for _, c := range s.SceneVisualTokens.CompositionTokens {
			hasFraming = hasFraming || IsFraming(c)
		}
		assert.True(t, hasFraming, "%s composition %v", s.Title, s.SceneVisualTokens.CompositionTokens)
	}
}

func TestComposeEnforcesInvariants(t *testing.T) {
	out := `{"scenes": [
		{"scene_id": 2, "scene_visual_tokens": {"core_tokens": ["dawn"], "composition_tokens": ["symmetry", "rule of thirds", "soft focus", "Close-Up"],
		 "character_tokens": ["man", "human portrait"]},
		 "t2i_prompt_json": {"abstract": "short"}},
		{"scene_id": 1, "scene_visual_tokens": {"core_tokens": ["sparks", "steel"], "composition_tokens": ["centered"],
		 "character_tokens": ["red optic", "woman in jacket"]},
		 "t2i_prompt_json": {"abstract": "A chrome android and a pilot clash among sparks in a vast dim hangar, low angle", "flux": "", "sd": "sd prompt"}}
	]}`

	got, report := New(reply(out, nil), log.New(io.Discard)).Compose(context.Background(), sceneList, characters, "sci-fi")
	assertComposed(t, got, 2)
	assert.False(t, report.Fallback)

	first := got[0]
	assert.Equal(t, []string{"wide shot", "centered"}, first.SceneVisualTokens.CompositionTokens)
	assert.Equal(t, []string{"red optic", "chrome plating"}, first.SceneVisualTokens.CharacterTokens)
	assert.Equal(t, "A chrome android and a pilot clash among sparks in a vast dim hangar, low angle", first.T2IPrompt.Abstract)
	assert.True(t, strings.HasSuffix(first.T2IPrompt.Flux, ", high detail, 8k, cinematic"))
	assert.Equal(t, "sd prompt", first.T2IPrompt.SD)

	second := got[1]
	assert.Equal(t, "Close-Up", second.SceneVisualTokens.CompositionTokens[0])
	assert.Equal(t, []string{"chrome plating", "red optic"}, second.SceneVisualTokens.CharacterTokens)
	assert.True(t, strings.HasPrefix(second.T2IPrompt.Abstract, "Quiet Dawn, atmospheric scene, dawn"))
	assert.True(t, strings.HasPrefix(second.T2IPrompt.SD, "("+second.T2IPrompt.Abstract+":1.2)"))
}

func TestComposeFallbackOnError(t *testing.T) {
	got, report := New(reply("", errors.New("rate limited")), log.New(io.Discard)).Compose(context.Background(), sceneList, characters, "sci-fi")
	assertComposed(t, got, 2)
	assert.True(t, report.Fallback)

	svt := got[0].SceneVisualTokens
	assert.Equal(t, []string{"climax", "sci-fi", "dramatic", "detailed", "cinematic", "high contrast"}, svt.CoreTokens)
	assert.Equal(t, []string{"cinematic lighting", "dramatic atmosphere", "high detail", "moody"}, svt.StyleTokens)
	assert.Equal(t, []string{"wide shot", "establishing shot", "medium shot"}, svt.CompositionTokens)
	assert.Equal(t, []string{"Hangar", "atmospheric", "detailed"}, svt.EnvironmentTokens)
	for _, tok := range svt.CharacterTokens {
		assert.False(t, ontology.ContainsHumanTerm(tok), tok)
	}
	assert.Equal(t, []string{"environment", "atmospheric", "detailed"}, got[1].SceneVisualTokens.EnvironmentTokens)
}

func TestComposeFallbackWithoutCharacters(t *testing.T) {
	s := schema.Scene{Title: "Scene 1", ChunkStartIndex: 0, ChunkEndIndex: 2}
	got := Fallback(s, nil, "")
	assert.Equal(t, []string{"figure", "silhouette"}, got.SceneVisualTokens.CharacterTokens)
	assert.GreaterOrEqual(t, len(got.T2IPrompt.Abstract), 50)
	assert.Contains(t, got.T2IPrompt.Abstract, "fiction")
}

func TestComposeFallbackUsesLongDraft(t *testing.T) {
	draft := strings.Repeat("luminous fog over a drowned cathedral, ", 12)
	s := schema.Scene{Title: "Drowned", ScenePromptDraft: draft}
	got := Fallback(s, nil, "fantasy")
	assert.Equal(t, 300, len([]rune(got.T2IPrompt.Abstract)))
	assert.True(t, strings.HasPrefix(draft, got.T2IPrompt.Abstract))
}

func TestComposeMatchesByPositionWithoutIDs(t *testing.T) {
	out := `[
		{"scene_visual_tokens": {"composition_tokens": ["low angle"]}, "t2i_prompt_json": {"abstract": "first scene abstract that is comfortably longer than fifty characters"}},
		{"scene_visual_tokens": {"composition_tokens": ["tracking shot"]}, "t2i_prompt_json": {"abstract": "second scene abstract that is comfortably longer than fifty characters"}}
	]`
	got, report := New(reply(out, nil), log.New(io.Discard)).Compose(context.Background(), sceneList, characters, "")
	assertComposed(t, got, 2)
	assert.False(t, report.Fallback)
	assert.Equal(t, []string{"low angle"}, got[0].SceneVisualTokens.CompositionTokens)
	assert.Equal(t, []string{"tracking shot"}, got[1].SceneVisualTokens.CompositionTokens)
}

func TestComposePadsMissingScenes(t *testing.T) {
	out := `[{"scene_id": 1, "scene_visual_tokens": {"composition_tokens": ["panoramic"]}, "t2i_prompt_json": {"abstract": "an abstract that is certainly long enough to keep around"}}]`
	got, report := New(reply(out, nil), log.New(io.Discard)).Compose(context.Background(), sceneList, characters, "sci-fi")
	assertComposed(t, got, 2)
	assert.True(t, report.Fallback)
	assert.Equal(t, []string{"wide shot", "establishing shot", "medium shot"}, got[1].SceneVisualTokens.CompositionTokens)
}

func TestEnsureFraming(t *testing.T) {
	assert.Equal(t, []string{"wide shot"}, EnsureFraming(nil))
	assert.Equal(t, []string{"Dutch Angle", "a", "b"}, EnsureFraming([]string{"a", "b", "c", "Dutch Angle"}))
	assert.Equal(t, []string{"wide shot", "a", "b"}, EnsureFraming([]string{"a", "b", "c"}))
}

func TestComposeEmpty(t *testing.T) {
	got, _ := New(reply("", errors.New("unused")), nil).Compose(context.Background(), nil, characters, "x")
	assert.Empty(t, got)
}

func assertDialects(t *testing.T, p schema.T2IPrompt) {
	t.Helper()
	assert.LessOrEqual(t, len([]rune(p.Flux)), 400)
	assert.LessOrEqual(t, len([]rune(p.SD)), 400)
	assert.True(t, strings.HasSuffix(p.Flux, ", high detail, 8k, cinematic"), p.Flux)
	assert.True(t, strings.HasPrefix(p.SD, "("), p.SD)
	assert.True(t, strings.HasSuffix(p.SD, ":1.2), masterpiece, best quality --neg "+sdNegative), p.SD)
	assert.Equal(t, 1, strings.Count(p.SD, "--neg"))
}

func TestComposeKeepsDialectSuffixesForLongAbstract(t *testing.T) {
	abstract := strings.TrimSpace(strings.Repeat("chrome android amid sparks ", 15))[:380]
	long := strings.Repeat("x", 450)
	out := `[{"scene_id": 1, "t2i_prompt_json": {"abstract": "` + abstract + `", "flux": "", "sd": "` + long + `"}},
		{"scene_id": 2, "t2i_prompt_json": {"abstract": "` + abstract + `"}}]`

	got, report := New(reply(out, nil), log.New(io.Discard)).Compose(context.Background(), sceneList, characters, "sci-fi")
	assertComposed(t, got, 2)
	assert.False(t, report.Fallback)
	for _, s := range got {
		assert.Equal(t, abstract, s.T2IPrompt.Abstract)
		assertDialects(t, s.T2IPrompt)
	}
}

func TestFallbackKeepsDialectSuffixesForLongTitle(t *testing.T) {
	s := schema.Scene{
		Title:           strings.Repeat("The Long Night Of The Burning Hangar ", 10),
		PrimaryLocation: strings.Repeat("Orbital Dockyard ", 5),
	}
	got := Fallback(s, characters, "sci-fi")
	assert.LessOrEqual(t, len([]rune(got.T2IPrompt.Abstract)), 400)
	assertDialects(t, got.T2IPrompt)
}

func TestComposeAddsNonHumanMarkers(t *testing.T) {
	out := `[{"scene_id": 1, "scene_visual_tokens": {"character_tokens": ["figure", "woman"]},
		"t2i_prompt_json": {"abstract": "a lone android watches the dawn over the quiet wrecked hangar"}}]`
	scene := sceneList[1:]
	got, _ := New(reply(out, nil), log.New(io.Discard)).Compose(context.Background(), scene, characters, "sci-fi")
	require.Len(t, got, 1)
	assert.Equal(t, []string{"figure", "chrome plating", "red optic"}, got[0].SceneVisualTokens.CharacterTokens)
}
