package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/pkg/inference"
	"inkwell/pkg/schema"
)

// scripted answers batch prompts with one analysis per chunk header and the
// consolidation prompt with consolidation.
type scripted struct {
	mu            sync.Mutex
	batchCalls    int
	failBatch     map[int]bool
	consolidation string
	consErr       error
}

func (s *scripted) Infer(_ context.Context, _ *openai.ChatCompletionNewParams, system, user string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if system == consolidatePrompt {
		return s.consolidation, s.consErr
	}

	call := s.batchCalls
	s.batchCalls++
	if s.failBatch[call] {
		return "", errors.New("upstream 503")
	}

	var items []string
	for _, line := range strings.Split(user, "\n") {
		var idx int
		if _, err := fmt.Sscanf(line, "--- CHUNK %d ---", &idx); err == nil {
			items = append(items, fmt.Sprintf(`{"chunk_index": %d, "dramatic_moment": "moment %d", "dramatic_score": 1.4, "visual_density": "HIGH", "narrative_position": "climax", "characters_present": ["Mara", "mara"], "locations_present": ["Hangar"]}`, idx, idx))
		}
	}
	items = append(items, `{"chunk_index": 999, "dramatic_score": 0.9}`)
	return fmt.Sprintf(`{"characters": [{"name": "Mara", "physical_description": "pilot", "emotions": ["calm"]}], "locations": [{"name": "Hangar", "visual_description": "steel"}], "chunk_analyses": [%s]}`, strings.Join(items, ",")), nil
}

func corpus(n int) []schema.Chunk {
	chunks := make([]schema.Chunk, n)
	for i := range chunks {
		chunks[i] = schema.Chunk{Index: i, Text: fmt.Sprintf("chunk text %d", i)}
	}
	return chunks
}

func TestSplit(t *testing.T) {
	text := strings.Repeat("word ", 3000)
	chunks := Split(text, 0)
	require.Len(t, chunks, 4)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.LessOrEqual(t, len([]rune(ch.Text)), DefaultChunkSize)
	}
	assert.Empty(t, Split("   ", 100))
}

func TestRunBatchesAndNormalizes(t *testing.T) {
	inf := &scripted{consolidation: `{"main_characters": [{"name": "Mara"}], "main_locations": [{"name": "Hangar"}], "tone_and_style": {"genre": "Science Fiction", "mood": "tense"}}`}

	var progress [][2]int
	a := New(inf, log.New(io.Discard), Options{Progress: func(done, total int) { progress = append(progress, [2]int{done, total}) }})
	res, reports := a.Run(context.Background(), corpus(23))

	assert.Equal(t, 3, inf.batchCalls)
	assert.Equal(t, [][2]int{{10, 23}, {20, 23}, {23, 23}}, progress)

	require.Len(t, res.ChunkAnalyses, 23)
	for i, ca := range res.ChunkAnalyses {
		assert.Equal(t, i, ca.ChunkIndex)
		assert.Equal(t, 1.0, ca.DramaticScore)
		assert.Equal(t, schema.DensityHigh, ca.VisualDensity)
		assert.Equal(t, []string{"Mara"}, ca.CharactersPresent)
		assert.Equal(t, fmt.Sprintf("moment %d", i), ca.VisualMoment)
	}

	assert.Equal(t, "sci-fi", res.StyleCategory)
	assert.Equal(t, "Mara", res.Characters[0].Name)
	require.Len(t, reports, 2)
	assert.False(t, reports[0].Fallback)
	assert.False(t, reports[1].Fallback)
}

func TestRunFailedBatchGetsNeutralRecords(t *testing.T) {
	inf := &scripted{failBatch: map[int]bool{1: true}, consErr: errors.New("timeout")}
	res, reports := New(inf, log.New(io.Discard), Options{BatchSize: 5}).Run(context.Background(), corpus(12))

	require.Len(t, res.ChunkAnalyses, 12)
	for i := 5; i < 10; i++ {
		assert.Equal(t, Neutral(i), res.ChunkAnalyses[i])
	}
	assert.Equal(t, schema.DensityHigh, res.ChunkAnalyses[10].VisualDensity)

	assert.True(t, reports[0].Fallback)
	assert.ErrorContains(t, reports[0].Error, "503")
	assert.True(t, reports[1].Fallback)

	// the fallback merge still finds the cast
	require.Len(t, res.Characters, 1)
	assert.Equal(t, "Mara", res.Characters[0].Name)
	assert.Equal(t, "fiction", res.StyleCategory)
}

func TestRunEmptyMakesNoCall(t *testing.T) {
	calls := 0
	inf := inference.Func(func(context.Context, *openai.ChatCompletionNewParams, string, string) (string, error) {
		calls++
		return "", nil
	})
	res, _ := New(inf, log.New(io.Discard), Options{}).Run(context.Background(), nil)
	assert.Empty(t, res.ChunkAnalyses)
	assert.Zero(t, calls)
}

func TestMergeCharactersRanksByMentions(t *testing.T) {
	got := mergeCharacters([]schema.ExtractedCharacter{
		{Name: "Ada", PhysicalDescription: "tall"},
		{Name: "Mara", Emotions: []string{"calm"}},
		{Name: "mara ", PhysicalDescription: "short hair, flight jacket", Emotions: []string{"Calm", "angry", "afraid"}},
		{Name: ""},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "Mara", got[0].Name)
	assert.Equal(t, "short hair, flight jacket", got[0].PhysicalDescription)
	assert.Equal(t, []string{"calm", "angry"}, got[0].Emotions)
}

func TestStyleCategory(t *testing.T) {
	for genre, want := range map[string]string{
		"":                         "fiction",
		"Epic Fantasy":             "fantasy",
		"cyberpunk noir":           "cyberpunk",
		"Historical fiction":       "historical",
		"Greek mythology retold":   "mythology",
		"literary":                 "fiction",
		"romance":                  "romance",
		"space opera":              "sci-fi",
		"gothic horror":            "horror",
		"detective mystery":        "mystery",
		"Slavic folklore":          "folklore",
		"psychological suspense":   "thriller",
		"swashbuckling adventure":  "adventure",
	} {
		assert.Equal(t, want, StyleCategory(genre), genre)
	}
}
