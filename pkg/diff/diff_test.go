package diff

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/pkg/schema"
)

func scene(title string, start, end int, chars ...string) schema.Scene {
	return schema.Scene{Title: title, ChunkStartIndex: start, ChunkEndIndex: end, CharactersPresent: chars, SceneType: schema.SceneAction}
}

func TestScenesPairsByOverlapThenTitle(t *testing.T) {
	oldS := []schema.Scene{
		scene("The Hangar Fire", 0, 3, "Mara"),
		scene("Signal From Below", 10, 13),
		scene("The Last Broadcast", 20, 23),
	}
	newS := []schema.Scene{
		scene("The Hangar Burns", 1, 4, "Mara", "K-7"),
		scene("Signal From Below", 30, 33),
		scene("A Quiet Dawn", 40, 43),
	}

	d := Scenes(oldS, newS)
	require.Len(t, d.Scenes, 4)

	assert.Equal(t, Modified, d.Scenes[0].State)
	assert.Equal(t, "The Hangar Burns", d.Scenes[0].Title)
	assert.Equal(t, []string{"K-7"}, d.Scenes[0].CharAdd)

	assert.Equal(t, Removed, d.Scenes[1].State)
	assert.Equal(t, "The Last Broadcast", d.Scenes[1].Title)

	assert.Equal(t, Modified, d.Scenes[2].State, "paired by title, range moved")
	assert.Equal(t, Added, d.Scenes[3].State)

	assert.Equal(t, map[string]int{"modified": 2, "removed": 1, "added": 1}, d.Counts())
}

func TestScenesUnchanged(t *testing.T) {
	s := []schema.Scene{scene("Same", 0, 3, "Mara")}
	d := Scenes(s, s)
	require.Len(t, d.Scenes, 1)
	assert.Equal(t, Unchanged, d.Scenes[0].State)
	assert.Empty(t, d.Scenes[0].FieldDiffs)
}

func TestPromptWordDiff(t *testing.T) {
	sd := Prompt("a chrome android in rain", "a chrome android in fog")
	assert.True(t, sd.Changed())

	var ins, del []string
	for _, d := range sd.Deltas {
		switch d.Op {
		case Insert:
			ins = append(ins, d.Text)
		case Delete:
			del = append(del, d.Text)
		}
	}
	assert.Equal(t, []string{"fog"}, ins)
	assert.Equal(t, []string{"rain"}, del)

	assert.False(t, Prompt("same", "same").Changed())
}

func TestJSONAndPrint(t *testing.T) {
	d := Scenes(nil, []schema.Scene{scene("New", 0, 2)})
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"state":"added"`)
	assert.Contains(t, string(raw), `"op":"insert"`)

	var buf bytes.Buffer
	d.Print(&buf)
	assert.Contains(t, buf.String(), "New")
	assert.Contains(t, buf.String(), "0-2")
}
