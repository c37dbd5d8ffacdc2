package t2i

import (
	"context"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/pkg/schema"
)

var quiet = log.New(io.Discard)

func TestFormatPromptFallsBackToAbstract(t *testing.T) {
	full := schema.T2IPrompt{Abstract: "a", Flux: "f", SD: "s"}
	onlyAbstract := schema.T2IPrompt{Abstract: "a"}

	assert.Equal(t, "a", NewAbstract(quiet).FormatPrompt(full))
	assert.Equal(t, "f", NewFlux("k", "", quiet).FormatPrompt(full))
	assert.Equal(t, "s", NewSD("http://sd", "", quiet).FormatPrompt(full))
	assert.Equal(t, "a", NewFlux("k", "", quiet).FormatPrompt(onlyAbstract))
	assert.Equal(t, "a", NewSD("", "", quiet).FormatPrompt(onlyAbstract))
	assert.Equal(t, "f", NewAbstract(quiet).FormatPrompt(schema.T2IPrompt{Flux: "f"}))
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()

	res, err := NewAbstract(quiet).Generate(ctx, NewRequest("castle at dusk"))
	require.NoError(t, err)
	assert.Equal(t, Result{Provider: "abstract", PromptUsed: "castle at dusk"}, res)

	_, err = NewFlux("", "", quiet).Generate(ctx, NewRequest("x"))
	assert.ErrorIs(t, err, ErrUnavailable)

	res, err = NewSD("", "http://comfy", quiet).Generate(ctx, NewRequest("x"))
	require.NoError(t, err)
	assert.Equal(t, "sd", res.Provider)
}

func TestNewRequestSplitsNegative(t *testing.T) {
	req := NewRequest("(castle:1.2), masterpiece --neg blurry, text", "https://ref/1")
	assert.Equal(t, "(castle:1.2), masterpiece", req.Prompt)
	assert.Equal(t, "blurry, text", req.NegativePrompt)
	assert.Equal(t, []string{"https://ref/1"}, req.ReferenceImages)
	assert.Equal(t, 1024, req.Width)
}

func TestPick(t *testing.T) {
	ps := NewProviders(NewFlux("", "", quiet), NewAbstract(quiet), NewSD("", "", quiet))

	p, err := ps.Pick("")
	require.NoError(t, err)
	assert.Equal(t, "abstract", p.Name())

	p, err = ps.Pick("sd")
	require.NoError(t, err)
	assert.False(t, p.Available())

	_, err = ps.Pick("dalle")
	assert.Error(t, err)

	assert.Equal(t, map[string]bool{"flux": false, "abstract": true, "sd": false}, ps.Status())
}
