package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTimeoutCancelsSlowCalls(t *testing.T) {
	slow := Func(func(ctx context.Context, _ *openai.ChatCompletionNewParams, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	_, err := WithTimeout(slow, 10*time.Millisecond).Infer(context.Background(), nil, "sys", "user")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestWithTimeoutZeroIsPassthrough(t *testing.T) {
	f := Func(func(context.Context, *openai.ChatCompletionNewParams, string, string) (string, error) {
		return "ok", nil
	})
	inf := WithTimeout(f, 0)
	out, err := inf.Infer(context.Background(), nil, "", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestOpenAIInferencerSendsMessages(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Temperature float64 `json:"temperature"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"[]"}}]}`))
	}))
	defer srv.Close()

	inf := NewOpenAIInferencer("test-key", "test-model", srv.URL)
	out, err := inf.Infer(context.Background(), Params(0.1, 256), "system prompt", "user payload")
	require.NoError(t, err)

	assert.Equal(t, "[]", out)
	assert.Equal(t, "test-model", got.Model)
	assert.InDelta(t, 0.1, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "system prompt", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "user payload", got.Messages[1].Content)
}

func TestOpenAIInferencerDoesNotMutateParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{}"}}]}`))
	}))
	defer srv.Close()

	params := Params(0.2, 100)
	inf := NewOpenAIInferencer("k", "", srv.URL)
	_, err := inf.Infer(context.Background(), params, "s", "u")
	require.NoError(t, err)
	assert.Empty(t, params.Messages)
	assert.Empty(t, params.Model)
}

func TestOpenAIInferencerEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIInferencer("k", "m", srv.URL).Infer(context.Background(), nil, "s", "u")
	assert.Error(t, err)
}
