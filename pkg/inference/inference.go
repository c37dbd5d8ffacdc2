package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
)

// Inferencer defines an interface for running model inference.
type Inferencer interface {
	Infer(ctx context.Context, params *openai.ChatCompletionNewParams, system, user string) (string, error)
}

// Func adapts a plain function to Inferencer.
type Func func(ctx context.Context, params *openai.ChatCompletionNewParams, system, user string) (string, error)

func (f Func) Infer(ctx context.Context, params *openai.ChatCompletionNewParams, system, user string) (string, error) {
	return f(ctx, params, system, user)
}

type timeoutInferencer struct {
	next    Inferencer
	timeout time.Duration
}

// WithTimeout bounds every call to next. A non-positive timeout returns next unchanged.
func WithTimeout(next Inferencer, timeout time.Duration) Inferencer {
	if timeout <= 0 || next == nil {
		return next
	}
	return &timeoutInferencer{next: next, timeout: timeout}
}

func (t *timeoutInferencer) Infer(ctx context.Context, params *openai.ChatCompletionNewParams, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	out, err := t.next.Infer(ctx, params, system, user)
	if err != nil {
		return "", fmt.Errorf("infer (timeout %s): %w", t.timeout, err)
	}
	return out, nil
}

// Params returns a fresh parameter set with the given sampling defaults.
func Params(temperature float64, maxTokens int64) *openai.ChatCompletionNewParams {
	return &openai.ChatCompletionNewParams{
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}
}
