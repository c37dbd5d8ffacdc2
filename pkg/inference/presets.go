package inference

import "cmp"

const (
	GrokBaseURL     = "https://api.x.ai/v1"
	KimiBaseURL     = "https://api.kimi.com/coding/v1"
	MoonshotBaseURL = "https://api.moonshot.ai/v1"
	LMStudioBaseURL = "http://localhost:1234/v1"
)

func NewGrokInferencer(apiKey, model string) *OpenAIInferencer {
	o := NewOpenAIInferencer(apiKey, cmp.Or(model, "grok-4-fast-reasoning"), GrokBaseURL)
	o.name = "grok"
	return o
}

// NewKimiInferencer talks to the Kimi coding endpoint.
func NewKimiInferencer(apiKey, model string) *OpenAIInferencer {
	o := NewOpenAIInferencer(apiKey, cmp.Or(model, "kimi-for-coding"), KimiBaseURL)
	o.name = "kimi"
	return o
}

func NewMoonshotInferencer(apiKey, model string) *OpenAIInferencer {
	o := NewOpenAIInferencer(apiKey, cmp.Or(model, "kimi-k2-5"), MoonshotBaseURL)
	o.name = "moonshot"
	return o
}

// NewLocalInferencer targets an LM Studio server. The key is ignored by LM Studio
// but the SDK refuses to send a request without one.
func NewLocalInferencer(baseURL, model string) *OpenAIInferencer {
	o := NewOpenAIInferencer("lm-studio", cmp.Or(model, "local-model"), cmp.Or(baseURL, LMStudioBaseURL))
	o.name = "local"
	return o
}
