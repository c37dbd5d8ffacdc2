// Package t2i holds the text-to-image providers. They format the scene prompt
// in their own dialect; image generation itself is stubbed.
package t2i

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"inkwell/pkg/schema"
)

var ErrUnavailable = errors.New("t2i provider is not configured")

const negativeMarker = "--neg"

type Request struct {
	Prompt          string   `json:"prompt"`
	NegativePrompt  string   `json:"negative_prompt,omitempty"`
	ReferenceImages []string `json:"reference_images,omitempty"`
	Width           int      `json:"width"`
	Height          int      `json:"height"`
}

type Result struct {
	ImageURL   string `json:"image_url"`
	ImagePath  string `json:"image_path"`
	Provider   string `json:"provider"`
	PromptUsed string `json:"prompt_used"`
}

type Provider interface {
	Name() string
	Available() bool
	FormatPrompt(p schema.T2IPrompt) string
	Generate(ctx context.Context, req Request) (Result, error)
}

// NewRequest builds a 1024x1024 request from a formatted prompt, moving any
// "--neg" suffix into NegativePrompt.
func NewRequest(prompt string, refs ...string) Request {
	pos, neg := prompt, ""
	if i := strings.Index(prompt, negativeMarker); i >= 0 {
		pos = strings.TrimSpace(prompt[:i])
		neg = strings.TrimSpace(prompt[i+len(negativeMarker):])
	}
	return Request{Prompt: pos, NegativePrompt: neg, ReferenceImages: refs, Width: 1024, Height: 1024}
}

type stub struct {
	name      string
	available bool
	dialect   func(schema.T2IPrompt) string
	log       *log.Logger
}

func (s *stub) Name() string    { return s.name }
func (s *stub) Available() bool { return s.available }

func (s *stub) FormatPrompt(p schema.T2IPrompt) string {
	return cmp.Or(s.dialect(p), p.Abstract)
}

func (s *stub) Generate(ctx context.Context, req Request) (Result, error) {
	if !s.available {
		return Result{}, fmt.Errorf("%s: %w", s.name, ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.log.Info("generate requested, returning prompt only", "provider", s.name, "width", req.Width, "height", req.Height)
	return Result{Provider: s.name, PromptUsed: req.Prompt}, nil
}

// NewAbstract is always available and prefers the abstract prompt.
func NewAbstract(logger *log.Logger) Provider {
	return &stub{
		name:      "abstract",
		available: true,
		dialect:   func(p schema.T2IPrompt) string { return cmp.Or(p.Abstract, p.Flux, p.SD) },
		log:       cmp.Or(logger, log.Default()),
	}
}

// NewFlux is available with either a fal.ai or a Replicate key.
func NewFlux(falKey, replicateKey string, logger *log.Logger) Provider {
	return &stub{
		name:      "flux",
		available: strings.TrimSpace(falKey) != "" || strings.TrimSpace(replicateKey) != "",
		dialect:   func(p schema.T2IPrompt) string { return p.Flux },
		log:       cmp.Or(logger, log.Default()),
	}
}

// NewSD is available with an A1111 or a ComfyUI endpoint.
func NewSD(a1111URL, comfyURL string, logger *log.Logger) Provider {
	return &stub{
		name:      "sd",
		available: strings.TrimSpace(a1111URL) != "" || strings.TrimSpace(comfyURL) != "",
		dialect:   func(p schema.T2IPrompt) string { return p.SD },
		log:       cmp.Or(logger, log.Default()),
	}
}

// Providers is a name-keyed set with a fixed listing order.
type Providers struct {
	order []Provider
}

func NewProviders(ps ...Provider) *Providers {
	return &Providers{order: ps}
}

func (ps *Providers) Get(name string) (Provider, bool) {
	for _, p := range ps.order {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Pick returns the named provider, or the first available one when name is empty.
func (ps *Providers) Pick(name string) (Provider, error) {
	if name != "" {
		p, ok := ps.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown t2i provider %q", name)
		}
		return p, nil
	}
	for _, p := range ps.order {
		if p.Available() {
			return p, nil
		}
	}
	return nil, ErrUnavailable
}

// Status reports availability per provider.
func (ps *Providers) Status() map[string]bool {
	out := make(map[string]bool, len(ps.order))
	for _, p := range ps.order {
		out[p.Name()] = p.Available()
	}
	return out
}
