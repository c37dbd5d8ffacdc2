package config

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"inkwell/pkg/inference"
	"inkwell/pkg/providers"
	"inkwell/pkg/search"
	"inkwell/pkg/t2i"
)

const (
	ProviderOpenAI   = "openai"
	ProviderGrok     = "grok"
	ProviderKimi     = "kimi"
	ProviderMoonshot = "moonshot"
	ProviderGemini   = "gemini"
	ProviderLocal    = "local"
)

const (
	defaultTimeout  = 120 * time.Second
	defaultCacheTTL = 10 * time.Minute
)

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Search    SearchConfig    `yaml:"search"`
	Providers ProvidersConfig `yaml:"providers"`
	T2I       T2IConfig       `yaml:"t2i"`
	Log       LogConfig       `yaml:"log"`
}

type LLMConfig struct {
	// Provider is openai, grok, kimi, moonshot, gemini or local. Empty picks
	// the first configured key, then local.
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"base_url"`
	Timeout     string `yaml:"timeout"`
	OpenAIKey   string `yaml:"openai_api_key"`
	GrokKey     string `yaml:"grok_api_key"`
	GrokModel   string `yaml:"grok_model"`
	KimiKey     string `yaml:"kimi_api_key"`
	MoonshotKey string `yaml:"moonshot_api_key"`
	GeminiKey   string `yaml:"gemini_api_key"`
	GeminiModel string `yaml:"gemini_model"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type StoreConfig struct {
	Path      string `yaml:"path"`
	UploadDir string `yaml:"upload_dir"`
}

type AnalysisConfig struct {
	ChunkSize   int  `yaml:"chunk_size"`
	BatchSize   int  `yaml:"batch_size"`
	SceneCount  int  `yaml:"scene_count"`
	CountTokens bool `yaml:"count_tokens"`
}

type SearchConfig struct {
	Concurrency int    `yaml:"concurrency"`
	MinSize     int    `yaml:"min_size"`
	MaxResults  int    `yaml:"max_results"`
	TopN        int    `yaml:"top_n"`
	CacheTTL    string `yaml:"cache_ttl"`
}

type ProvidersConfig struct {
	Unsplash string `yaml:"unsplash_access_key"`
	Pexels   string `yaml:"pexels_api_key"`
	Pixabay  string `yaml:"pixabay_api_key"`
	SerpAPI  string `yaml:"serpapi_key"`
}

type T2IConfig struct {
	FalKey       string `yaml:"fal_api_key"`
	ReplicateKey string `yaml:"replicate_api_key"`
	A1111URL     string `yaml:"sd_a1111_url"`
	ComfyURL     string `yaml:"sd_comfyui_url"`
	QueueSize    int    `yaml:"queue_size"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Timeout: defaultTimeout.String(),
		},
		Server: ServerConfig{Port: "8080"},
		Store: StoreConfig{
			Path:      filepath.Join("data", "inkwell.db"),
			UploadDir: filepath.Join("data", "uploads"),
		},
		Analysis: AnalysisConfig{
			ChunkSize:  4000,
			BatchSize:  10,
			SceneCount: 10,
		},
		Search: SearchConfig{
			Concurrency: search.DefaultConcurrency,
			MinSize:     search.DefaultMinSize,
			MaxResults:  search.DefaultMaxResults,
			TopN:        2,
			CacheTTL:    defaultCacheTTL.String(),
		},
		T2I: T2IConfig{QueueSize: 100},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads an optional YAML file over the defaults and then applies the
// environment. An empty path or missing file yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func setString(dst *string, keys ...string) {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			*dst = v
			return
		}
	}
}

func (c *Config) applyEnvOverrides() {
	setString(&c.LLM.Provider, "INKWELL_LLM_PROVIDER")
	setString(&c.LLM.Timeout, "INKWELL_LLM_TIMEOUT")
	setString(&c.LLM.OpenAIKey, "OPENAI_API_KEY")
	setString(&c.LLM.Model, "OPENAI_MODEL")
	setString(&c.LLM.BaseURL, "OPENAI_BASE_URL")
	setString(&c.LLM.GrokKey, "GROK_API_KEY")
	setString(&c.LLM.GrokModel, "GROK_MODEL")
	setString(&c.LLM.KimiKey, "KIMI_API_KEY")
	setString(&c.LLM.MoonshotKey, "MOONSHOT_API_KEY")
	setString(&c.LLM.GeminiKey, "GEMINI_API_KEY")
	setString(&c.LLM.GeminiModel, "GEMINI_MODEL")

	setString(&c.Server.Port, "PORT")
	setString(&c.Store.Path, "INKWELL_DB_PATH")
	setString(&c.Store.UploadDir, "INKWELL_UPLOAD_DIR")

	setString(&c.Providers.Unsplash, "UNSPLASH_ACCESS_KEY")
	setString(&c.Providers.Pexels, "PEXELS_API_KEY")
	setString(&c.Providers.Pixabay, "PIXABAY_API_KEY")
	setString(&c.Providers.SerpAPI, "SERPAPI_KEY", "SEARCH_API_KEY")

	setString(&c.T2I.FalKey, "FAL_API_KEY")
	setString(&c.T2I.ReplicateKey, "REPLICATE_API_KEY")
	setString(&c.T2I.A1111URL, "SD_A1111_URL")
	setString(&c.T2I.ComfyURL, "SD_COMFYUI_URL")

	setString(&c.Log.Level, "INKWELL_LOG_LEVEL")

	if v := os.Getenv("INKWELL_SCENE_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Analysis.SceneCount = n
		}
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func (c *Config) LLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, defaultTimeout)
}

func (c *Config) CacheTTL() time.Duration {
	return parseDuration(c.Search.CacheTTL, defaultCacheTTL)
}

func (c *Config) Addr() string {
	port := strings.TrimPrefix(cmp.Or(c.Server.Port, "8080"), ":")
	return ":" + port
}

// LogLevel parses Log.Level, defaulting to info.
func (c *Config) LogLevel() log.Level {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(c.Log.Level)))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// ResolvedProvider is the LLM provider Inferencer will build.
func (c *Config) ResolvedProvider() string {
	if p := strings.ToLower(strings.TrimSpace(c.LLM.Provider)); p != "" {
		return p
	}
	switch {
	case c.LLM.GrokKey != "":
		return ProviderGrok
	case c.LLM.OpenAIKey != "":
		return ProviderOpenAI
	case c.LLM.GeminiKey != "":
		return ProviderGemini
	case c.LLM.KimiKey != "":
		return ProviderKimi
	case c.LLM.MoonshotKey != "":
		return ProviderMoonshot
	default:
		return ProviderLocal
	}
}

// Inferencer builds the configured LLM backend wrapped with the call timeout.
// An OpenAI provider without a key talks to a local LM Studio server.
func (c *Config) Inferencer(ctx context.Context) (inference.Inferencer, error) {
	var inf inference.Inferencer
	switch p := c.ResolvedProvider(); p {
	case ProviderOpenAI:
		if c.LLM.OpenAIKey == "" {
			inf = inference.NewLocalInferencer(c.LLM.BaseURL, "")
			break
		}
		inf = inference.NewOpenAIInferencer(c.LLM.OpenAIKey, c.LLM.Model, c.LLM.BaseURL)
	case ProviderGrok:
		inf = inference.NewGrokInferencer(c.LLM.GrokKey, c.LLM.GrokModel)
	case ProviderKimi:
		inf = inference.NewKimiInferencer(c.LLM.KimiKey, c.LLM.Model)
	case ProviderMoonshot:
		inf = inference.NewMoonshotInferencer(c.LLM.MoonshotKey, c.LLM.Model)
	case ProviderGemini:
		g, err := inference.NewGeminiInferencer(ctx, c.LLM.GeminiKey, c.LLM.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		inf = g
	case ProviderLocal:
		inf = inference.NewLocalInferencer(c.LLM.BaseURL, c.LLM.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", p)
	}
	return inference.WithTimeout(inf, c.LLMTimeout()), nil
}

func (c *Config) ProviderKeys() providers.Keys {
	return providers.Keys{
		Unsplash: c.Providers.Unsplash,
		Pexels:   c.Providers.Pexels,
		Pixabay:  c.Providers.Pixabay,
		SerpAPI:  c.Providers.SerpAPI,
	}
}

func (c *Config) SearchOptions() search.Options {
	return search.Options{
		Concurrency: c.Search.Concurrency,
		MinSize:     c.Search.MinSize,
		MaxResults:  c.Search.MaxResults,
		TopN:        c.Search.TopN,
		CacheTTL:    c.CacheTTL(),
	}
}

func (c *Config) T2IProviders(logger *log.Logger) *t2i.Providers {
	return t2i.NewProviders(
		t2i.NewAbstract(logger),
		t2i.NewFlux(c.T2I.FalKey, c.T2I.ReplicateKey, logger),
		t2i.NewSD(c.T2I.A1111URL, c.T2I.ComfyURL, logger),
	)
}
