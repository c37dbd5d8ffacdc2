package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"INKWELL_LLM_PROVIDER", "INKWELL_LLM_TIMEOUT", "OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL",
	"GROK_API_KEY", "GROK_MODEL", "KIMI_API_KEY", "MOONSHOT_API_KEY", "GEMINI_API_KEY", "GEMINI_MODEL",
	"PORT", "INKWELL_DB_PATH", "INKWELL_UPLOAD_DIR", "UNSPLASH_ACCESS_KEY", "PEXELS_API_KEY",
	"PIXABAY_API_KEY", "SERPAPI_KEY", "SEARCH_API_KEY", "FAL_API_KEY", "REPLICATE_API_KEY",
	"SD_A1111_URL", "SD_COMFYUI_URL", "INKWELL_LOG_LEVEL", "INKWELL_SCENE_COUNT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, 120*time.Second, cfg.LLMTimeout())
	assert.Equal(t, ProviderLocal, cfg.ResolvedProvider())
	assert.Equal(t, log.InfoLevel, cfg.LogLevel())
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "inkwell.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: gemini
  timeout: 30s
server:
  port: "9000"
search:
  concurrency: 8
  cache_ttl: nonsense
providers:
  pixabay_api_key: from-file
log:
  level: debug
`), 0o644))

	t.Setenv("PIXABAY_API_KEY", "from-env")
	t.Setenv("SEARCH_API_KEY", "serp-alias")
	t.Setenv("INKWELL_SCENE_COUNT", "4")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, cfg.ResolvedProvider())
	assert.Equal(t, 30*time.Second, cfg.LLMTimeout())
	assert.Equal(t, ":9000", cfg.Addr())
	assert.Equal(t, 8, cfg.SearchOptions().Concurrency)
	assert.Equal(t, defaultCacheTTL, cfg.CacheTTL())
	assert.Equal(t, "from-env", cfg.ProviderKeys().Pixabay)
	assert.Equal(t, "serp-alias", cfg.ProviderKeys().SerpAPI)
	assert.Equal(t, 4, cfg.Analysis.SceneCount)
	assert.Equal(t, 4000, cfg.Analysis.ChunkSize, "unset fields keep defaults")
	assert.Equal(t, log.DebugLevel, cfg.LogLevel())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [unclosed"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestResolvedProviderPrefersExplicitThenKeys(t *testing.T) {
	cfg := Default()
	cfg.LLM.OpenAIKey = "oa"
	assert.Equal(t, ProviderOpenAI, cfg.ResolvedProvider())

	cfg.LLM.GrokKey = "xai"
	assert.Equal(t, ProviderGrok, cfg.ResolvedProvider())

	cfg.LLM.Provider = "Kimi"
	assert.Equal(t, ProviderKimi, cfg.ResolvedProvider())
}

func TestInferencer(t *testing.T) {
	cfg := Default()
	inf, err := cfg.Inferencer(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, inf)

	cfg.LLM.Provider = "carrier-pigeon"
	_, err = cfg.Inferencer(context.Background())
	assert.ErrorContains(t, err, "carrier-pigeon")
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "inkwell.yaml")
	cfg := Default()
	cfg.Search.TopN = 3
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Search.TopN)
}

func TestT2IProviders(t *testing.T) {
	cfg := Default()
	cfg.T2I.FalKey = "fal"
	status := cfg.T2IProviders(nil).Status()
	assert.True(t, status["abstract"])
	assert.True(t, status["flux"])
	assert.False(t, status["sd"])
}
