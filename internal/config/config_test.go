package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MEMU_CONFIG_FILE", "")
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("MEMU_STORAGE_DIR", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BindingConfig{Profile: "zhipu", Model: "glm-4.5-air"}, cfg.Bindings[OpSummarize])
	assert.Equal(t, BindingConfig{Profile: "ollama", Model: "qwen2.5:1.5b"}, cfg.Bindings[OpChatFallback])
	assert.Equal(t, BindingConfig{Profile: "ollama", Model: "nomic-embed-text"}, cfg.Bindings[OpEmbed])

	zhipu := cfg.Profiles["zhipu"]
	assert.Equal(t, "zhipu", zhipu.Name)
	assert.Equal(t, KindOpenAI, zhipu.Kind)
	assert.Equal(t, "https://open.bigmodel.cn/api/coding/paas/v4", zhipu.BaseURL)
	assert.Equal(t, TimeoutConfig{Connect: 10 * time.Second, Read: 60 * time.Second, Write: 60 * time.Second, Pool: 60 * time.Second}, zhipu.Timeouts)
	assert.Equal(t, 0, zhipu.MaxConcurrency)

	ollama := cfg.Profiles["ollama"]
	assert.Equal(t, "http://localhost:11434", ollama.BaseURL)
	assert.Equal(t, TimeoutConfig{Connect: 30 * time.Second, Read: 5 * time.Minute, Write: 2 * time.Minute, Pool: 5 * time.Minute}, ollama.Timeouts)
	assert.Equal(t, 1, ollama.MaxConcurrency)

	assert.Equal(t, "./data", cfg.StorageDir)
	assert.Equal(t, filepath.Join("./data", "conversations.db"), cfg.SQLitePath)
	assert.Equal(t, "file", cfg.ConversationStore)
	assert.Equal(t, "chromem", cfg.RetrievalBackend)
	assert.Equal(t, 1, cfg.ProviderRetries)
	assert.False(t, cfg.SummarizeFallback)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MEMU_CONFIG_FILE", "")
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("OPENAI_BASE_URL", "http://172.17.0.1:11434/v1")
	t.Setenv("MEMU_EMBED_PROFILE", "zhipu")
	t.Setenv("MEMU_EMBED_MODEL", "embedding-3")
	t.Setenv("ZHIPU_READ_TIMEOUT", "2m")
	t.Setenv("OLLAMA_MAX_CONCURRENCY", "4")
	t.Setenv("MEMU_LOG_LEVEL", "debug")
	t.Setenv("MEMU_VECTOR_DIR", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://172.17.0.1:11434", cfg.Profiles["ollama"].BaseURL)
	assert.Equal(t, BindingConfig{Profile: "zhipu", Model: "embedding-3"}, cfg.Bindings[OpEmbed])
	assert.Equal(t, 2*time.Minute, cfg.Profiles["zhipu"].Timeouts.Read)
	assert.Equal(t, 10*time.Second, cfg.Profiles["zhipu"].Timeouts.Connect)
	assert.Equal(t, 4, cfg.Profiles["ollama"].MaxConcurrency)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Empty(t, cfg.VectorDir)
}

func TestLoadInvalidValues(t *testing.T) {
	t.Setenv("MEMU_CONFIG_FILE", "")
	t.Setenv("MEMU_PORT", "eighty")
	t.Setenv("OLLAMA_POOL_TIMEOUT", "forever")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEMU_PORT")
	assert.Contains(t, err.Error(), "OLLAMA_POOL_TIMEOUT")
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memu.yaml")
	content := `
profiles:
  deepseek:
    kind: openai
    base_url: https://api.deepseek.com/v1
    api_key: sk-test
    model: deepseek-chat
    timeouts:
      connect: 5s
      read: 90s
  ollama:
    base_url: http://gpu-box:11434
    max_concurrency: 2
bindings:
  summarize:
    profile: deepseek
  chat_fallback:
    model: llama3.2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("MEMU_CONFIG_FILE", path)
	t.Setenv("OLLAMA_MAX_CONCURRENCY", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	ds := cfg.Profiles["deepseek"]
	assert.Equal(t, "deepseek", ds.Name)
	assert.Equal(t, "sk-test", ds.APIKey)
	assert.Equal(t, 5*time.Second, ds.Timeouts.Connect)
	assert.Equal(t, 90*time.Second, ds.Timeouts.Read)
	assert.Equal(t, 60*time.Second, ds.Timeouts.Pool, "unset fields take the kind default")

	assert.Equal(t, "http://gpu-box:11434", cfg.Profiles["ollama"].BaseURL)
	assert.Equal(t, KindOllama, cfg.Profiles["ollama"].Kind)
	assert.Equal(t, 2, cfg.Profiles["ollama"].MaxConcurrency)

	assert.Equal(t, "deepseek", cfg.Bindings[OpSummarize].Profile)
	assert.Equal(t, "glm-4.5-air", cfg.Bindings[OpSummarize].Model)
	assert.Equal(t, "llama3.2", cfg.Bindings[OpChatFallback].Model)
}

func TestLoadConfigFileMissing(t *testing.T) {
	t.Setenv("MEMU_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Profiles: map[string]ProfileConfig{
				"zhipu":     {Kind: KindOpenAI, Model: "glm-4.5-air"},
				"ollama":    {Kind: KindOllama, Model: "qwen2.5:1.5b"},
				"anthropic": {Kind: KindAnthropic, Model: "claude"},
			},
			Bindings: map[string]BindingConfig{
				OpSummarize:    {Profile: "zhipu"},
				OpChatFallback: {Profile: "ollama"},
				OpEmbed:        {Profile: "ollama", Model: "nomic-embed-text"},
			},
			ConversationStore: "file",
			RetrievalBackend:  "chromem",
			RetrieveLimit:     10,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing binding", func(c *Config) { delete(c.Bindings, OpEmbed) }, "operation embed: no profile bound"},
		{"unknown profile", func(c *Config) { c.Bindings[OpSummarize] = BindingConfig{Profile: "nope"} }, `unknown profile "nope"`},
		{"embed on anthropic", func(c *Config) { c.Bindings[OpEmbed] = BindingConfig{Profile: "anthropic", Model: "x"} }, "cannot embed"},
		{"unknown kind", func(c *Config) { c.Profiles["odd"] = ProfileConfig{Kind: "grpc"} }, `unknown kind "grpc"`},
		{"unknown store", func(c *Config) { c.ConversationStore = "s3" }, "unknown conversation store"},
		{"zero limit", func(c *Config) { c.RetrieveLimit = 0 }, "retrieve limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBindingModelFallsBackToProfile(t *testing.T) {
	cfg := Config{
		Profiles: map[string]ProfileConfig{"ollama": {Kind: KindOllama, Model: "qwen2.5:1.5b"}},
		Bindings: map[string]BindingConfig{OpChatFallback: {Profile: "ollama"}},
	}
	assert.Equal(t, "qwen2.5:1.5b", cfg.BindingModel(OpChatFallback))
}

func TestNewLoggerFanout(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := NewLogger(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("memorized", "conversation_id", "abc")

	assert.Contains(t, stderr.String(), "conversation_id=abc")
	assert.NotContains(t, stderr.String(), "hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(file.String())), &entry))
	assert.Equal(t, "memorized", entry["msg"])
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "memu.log")
	logger, cleanup := SetupLogger(Config{LogFile: path, LogLevel: slog.LevelInfo})
	logger.Info("hello")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
