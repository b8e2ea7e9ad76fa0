package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider kinds.
const (
	KindOpenAI    = "openai" // OpenAI-compatible cloud endpoint (Zhipu GLM and friends)
	KindOllama    = "ollama"
	KindAnthropic = "anthropic"
	KindBedrock   = "bedrock"
)

// Routed operations.
const (
	OpSummarize    = "summarize"
	OpChatFallback = "chat_fallback"
	OpEmbed        = "embed"
)

// Operations lists every routed operation in a stable order.
var Operations = []string{OpSummarize, OpChatFallback, OpEmbed}

// TimeoutConfig is the per-profile timeout policy.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Read    time.Duration `yaml:"read"`
	Write   time.Duration `yaml:"write"`
	Pool    time.Duration `yaml:"pool"`
}

// ProfileConfig describes one model endpoint.
type ProfileConfig struct {
	Name           string        `yaml:"-"`
	Kind           string        `yaml:"kind"`
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	Region         string        `yaml:"region"`
	Timeouts       TimeoutConfig `yaml:"timeouts"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// BindingConfig routes an operation to a profile and model.
type BindingConfig struct {
	Profile string `yaml:"profile"`
	Model   string `yaml:"model"`
}

// Config holds all configuration values.
type Config struct {
	// Providers and routing
	Profiles          map[string]ProfileConfig
	Bindings          map[string]BindingConfig
	ProviderRetries   int
	SummarizeFallback bool

	// Conversation store
	StorageDir        string
	ConversationStore string // file, sqlite, memory
	SQLitePath        string

	// Retrieval backend
	RetrievalBackend string // chromem, surrealdb
	VectorDir        string
	EmbedDimension   int
	RetrieveLimit    int

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// HTTP
	Port      int
	RateLimit float64
	RateBurst int
	SentryDSN string

	// Client
	APIURL string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// fileConfig is the YAML overlay read from MEMU_CONFIG_FILE.
type fileConfig struct {
	Profiles map[string]ProfileConfig `yaml:"profiles"`
	Bindings map[string]BindingConfig `yaml:"bindings"`
}

// DefaultTimeouts returns the timeout policy for a profile kind.
func DefaultTimeouts(kind string) TimeoutConfig {
	if kind == KindOllama {
		return TimeoutConfig{Connect: 30 * time.Second, Read: 5 * time.Minute, Write: 2 * time.Minute, Pool: 5 * time.Minute}
	}
	return TimeoutConfig{Connect: 10 * time.Second, Read: 60 * time.Second, Write: 60 * time.Second, Pool: 60 * time.Second}
}

// DefaultMaxConcurrency returns the inference slot count for a profile kind.
// Zero means unbounded.
func DefaultMaxConcurrency(kind string) int {
	if kind == KindOllama {
		return 1
	}
	return 0
}

// Load reads configuration from environment variables, then overlays the
// YAML file named by MEMU_CONFIG_FILE when set.
func Load() (Config, error) {
	var p envParser

	storageDir := getEnv("MEMU_STORAGE_DIR", "./data")

	summarizeModel := getEnv("DEFAULT_LLM_MODEL", "glm-4.5-air")
	embedModel := getEnv("DEFAULT_EMBED_MODEL", "nomic-embed-text")
	ollamaChatModel := getEnv("OLLAMA_CHAT_MODEL", "qwen2.5:1.5b")

	profiles := map[string]ProfileConfig{
		"zhipu": {
			Kind:    KindOpenAI,
			BaseURL: getEnv("ZHIPU_BASE_URL", "https://open.bigmodel.cn/api/coding/paas/v4"),
			APIKey:  os.Getenv("ZHIPU_API_KEY"),
			Model:   summarizeModel,
		},
		"ollama": {
			Kind:    KindOllama,
			BaseURL: ollamaBaseURL(),
			Model:   ollamaChatModel,
		},
		"anthropic": {
			Kind:   KindAnthropic,
			APIKey: os.Getenv("ANTHROPIC_API_KEY"),
			Model:  getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		},
		"bedrock": {
			Kind:   KindBedrock,
			Region: getEnv("BEDROCK_REGION", "us-east-1"),
			Model:  getEnv("BEDROCK_MODEL", "anthropic.claude-3-haiku-20240307-v1:0"),
		},
	}

	cfg := Config{
		Profiles: profiles,
		Bindings: map[string]BindingConfig{
			OpSummarize: {
				Profile: getEnv("MEMU_SUMMARIZE_PROFILE", "zhipu"),
				Model:   getEnv("MEMU_SUMMARIZE_MODEL", summarizeModel),
			},
			OpChatFallback: {
				Profile: getEnv("MEMU_CHAT_FALLBACK_PROFILE", "ollama"),
				Model:   getEnv("MEMU_CHAT_FALLBACK_MODEL", ollamaChatModel),
			},
			OpEmbed: {
				Profile: getEnv("MEMU_EMBED_PROFILE", "ollama"),
				Model:   getEnv("MEMU_EMBED_MODEL", embedModel),
			},
		},
		ProviderRetries:   p.int("MEMU_PROVIDER_RETRIES", 1),
		SummarizeFallback: p.bool("MEMU_SUMMARIZE_FALLBACK", false),

		StorageDir:        storageDir,
		ConversationStore: getEnv("MEMU_CONVERSATION_STORE", "file"),
		SQLitePath:        getEnv("MEMU_SQLITE_PATH", filepath.Join(storageDir, "conversations.db")),

		RetrievalBackend: getEnv("MEMU_RETRIEVAL_BACKEND", "chromem"),
		VectorDir:        getEnvAllowEmpty("MEMU_VECTOR_DIR", filepath.Join(storageDir, "vectors")),
		EmbedDimension:   p.int("MEMU_EMBED_DIMENSION", 768),
		RetrieveLimit:    p.int("MEMU_RETRIEVE_LIMIT", 10),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "memu"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "memory"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		Port:      p.int("MEMU_PORT", 8000),
		RateLimit: p.float("MEMU_RATE_LIMIT", 0),
		RateBurst: p.int("MEMU_RATE_BURST", 10),
		SentryDSN: os.Getenv("SENTRY_DSN"),

		APIURL: getEnv("MEMU_API_URL", "http://localhost:8000"),

		LogFile:  getEnv("MEMU_LOG_FILE", "/tmp/memu.log"),
		LogLevel: parseLogLevel(getEnv("MEMU_LOG_LEVEL", "INFO")),
	}

	if path := os.Getenv("MEMU_CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}

	// Timeouts and slots come last so file-defined profiles pick up env overrides too.
	for name, prof := range cfg.Profiles {
		prof.Name = name
		prof.Timeouts = p.timeouts(name, prof.Kind, prof.Timeouts)
		slots := prof.MaxConcurrency
		if slots == 0 {
			slots = DefaultMaxConcurrency(prof.Kind)
		}
		prof.MaxConcurrency = p.int(envPrefix(name)+"_MAX_CONCURRENCY", slots)
		cfg.Profiles[name] = prof
	}

	if err := p.err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	for name, prof := range fc.Profiles {
		base := c.Profiles[name]
		c.Profiles[name] = mergeProfile(base, prof)
	}
	for op, b := range fc.Bindings {
		cur := c.Bindings[op]
		if b.Profile != "" {
			cur.Profile = b.Profile
		}
		if b.Model != "" {
			cur.Model = b.Model
		}
		c.Bindings[op] = cur
	}
	return nil
}

func mergeProfile(base, over ProfileConfig) ProfileConfig {
	if over.Kind != "" {
		base.Kind = over.Kind
	}
	if over.BaseURL != "" {
		base.BaseURL = over.BaseURL
	}
	if over.APIKey != "" {
		base.APIKey = over.APIKey
	}
	if over.Model != "" {
		base.Model = over.Model
	}
	if over.Region != "" {
		base.Region = over.Region
	}
	if over.MaxConcurrency != 0 {
		base.MaxConcurrency = over.MaxConcurrency
	}
	if over.Timeouts != (TimeoutConfig{}) {
		base.Timeouts = over.Timeouts
	}
	return base
}

// Validate checks that every operation is bound to a known profile with a model.
func (c Config) Validate() error {
	var errs []error
	for _, op := range Operations {
		b, ok := c.Bindings[op]
		if !ok || b.Profile == "" {
			errs = append(errs, fmt.Errorf("operation %s: no profile bound", op))
			continue
		}
		prof, ok := c.Profiles[b.Profile]
		if !ok {
			errs = append(errs, fmt.Errorf("operation %s: unknown profile %q", op, b.Profile))
			continue
		}
		if b.Model == "" && prof.Model == "" {
			errs = append(errs, fmt.Errorf("operation %s: no model for profile %q", op, b.Profile))
		}
		if op == OpEmbed && prof.Kind != KindOpenAI && prof.Kind != KindOllama {
			errs = append(errs, fmt.Errorf("operation %s: profile %q (%s) cannot embed", op, b.Profile, prof.Kind))
		}
	}

	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		switch c.Profiles[name].Kind {
		case KindOpenAI, KindOllama, KindAnthropic, KindBedrock:
		default:
			errs = append(errs, fmt.Errorf("profile %s: unknown kind %q", name, c.Profiles[name].Kind))
		}
	}

	switch c.ConversationStore {
	case "file", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown conversation store %q", c.ConversationStore))
	}
	switch c.RetrievalBackend {
	case "chromem", "surrealdb":
	default:
		errs = append(errs, fmt.Errorf("unknown retrieval backend %q", c.RetrievalBackend))
	}
	if c.RetrieveLimit <= 0 {
		errs = append(errs, errors.New("retrieve limit must be positive"))
	}
	return errors.Join(errs...)
}

// BindingModel returns the model for op, falling back to the profile default.
func (c Config) BindingModel(op string) string {
	b := c.Bindings[op]
	if b.Model != "" {
		return b.Model
	}
	return c.Profiles[b.Profile].Model
}

// ollamaBaseURL prefers OLLAMA_BASE_URL and otherwise derives the server
// root from an OpenAI-style OPENAI_BASE_URL ending in /v1.
func ollamaBaseURL() string {
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		return v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		return strings.TrimSuffix(strings.TrimSuffix(v, "/"), "/v1")
	}
	return "http://localhost:11434"
}

func envPrefix(profile string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(profile))
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvAllowEmpty distinguishes an explicitly empty variable from an unset one.
func getEnvAllowEmpty(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// envParser collects parse failures so Load reports all of them at once.
type envParser struct {
	errs []error
}

func (p *envParser) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (p *envParser) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return def
	}
	return f
}

func (p *envParser) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

func (p *envParser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

// timeouts resolves a profile's policy: env var, then file value, then kind default.
func (p *envParser) timeouts(profile, kind string, file TimeoutConfig) TimeoutConfig {
	def := DefaultTimeouts(kind)
	pick := func(fileVal, defVal time.Duration) time.Duration {
		if fileVal > 0 {
			return fileVal
		}
		return defVal
	}
	prefix := envPrefix(profile)
	return TimeoutConfig{
		Connect: p.duration(prefix+"_CONNECT_TIMEOUT", pick(file.Connect, def.Connect)),
		Read:    p.duration(prefix+"_READ_TIMEOUT", pick(file.Read, def.Read)),
		Write:   p.duration(prefix+"_WRITE_TIMEOUT", pick(file.Write, def.Write)),
		Pool:    p.duration(prefix+"_POOL_TIMEOUT", pick(file.Pool, def.Pool)),
	}
}

func (p *envParser) err() error {
	return errors.Join(p.errs...)
}
