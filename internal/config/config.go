// Package config loads service settings from defaults, an optional YAML
// file, a .env file and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultListenAddr = "127.0.0.1:3000"
	DefaultAppURL     = "http://localhost:3000"
	DefaultModel      = "gpt-4.1"
	DefaultSQLitePath = "./.rube/rube.db"
	DefaultAuthPath   = "./.rube/auth.db"
	DefaultPromptsDir = "./.rube/prompts"
	DefaultAssistant  = "Rube"
	DefaultMaxSteps   = 50
)

type Config struct {
	ListenAddr  string            `mapstructure:"listenAddr"`
	AppURL      string            `mapstructure:"appUrl"`
	Composio    ComposioConfig    `mapstructure:"composio"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Store       StoreConfig       `mapstructure:"store"`
	Connections ConnectionsConfig `mapstructure:"connections"`
	Sessions    SessionsConfig    `mapstructure:"sessions"`
	Prompts     PromptsConfig     `mapstructure:"prompts"`
	Log         LogConfig         `mapstructure:"log"`
}

type ComposioConfig struct {
	APIKey        string `mapstructure:"apiKey"`
	BaseURL       string `mapstructure:"baseUrl"`
	WebhookSecret string `mapstructure:"webhookSecret"`
}

type LLMConfig struct {
	Provider          string `mapstructure:"provider"`
	Model             string `mapstructure:"model"`
	OpenAIKey         string `mapstructure:"openaiKey"`
	OpenAIBaseURL     string `mapstructure:"openaiBaseUrl"`
	GeminiKey         string `mapstructure:"geminiKey"`
	MaxSteps          int    `mapstructure:"maxSteps"`
	GenerateAttempts  int    `mapstructure:"generateAttempts"`
	ParallelToolCalls bool   `mapstructure:"parallelToolCalls"`
}

type StoreConfig struct {
	Backend       string        `mapstructure:"backend"`
	SQLitePath    string        `mapstructure:"sqlitePath"`
	AuthPath      string        `mapstructure:"authPath"`
	RedisAddr     string        `mapstructure:"redisAddr"`
	RedisPassword string        `mapstructure:"redisPassword"`
	RedisDB       int           `mapstructure:"redisDb"`
	RedisTTL      time.Duration `mapstructure:"redisTtl"`
}

type ConnectionsConfig struct {
	RequireIdentity   bool          `mapstructure:"requireIdentity"`
	WaitMaxAttempts   int           `mapstructure:"waitMaxAttempts"`
	WaitInterval      time.Duration `mapstructure:"waitInterval"`
	DetailConcurrency int           `mapstructure:"detailConcurrency"`
}

type SessionsConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Capacity int           `mapstructure:"capacity"`
}

type PromptsConfig struct {
	Dir           string `mapstructure:"dir"`
	AssistantName string `mapstructure:"assistantName"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envBindings maps config keys to environment variables, first match wins.
var envBindings = map[string][]string{
	"listenAddr":                    {"RUBE_LISTEN_ADDR"},
	"appUrl":                        {"RUBE_APP_URL", "NEXT_PUBLIC_APP_URL"},
	"composio.apiKey":               {"COMPOSIO_API_KEY"},
	"composio.baseUrl":              {"COMPOSIO_BASE_URL"},
	"composio.webhookSecret":        {"COMPOSIO_WEBHOOK_SECRET"},
	"llm.provider":                  {"RUBE_LLM_PROVIDER"},
	"llm.model":                     {"AI_MODEL"},
	"llm.openaiKey":                 {"OPENAI_API_KEY"},
	"llm.openaiBaseUrl":             {"OPENAI_BASE_URL"},
	"llm.geminiKey":                 {"GEMINI_API_KEY"},
	"llm.maxSteps":                  {"RUBE_MAX_STEPS"},
	"llm.generateAttempts":          {"RUBE_GENERATE_ATTEMPTS"},
	"llm.parallelToolCalls":         {"RUBE_PARALLEL_TOOL_CALLS"},
	"store.backend":                 {"RUBE_STORE_BACKEND"},
	"store.sqlitePath":              {"RUBE_SQLITE_PATH"},
	"store.authPath":                {"RUBE_AUTH_DB_PATH"},
	"store.redisAddr":               {"RUBE_REDIS_ADDR"},
	"store.redisPassword":           {"RUBE_REDIS_PASSWORD"},
	"store.redisDb":                 {"RUBE_REDIS_DB"},
	"store.redisTtl":                {"RUBE_REDIS_TTL"},
	"connections.requireIdentity":   {"RUBE_REQUIRE_IDENTITY"},
	"connections.waitMaxAttempts":   {"RUBE_WAIT_MAX_ATTEMPTS"},
	"connections.waitInterval":      {"RUBE_WAIT_INTERVAL"},
	"connections.detailConcurrency": {"RUBE_DETAIL_CONCURRENCY"},
	"sessions.ttl":                  {"RUBE_SESSION_TTL"},
	"sessions.capacity":             {"RUBE_SESSION_CAPACITY"},
	"prompts.dir":                   {"RUBE_PROMPTS_DIR"},
	"prompts.assistantName":         {"RUBE_ASSISTANT_NAME"},
	"log.level":                     {"RUBE_LOG_LEVEL"},
	"log.format":                    {"RUBE_LOG_FORMAT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listenAddr", DefaultListenAddr)
	v.SetDefault("appUrl", DefaultAppURL)
	v.SetDefault("composio.apiKey", "")
	v.SetDefault("composio.baseUrl", "")
	v.SetDefault("composio.webhookSecret", "")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", DefaultModel)
	v.SetDefault("llm.openaiKey", "")
	v.SetDefault("llm.openaiBaseUrl", "")
	v.SetDefault("llm.geminiKey", "")
	v.SetDefault("llm.maxSteps", DefaultMaxSteps)
	v.SetDefault("llm.generateAttempts", 2)
	v.SetDefault("llm.parallelToolCalls", false)
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.sqlitePath", DefaultSQLitePath)
	v.SetDefault("store.authPath", DefaultAuthPath)
	v.SetDefault("store.redisAddr", "127.0.0.1:6379")
	v.SetDefault("store.redisPassword", "")
	v.SetDefault("store.redisDb", 0)
	v.SetDefault("store.redisTtl", time.Hour)
	v.SetDefault("connections.requireIdentity", true)
	v.SetDefault("connections.waitMaxAttempts", 30)
	v.SetDefault("connections.waitInterval", 2*time.Second)
	v.SetDefault("connections.detailConcurrency", 8)
	v.SetDefault("sessions.ttl", 30*time.Minute)
	v.SetDefault("sessions.capacity", 1024)
	v.SetDefault("prompts.dir", DefaultPromptsDir)
	v.SetDefault("prompts.assistantName", DefaultAssistant)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads envFile (when present) into the process environment, then
// resolves settings. configFile may be empty.
func Load(configFile, envFile string) (Config, error) {
	if strings.TrimSpace(envFile) != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}
	if strings.TrimSpace(configFile) != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.LLM.Provider)) {
	case "openai", "gemini":
	default:
		return fmt.Errorf("llm.provider must be openai or gemini, got %q", c.LLM.Provider)
	}
	switch strings.ToLower(strings.TrimSpace(c.Store.Backend)) {
	case "sqlite", "hybrid":
	default:
		return fmt.Errorf("store.backend must be sqlite or hybrid, got %q", c.Store.Backend)
	}
	if c.LLM.MaxSteps <= 0 {
		return fmt.Errorf("llm.maxSteps must be positive")
	}
	if c.Connections.WaitMaxAttempts <= 0 || c.Connections.WaitInterval <= 0 {
		return fmt.Errorf("connections wait settings must be positive")
	}
	return nil
}

// ChatConfigured reports whether both the platform and a model key are set.
func (c Config) ChatConfigured() bool {
	if c.Composio.APIKey == "" {
		return false
	}
	if strings.EqualFold(c.LLM.Provider, "gemini") {
		return c.LLM.GeminiKey != ""
	}
	return c.LLM.OpenAIKey != ""
}
