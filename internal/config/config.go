// Package config provides configuration for the assistant service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// STT providers.
const (
	STTProviderOpenAI   = "openai"
	STTProviderDeepgram = "deepgram"
)

// Config holds the service configuration.
//
// Values are resolved from built-in defaults, then the YAML file named by
// AVA_CONFIG, then environment variables.
type Config struct {
	// Server settings
	HTTPPort        int    `yaml:"http_port"`
	AssetsDir       string `yaml:"assets_dir"`
	AssetsURLPrefix string `yaml:"assets_url_prefix"`

	// OpenAI-compatible upstream
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	ChatModel     string `yaml:"chat_model"`
	WhisperModel  string `yaml:"whisper_model"`
	TTSModel      string `yaml:"tts_model"`
	TTSVoice      string `yaml:"tts_voice"`
	ImageModel    string `yaml:"image_model"`
	Mode          string `yaml:"mode"`

	// Speech to text
	STTProvider    string `yaml:"stt_provider"`
	DeepgramAPIKey string `yaml:"deepgram_api_key"`
	DeepgramURL    string `yaml:"deepgram_url"`

	// Timeouts
	LLMTimeout time.Duration `yaml:"llm_timeout"`
	RunTimeout time.Duration `yaml:"run_timeout"`

	// Journal and policy
	JournalDSN     string `yaml:"journal_dsn"`
	ToolPolicyFile string `yaml:"tool_policy_file"`

	// Artifact retention
	ArtifactRetention time.Duration `yaml:"artifact_retention"`
	ArtifactSweepCron string        `yaml:"artifact_sweep_cron"`

	// WebSocket settings
	WSPingInterval time.Duration `yaml:"ws_ping_interval"`
	WSWriteTimeout time.Duration `yaml:"ws_write_timeout"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPPort:          8080,
		AssetsDir:         "./tmp/ava-bot",
		AssetsURLPrefix:   "/assets",
		OpenAIBaseURL:     "https://api.openai.com/v1",
		ChatModel:         "gpt-4o",
		WhisperModel:      "whisper-1",
		TTSModel:          "tts-1",
		TTSVoice:          "alloy",
		ImageModel:        "dall-e-3",
		STTProvider:       STTProviderOpenAI,
		DeepgramURL:       "wss://api.deepgram.com/v1/listen",
		LLMTimeout:        120 * time.Second,
		RunTimeout:        5 * time.Minute,
		ArtifactRetention: 24 * time.Hour,
		ArtifactSweepCron: "@hourly",
		WSPingInterval:    30 * time.Second,
		WSWriteTimeout:    10 * time.Second,
		LogLevel:          "info",
	}
}

// Load loads configuration from defaults, the optional AVA_CONFIG file and
// environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("AVA_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.HTTPPort = getEnvInt("HTTP_PORT", cfg.HTTPPort)
	cfg.AssetsDir = getEnv("ASSETS_DIR", cfg.AssetsDir)
	cfg.AssetsURLPrefix = getEnv("ASSETS_URL_PREFIX", cfg.AssetsURLPrefix)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.ChatModel = getEnv("CHAT_MODEL", cfg.ChatModel)
	cfg.WhisperModel = getEnv("WHISPER_MODEL", cfg.WhisperModel)
	cfg.TTSModel = getEnv("TTS_MODEL", cfg.TTSModel)
	cfg.TTSVoice = getEnv("TTS_VOICE", cfg.TTSVoice)
	cfg.ImageModel = getEnv("IMAGE_MODEL", cfg.ImageModel)
	cfg.Mode = getEnv("AVA_MODE", cfg.Mode)
	cfg.STTProvider = getEnv("STT_PROVIDER", cfg.STTProvider)
	cfg.DeepgramAPIKey = getEnv("DEEPGRAM_API_KEY", cfg.DeepgramAPIKey)
	cfg.DeepgramURL = getEnv("DEEPGRAM_URL", cfg.DeepgramURL)
	cfg.LLMTimeout = getEnvDuration("LLM_TIMEOUT_MS", cfg.LLMTimeout)
	cfg.RunTimeout = getEnvDuration("RUN_TIMEOUT_MS", cfg.RunTimeout)
	cfg.JournalDSN = getEnv("JOURNAL_DSN", cfg.JournalDSN)
	cfg.ToolPolicyFile = getEnv("TOOL_POLICY_FILE", cfg.ToolPolicyFile)
	cfg.ArtifactRetention = getEnvDuration("ARTIFACT_RETENTION_MS", cfg.ArtifactRetention)
	cfg.ArtifactSweepCron = getEnv("ARTIFACT_SWEEP_CRON", cfg.ArtifactSweepCron)
	cfg.WSPingInterval = getEnvDuration("WS_PING_INTERVAL_MS", cfg.WSPingInterval)
	cfg.WSWriteTimeout = getEnvDuration("WS_WRITE_TIMEOUT_MS", cfg.WSWriteTimeout)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.STTProvider {
	case STTProviderOpenAI:
	case STTProviderDeepgram:
		if c.DeepgramAPIKey == "" && c.Mode != "MOCK" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when STT_PROVIDER=%s", STTProviderDeepgram)
		}
	default:
		return fmt.Errorf("unknown STT_PROVIDER %q", c.STTProvider)
	}
	if c.HTTPPort <= 0 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTPPort)
	}
	return nil
}

// JournalEnabled reports whether runs should be recorded.
func (c *Config) JournalEnabled() bool {
	return c.JournalDSN != ""
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
