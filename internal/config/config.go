package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultJWTExpiresIn      = "24h"
	DefaultWeComBaseURL      = "https://qyapi.weixin.qq.com"
	DefaultMPBaseURL         = "https://api.weixin.qq.com"
	DefaultWeComCallbackPath = "/wecom/callback"
	DefaultMPCallbackPath    = "/wx/callback"
	DefaultLLMBaseURL        = "https://api.deepseek.com"
	DefaultLLMModel          = "deepseek-chat"
	DefaultPersonaName       = "晴晴"
	DefaultChunkDelay        = "600ms"
	DefaultGenerationTimeout = "60s"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	WeCom    WeComConfig    `toml:"wecom"`
	MP       MPConfig       `toml:"mp"`
	LLM      LLMConfig      `toml:"llm"`
	Persona  PersonaConfig  `toml:"persona"`
	Dispatch DispatchConfig `toml:"dispatch"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn warning error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr" validate:"required"`
}

type AuthConfig struct {
	// JWTSecret enables bearer auth on /api/* when set.
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// WeComConfig is the encrypted channel: a WeCom self-built application.
type WeComConfig struct {
	Enabled        bool    `toml:"enabled"`
	CorpID         string  `toml:"corp_id" validate:"required_if=Enabled true"`
	CorpSecret     string  `toml:"corp_secret" validate:"required_if=Enabled true"`
	AgentID        int     `toml:"agent_id" validate:"required_if=Enabled true"`
	Token          string  `toml:"token" validate:"required_if=Enabled true"`
	EncodingAESKey string  `toml:"encoding_aes_key" validate:"required_if=Enabled true"`
	CallbackPath   string  `toml:"callback_path" validate:"startswith=/"`
	BaseURL        string  `toml:"base_url" validate:"url"`
	SendQPS        float64 `toml:"send_qps" validate:"gte=0"`
	FillerOnMedia  bool    `toml:"filler_on_media"`
}

// MPConfig is the plaintext channel: an official account (test account) in plaintext mode.
type MPConfig struct {
	Enabled       bool    `toml:"enabled"`
	AppID         string  `toml:"app_id" validate:"required_if=Enabled true"`
	AppSecret     string  `toml:"app_secret" validate:"required_if=Enabled true"`
	Token         string  `toml:"token" validate:"required_if=Enabled true"`
	CallbackPath  string  `toml:"callback_path" validate:"startswith=/"`
	BaseURL       string  `toml:"base_url" validate:"url"`
	SendQPS       float64 `toml:"send_qps" validate:"gte=0"`
	FillerOnMedia bool    `toml:"filler_on_media"`
}

type LLMConfig struct {
	APIKey      string  `toml:"api_key"`
	BaseURL     string  `toml:"base_url" validate:"url"`
	Model       string  `toml:"model" validate:"required"`
	Temperature float64 `toml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `toml:"max_tokens" validate:"gte=0"`
}

type PersonaConfig struct {
	Name             string `toml:"name" validate:"required"`
	SystemPrompt     string `toml:"system_prompt"`
	SystemPromptFile string `toml:"system_prompt_file"`
	MaxRounds        int    `toml:"max_rounds" validate:"gte=0"`
}

type DispatchConfig struct {
	Workers           int    `toml:"workers" validate:"gte=1,lte=1024"`
	QueueSize         int    `toml:"queue_size" validate:"gte=1"`
	ChunkDelay        string `toml:"chunk_delay"`
	GenerationTimeout string `toml:"generation_timeout"`
	MaxChunkRunes     int    `toml:"max_chunk_runes" validate:"gte=0"`
}

// ChunkDelayDuration parses ChunkDelay.
func (c DispatchConfig) ChunkDelayDuration() (time.Duration, error) {
	return parseDuration("dispatch.chunk_delay", c.ChunkDelay)
}

// GenerationTimeoutDuration parses GenerationTimeout.
func (c DispatchConfig) GenerationTimeoutDuration() (time.Duration, error) {
	return parseDuration("dispatch.generation_timeout", c.GenerationTimeout)
}

// JWTExpiresInDuration parses JWTExpiresIn.
func (c AuthConfig) JWTExpiresInDuration() (time.Duration, error) {
	return parseDuration("auth.jwt_expires_in", c.JWTExpiresIn)
}

func parseDuration(name, raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

// ResolveSystemPrompt returns SystemPrompt, or the contents of SystemPromptFile when set.
func (c PersonaConfig) ResolveSystemPrompt() (string, error) {
	if path := strings.TrimSpace(c.SystemPromptFile); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read system prompt: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	return c.SystemPrompt, nil
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		WeCom: WeComConfig{
			CallbackPath: DefaultWeComCallbackPath,
			BaseURL:      DefaultWeComBaseURL,
		},
		MP: MPConfig{
			CallbackPath:  DefaultMPCallbackPath,
			BaseURL:       DefaultMPBaseURL,
			FillerOnMedia: true,
		},
		LLM: LLMConfig{
			BaseURL:     DefaultLLMBaseURL,
			Model:       DefaultLLMModel,
			Temperature: 0.85,
			MaxTokens:   100,
		},
		Persona: PersonaConfig{
			Name:      DefaultPersonaName,
			MaxRounds: 8,
		},
		Dispatch: DispatchConfig{
			Workers:           8,
			QueueSize:         256,
			ChunkDelay:        DefaultChunkDelay,
			GenerationTimeout: DefaultGenerationTimeout,
		},
	}
}

// Load reads path (DefaultConfigPath when empty) over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("HTTP_ADDR", &cfg.Server.Addr)
	str("JWT_SECRET", &cfg.Auth.JWTSecret)

	str("WECOM_CORP_ID", &cfg.WeCom.CorpID)
	str("WECOM_CORP_SECRET", &cfg.WeCom.CorpSecret)
	str("WECOM_TOKEN", &cfg.WeCom.Token)
	str("WECOM_ENCODING_AES_KEY", &cfg.WeCom.EncodingAESKey)
	if v, ok := lookup("WECOM_AGENT_ID"); ok && strings.TrimSpace(v) != "" {
		id, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("WECOM_AGENT_ID: %w", err)
		}
		cfg.WeCom.AgentID = id
	}

	str("MP_TOKEN", &cfg.MP.Token)
	str("MP_APP_ID", &cfg.MP.AppID)
	str("MP_APP_SECRET", &cfg.MP.AppSecret)

	str("DEEPSEEK_API_KEY", &cfg.LLM.APIKey)
	str("DEEPSEEK_BASE_URL", &cfg.LLM.BaseURL)
	str("DEEPSEEK_MODEL", &cfg.LLM.Model)
	return nil
}

var validate = validator.New()

// Validate checks field constraints and the cross-field rules of enabled channels.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !c.WeCom.Enabled && !c.MP.Enabled {
		return errors.New("invalid config: no channel enabled (set wecom.enabled or mp.enabled)")
	}
	if c.WeCom.Enabled && len(c.WeCom.EncodingAESKey) != 43 {
		return fmt.Errorf("invalid config: wecom.encoding_aes_key must be 43 characters, got %d", len(c.WeCom.EncodingAESKey))
	}
	if c.WeCom.Enabled && c.MP.Enabled && c.WeCom.CallbackPath == c.MP.CallbackPath {
		return fmt.Errorf("invalid config: wecom and mp share callback path %q", c.WeCom.CallbackPath)
	}
	if _, err := c.Dispatch.ChunkDelayDuration(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Dispatch.GenerationTimeoutDuration(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Auth.JWTExpiresInDuration(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
