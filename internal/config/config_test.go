package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAESKey = "abcdefghijklmnopqrstuvwxyz0123456789ABCDEFG"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultMPCallbackPath, cfg.MP.CallbackPath)
	assert.True(t, cfg.MP.FillerOnMedia)
	assert.False(t, cfg.WeCom.FillerOnMedia)
	assert.Equal(t, 8, cfg.Persona.MaxRounds)
	assert.InDelta(t, 0.85, cfg.LLM.Temperature, 1e-9)
	d, err := cfg.Dispatch.ChunkDelayDuration()
	require.NoError(t, err)
	assert.Equal(t, 600*time.Millisecond, d)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = ":9000"

[wecom]
enabled = true
corp_id = "ww1"
corp_secret = "s"
agent_id = 1000002
token = "tok"
encoding_aes_key = "`+testAESKey+`"

[dispatch]
workers = 2
chunk_delay = "500ms"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 1000002, cfg.WeCom.AgentID)
	assert.Equal(t, 2, cfg.Dispatch.Workers)
	assert.Equal(t, 256, cfg.Dispatch.QueueSize)
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "[server\naddr="))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"WECOM_CORP_ID":    "ww-env",
		"WECOM_AGENT_ID":   " 42 ",
		"MP_TOKEN":         "mp-token",
		"DEEPSEEK_API_KEY": "sk-env",
		"HTTP_ADDR":        "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := Default()
	require.NoError(t, applyEnv(&cfg, lookup))
	assert.Equal(t, "ww-env", cfg.WeCom.CorpID)
	assert.Equal(t, 42, cfg.WeCom.AgentID)
	assert.Equal(t, "mp-token", cfg.MP.Token)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr, "blank env values are ignored")

	env["WECOM_AGENT_ID"] = "abc"
	assert.Error(t, applyEnv(&cfg, lookup))
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("MP_APP_ID", "wx-from-env")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "wx-from-env", cfg.MP.AppID)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		cfg := Default()
		cfg.MP.Enabled = true
		cfg.MP.AppID = "wx1"
		cfg.MP.AppSecret = "secret"
		cfg.MP.Token = "token"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no channel", mutate: func(c *Config) { c.MP.Enabled = false }},
		{name: "mp missing token", mutate: func(c *Config) { c.MP.Token = "" }},
		{name: "wecom missing corp id", mutate: func(c *Config) {
			c.WeCom = WeComConfig{Enabled: true, CorpSecret: "s", AgentID: 1, Token: "t", EncodingAESKey: testAESKey, CallbackPath: "/w", BaseURL: DefaultWeComBaseURL}
		}},
		{name: "wecom short aes key", mutate: func(c *Config) {
			c.WeCom = WeComConfig{Enabled: true, CorpID: "ww", CorpSecret: "s", AgentID: 1, Token: "t", EncodingAESKey: "short", CallbackPath: "/w", BaseURL: DefaultWeComBaseURL}
		}},
		{name: "shared callback path", mutate: func(c *Config) {
			c.WeCom = WeComConfig{Enabled: true, CorpID: "ww", CorpSecret: "s", AgentID: 1, Token: "t", EncodingAESKey: testAESKey, CallbackPath: DefaultMPCallbackPath, BaseURL: DefaultWeComBaseURL}
		}},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }},
		{name: "zero workers", mutate: func(c *Config) { c.Dispatch.Workers = 0 }},
		{name: "temperature too high", mutate: func(c *Config) { c.LLM.Temperature = 3 }},
		{name: "bad chunk delay", mutate: func(c *Config) { c.Dispatch.ChunkDelay = "soon" }},
		{name: "bad callback path", mutate: func(c *Config) { c.MP.CallbackPath = "wx" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestResolveSystemPrompt(t *testing.T) {
	t.Parallel()

	p := PersonaConfig{SystemPrompt: "inline"}
	got, err := p.ResolveSystemPrompt()
	require.NoError(t, err)
	assert.Equal(t, "inline", got)

	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("  from file \n"), 0o600))
	p.SystemPromptFile = path
	got, err = p.ResolveSystemPrompt()
	require.NoError(t, err)
	assert.Equal(t, "from file", got)

	p.SystemPromptFile = filepath.Join(t.TempDir(), "missing.txt")
	_, err = p.ResolveSystemPrompt()
	assert.Error(t, err)
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Dispatch, cfg.Dispatch)
	assert.Equal(t, def.Persona, cfg.Persona)
	assert.Equal(t, def.WeCom.CallbackPath, cfg.WeCom.CallbackPath)
	assert.Equal(t, def.MP.CallbackPath, cfg.MP.CallbackPath)
	assert.Equal(t, def.MP.FillerOnMedia, cfg.MP.FillerOnMedia)
	assert.Equal(t, def.WeCom.FillerOnMedia, cfg.WeCom.FillerOnMedia)
}
