package config

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultAgentEndpoint       = "http://127.0.0.1:8787/agent/run"
	defaultRunTimeout          = "5m"
	defaultTranscriptsRelative = ".local/share/brewchat/transcripts"
	defaultDevAgentAddr        = "127.0.0.1:8787"
	defaultDevAgentSystem      = "You are a homebrewing assistant. Answer concisely and use metric units unless asked otherwise."
	defaultDevAgentMaxTokens   = 1024
	defaultAnthropicModel      = "claude-sonnet-4-20250514"
	defaultAnthropicVersion    = "2023-06-01"
	defaultRetryMaxRetries     = 3
	defaultRetryBaseDelay      = "300ms"
	defaultRetryMaxDelay       = "5s"
	defaultConfigRelativePath  = ".config/brewchat/config.toml"

	envAgentEndpoint    = "BREWCHAT_AGENT_ENDPOINT"
	envThreadsURL       = "BREWCHAT_THREADS_URL"
	envAgentToken       = "BREWCHAT_AGENT_TOKEN"
	envRunTimeout       = "BREWCHAT_RUN_TIMEOUT"
	envTranscriptDir    = "BREWCHAT_TRANSCRIPT_DIR"
	envDevAgentAddr     = "BREWCHAT_DEV_AGENT_ADDR"
	envAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	envAnthropicModel   = "BREWCHAT_ANTHROPIC_MODEL"
	envAnthropicBaseURL = "BREWCHAT_ANTHROPIC_BASE_URL"
	envAnthropicVersion = "BREWCHAT_ANTHROPIC_VERSION"
	envRetryMaxRetries  = "BREWCHAT_ANTHROPIC_RETRY_MAX_RETRIES"
	envRetryBaseDelay   = "BREWCHAT_ANTHROPIC_RETRY_BASE_DELAY"
	envRetryMaxDelay    = "BREWCHAT_ANTHROPIC_RETRY_MAX_DELAY"
)

var (
	// ErrInvalidConfig indicates malformed configuration input.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config is the application configuration root.
type Config struct {
	Agent      AgentConfig      `toml:"agent"`
	Transcript TranscriptConfig `toml:"transcript"`
	DevAgent   DevAgentConfig   `toml:"dev_agent"`
}

// AgentConfig configures the remote agent the client talks to.
type AgentConfig struct {
	Endpoint string `toml:"endpoint"`
	// ThreadsURL defaults to the scheme and host of Endpoint.
	ThreadsURL string            `toml:"threads_url"`
	Token      string            `toml:"token"`
	Headers    map[string]string `toml:"headers"`
	// RunTimeout bounds one send; "0s" disables the deadline.
	RunTimeout string `toml:"run_timeout"`
}

// TranscriptConfig configures local event transcripts.
type TranscriptConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// DevAgentConfig configures the local development agent backend.
type DevAgentConfig struct {
	Addr      string                  `toml:"addr"`
	System    string                  `toml:"system"`
	MaxTokens int                     `toml:"max_tokens"`
	Anthropic AnthropicProviderConfig `toml:"anthropic"`
}

// AnthropicProviderConfig configures Anthropic-specific runtime values.
type AnthropicProviderConfig struct {
	APIKey  string      `toml:"api_key"`
	Model   string      `toml:"model"`
	BaseURL string      `toml:"base_url"`
	Version string      `toml:"version"`
	Retry   RetryConfig `toml:"retry"`
}

// RetryConfig stores retry policy as config-friendly values.
type RetryConfig struct {
	MaxRetries int    `toml:"max_retries"`
	BaseDelay  string `toml:"base_delay"`
	MaxDelay   string `toml:"max_delay"`
}

// LoadOptions controls config loading behavior.
type LoadOptions struct {
	Path string
}

// AgentSettings is a validated client connection snapshot.
type AgentSettings struct {
	Endpoint   string
	ThreadsURL string
	Token      string
	Headers    map[string]string
	RunTimeout time.Duration
}

// AnthropicSettings is a validated Anthropic runtime settings snapshot.
type AnthropicSettings struct {
	APIKey  string
	Model   string
	BaseURL string
	Version string
	Retry   AnthropicRetrySettings
}

// AnthropicRetrySettings is the parsed retry policy.
type AnthropicRetrySettings struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Default returns application defaults.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			Endpoint:   defaultAgentEndpoint,
			RunTimeout: defaultRunTimeout,
		},
		Transcript: TranscriptConfig{
			Enabled: true,
			Dir:     defaultTranscriptDir(),
		},
		DevAgent: DevAgentConfig{
			Addr:      defaultDevAgentAddr,
			System:    defaultDevAgentSystem,
			MaxTokens: defaultDevAgentMaxTokens,
			Anthropic: AnthropicProviderConfig{
				Model:   defaultAnthropicModel,
				Version: defaultAnthropicVersion,
				Retry: RetryConfig{
					MaxRetries: defaultRetryMaxRetries,
					BaseDelay:  defaultRetryBaseDelay,
					MaxDelay:   defaultRetryMaxDelay,
				},
			},
		},
	}
}

// Load reads config file then applies environment variable overrides.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = defaultConfigPath()
	}

	if err := mergeConfigFile(&cfg, path); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AgentSettings returns validated client settings.
func (c Config) AgentSettings() (AgentSettings, error) {
	endpoint := strings.TrimSpace(c.Agent.Endpoint)
	parsed, err := url.Parse(endpoint)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return AgentSettings{}, fmt.Errorf("%w: agent.endpoint must be an http(s) URL, got %q", ErrInvalidConfig, endpoint)
	}

	threadsURL := strings.TrimRight(strings.TrimSpace(c.Agent.ThreadsURL), "/")
	if threadsURL == "" {
		threadsURL = parsed.Scheme + "://" + parsed.Host
	}

	var timeout time.Duration
	if raw := strings.TrimSpace(c.Agent.RunTimeout); raw != "" {
		timeout, err = time.ParseDuration(raw)
		if err != nil {
			return AgentSettings{}, fmt.Errorf("%w: parse agent run_timeout: %v", ErrInvalidConfig, err)
		}
		if timeout < 0 {
			return AgentSettings{}, fmt.Errorf("%w: agent run_timeout must be >= 0", ErrInvalidConfig)
		}
	}

	return AgentSettings{
		Endpoint:   endpoint,
		ThreadsURL: threadsURL,
		Token:      strings.TrimSpace(c.Agent.Token),
		Headers:    maps.Clone(c.Agent.Headers),
		RunTimeout: timeout,
	}, nil
}

// AnthropicSettings returns validated dev agent model settings.
func (c Config) AnthropicSettings() (AnthropicSettings, error) {
	anthropic := c.DevAgent.Anthropic
	baseDelay, err := time.ParseDuration(strings.TrimSpace(anthropic.Retry.BaseDelay))
	if err != nil {
		return AnthropicSettings{}, fmt.Errorf("%w: parse anthropic retry base_delay: %v", ErrInvalidConfig, err)
	}
	maxDelay, err := time.ParseDuration(strings.TrimSpace(anthropic.Retry.MaxDelay))
	if err != nil {
		return AnthropicSettings{}, fmt.Errorf("%w: parse anthropic retry max_delay: %v", ErrInvalidConfig, err)
	}
	if anthropic.Retry.MaxRetries < 0 {
		return AnthropicSettings{}, fmt.Errorf("%w: anthropic retry max_retries must be >= 0", ErrInvalidConfig)
	}

	return AnthropicSettings{
		APIKey:  strings.TrimSpace(anthropic.APIKey),
		Model:   strings.TrimSpace(anthropic.Model),
		BaseURL: strings.TrimSpace(anthropic.BaseURL),
		Version: strings.TrimSpace(anthropic.Version),
		Retry: AnthropicRetrySettings{
			MaxRetries: anthropic.Retry.MaxRetries,
			BaseDelay:  baseDelay,
			MaxDelay:   maxDelay,
		},
	}, nil
}

func mergeConfigFile(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	cfg.Transcript.Dir = expandHome(cfg.Transcript.Dir)
	return nil
}

func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			*dst = strings.TrimSpace(value)
		}
	}

	setString(envAgentEndpoint, &cfg.Agent.Endpoint)
	setString(envThreadsURL, &cfg.Agent.ThreadsURL)
	setString(envAgentToken, &cfg.Agent.Token)
	setString(envRunTimeout, &cfg.Agent.RunTimeout)
	if value, ok := os.LookupEnv(envTranscriptDir); ok && strings.TrimSpace(value) != "" {
		cfg.Transcript.Dir = expandHome(strings.TrimSpace(value))
	}
	setString(envDevAgentAddr, &cfg.DevAgent.Addr)

	if value, ok := os.LookupEnv(envAnthropicAPIKey); ok {
		cfg.DevAgent.Anthropic.APIKey = value
	}
	setString(envAnthropicModel, &cfg.DevAgent.Anthropic.Model)
	setString(envAnthropicBaseURL, &cfg.DevAgent.Anthropic.BaseURL)
	setString(envAnthropicVersion, &cfg.DevAgent.Anthropic.Version)
	if value, ok := os.LookupEnv(envRetryMaxRetries); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, envRetryMaxRetries, err)
		}
		cfg.DevAgent.Anthropic.Retry.MaxRetries = parsed
	}
	setString(envRetryBaseDelay, &cfg.DevAgent.Anthropic.Retry.BaseDelay)
	setString(envRetryMaxDelay, &cfg.DevAgent.Anthropic.Retry.MaxDelay)
	return nil
}

func validate(cfg Config) error {
	if _, err := cfg.AgentSettings(); err != nil {
		return err
	}
	if cfg.Transcript.Enabled && strings.TrimSpace(cfg.Transcript.Dir) == "" {
		return fmt.Errorf("%w: transcript.dir is required when transcripts are enabled", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.DevAgent.Addr) == "" {
		return fmt.Errorf("%w: dev_agent.addr is required", ErrInvalidConfig)
	}
	if cfg.DevAgent.MaxTokens < 0 {
		return fmt.Errorf("%w: dev_agent.max_tokens must be >= 0", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.DevAgent.Anthropic.Model) == "" {
		return fmt.Errorf("%w: dev_agent.anthropic.model is required", ErrInvalidConfig)
	}
	if _, err := cfg.AnthropicSettings(); err != nil {
		return err
	}
	return nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultConfigRelativePath)
}

func defaultTranscriptDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultTranscriptsRelative)
}

// expandHome resolves a leading "~/" against the user's home directory.
func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
