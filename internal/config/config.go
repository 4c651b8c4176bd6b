package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Generation GenerationConfig
	Auth       AuthConfig
	FanOut     FanOutConfig
	MCP        MCPConfig
	Log        LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type StorageConfig struct {
	DataDir string
}

// GenerationConfig points at an OpenAI-compatible chat completion endpoint.
type GenerationConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout string
}

type AuthConfig struct {
	JWTSecret       string
	ProfileCacheTTL string
}

// FanOutConfig controls persona selection and branch parallelism.
// Personas is a comma-separated list of persona keys.
type FanOutConfig struct {
	Personas    string
	MinPersonas int
	MaxPersonas int
	Parallelism int
}

// MCPConfig enables the stdio MCP server when ProfileHandle is set. Tool
// calls act on behalf of that profile.
type MCPConfig struct {
	ProfileHandle string
}

type LogConfig struct {
	Level string
	Mode  string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Generation: GenerationConfig{
			BaseURL: "https://ai.gateway.lovable.dev/v1",
			Model:   "google/gemini-2.5-flash",
			Timeout: "30s",
		},
		Auth: AuthConfig{
			ProfileCacheTTL: "60s",
		},
		FanOut: FanOutConfig{
			Personas:    "tech,health,business,culture",
			MinPersonas: 2,
			MaxPersonas: 4,
			Parallelism: 4,
		},
		Log: LogConfig{
			Level: "info",
			Mode:  "dev",
		},
	}
}

// PersonaKeys returns the configured persona keys, trimmed and without
// empties or duplicates, in declaration order.
func (c FanOutConfig) PersonaKeys() []string {
	seen := make(map[string]bool)
	var keys []string
	for _, k := range strings.Split(c.Personas, ",") {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}

// TimeoutDuration parses Timeout, falling back to 30s when it is invalid.
func (c GenerationConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(c.Timeout, 30*time.Second)
}

// CacheTTL parses ProfileCacheTTL, falling back to 60s when it is invalid.
func (c AuthConfig) CacheTTL() time.Duration {
	return parseDurationOr(c.ProfileCacheTTL, 60*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Load reads configuration from the platform-native backend, a .env file
// in the working directory, environment variables, and the platform secret
// store.
//
// On Linux the backend is a YAML file at $XDG_CONFIG_HOME/aury/config.yaml.
// Environment variables (AURY_*) override backend values on all platforms.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return loadWith(newPlatformBackend(), platformSecrets{})
}

// secretService names the secret-store service holding aury's secrets.
const secretService = "aury"

// secretStore reads secrets by account name.
type secretStore interface {
	Get(account string) (string, error)
}

func loadWith(b ConfigBackend, sec secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Generation.APIKey == "" {
		if key, err := sec.Get("generation_api_key"); err == nil && key != "" {
			cfg.Generation.APIKey = key
		}
	}
	if cfg.Auth.JWTSecret == "" {
		if key, err := sec.Get("jwt_secret"); err == nil && key != "" {
			cfg.Auth.JWTSecret = key
		}
	}

	if cfg.Generation.APIKey == "" {
		return Config{}, fmt.Errorf("%s", "missing required config: generation API key. "+
			"Set it via environment variable AURY_GENERATION_API_KEY"+apiKeyHint())
	}
	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("%s", "missing required config: JWT secret. "+
			"Set it via environment variable AURY_AUTH_JWT_SECRET"+apiKeyHint())
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	keys := c.FanOut.PersonaKeys()
	if len(keys) == 0 {
		return fmt.Errorf("fanout.personas must list at least one persona")
	}
	if c.FanOut.MinPersonas < 0 || c.FanOut.MaxPersonas < c.FanOut.MinPersonas {
		return fmt.Errorf("invalid persona bounds [%d,%d]", c.FanOut.MinPersonas, c.FanOut.MaxPersonas)
	}
	if c.FanOut.MaxPersonas > len(keys) {
		return fmt.Errorf("fanout.max_personas (%d) exceeds number of personas (%d)", c.FanOut.MaxPersonas, len(keys))
	}
	if c.FanOut.Parallelism < 1 {
		return fmt.Errorf("fanout.parallelism must be at least 1")
	}
	return nil
}

// platformSecrets reads the macOS Keychain or, elsewhere, the secrets file.
type platformSecrets struct{}

func (platformSecrets) Get(account string) (string, error) {
	return secretGet(account)
}
