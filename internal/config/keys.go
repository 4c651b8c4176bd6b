package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "AURY_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "AURY_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "AURY_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "generation.base_url", typ: kString, env: "AURY_GENERATION_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Generation.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.BaseURL },
	},
	{
		key: "generation.api_key", typ: kString, env: "AURY_GENERATION_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Generation.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.APIKey },
	},
	{
		key: "generation.model", typ: kString, env: "AURY_GENERATION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generation.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Model },
	},
	{
		key: "generation.timeout", typ: kString, env: "AURY_GENERATION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generation.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Timeout },
	},
	{
		key: "auth.jwt_secret", typ: kString, env: "AURY_AUTH_JWT_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.JWTSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.JWTSecret },
	},
	{
		key: "auth.profile_cache_ttl", typ: kString, env: "AURY_AUTH_PROFILE_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Auth.ProfileCacheTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.ProfileCacheTTL },
	},
	{
		key: "fanout.personas", typ: kString, env: "AURY_FANOUT_PERSONAS",
		apply:   func(cfg *Config, v any) { cfg.FanOut.Personas = v.(string) },
		extract: func(cfg Config) any { return cfg.FanOut.Personas },
	},
	{
		key: "fanout.min_personas", typ: kInt, env: "AURY_FANOUT_MIN_PERSONAS",
		apply:   func(cfg *Config, v any) { cfg.FanOut.MinPersonas = v.(int) },
		extract: func(cfg Config) any { return cfg.FanOut.MinPersonas },
	},
	{
		key: "fanout.max_personas", typ: kInt, env: "AURY_FANOUT_MAX_PERSONAS",
		apply:   func(cfg *Config, v any) { cfg.FanOut.MaxPersonas = v.(int) },
		extract: func(cfg Config) any { return cfg.FanOut.MaxPersonas },
	},
	{
		key: "fanout.parallelism", typ: kInt, env: "AURY_FANOUT_PARALLELISM",
		apply:   func(cfg *Config, v any) { cfg.FanOut.Parallelism = v.(int) },
		extract: func(cfg Config) any { return cfg.FanOut.Parallelism },
	},
	{
		key: "mcp.profile_handle", typ: kString, env: "AURY_MCP_PROFILE_HANDLE",
		apply:   func(cfg *Config, v any) { cfg.MCP.ProfileHandle = v.(string) },
		extract: func(cfg Config) any { return cfg.MCP.ProfileHandle },
	},
	{
		key: "log.level", typ: kString, env: "AURY_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.mode", typ: kString, env: "AURY_LOG_MODE",
		apply:   func(cfg *Config, v any) { cfg.Log.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Mode },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
