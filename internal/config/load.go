package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                  "0.0.0.0",
			Port:                  8731,
			RequestTimeoutSeconds: 120,
			RateLimitBurst:        5,
		},
		API: APIConfig{
			PublicModelID: "mobius",
			DefaultUser:   "anonymous",
		},
		Models: ModelsConfig{
			Orchestrator: "gpt-5-nano-2025-08-07",
			Embedding:    "text-embedding-3-small",
		},
		Specialists: SpecialistsConfig{
			PromptsDirectory:       "./system_prompts",
			OrchestratorPromptFile: "_orchestrator.md",
		},
		Sessions: SessionsConfig{
			HistorySize: 3,
			MaxSessions: 4096,
		},
		State: StateConfig{
			ConnectTimeoutSeconds: 5,
			Context: ContextConfig{
				RecentCheckins:      5,
				RecentJournalTitles: 5,
			},
			Decision: DecisionConfig{
				MaxJSONRetries: 1,
				OnFailure:      "footer_warning",
			},
			Memory: MemoryConfig{
				MinConfidence:   0.3,
				MaxSummaryChars: 240,
			},
			Projection: ProjectionConfig{
				Mode:            "full",
				OutputDirectory: "./state",
			},
		},
		Diagnostics: DiagnosticsConfig{
			Endpoints: EndpointsConfig{
				Health:      "/healthz",
				Readiness:   "/readyz",
				Diagnostics: "/diagnostics",
			},
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "mobius",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; the defaults plus environment stand alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// ApplyEnvOverrides overlays environment variables onto the config.
// Env always wins over file values; secrets arrive only this way.
func (c *Config) ApplyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("MOBIUS_HOST", &c.Server.Host)
	if v := os.Getenv("MOBIUS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	// MOBIUS_API_KEYS is a comma-separated list; MOBIUS_API_KEY a single
	// key. The list form wins when both are set.
	if v := os.Getenv("MOBIUS_API_KEY"); v != "" {
		c.Server.APIKeys = []string{v}
	}
	if v := os.Getenv("MOBIUS_API_KEYS"); v != "" {
		c.Server.APIKeys = splitCSV(v)
	}

	envStr("OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("OPENAI_API_BASE", &c.Providers.OpenAI.APIBase)
	envStr("GEMINI_API_KEY", &c.Providers.Gemini.APIKey)
	envStr("GEMINI_API_BASE", &c.Providers.Gemini.APIBase)

	envStr("MOBIUS_STATE_DSN", &c.State.Database.DSN)

	envStr("MOBIUS_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("MOBIUS_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	if c.Telemetry.Endpoint != "" && os.Getenv("MOBIUS_TELEMETRY_ENDPOINT") != "" {
		c.Telemetry.Enabled = true
	}

	envStr("MOBIUS_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("MOBIUS_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)

	envStr("MOBIUS_LOG_LEVEL", &c.Logging.Level)
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
