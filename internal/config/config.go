// Package config holds the gateway configuration: a JSON5 file overlaid
// with environment variables. Secrets (API keys, DSNs) are never read
// from the file, only from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/adhocore/gronx"
)

// Config is the root configuration for the Mobius gateway.
type Config struct {
	Server      ServerConfig      `json:"server"`
	API         APIConfig         `json:"api"`
	Providers   ProvidersConfig   `json:"providers"`
	Models      ModelsConfig      `json:"models"`
	Specialists SpecialistsConfig `json:"specialists"`
	Sessions    SessionsConfig    `json:"sessions"`
	State       StateConfig       `json:"state"`
	Diagnostics DiagnosticsConfig `json:"diagnostics,omitempty"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty"`
	Tailscale   TailscaleConfig   `json:"tailscale,omitempty"`
	Logging     LoggingConfig     `json:"logging,omitempty"`
}

// ServerConfig configures the HTTP listener and request admission.
type ServerConfig struct {
	Host                  string   `json:"host"`
	Port                  int      `json:"port"`
	APIKeys               []string `json:"api_keys,omitempty"` // empty disables auth
	RequestTimeoutSeconds int      `json:"request_timeout_seconds,omitempty"`
	RateLimitRPS          float64  `json:"rate_limit_rps,omitempty"` // 0 disables
	RateLimitBurst        int      `json:"rate_limit_burst,omitempty"`
}

// APIConfig shapes the public OpenAI-compatible surface.
type APIConfig struct {
	PublicModelID                 string `json:"public_model_id"`
	AllowProviderModelPassthrough bool   `json:"allow_provider_model_passthrough,omitempty"`
	DefaultUser                   string `json:"default_user,omitempty"`
}

// ProvidersConfig holds the two upstream endpoints. API keys come from
// env only (OPENAI_API_KEY, GEMINI_API_KEY).
type ProvidersConfig struct {
	OpenAI ProviderConfig `json:"openai"`
	Gemini ProviderConfig `json:"gemini"`
}

type ProviderConfig struct {
	APIKey  string `json:"-"`
	APIBase string `json:"api_base,omitempty"`
}

// ModelsConfig names the models used by each internal role.
type ModelsConfig struct {
	Orchestrator string   `json:"orchestrator"`
	Classifier   string   `json:"classifier,omitempty"` // defaults to orchestrator
	Fallbacks    []string `json:"fallbacks,omitempty"`
	Embedding    string   `json:"embedding,omitempty"`
}

// ClassifierModel returns the classifier model, falling back to the
// orchestrator model when unset.
func (m ModelsConfig) ClassifierModel() string {
	if m.Classifier != "" {
		return m.Classifier
	}
	return m.Orchestrator
}

// SpecialistsConfig maps domains to prompt files and models.
type SpecialistsConfig struct {
	PromptsDirectory       string                  `json:"prompts_directory"`
	OrchestratorPromptFile string                  `json:"orchestrator_prompt_file,omitempty"`
	AutoReload             *bool                   `json:"auto_reload,omitempty"` // default true
	Watch                  bool                    `json:"watch,omitempty"`       // fsnotify watcher on top of polling
	ByDomain               map[string]DomainConfig `json:"by_domain,omitempty"`
}

// DomainConfig overrides one specialist domain.
type DomainConfig struct {
	Model      string `json:"model,omitempty"`
	PromptFile string `json:"prompt_file,omitempty"`
}

// AutoReloadEnabled treats the unset pointer as true.
func (s SpecialistsConfig) AutoReloadEnabled() bool {
	return s.AutoReload == nil || *s.AutoReload
}

// DomainModel returns the configured model for a domain, falling back
// to the given default when the domain has no override.
func (s SpecialistsConfig) DomainModel(domain, fallback string) string {
	if d, ok := s.ByDomain[domain]; ok && d.Model != "" {
		return d.Model
	}
	return fallback
}

// DomainPromptFiles builds the domain → filename map for the prompt
// registry, containing only explicit overrides.
func (s SpecialistsConfig) DomainPromptFiles() map[string]string {
	out := make(map[string]string, len(s.ByDomain))
	for domain, d := range s.ByDomain {
		if d.PromptFile != "" {
			out[domain] = d.PromptFile
		}
	}
	return out
}

// SessionsConfig bounds the sticky-session tracker.
type SessionsConfig struct {
	HistorySize int `json:"history_size,omitempty"`
	MaxSessions int `json:"max_sessions,omitempty"`
}

// StateConfig configures the durable state pipeline.
type StateConfig struct {
	Enabled               bool             `json:"enabled"`
	AutoMigrate           bool             `json:"auto_migrate,omitempty"`
	ConnectTimeoutSeconds int              `json:"connect_timeout_seconds,omitempty"`
	Database              DatabaseConfig   `json:"database,omitempty"`
	Context               ContextConfig    `json:"context,omitempty"`
	Decision              DecisionConfig   `json:"decision,omitempty"`
	Checkin               ToggleConfig     `json:"checkin,omitempty"`
	Journal               ToggleConfig     `json:"journal,omitempty"`
	Memory                MemoryConfig     `json:"memory,omitempty"`
	Projection            ProjectionConfig `json:"projection,omitempty"`
}

// DatabaseConfig carries the state DSN. The DSN is a secret — env only
// (MOBIUS_STATE_DSN), never the config file.
type DatabaseConfig struct {
	DSN string `json:"-"`
}

// ContextConfig bounds the decision-context snapshot.
type ContextConfig struct {
	RecentCheckins      int `json:"recent_checkins,omitempty"`
	RecentJournalTitles int `json:"recent_journal_titles,omitempty"`
}

// DecisionConfig configures the state decision engine.
type DecisionConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"` // default true
	Model          string `json:"model,omitempty"`   // defaults to models.orchestrator
	MaxJSONRetries int    `json:"max_json_retries,omitempty"`
	OnFailure      string `json:"on_failure,omitempty"` // "footer_warning" or "silent"
}

// EnabledOrDefault treats the unset pointer as true.
func (d DecisionConfig) EnabledOrDefault() bool {
	return d.Enabled == nil || *d.Enabled
}

// ToggleConfig is a feature switch that defaults to on.
type ToggleConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
}

func (t ToggleConfig) EnabledOrDefault() bool {
	return t.Enabled == nil || *t.Enabled
}

// MemoryConfig configures the long-term memory writer.
type MemoryConfig struct {
	Enabled         *bool   `json:"enabled,omitempty"`
	MinConfidence   float64 `json:"min_confidence,omitempty"`
	MaxSummaryChars int     `json:"max_summary_chars,omitempty"`
}

func (m MemoryConfig) EnabledOrDefault() bool {
	return m.Enabled == nil || *m.Enabled
}

// ProjectionConfig configures the on-disk mirror of state writes.
type ProjectionConfig struct {
	Mode            string `json:"mode,omitempty"` // "off", "mirror", or "full"
	OutputDirectory string `json:"output_directory,omitempty"`
	ResyncSchedule  string `json:"resync_schedule,omitempty"` // cron expression, empty disables
}

// Active reports whether writes should be mirrored to disk.
func (p ProjectionConfig) Active() bool {
	return p.Mode == "mirror" || p.Mode == "full"
}

// DiagnosticsConfig names the diagnostics endpoint paths.
type DiagnosticsConfig struct {
	Endpoints EndpointsConfig `json:"endpoints,omitempty"`
}

type EndpointsConfig struct {
	Health      string `json:"health,omitempty"`
	Readiness   string `json:"readiness,omitempty"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"` // e.g. "localhost:4317"
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// TailscaleConfig configures the optional tsnet listener. Requires
// building with -tags tsnet. Auth key from env only (MOBIUS_TSNET_AUTH_KEY).
type TailscaleConfig struct {
	Hostname  string `json:"hostname,omitempty"`
	StateDir  string `json:"state_dir,omitempty"`
	AuthKey   string `json:"-"`
	Ephemeral bool   `json:"ephemeral,omitempty"`
}

// LoggingConfig shapes slog output.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`  // "debug", "info", "warn", "error"
	Format string `json:"format,omitempty"` // "text" (default) or "json"
}

// Validate collects configuration errors instead of failing on the
// first one, so a broken config reports everything at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.API.PublicModelID == "" {
		problems = append(problems, "api.public_model_id must not be empty")
	}
	if c.Models.Orchestrator == "" {
		problems = append(problems, "models.orchestrator must not be empty")
	}

	switch c.State.Decision.OnFailure {
	case "", "silent", "footer_warning":
	default:
		problems = append(problems, fmt.Sprintf("state.decision.on_failure %q must be silent or footer_warning", c.State.Decision.OnFailure))
	}
	switch c.State.Projection.Mode {
	case "", "off", "mirror", "full":
	default:
		problems = append(problems, fmt.Sprintf("state.projection.mode %q must be off, mirror, or full", c.State.Projection.Mode))
	}
	if sched := c.State.Projection.ResyncSchedule; sched != "" {
		if !gronx.New().IsValid(sched) {
			problems = append(problems, fmt.Sprintf("state.projection.resync_schedule %q is not a valid cron expression", sched))
		}
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		problems = append(problems, fmt.Sprintf("telemetry.protocol %q must be grpc or http", c.Telemetry.Protocol))
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be text or json", c.Logging.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
