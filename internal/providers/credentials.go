package providers

import "strings"

// Credentials identify one OpenAI-compatible upstream.
type Credentials struct {
	Name    string // "openai" or "gemini", used in logs and errors
	APIKey  string
	BaseURL string // e.g. "https://api.openai.com/v1", no trailing slash
}

// CredentialSet holds the two upstreams the gateway can route to.
type CredentialSet struct {
	OpenAI Credentials
	Gemini Credentials
}

// NewCredentialSet normalizes base URLs and applies defaults.
func NewCredentialSet(openaiKey, openaiBase, geminiKey, geminiBase string) CredentialSet {
	if openaiBase == "" {
		openaiBase = "https://api.openai.com/v1"
	}
	if geminiBase == "" {
		geminiBase = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	return CredentialSet{
		OpenAI: Credentials{Name: "openai", APIKey: openaiKey, BaseURL: strings.TrimRight(openaiBase, "/")},
		Gemini: Credentials{Name: "gemini", APIKey: geminiKey, BaseURL: strings.TrimRight(geminiBase, "/")},
	}
}

// IsGeminiModel reports whether a model name routes to the Gemini
// upstream. Matches "gemini*" and "openai/gemini*", case-insensitive.
func IsGeminiModel(model string) bool {
	lower := strings.ToLower(model)
	return strings.HasPrefix(lower, "gemini") || strings.HasPrefix(lower, "openai/gemini")
}

// For picks the credentials for a model name.
func (s CredentialSet) For(model string) Credentials {
	if IsGeminiModel(model) {
		return s.Gemini
	}
	return s.OpenAI
}

// CallModel returns the model id to put on the wire. Gemini models
// going through Google's OpenAI-compatible endpoint need an "openai/"
// prefix; the rewrite is idempotent and the caller keeps the original
// name for used-model reporting.
func (s CredentialSet) CallModel(model string) string {
	if !IsGeminiModel(model) {
		return model
	}
	if !strings.Contains(strings.ToLower(s.Gemini.BaseURL), "/openai") {
		return model
	}
	if strings.HasPrefix(strings.ToLower(model), "openai/") {
		return model
	}
	return "openai/" + model
}
