package config

// DefaultPrompt is the preamble used when assistant.prompt is left empty.
const DefaultPrompt = "This smart home is controlled by Home Assistant."

// DefaultLanguageAndMode selects English instructions without brightness or
// color fields.
const DefaultLanguageAndMode = "English"

// AssistantConfig holds the user-editable prompt settings.
type AssistantConfig struct {
	// Prompt is the preamble sent as the system message. It is a Go template
	// and may reference {{.LocationName}}.
	Prompt string `yaml:"prompt"`

	// LanguageAndMode selects the instruction language and feature set
	// (e.g., "English", "Dutch + brightness + color control", "nl+color").
	// Unknown values fall back to English without color fields.
	LanguageAndMode string `yaml:"language_and_mode"`

	// LocationName overrides the location name reported by Home Assistant.
	LocationName string `yaml:"location_name"`
}

// EffectivePrompt returns the configured prompt, or DefaultPrompt when the
// prompt is blank.
func (a AssistantConfig) EffectivePrompt() string {
	if a.Prompt == "" {
		return DefaultPrompt
	}
	return a.Prompt
}
