// Package persona holds the bot's character: the system prompt sent to the
// decision model, the context template and the canned replies.
package persona

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Messages are the fixed replies posted on the non-chat paths.
type Messages struct {
	Thinking       string `yaml:"thinking"`
	ImageCaption   string `yaml:"image_caption"`
	UploadFailed   string `yaml:"upload_failed"`
	GenerateFailed string `yaml:"generate_failed"`
	Undecided      string `yaml:"undecided"`
	Apology        string `yaml:"apology"`
}

// Persona is passed by value; it has no setters and is safe to share.
type Persona struct {
	Name          string `yaml:"name"`
	Language      string `yaml:"language"`
	ImageLanguage string `yaml:"image_language"`
	SystemPrompt  string `yaml:"system_prompt"`
	// ContextTemplate uses {parent} and {message} placeholders.
	ContextTemplate string   `yaml:"context_template"`
	Messages        Messages `yaml:"messages"`
}

// Default returns the built-in OtoMed persona.
func Default() Persona {
	p, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("persona: embedded default is invalid: %v", err))
	}
	return p
}

// Load reads a persona file. Fields missing from the file keep the default
// values, so a file may override only the system prompt.
func Load(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona file: %w", err)
	}
	p := Default()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Persona{}, fmt.Errorf("persona %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a complete persona document.
func Parse(data []byte) (Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Persona{}, err
	}
	return p, nil
}

// Validate reports the first required field that is empty.
func (p Persona) Validate() error {
	required := []struct{ name, value string }{
		{"system_prompt", p.SystemPrompt},
		{"context_template", p.ContextTemplate},
		{"messages.thinking", p.Messages.Thinking},
		{"messages.image_caption", p.Messages.ImageCaption},
		{"messages.upload_failed", p.Messages.UploadFailed},
		{"messages.generate_failed", p.Messages.GenerateFailed},
		{"messages.undecided", p.Messages.Undecided},
		{"messages.apology", p.Messages.Apology},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("missing %s", f.name)
		}
	}
	return nil
}

// Context renders the prompt for one mention. parent is empty when the
// mention is not a reply or the parent could not be fetched.
func (p Persona) Context(parent, message string) string {
	return strings.NewReplacer("{parent}", parent, "{message}", message).Replace(p.ContextTemplate)
}

// ImageTarget is the language image prompts are translated into.
func (p Persona) ImageTarget() string {
	if p.ImageLanguage == "" {
		return "en"
	}
	return p.ImageLanguage
}
