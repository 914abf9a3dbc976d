package classify

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/spf13/viper"

	"github.com/afschowdhury/excavator-video-analyzer/internal/analysis"
)

//go:embed prompts/*.toml
var promptsFS embed.FS

// PromptTemplate is one declarative prompt definition: the system prompt
// plus its generation parameters.
type PromptTemplate struct {
	System      string
	Temperature float64
	MaxTokens   int
}

// PromptStore loads prompt templates from the embedded TOML files.
type PromptStore struct {
	templates map[string]PromptTemplate
}

// NewPromptStore parses every embedded template once.
func NewPromptStore() (*PromptStore, error) {
	entries, err := promptsFS.ReadDir("prompts")
	if err != nil {
		return nil, fmt.Errorf("cannot read embedded prompts: %w", err)
	}

	store := &PromptStore{templates: make(map[string]PromptTemplate)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		data, err := promptsFS.ReadFile("prompts/" + name)
		if err != nil {
			return nil, fmt.Errorf("cannot read prompt %s: %w", name, err)
		}

		v := viper.New()
		v.SetConfigType("toml")
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("cannot parse prompt %s: %w", name, err)
		}

		tmpl := PromptTemplate{
			System:      v.GetString("prompt.system"),
			Temperature: v.GetFloat64("generation.temperature"),
			MaxTokens:   v.GetInt("generation.max_tokens"),
		}
		if tmpl.System == "" {
			return nil, fmt.Errorf("prompt %s has an empty system prompt", name)
		}

		key := name[:len(name)-len(".toml")]
		store.templates[key] = tmpl
	}

	return store, nil
}

// Get returns the named template or a PromptTemplateMissing error.
func (s *PromptStore) Get(name string) (PromptTemplate, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return PromptTemplate{}, analysis.NewError(analysis.KindPromptTemplateMissing, stageName, "",
			fmt.Errorf("prompt template %q not found", name))
	}
	return tmpl, nil
}
