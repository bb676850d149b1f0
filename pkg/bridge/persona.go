package bridge

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultPersonaTemplate = `You are a patient, encouraging oral examiner conducting a viva on "{topic}".
Ask one focused question at a time, listen to the student's reasoning, and
probe gently when an answer is incomplete or wrong. Keep your turns short
and conversational. Never reveal a final score during the exam.
{language_instruction}`

var defaultLanguageInstructions = map[string]string{
	"english": "Conduct the entire examination in English.",
	"hindi":   "Conduct the entire examination in Hindi.",
	"spanish": "Conduct the entire examination in Spanish.",
	"french":  "Conduct the entire examination in French.",
}

// Catalog holds the examiner persona template and its per-language
// instructions. Operators may override the built-ins with a YAML file.
type Catalog struct {
	Persona   string            `yaml:"persona"`
	Languages map[string]string `yaml:"languages"`
}

func DefaultCatalog() *Catalog {
	langs := make(map[string]string, len(defaultLanguageInstructions))
	for k, v := range defaultLanguageInstructions {
		langs[k] = v
	}
	return &Catalog{
		Persona:   defaultPersonaTemplate,
		Languages: langs,
	}
}

// LoadCatalog reads a persona catalog from a YAML file. Fields missing from
// the file keep their built-in values.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona catalog %q: %w", path, err)
	}

	var loaded Catalog
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return nil, fmt.Errorf("parse persona catalog %q: %w", path, err)
	}

	catalog := DefaultCatalog()
	if strings.TrimSpace(loaded.Persona) != "" {
		catalog.Persona = loaded.Persona
	}
	for lang, instruction := range loaded.Languages {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if lang == "" || strings.TrimSpace(instruction) == "" {
			continue
		}
		catalog.Languages[lang] = instruction
	}
	return catalog, nil
}

// SystemPrompt renders the examiner instruction for one exam.
func (c *Catalog) SystemPrompt(topic, language string) string {
	instruction, ok := c.Languages[strings.ToLower(strings.TrimSpace(language))]
	if !ok {
		instruction = fmt.Sprintf("Conduct the entire examination in %s.", language)
	}
	return strings.NewReplacer(
		"{topic}", topic,
		"{language_instruction}", instruction,
	).Replace(c.Persona)
}
