package agents

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// promptOverrideFile is the YAML shape for prompt overrides:
//
//	system_prompts:
//	  technical: "You are ..."
//	  decision: "You are ..."
type promptOverrideFile struct {
	SystemPrompts map[string]string `yaml:"system_prompts"`
}

var (
	overrideMu      sync.RWMutex
	promptOverrides = map[Kind]string{}
)

// LoadPromptOverrides replaces built-in system prompts with the ones in
// a YAML file. Unknown agent names and empty prompts are rejected so a
// typo cannot silently disable an agent.
func LoadPromptOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read prompt overrides: %w", err)
	}

	var file promptOverrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse prompt overrides: %w", err)
	}

	overrides := make(map[Kind]string, len(file.SystemPrompts))
	for name, prompt := range file.SystemPrompts {
		kind := Kind(name)
		if _, ok := systemPrompts[kind]; !ok {
			return fmt.Errorf("unknown agent %q in prompt overrides", name)
		}
		if prompt == "" {
			return fmt.Errorf("empty prompt override for agent %q", name)
		}
		overrides[kind] = prompt
	}

	overrideMu.Lock()
	promptOverrides = overrides
	overrideMu.Unlock()
	return nil
}

func overriddenPrompt(kind Kind) (string, bool) {
	overrideMu.RLock()
	defer overrideMu.RUnlock()
	prompt, ok := promptOverrides[kind]
	return prompt, ok
}
