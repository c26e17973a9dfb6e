package agent

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Defaults applied when common_settings leaves a value unset.
const (
	DefaultChatHistoryLimit = 10
)

// ErrAgentNotFound is returned when a name is missing from the agents file.
var ErrAgentNotFound = errors.New("agent not found")

// File is the agents file: shared settings plus one entry per agent.
type File struct {
	CommonSettings CommonSettings `yaml:"common_settings"`
	Agents         []Config       `yaml:"agents"`
}

// CommonSettings apply to every agent of the file.
type CommonSettings struct {
	ChatHistoryLimit int `yaml:"chat_history_limit"`
	ResponseDelayMs  int `yaml:"response_delay_ms"`
}

// Config describes one agent.
type Config struct {
	Name    string       `yaml:"name"`
	Model   string       `yaml:"model"`
	Persona Persona      `yaml:"persona"`
	Options ModelOptions `yaml:"options"`
}

// ModelOptions are passed through to the model. Unset values keep the
// provider's defaults.
type ModelOptions struct {
	Temperature *float32 `yaml:"temperature"`
	TopP        *float32 `yaml:"top_p"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// Persona is the system prompt. In YAML it is either a string or a list of
// lines, possibly nested; lists are joined with newlines.
type Persona string

func (p *Persona) UnmarshalYAML(value *yaml.Node) error {
	var lines []string
	if err := flatten(value, &lines); err != nil {
		return err
	}
	*p = Persona(strings.Join(lines, "\n"))
	return nil
}

func flatten(node *yaml.Node, out *[]string) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*out = append(*out, node.Value)
	case yaml.SequenceNode:
		for _, child := range node.Content {
			if err := flatten(child, out); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("line %d: persona must be a string or a list of strings", node.Line)
	}
	return nil
}

// LoadFile reads and validates an agents file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read agents file")
	}
	f, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return f, nil
}

// Parse decodes and validates an agents file.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	for i, a := range f.Agents {
		if a.Name == "" {
			return nil, fmt.Errorf("agent %d: name is required", i)
		}
		if a.Model == "" {
			return nil, fmt.Errorf("agent %q: model is required", a.Name)
		}
	}
	if f.CommonSettings.ChatHistoryLimit <= 0 {
		f.CommonSettings.ChatHistoryLimit = DefaultChatHistoryLimit
	}
	if f.CommonSettings.ResponseDelayMs < 0 {
		f.CommonSettings.ResponseDelayMs = 0
	}
	return &f, nil
}

// Agent returns the entry called name.
func (f *File) Agent(name string) (Config, error) {
	for _, a := range f.Agents {
		if a.Name == name {
			return a, nil
		}
	}
	return Config{}, errors.Wrap(ErrAgentNotFound, name)
}
