// Package workflow interprets the declarative list of console steps that
// creates one app listing, with bounded retry around navigation and uploads.
package workflow

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default_workflow.yaml
var defaultWorkflow []byte

// Action is what a step does
type Action string

const (
	ActionNavigate Action = "navigate"
	ActionClick    Action = "click"
	ActionClickNth Action = "click_nth"
	ActionFill     Action = "fill"
	ActionUpload   Action = "upload"
	ActionWait     Action = "wait"
	ActionPause    Action = "pause"
)

// Step is one declarative interaction with the console.
type Step struct {
	Name     string        `yaml:"name"`
	Action   Action        `yaml:"action"`
	URL      string        `yaml:"url,omitempty"`
	Selector string        `yaml:"selector,omitempty"`
	WaitFor  string        `yaml:"wait_for,omitempty"`
	Value    string        `yaml:"value,omitempty"`
	File     string        `yaml:"file,omitempty"`
	Index    int           `yaml:"index,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Optional bool          `yaml:"optional,omitempty"`
}

// Definition is an ordered workflow run once per job.
type Definition struct {
	Name    string            `yaml:"name"`
	HomeURL string            `yaml:"home_url"`
	Vars    map[string]string `yaml:"vars"`
	Steps   []Step            `yaml:"steps"`
}

// TemplateData is what url and value templates see
type TemplateData struct {
	AppName string
	Vars    map[string]string
}

// LoadDefinition reads a workflow file. An empty path loads the built-in one.
func LoadDefinition(path string) (*Definition, error) {
	data := defaultWorkflow
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read workflow file: %w", err)
		}
	}
	return ParseDefinition(data)
}

// ParseDefinition decodes and validates a workflow document.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow file: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}
	return &def, nil
}

// Validate checks that every step has what its action needs and that every
// template parses.
func (d *Definition) Validate() error {
	if d.HomeURL == "" {
		return errors.New("home_url is required")
	}
	if _, err := parseTemplate(d.HomeURL); err != nil {
		return fmt.Errorf("home_url: %w", err)
	}
	if len(d.Steps) == 0 {
		return errors.New("at least one step is required")
	}

	for i, step := range d.Steps {
		label := fmt.Sprintf("step %d (%s)", i+1, step.Name)
		if step.Name == "" {
			return fmt.Errorf("step %d: name is required", i+1)
		}

		switch step.Action {
		case ActionNavigate:
			if step.URL == "" {
				return fmt.Errorf("%s: url is required", label)
			}
		case ActionClick, ActionWait:
			if step.Selector == "" {
				return fmt.Errorf("%s: selector is required", label)
			}
		case ActionClickNth:
			if step.Selector == "" {
				return fmt.Errorf("%s: selector is required", label)
			}
			if step.Index < 0 {
				return fmt.Errorf("%s: index must not be negative", label)
			}
		case ActionFill:
			if step.Selector == "" {
				return fmt.Errorf("%s: selector is required", label)
			}
		case ActionUpload:
			if step.Selector == "" || step.File == "" {
				return fmt.Errorf("%s: selector and file are required", label)
			}
		case ActionPause:
			if step.Duration <= 0 {
				return fmt.Errorf("%s: duration must be positive", label)
			}
		default:
			return fmt.Errorf("%s: unknown action %q", label, step.Action)
		}

		for _, tmpl := range []string{step.URL, step.Value, step.File} {
			if _, err := parseTemplate(tmpl); err != nil {
				return fmt.Errorf("%s: %w", label, err)
			}
		}
	}
	return nil
}

// Home returns the console page used for session checks.
func (d *Definition) Home() (string, error) {
	return d.Render(d.HomeURL, "")
}

// Render expands a url, value or file template for one app.
func (d *Definition) Render(text, appName string) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := parseTemplate(text)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, TemplateData{AppName: appName, Vars: d.Vars}); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return sb.String(), nil
}

func parseTemplate(text string) (*template.Template, error) {
	tmpl, err := template.New("step").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("bad template %q: %w", text, err)
	}
	return tmpl, nil
}
