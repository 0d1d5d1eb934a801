// Package profile loads declarative agent profiles from YAML: identity,
// turn limits, custom event declarations, and mode descriptors. A profile
// describes what an agent has; behavior implementations are supplied in
// code when the profile is applied.
package profile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mantlekit/mantle"
	"github.com/mantlekit/mantle/schema"
)

// Profile is one declarative agent configuration.
//
// Example:
//
//	name: support-agent
//	system_prompt: You are a helpful support agent.
//	max_iterations: 10
//	events:
//	  - name: myapp:escalation
//	    kind: signal
//	    description: A conversation was escalated to a human.
//	modes:
//	  - name: triage
//	    description: Structured triage of an incoming issue.
//	    invokable: true
type Profile struct {
	// Name identifies the profile.
	Name string `yaml:"name"`

	// SystemPrompt is the agent's system prompt.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxIterations caps model calls per turn. Zero keeps the default.
	MaxIterations int `yaml:"max_iterations"`

	// Events declares custom event descriptors to register.
	Events []EventDecl `yaml:"events"`

	// Modes declares the agent's mode descriptors.
	Modes []ModeDecl `yaml:"modes"`
}

// EventDecl declares one custom event.
type EventDecl struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"` // "signal" or "interceptable"
	Description string `yaml:"description"`

	// Params is an optional JSON Schema for the event's parameter map.
	Params map[string]any `yaml:"params"`
}

// ModeDecl declares one mode. The behavior implementation is bound by name
// when the profile is applied.
type ModeDecl struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	Invokable    bool   `yaml:"invokable"`
	AllowReentry bool   `yaml:"allow_reentry"`
}

// Load parses a profile from YAML bytes and validates it.
func Load(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile: parse: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadFile reads and parses a profile from a YAML file.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile: read %s: %w", path, err)
	}
	return Load(data)
}

// Validate checks the profile for structural problems: missing names,
// unknown event kinds, duplicate declarations.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile: missing name")
	}
	if p.MaxIterations < 0 {
		return fmt.Errorf("profile %q: negative max_iterations", p.Name)
	}

	seenEvents := make(map[string]bool)
	for _, ev := range p.Events {
		if ev.Name == "" {
			return fmt.Errorf("profile %q: event with empty name", p.Name)
		}
		if seenEvents[ev.Name] {
			return fmt.Errorf("profile %q: duplicate event %q", p.Name, ev.Name)
		}
		seenEvents[ev.Name] = true
		if !mantle.EventKind(ev.Kind).Valid() {
			return fmt.Errorf("profile %q: event %q has unknown kind %q", p.Name, ev.Name, ev.Kind)
		}
	}

	seenModes := make(map[string]bool)
	for _, m := range p.Modes {
		if m.Name == "" {
			return fmt.Errorf("profile %q: mode with empty name", p.Name)
		}
		if seenModes[m.Name] {
			return fmt.Errorf("profile %q: duplicate mode %q", p.Name, m.Name)
		}
		seenModes[m.Name] = true
	}
	return nil
}

// Apply configures an agent from the profile: prompt, iteration cap,
// custom event registration, and mode registration. Behaviors maps mode
// names to behavior factories; every declared mode must have one.
//
// Apply must run before the agent's first turn, while the event registry
// is still mutable.
func (p *Profile) Apply(agent *mantle.Agent, behaviors map[string]func() mantle.ModeBehavior) error {
	agent.WithSystemPrompt(p.SystemPrompt)
	if p.MaxIterations > 0 {
		agent.WithMaxIterations(p.MaxIterations)
	}

	for _, ev := range p.Events {
		params, err := schema.Compile(ev.Params)
		if err != nil {
			return fmt.Errorf("profile %q: event %q params: %w", p.Name, ev.Name, err)
		}
		err = agent.Registry().Register(mantle.EventDescriptor{
			Name:        ev.Name,
			Description: ev.Description,
			Kind:        mantle.EventKind(ev.Kind),
			Params:      params,
		})
		if err != nil {
			return fmt.Errorf("profile %q: %w", p.Name, err)
		}
	}

	for _, m := range p.Modes {
		factory, ok := behaviors[m.Name]
		if !ok {
			return fmt.Errorf("profile %q: no behavior bound for mode %q", p.Name, m.Name)
		}
		err := agent.Modes().RegisterMode(mantle.ModeDescriptor{
			Name:         m.Name,
			Description:  m.Description,
			Behavior:     factory,
			Invokable:    m.Invokable,
			AllowReentry: m.AllowReentry,
		})
		if err != nil {
			return fmt.Errorf("profile %q: %w", p.Name, err)
		}
	}
	return nil
}
