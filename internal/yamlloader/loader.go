// Package yamlloader implements config.Loader for YAML rule files:
//
//	rules:
//	  - name: align
//	    input: ["reads/{sample}.fq", ref.fa]
//	    output: aligned/{sample}.bam
//	    threads: 4
//	    shell: bwa mem -t {threads} {input[1]} {input[0]} > {output}
//
// `shell` is a brace template rendered by registry.FormatAction.
package yamlloader

import (
	"context"
	"fmt"
	"os"

	"github.com/vk/burstmake/internal/config"
	"github.com/vk/burstmake/internal/ctxlog"
	"github.com/vk/burstmake/internal/pattern"
	"github.com/vk/burstmake/internal/registry"
	"gopkg.in/yaml.v3"
)

// Loader reads YAML rule files.
type Loader struct{}

// NewLoader creates a new YAML rule loader.
func NewLoader() *Loader {
	return &Loader{}
}

type fileRoot struct {
	Rules yaml.Node `yaml:"rules"`
}

type yamlRule struct {
	Name      string         `yaml:"name"`
	Input     stringList     `yaml:"input"`
	Output    stringList     `yaml:"output"`
	Shell     string         `yaml:"shell"`
	Threads   int            `yaml:"threads"`
	Priority  int            `yaml:"priority"`
	Message   string         `yaml:"message"`
	Resources map[string]int `yaml:"resources"`
}

// stringList accepts either a scalar or a sequence of scalars.
type stringList []string

func (s *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = []string{node.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*s = items
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
}

// Load parses the YAML rule file at path.
func (l *Loader) Load(ctx context.Context, path string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error accessing rule file %s: %w", path, err)
	}

	var root fileRoot
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse YAML file %s: %w", path, err)
	}
	if root.Rules.Kind == 0 {
		logger.Warn("YAML rule file declares no rules.", "path", path)
		return &config.Model{Path: path}, nil
	}
	if root.Rules.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%s:%d: 'rules' must be a list", path, root.Rules.Line)
	}

	model := &config.Model{Path: path}
	for _, item := range root.Rules.Content {
		var yr yamlRule
		if err := item.Decode(&yr); err != nil {
			return nil, fmt.Errorf("%s:%d: invalid rule: %w", path, item.Line, err)
		}
		rule, err := translateRule(&yr, registry.Location{File: path, Line: item.Line})
		if err != nil {
			return nil, err
		}
		model.Rules = append(model.Rules, rule)
	}

	logger.Debug("YAML loading complete.", "path", path, "rules", len(model.Rules))
	return model, nil
}

func translateRule(yr *yamlRule, loc registry.Location) (*registry.Rule, error) {
	if yr.Shell == "" {
		return nil, fmt.Errorf("%s: rule '%s' has no shell command", loc, yr.Name)
	}
	rule := &registry.Rule{
		Name:      yr.Name,
		Action:    registry.FormatAction(yr.Shell),
		Threads:   yr.Threads,
		Priority:  yr.Priority,
		Message:   yr.Message,
		Resources: yr.Resources,
		Location:  loc,
	}
	if rule.Threads == 0 {
		rule.Threads = 1
	}

	var err error
	if rule.Inputs, err = parsePatterns(yr.Input, loc); err != nil {
		return nil, err
	}
	if rule.Outputs, err = parsePatterns(yr.Output, loc); err != nil {
		return nil, err
	}
	return rule, nil
}

func parsePatterns(raw []string, loc registry.Location) ([]*pattern.Pattern, error) {
	out := make([]*pattern.Pattern, 0, len(raw))
	for _, r := range raw {
		p, err := pattern.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", loc, err)
		}
		out = append(out, p)
	}
	return out, nil
}
