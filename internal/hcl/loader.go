package hcl

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/burstmake/internal/config"
	"github.com/vk/burstmake/internal/ctxlog"
	"github.com/vk/burstmake/internal/fsutil"
	"github.com/vk/burstmake/internal/pattern"
	"github.com/vk/burstmake/internal/registry"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL rule loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses the rule file at path. When path is a directory, every .hcl
// file below it is loaded in lexical order and the rules are concatenated.
func (l *Loader) Load(ctx context.Context, path string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := l.findFiles(path)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL rule files.", "path", path, "count", len(files))

	model := &config.Model{Path: path}
	parser := hclparse.NewParser()

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		content, diags := hclFile.Body.Content(fileSchema)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}

		for _, block := range content.Blocks {
			rule, diags := l.translateRule(ctx, block, hclFile.Bytes)
			if diags.HasErrors() {
				return nil, fmt.Errorf("error parsing rule in file %s: %w", file, diags)
			}
			model.Rules = append(model.Rules, rule)
		}
	}

	logger.Debug("HCL loading complete.", "rules", len(model.Rules))
	return model, nil
}

func (l *Loader) findFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error accessing rule file %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	files, err := fsutil.FindFilesByExtension(path, ".hcl")
	if err != nil {
		return nil, fmt.Errorf("failed to find rule files in %s: %w", path, err)
	}
	sort.Strings(files)
	return files, nil
}

// translateRule converts one `rule` block into a registry.Rule.
func (l *Loader) translateRule(ctx context.Context, block *hcl.Block, src []byte) (*registry.Rule, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	rule := &registry.Rule{
		Name: block.Labels[0],
		Location: registry.Location{
			File: block.DefRange.Filename,
			Line: block.DefRange.Start.Line,
		},
	}

	content, contentDiags := block.Body.Content(ruleSchema)
	diags = append(diags, contentDiags...)
	if contentDiags.HasErrors() {
		return nil, diags
	}
	attrs := content.Attributes

	var inputs, outputs []string
	diags = append(diags, decodeAttr(ctx, attrs["input"], &inputs)...)
	diags = append(diags, decodeAttr(ctx, attrs["output"], &outputs)...)
	diags = append(diags, decodeAttr(ctx, attrs["threads"], &rule.Threads)...)
	diags = append(diags, decodeAttr(ctx, attrs["priority"], &rule.Priority)...)
	diags = append(diags, decodeAttr(ctx, attrs["message"], &rule.Message)...)
	diags = append(diags, decodeAttr(ctx, attrs["resources"], &rule.Resources)...)
	if diags.HasErrors() {
		return nil, diags
	}
	if rule.Threads == 0 {
		rule.Threads = 1
	}

	var patDiags hcl.Diagnostics
	rule.Inputs, patDiags = parsePatterns(attrs["input"], inputs)
	diags = append(diags, patDiags...)
	rule.Outputs, patDiags = parsePatterns(attrs["output"], outputs)
	diags = append(diags, patDiags...)

	shell, hasShell := attrs["shell"]
	command, hasCommand := attrs["command"]
	switch {
	case hasShell && hasCommand:
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Conflicting actions",
			Detail:   fmt.Sprintf("Rule %q sets both \"shell\" and \"command\"; only one is allowed.", rule.Name),
			Subject:  &command.NameRange,
		})
	case hasShell:
		rule.Action = newExprAction(shell.Expr, src)
	case hasCommand:
		var tmpl string
		diags = append(diags, decodeAttr(ctx, command, &tmpl)...)
		rule.Action = registry.FormatAction(tmpl)
	default:
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Missing action",
			Detail:   fmt.Sprintf("Rule %q must set \"shell\" or \"command\".", rule.Name),
			Subject:  &block.DefRange,
		})
	}

	return rule, diags
}

func parsePatterns(attr *hcl.Attribute, raw []string) ([]*pattern.Pattern, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	out := make([]*pattern.Pattern, 0, len(raw))
	for _, r := range raw {
		p, err := pattern.Parse(r)
		if err != nil {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid pattern",
				Detail:   err.Error(),
				Subject:  attr.Expr.Range().Ptr(),
			})
			continue
		}
		out = append(out, p)
	}
	return out, diags
}
