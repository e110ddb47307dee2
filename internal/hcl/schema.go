package hcl

import (
	"github.com/hashicorp/hcl/v2"
)

var fileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "rule", LabelNames: []string{"name"}},
	},
}

var ruleSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "input"},
		{Name: "output", Required: true},
		{Name: "shell"},
		{Name: "command"},
		{Name: "threads"},
		{Name: "priority"},
		{Name: "message"},
		{Name: "resources"},
	},
}
