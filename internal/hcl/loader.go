// Package hcl loads declarative graph definitions from HCL files into the
// graph model. The format mirrors the graph structure directly:
//
//	graph "report" {
//	  description = "daily report pipeline"
//
//	  node "fetch" {
//	    block = "text.template"
//	    constant {
//	      template = "hello ${name}"
//	    }
//	  }
//
//	  link {
//	    from   = "fetch.rendered"
//	    to     = "render.text"
//	    static = true
//	  }
//	}
//
// Constant values are evaluated at load time; graphs are data, not
// programs, so no variables or functions are in scope.
package hcl

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/agentgridgo/internal/graph"
)

var fileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "graph", LabelNames: []string{"name"}},
	},
}

var graphSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "description"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "node", LabelNames: []string{"id"}},
		{Type: "link"},
	},
}

var nodeSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "block", Required: true},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "constant"},
	},
}

var linkSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "from", Required: true},
		{Name: "to", Required: true},
		{Name: "static"},
	},
}

// LoadFile parses one HCL file and returns the graph definitions it
// declares, unpublished: IDs and versions are assigned by the store.
func LoadFile(path string) ([]*graph.Definition, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hcl: reading %s: %w", path, err)
	}
	return Parse(src, path)
}

// Parse decodes HCL source into graph definitions.
func Parse(src []byte, filename string) ([]*graph.Definition, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("hcl: parsing %s: %w", filename, diags)
	}

	content, diags := file.Body.Content(fileSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("hcl: %s: %w", filename, diags)
	}

	var defs []*graph.Definition
	for _, block := range content.Blocks {
		def, err := decodeGraph(block)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("hcl: %s declares no graph blocks", filename)
	}
	return defs, nil
}

func decodeGraph(block *hcl.Block) (*graph.Definition, error) {
	def := &graph.Definition{
		Name:  block.Labels[0],
		Nodes: make(map[string]*graph.Node),
	}

	content, diags := block.Body.Content(graphSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("hcl: graph %q: %w", def.Name, diags)
	}

	if attr, ok := content.Attributes["description"]; ok {
		if err := decodeString(attr, &def.Description); err != nil {
			return nil, fmt.Errorf("hcl: graph %q: %w", def.Name, err)
		}
	}

	for _, inner := range content.Blocks {
		switch inner.Type {
		case "node":
			node, err := decodeNode(inner)
			if err != nil {
				return nil, fmt.Errorf("hcl: graph %q: %w", def.Name, err)
			}
			if _, exists := def.Nodes[node.ID]; exists {
				return nil, fmt.Errorf("hcl: graph %q: duplicate node %q", def.Name, node.ID)
			}
			def.Nodes[node.ID] = node
		case "link":
			link, err := decodeLink(inner)
			if err != nil {
				return nil, fmt.Errorf("hcl: graph %q: %w", def.Name, err)
			}
			def.Links = append(def.Links, link)
		}
	}
	return def, nil
}

func decodeNode(block *hcl.Block) (*graph.Node, error) {
	node := &graph.Node{
		ID:            block.Labels[0],
		ConstantInput: make(map[string]cty.Value),
	}

	content, diags := block.Body.Content(nodeSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("node %q: %w", node.ID, diags)
	}
	if err := decodeString(content.Attributes["block"], &node.Block); err != nil {
		return nil, fmt.Errorf("node %q: %w", node.ID, err)
	}

	for _, inner := range content.Blocks {
		attrs, diags := inner.Body.JustAttributes()
		if diags.HasErrors() {
			return nil, fmt.Errorf("node %q constants: %w", node.ID, diags)
		}
		for name, attr := range attrs {
			val, diags := attr.Expr.Value(nil)
			if diags.HasErrors() {
				return nil, fmt.Errorf("node %q constant %q: %w", node.ID, name, diags)
			}
			node.ConstantInput[name] = val
		}
	}
	return node, nil
}

func decodeLink(block *hcl.Block) (*graph.Link, error) {
	content, diags := block.Body.Content(linkSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("link: %w", diags)
	}

	var from, to string
	if err := decodeString(content.Attributes["from"], &from); err != nil {
		return nil, fmt.Errorf("link: %w", err)
	}
	if err := decodeString(content.Attributes["to"], &to); err != nil {
		return nil, fmt.Errorf("link: %w", err)
	}

	srcNode, srcPin, err := splitEndpoint(from)
	if err != nil {
		return nil, fmt.Errorf("link from: %w", err)
	}
	sinkNode, sinkPin, err := splitEndpoint(to)
	if err != nil {
		return nil, fmt.Errorf("link to: %w", err)
	}

	link := &graph.Link{
		SourceNode: srcNode,
		SourcePin:  srcPin,
		SinkNode:   sinkNode,
		SinkPin:    sinkPin,
	}
	if attr, ok := content.Attributes["static"]; ok {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("link static: %w", diags)
		}
		if val.Type() != cty.Bool {
			return nil, fmt.Errorf("link static must be a bool, got %s", val.Type().FriendlyName())
		}
		link.Static = val.True()
	}
	return link, nil
}

// splitEndpoint parses "node.pin" references.
func splitEndpoint(s string) (node, pin string, err error) {
	idx := strings.LastIndex(s, ".")
	if idx <= 0 || idx == len(s)-1 {
		return "", "", fmt.Errorf("endpoint %q must have the form node.pin", s)
	}
	return s[:idx], s[idx+1:], nil
}

func decodeString(attr *hcl.Attribute, dst *string) error {
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return fmt.Errorf("%s: %w", attr.Name, diags)
	}
	if val.Type() != cty.String {
		return fmt.Errorf("%s must be a string, got %s", attr.Name, val.Type().FriendlyName())
	}
	*dst = val.AsString()
	return nil
}
