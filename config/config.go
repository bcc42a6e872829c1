package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// Config holds all configuration
type Config struct {
	Variables    []Variable      `hcl:"variable,block"`
	Models       []Model         `hcl:"model,block"`
	Gateways     []Gateway       `hcl:"gateway,block"`
	Templates    []TemplateBlock `hcl:"template,block"`
	Orchestrator *Orchestrator   `hcl:"orchestrator,block"`

	// ResolvedVars holds the resolved variable values for runtime use
	ResolvedVars map[string]cty.Value `hcl:"-"`
}

func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		return LoadDir(path)
	}
	return LoadFile(path)
}

// LoadAndValidate loads the config and validates all components
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all config components are valid
func (c *Config) Validate() error {
	for _, v := range c.Variables {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("variable '%s': %w", v.Name, err)
		}
	}

	for _, m := range c.Models {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("model '%s': %w", m.Name, err)
		}
	}

	for _, g := range c.Gateways {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("gateway '%s': %w", g.Name, err)
		}
	}

	for _, t := range c.Templates {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("template '%s': %w", t.Type, err)
		}
	}

	if c.Orchestrator != nil {
		if err := c.Orchestrator.Validate(c.Models, c.Gateways); err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}
	}

	return nil
}

// Model returns a configured model by name.
func (c *Config) Model(name string) *Model {
	for i := range c.Models {
		if c.Models[i].Name == name {
			return &c.Models[i]
		}
	}
	return nil
}

// Gateway returns a configured gateway by name.
func (c *Config) Gateway(name string) *Gateway {
	for i := range c.Gateways {
		if c.Gateways[i].Name == name {
			return &c.Gateways[i]
		}
	}
	return nil
}

func LoadFile(filename string) (*Config, error) {
	return loadFromFiles([]string{filename})
}

func LoadDir(dir string) (*Config, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.hcl"))
	if err != nil {
		return nil, err
	}
	return loadFromFiles(files)
}

// parsedBlocks holds all blocks extracted from a file in one pass
type parsedBlocks struct {
	Variables     []*hcl.Block
	Models        []*hcl.Block
	Gateways      []*hcl.Block
	Templates     []*hcl.Block
	Orchestrators []*hcl.Block
}

// loadFromFiles implements staged loading: variables → models/gateways
// → templates → orchestrator. Later stages see the namespaces built by
// earlier ones.
func loadFromFiles(files []string) (*Config, error) {
	parser := hclparse.NewParser()
	var allParsedBlocks []parsedBlocks

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("[1] parse %s: %w", file, diags)
		}

		// Extract all known block types in one PartialContent call
		content, _, diags := hclFile.Body.PartialContent(&hcl.BodySchema{
			Blocks: []hcl.BlockHeaderSchema{
				{Type: "variable", LabelNames: []string{"name"}},
				{Type: "model", LabelNames: []string{"name"}},
				{Type: "gateway", LabelNames: []string{"name"}},
				{Type: "template", LabelNames: []string{"type"}},
				{Type: "orchestrator"},
			},
		})
		if diags.HasErrors() {
			return nil, fmt.Errorf("[2] partial content %s: %w", file, diags)
		}

		var pb parsedBlocks
		for _, block := range content.Blocks {
			switch block.Type {
			case "variable":
				pb.Variables = append(pb.Variables, block)
			case "model":
				pb.Models = append(pb.Models, block)
			case "gateway":
				pb.Gateways = append(pb.Gateways, block)
			case "template":
				pb.Templates = append(pb.Templates, block)
			case "orchestrator":
				pb.Orchestrators = append(pb.Orchestrators, block)
			}
		}
		allParsedBlocks = append(allParsedBlocks, pb)
	}

	// Stage 1: Load variables (no context needed)
	var allVars []Variable
	for _, pb := range allParsedBlocks {
		for _, block := range pb.Variables {
			var v Variable
			v.Name = block.Labels[0]
			diags := gohcl.DecodeBody(block.Body, nil, &v)
			if diags.HasErrors() {
				return nil, fmt.Errorf("[3] decode variable %s: %w", v.Name, diags)
			}
			allVars = append(allVars, v)
		}
	}

	varsCtx, resolvedVars := buildVarsContext(allVars)

	// Stage 2: Load models and gateways (with vars context)
	var allModels []Model
	for _, pb := range allParsedBlocks {
		for _, block := range pb.Models {
			var m Model
			m.Name = block.Labels[0]
			diags := gohcl.DecodeBody(block.Body, varsCtx, &m)
			if diags.HasErrors() {
				return nil, diags
			}
			allModels = append(allModels, m)
		}
	}

	var allGateways []Gateway
	for _, pb := range allParsedBlocks {
		for _, block := range pb.Gateways {
			var g Gateway
			g.Name = block.Labels[0]
			diags := gohcl.DecodeBody(block.Body, varsCtx, &g)
			if diags.HasErrors() {
				return nil, diags
			}
			allGateways = append(allGateways, g)
		}
	}

	// Stage 3: Load templates (with vars context)
	var allTemplates []TemplateBlock
	for _, pb := range allParsedBlocks {
		for _, block := range pb.Templates {
			var t TemplateBlock
			t.Type = block.Labels[0]
			diags := gohcl.DecodeBody(block.Body, varsCtx, &t)
			if diags.HasErrors() {
				return nil, diags
			}
			allTemplates = append(allTemplates, t)
		}
	}

	// Stage 4: Load the orchestrator (with vars + models + gateways context)
	fullCtx := buildGatewaysContext(buildModelsContext(varsCtx, allModels), allGateways)

	var orchestrator *Orchestrator
	for _, pb := range allParsedBlocks {
		for _, block := range pb.Orchestrators {
			if orchestrator != nil {
				return nil, fmt.Errorf("duplicate orchestrator block in %s", block.DefRange.Filename)
			}
			var o Orchestrator
			diags := gohcl.DecodeBody(block.Body, fullCtx, &o)
			if diags.HasErrors() {
				return nil, diags
			}
			orchestrator = &o
		}
	}

	return &Config{
		Variables:    allVars,
		Models:       allModels,
		Gateways:     allGateways,
		Templates:    allTemplates,
		Orchestrator: orchestrator,
		ResolvedVars: resolvedVars,
	}, nil
}

// buildVarsContext creates context with just vars
func buildVarsContext(vars []Variable) (*hcl.EvalContext, map[string]cty.Value) {
	varsMap := make(map[string]cty.Value)
	fileVars, _ := LoadVarsFromFile()
	for _, v := range vars {
		if val, ok := fileVars[v.Name]; ok {
			varsMap[v.Name] = cty.StringVal(val)
		} else if v.Default != "" {
			varsMap[v.Name] = cty.StringVal(v.Default)
		} else {
			varsMap[v.Name] = cty.StringVal("")
		}
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"vars": cty.ObjectVal(varsMap),
		},
	}, varsMap
}

// buildModelsContext adds the models namespace to an existing context,
// so the orchestrator can reference models.{name}.
func buildModelsContext(ctx *hcl.EvalContext, models []Model) *hcl.EvalContext {
	modelsMap := make(map[string]cty.Value)
	for _, m := range models {
		modelsMap[m.Name] = cty.StringVal(m.Name)
	}

	newVars := make(map[string]cty.Value)
	for k, v := range ctx.Variables {
		newVars[k] = v
	}
	newVars["models"] = cty.ObjectVal(modelsMap)

	return &hcl.EvalContext{
		Variables: newVars,
	}
}

// buildGatewaysContext adds the gateways namespace to an existing
// context, so the orchestrator can reference gateways.{name}.
func buildGatewaysContext(ctx *hcl.EvalContext, gateways []Gateway) *hcl.EvalContext {
	gatewaysMap := make(map[string]cty.Value)
	for _, g := range gateways {
		gatewaysMap[g.Name] = cty.StringVal(g.Name)
	}

	newVars := make(map[string]cty.Value)
	for k, v := range ctx.Variables {
		newVars[k] = v
	}
	newVars["gateways"] = cty.ObjectVal(gatewaysMap)

	return &hcl.EvalContext{
		Variables: newVars,
	}
}
