package config

import (
	"fmt"

	"foreman/template"
)

// TemplateBlock adds a custom agent template to the registry, or
// overrides a builtin of the same type.
type TemplateBlock struct {
	Type         string   `hcl:"type,label"`
	Description  string   `hcl:"description"`
	SystemPrompt string   `hcl:"system_prompt"`
	Tags         []string `hcl:"tags,optional"`
}

func (t *TemplateBlock) Validate() error {
	if t.Description == "" {
		return fmt.Errorf("Missing description; Template '%s' must set description", t.Type)
	}
	if t.SystemPrompt == "" {
		return fmt.Errorf("Missing system_prompt; Template '%s' must set system_prompt", t.Type)
	}
	return nil
}

// Registry builds the template registry: builtins plus the config's
// custom templates.
func (c *Config) Registry() *template.Registry {
	reg := template.NewRegistry()
	for _, tb := range c.Templates {
		reg.Add(&template.Template{
			Type:         tb.Type,
			Name:         tb.Type,
			Description:  tb.Description,
			SystemPrompt: tb.SystemPrompt,
			Tags:         tb.Tags,
		})
	}
	return reg
}
