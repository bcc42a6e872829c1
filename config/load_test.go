package config_test

import (
	"os"
	"path/filepath"

	"foreman/config"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config Loading", func() {

	Describe("Load", func() {
		It("routes to LoadFile for a file path", func() {
			_, f := writeFixture("vars.hcl", `variable "x" { default = "val" }`)
			cfg, err := config.Load(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Variables).To(HaveLen(1))
			Expect(cfg.Variables[0].Name).To(Equal("x"))
		})

		It("routes to LoadDir for a directory path", func() {
			dir := writeFixtures(map[string]string{
				"variables.hcl": `variable "a" { default = "1" }`,
				"models.hcl":    minimalVarsHCL() + minimalModelHCL(),
			})
			cfg, err := config.Load(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(len(cfg.Variables)).To(BeNumerically(">=", 1))
			Expect(cfg.Models).To(HaveLen(1))
		})

		It("returns error for nonexistent path", func() {
			_, err := config.Load("/nonexistent/path/config.hcl")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("LoadFile", func() {
		It("parses a single HCL file with multiple block types", func() {
			hcl := fullBaseHCL() + `
orchestrator {
  model = models.planner
}
`
			_, f := writeFixture("config.hcl", hcl)
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Variables).To(HaveLen(1))
			Expect(cfg.Models).To(HaveLen(1))
			Expect(cfg.Gateways).To(HaveLen(1))
			Expect(cfg.Orchestrator).NotTo(BeNil())
		})

		It("returns parse error for invalid HCL syntax", func() {
			_, f := writeFixture("bad.hcl", `model { missing label and brace`)
			_, err := config.LoadFile(f)
			Expect(err).To(HaveOccurred())
		})

		It("rejects duplicate orchestrator blocks", func() {
			hcl := fullBaseHCL() + `
orchestrator { model = models.planner }
orchestrator { model = models.planner }
`
			_, f := writeFixture("config.hcl", hcl)
			_, err := config.LoadFile(f)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("duplicate orchestrator"))
		})
	})

	Describe("LoadDir", func() {
		It("loads all .hcl files from the directory", func() {
			dir := writeFixtures(map[string]string{
				"variables.hcl": `variable "v1" { default = "a" }`,
				"models.hcl": `
variable "k" { default = "key" }
model "m1" {
  provider = "openai"
  model_id = "gpt-4o"
  api_key  = vars.k
}
`,
			})
			cfg, err := config.LoadDir(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Models).To(HaveLen(1))
		})

		It("ignores non-.hcl files", func() {
			dir := writeFixtures(map[string]string{
				"config.hcl": `variable "x" { default = "y" }`,
				"readme.txt": `This is not HCL`,
				"data.json":  `{"key": "value"}`,
			})
			cfg, err := config.LoadDir(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Variables).To(HaveLen(1))
		})

		It("returns empty config for directory with no .hcl files", func() {
			dir := GinkgoT().TempDir()
			err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hello"), 0644)
			Expect(err).NotTo(HaveOccurred())
			cfg, err := config.LoadDir(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Variables).To(BeEmpty())
			Expect(cfg.Models).To(BeEmpty())
			Expect(cfg.Gateways).To(BeEmpty())
		})
	})

	Describe("Staged evaluation order", func() {
		It("resolves variable references in model blocks", func() {
			hcl := `
variable "my_key" { default = "resolved-api-key" }
model "test" {
  provider = "anthropic"
  model_id = "claude-sonnet-4-20250514"
  api_key  = vars.my_key
}
`
			_, f := writeFixture("config.hcl", hcl)
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Models[0].APIKey).To(Equal("resolved-api-key"))
		})

		It("resolves variable references in gateway blocks", func() {
			hcl := `
variable "gw_token" { default = "secret-token" }
gateway "main" {
  url   = "wss://gw.example.com"
  token = vars.gw_token
}
`
			_, f := writeFixture("config.hcl", hcl)
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Gateways[0].Token).To(Equal("secret-token"))
		})

		It("resolves model and gateway references in the orchestrator block", func() {
			hcl := fullBaseHCL() + `
orchestrator {
  model   = models.planner
  backend = "remote"
  gateway = gateways.main
}
`
			_, f := writeFixture("config.hcl", hcl)
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Orchestrator.Model).To(Equal("planner"))
			Expect(cfg.Orchestrator.Gateway).To(Equal("main"))
		})
	})

	Describe("ResolvedVars", func() {
		It("populates ResolvedVars map from variable defaults", func() {
			hcl := `variable "app_name" { default = "myapp" }`
			_, f := writeFixture("config.hcl", hcl)
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.ResolvedVars).To(HaveKey("app_name"))
			Expect(cfg.ResolvedVars["app_name"].AsString()).To(Equal("myapp"))
		})
	})

	Describe("Templates", func() {
		It("loads custom template blocks into the registry", func() {
			hcl := `
template "security-auditor" {
  description   = "Reviews code for vulnerabilities."
  system_prompt = "You are a security auditor."
  tags          = ["security", "audit"]
}
`
			_, f := writeFixture("config.hcl", hcl)
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Templates).To(HaveLen(1))

			reg := cfg.Registry()
			tpl := reg.Get("security-auditor")
			Expect(tpl).NotTo(BeNil())
			Expect(tpl.SystemPrompt).To(Equal("You are a security auditor."))
			// Builtins remain available alongside custom templates.
			Expect(reg.Get("fullstack")).NotTo(BeNil())
		})
	})
})
