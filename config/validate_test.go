package config_test

import (
	"foreman/config"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config Validation", func() {

	load := func(hcl string) (*config.Config, error) {
		_, f := writeFixture("config.hcl", hcl)
		return config.LoadAndValidate(f)
	}

	Describe("Variables", func() {
		It("rejects a secret variable with a default", func() {
			_, err := load(`
variable "api_key" {
  default = "leaked"
  secret  = true
}
`)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("cannot have a default"))
		})
	})

	Describe("Models", func() {
		It("rejects an unsupported provider", func() {
			_, err := load(`
variable "k" { default = "key" }
model "bad" {
  provider = "cohere"
  model_id = "command-r"
  api_key  = vars.k
}
`)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("not supported"))
		})

		It("rejects a model without a model_id", func() {
			_, err := load(`
variable "k" { default = "key" }
model "bad" {
  provider = "openai"
  model_id = ""
  api_key  = vars.k
}
`)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("model_id"))
		})

		It("accepts every supported provider", func() {
			for _, provider := range []string{"anthropic", "openai", "openrouter", "gemini"} {
				_, err := load(`
variable "k" { default = "key" }
model "m" {
  provider = "` + provider + `"
  model_id = "some-model"
  api_key  = vars.k
}
`)
				Expect(err).NotTo(HaveOccurred(), "provider %s", provider)
			}
		})
	})

	Describe("Gateways", func() {
		It("rejects a URL without a recognized scheme", func() {
			_, err := load(`
gateway "bad" {
  url = "ftp://gw.example.com"
}
`)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("url must start with"))
		})

		It("rejects a lone Cloudflare Access credential", func() {
			_, err := load(`
gateway "bad" {
  url                 = "wss://gw.example.com"
  cf_access_client_id = "id-only"
}
`)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("cf_access_client_id and cf_access_client_secret"))
		})
	})

	Describe("Orchestrator", func() {
		It("rejects a reference to an undefined model", func() {
			_, err := load(fullBaseHCL() + `
orchestrator {
  model = "ghost"
}
`)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("undefined model 'ghost'"))
		})

		It("requires a gateway for the remote backend", func() {
			_, err := load(minimalVarsHCL() + minimalModelHCL() + `
orchestrator {
  model   = models.planner
  backend = "remote"
}
`)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("requires gateway"))
		})

		It("requires a repo_path for the workspace backend", func() {
			_, err := load(minimalVarsHCL() + minimalModelHCL() + `
orchestrator {
  model   = models.planner
  backend = "workspace"
}
`)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("requires repo_path"))
		})

		It("rejects an unknown backend", func() {
			_, err := load(minimalVarsHCL() + minimalModelHCL() + `
orchestrator {
  model   = models.planner
  backend = "container"
}
`)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("Supported backends"))
		})

		It("requires a store_path for the sqlite store", func() {
			_, err := load(minimalVarsHCL() + minimalModelHCL() + `
orchestrator {
  model = models.planner
  store = "sqlite"
}
`)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("requires store_path"))
		})

		It("accepts a full valid orchestrator", func() {
			cfg, err := load(fullBaseHCL() + `
orchestrator {
  model        = models.planner
  backend      = "remote"
  gateway      = gateways.main
  max_parallel = 4
  max_retries  = 3
  review       = true
  store        = "memory"
}
`)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Orchestrator.MaxParallel).To(Equal(4))
			Expect(cfg.Orchestrator.Review).To(BeTrue())
		})
	})

	Describe("Templates", func() {
		It("rejects a template without a system prompt", func() {
			_, err := load(`
template "empty" {
  description   = "Does nothing."
  system_prompt = ""
}
`)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("system_prompt"))
		})
	})
})
