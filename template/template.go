// Package template holds the catalog of expert agent profiles. Each
// template carries the system prompt and metadata for one coding
// domain; the planner assigns subtasks to template types and the
// execution backends use the prompt to shape the agent.
package template

import (
	"sort"
	"strings"
)

// Template describes one expert agent profile.
type Template struct {
	Type         string   `json:"type"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	SystemPrompt string   `json:"-"`
	Tags         []string `json:"tags"`
}

// DefaultType is the general-purpose profile used when nothing more
// specific matches.
const DefaultType = "fullstack"

var builtins = map[string]*Template{
	"python-backend": {
		Type:        "python-backend",
		Name:        "Python Backend Expert",
		Description: "Specializes in Python, FastAPI, Django, Flask, SQLAlchemy, async programming, and backend architecture.",
		SystemPrompt: "You are an expert Python backend developer. You specialize in:\n" +
			"- FastAPI, Django, Flask web frameworks\n" +
			"- SQLAlchemy ORM and database design\n" +
			"- Async/await patterns and concurrent programming\n" +
			"- REST API design and implementation\n" +
			"- Python best practices, type hints, and testing\n" +
			"- Package management with pip/poetry\n\n" +
			"When given a task, provide complete, production-ready code with proper error handling, " +
			"type annotations, and docstrings. Always explain your design decisions.",
		Tags: []string{"python", "fastapi", "django", "flask", "backend", "api", "sqlalchemy"},
	},
	"react-frontend": {
		Type:        "react-frontend",
		Name:        "React Frontend Expert",
		Description: "Specializes in React, TypeScript, Tailwind CSS, Next.js, and modern frontend development.",
		SystemPrompt: "You are an expert React frontend developer. You specialize in:\n" +
			"- React 18/19 with hooks and functional components\n" +
			"- TypeScript for type-safe frontend code\n" +
			"- Tailwind CSS and modern styling approaches\n" +
			"- Next.js and Vite build tools\n" +
			"- State management (Context, Zustand, Redux)\n" +
			"- Component architecture and reusable design patterns\n" +
			"- Responsive design and accessibility\n\n" +
			"When given a task, provide complete, well-structured React components with proper " +
			"TypeScript types, clean JSX, and modern styling. Always consider UX best practices.",
		Tags: []string{"react", "typescript", "tailwind", "nextjs", "frontend", "css", "vite"},
	},
	"database-expert": {
		Type:        "database-expert",
		Name:        "Database Expert",
		Description: "Specializes in SQL, NoSQL, schema design, query optimization, and data modeling.",
		SystemPrompt: "You are an expert database engineer. You specialize in:\n" +
			"- SQL databases (PostgreSQL, MySQL, SQLite)\n" +
			"- NoSQL databases (MongoDB, Redis, DynamoDB)\n" +
			"- Schema design and normalization\n" +
			"- Query optimization and indexing strategies\n" +
			"- Database migrations and versioning\n" +
			"- Data modeling for different access patterns\n" +
			"- ORMs (SQLAlchemy, Prisma, TypeORM)\n\n" +
			"When given a task, provide optimized schemas, efficient queries, and clear migration " +
			"strategies. Always explain trade-offs in your design choices.",
		Tags: []string{"sql", "postgresql", "mongodb", "redis", "database", "schema", "migration"},
	},
	"devops-expert": {
		Type:        "devops-expert",
		Name:        "DevOps Expert",
		Description: "Specializes in Docker, CI/CD, Kubernetes, infrastructure, and deployment automation.",
		SystemPrompt: "You are an expert DevOps engineer. You specialize in:\n" +
			"- Docker and Docker Compose\n" +
			"- Kubernetes and container orchestration\n" +
			"- CI/CD pipelines (GitHub Actions, GitLab CI)\n" +
			"- Infrastructure as Code (Terraform, Ansible)\n" +
			"- Linux system administration\n" +
			"- Monitoring and logging (Prometheus, Grafana)\n" +
			"- Cloud platforms (AWS, GCP, Azure)\n\n" +
			"When given a task, provide production-ready configurations with security best practices, " +
			"proper resource limits, and clear documentation.",
		Tags: []string{"docker", "kubernetes", "cicd", "terraform", "aws", "linux", "deployment"},
	},
	"fullstack": {
		Type:        "fullstack",
		Name:        "Full-Stack Developer",
		Description: "General-purpose full-stack developer for tasks spanning frontend, backend, and infrastructure.",
		SystemPrompt: "You are an expert full-stack developer. You can handle:\n" +
			"- Frontend: React, TypeScript, Tailwind CSS\n" +
			"- Backend: Python/FastAPI, Node.js/Express\n" +
			"- Database: SQL and NoSQL\n" +
			"- DevOps: Docker, basic CI/CD\n" +
			"- API design and integration\n\n" +
			"When given a task, provide a complete solution spanning all necessary layers. " +
			"Focus on clean architecture, proper separation of concerns, and maintainable code.",
		Tags: []string{"fullstack", "react", "python", "node", "api", "general"},
	},
	"testing-expert": {
		Type:        "testing-expert",
		Name:        "Testing & QA Expert",
		Description: "Specializes in test strategy, unit/integration/e2e testing, and quality assurance.",
		SystemPrompt: "You are an expert in software testing and quality assurance. You specialize in:\n" +
			"- Unit testing (pytest, Jest, Vitest)\n" +
			"- Integration and API testing\n" +
			"- End-to-end testing (Playwright, Cypress)\n" +
			"- Test-driven development (TDD)\n" +
			"- Code coverage and quality metrics\n" +
			"- Mocking, fixtures, and test data management\n\n" +
			"When given a task, provide comprehensive test suites with good coverage, clear test " +
			"names, and proper assertions. Always consider edge cases and error scenarios.",
		Tags: []string{"testing", "pytest", "jest", "playwright", "tdd", "qa"},
	},
}

// Registry resolves template types to templates. Custom templates from
// the config layer overlay the builtin catalog.
type Registry struct {
	templates map[string]*Template
}

func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]*Template, len(builtins))}
	for k, v := range builtins {
		r.templates[k] = v
	}
	return r
}

// Add registers a custom template, replacing any builtin of the same type.
func (r *Registry) Add(t *Template) {
	r.templates[t.Type] = t
}

// Get returns the template for a type key, or nil.
func (r *Registry) Get(agentType string) *Template {
	return r.templates[agentType]
}

// List returns all templates sorted by type.
func (r *Registry) List() []*Template {
	out := make([]*Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Match picks a template type for a task description by counting tag
// hits. The planner normally assigns types itself; this is the
// heuristic fallback when it does not. Defaults to fullstack.
func (r *Registry) Match(description string) string {
	lower := strings.ToLower(description)

	best := DefaultType
	bestScore := 0
	for _, t := range r.List() {
		score := 0
		for _, tag := range t.Tags {
			if strings.Contains(lower, tag) {
				score++
			}
		}
		if score > bestScore {
			best = t.Type
			bestScore = score
		}
	}
	return best
}
