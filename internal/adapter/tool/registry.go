package tool

import (
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync"

	"triage-ai/internal/domain"
)

// Registry holds named tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
// If logger is non-nil, tools are wrapped with schema validation on Register;
// compilation errors are logged and the tool is registered unwrapped.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

// Register adds tools. Returns an error on the first name already registered.
func (r *Registry) Register(tools ...domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tools {
		name := t.Name()
		if _, exists := r.tools[name]; exists {
			return domain.NewDomainError("Registry.Register", domain.ErrDuplicate, fmt.Sprintf("tool %q", name))
		}

		if r.logger != nil {
			wrapped, err := WithSchemaValidation(t)
			if err != nil {
				r.logger.Warn("schema validation disabled for tool",
					"tool", name, "error", err)
			} else {
				t = wrapped
			}
		}

		r.tools[name] = t
	}
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns the schemas of the tools whose names match any of the
// given patterns (path.Match syntax, e.g. "tavily_*"), in name order.
// With no patterns it returns every schema.
func (r *Registry) Schemas(patterns ...string) []domain.ToolSchema {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]domain.ToolSchema, 0, len(names))
	for _, name := range names {
		if len(patterns) > 0 && !matchAny(patterns, name) {
			continue
		}
		schemas = append(schemas, r.tools[name].Schema())
	}
	return schemas
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

var _ domain.ToolExecutor = (*Registry)(nil)
