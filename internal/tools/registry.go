// Package tools holds the tool registry, per-user enablement, and the
// executor that runs tool calls requested by the model.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/earchibald/home-brain-sub000/pkg/models"
)

// Tool is one callable capability. Skill tools are invoked through chat
// commands rather than by the model, so they never appear in LLM tool lists.
type Tool struct {
	Name        string
	Description string
	Category    models.ToolCategory
	Parameters  json.RawMessage // JSON Schema for the arguments object
	Execute     func(ctx context.Context, userID string, args map[string]any) (string, error)
}

// Registry is the in-memory tool table. Registration overwrites an existing
// tool with the same name; remote servers reconnecting re-register their
// tools through this path.
type Registry struct {
	logger *slog.Logger
	state  *UserState

	mu      sync.RWMutex
	tools   map[string]Tool
	byOwner map[string][]string // remote server name -> tool names
}

// NewRegistry creates an empty registry. state may be nil, in which case
// every tool is enabled for every user.
func NewRegistry(state *UserState, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger.With("component", "tools"),
		state:   state,
		tools:   map[string]Tool{},
		byOwner: map[string][]string{},
	}
}

// Register adds a tool, validating its parameter schema first. A colliding
// name is overwritten with a warning.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Execute == nil {
		return fmt.Errorf("tool %s: execute function is required", t.Name)
	}
	if len(t.Parameters) > 0 {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(t.Name+".json", strings.NewReader(string(t.Parameters))); err != nil {
			return fmt.Errorf("tool %s: invalid parameter schema: %w", t.Name, err)
		}
		if _, err := compiler.Compile(t.Name + ".json"); err != nil {
			return fmt.Errorf("tool %s: invalid parameter schema: %w", t.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		r.logger.Warn("overwriting existing tool", "tool", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// RegisterRemote registers a tool owned by a named remote server so the
// server's whole set can be dropped on disconnect.
func (r *Registry) RegisterRemote(server string, t Tool) error {
	t.Category = models.ToolRemote
	if err := r.Register(t); err != nil {
		return err
	}
	r.mu.Lock()
	r.byOwner[server] = append(r.byOwner[server], t.Name)
	r.mu.Unlock()
	return nil
}

// UnregisterServer removes every tool a remote server registered.
func (r *Registry) UnregisterServer(server string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range r.byOwner[server] {
		delete(r.tools, name)
	}
	delete(r.byOwner, server)
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EnabledForLLM returns the tools the model may call for this user: skill
// tools and per-user disabled tools are excluded.
func (r *Registry) EnabledForLLM(userID string) []Tool {
	all := r.List()
	out := make([]Tool, 0, len(all))
	for _, t := range all {
		if t.Category == models.ToolSkill {
			continue
		}
		if r.state != nil && !r.state.Enabled(userID, t.Name) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// FunctionSpecs renders the LLM-visible tools as function specs for native
// function-calling providers.
func (r *Registry) FunctionSpecs(userID string) []models.FunctionSpec {
	enabled := r.EnabledForLLM(userID)
	out := make([]models.FunctionSpec, 0, len(enabled))
	for _, t := range enabled {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, models.FunctionSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return out
}

// PromptDescriptions renders the LLM-visible tools as a text block for
// providers without native function calling.
func (r *Registry) PromptDescriptions(userID string) string {
	enabled := r.EnabledForLLM(userID)
	if len(enabled) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, t := range enabled {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		if len(t.Parameters) > 0 {
			fmt.Fprintf(&b, "  parameters: %s\n", string(t.Parameters))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
