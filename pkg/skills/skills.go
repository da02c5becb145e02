package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// ErrUnknownTool is returned when a tool name does not resolve.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments is returned when tool arguments fail schema validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Handler executes one tool call. Arguments arrive schema-validated.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// ToolSpec declares one callable tool within a skill manifest. Parameters is
// a JSON Schema document; the LLM-facing schema and the argument validator
// are both derived from it.
type ToolSpec struct {
	Name           string          `yaml:"name" json:"name"`
	Description    string          `yaml:"description" json:"description"`
	Parameters     json.RawMessage `yaml:"-" json:"parameters"`
	TimeoutSeconds int             `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Manifest declares one skill: a named group of tools sharing a handler set.
type Manifest struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description" json:"description"`
	Tools       []ToolSpec `yaml:"tools" json:"tools"`
}

// Tool is one resolved, dispatchable tool.
type Tool struct {
	SkillName string
	Spec      ToolSpec
	schema    *jsonschema.Schema
	handler   Handler
}

// WireName is the function name presented to the LLM. Dots are avoided
// because some providers reject them in function names.
func (t *Tool) WireName() string {
	return t.SkillName + "_" + t.Spec.Name
}

// Timeout is the per-call budget declared in the manifest.
func (t *Tool) Timeout() time.Duration {
	if t.Spec.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(t.Spec.TimeoutSeconds) * time.Second
}

// Invoke validates args against the tool schema and runs the handler.
func (t *Tool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if t.schema != nil {
		if err := t.schema.Validate(decoded); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
	}
	return t.handler(ctx, args)
}

type registrySnapshot struct {
	byWireName map[string]*Tool
	bySkill    map[string][]*Tool
}

// Registry maps skill names to their dispatchable tools. It is built once at
// boot from manifests and rebuilt wholesale on reload; readers see each build
// atomically.
type Registry struct {
	snap atomic.Pointer[registrySnapshot]
}

// NewRegistry builds a registry from manifests and their handlers, keyed by
// "<skill>.<tool>". Unhandled manifest tools and dangling handlers are both
// build errors; the two sets must match exactly.
func NewRegistry(manifests []Manifest, handlers map[string]Handler) (*Registry, error) {
	r := &Registry{}
	if err := r.Rebuild(manifests, handlers); err != nil {
		return nil, err
	}
	return r, nil
}

// Rebuild replaces the full tool set in one atomic swap. On error the
// previous snapshot stays live.
func (r *Registry) Rebuild(manifests []Manifest, handlers map[string]Handler) error {
	snap := &registrySnapshot{
		byWireName: make(map[string]*Tool),
		bySkill:    make(map[string][]*Tool),
	}
	seen := make(map[string]bool)

	for _, m := range manifests {
		for _, spec := range m.Tools {
			key := m.Name + "." + spec.Name
			handler, ok := handlers[key]
			if !ok {
				return fmt.Errorf("no handler registered for tool %q", key)
			}
			seen[key] = true

			var schema *jsonschema.Schema
			if len(spec.Parameters) > 0 {
				compiled, err := jsonschema.CompileString(key+".schema.json", string(spec.Parameters))
				if err != nil {
					return fmt.Errorf("failed to compile schema for tool %q: %w", key, err)
				}
				schema = compiled
			}

			t := &Tool{SkillName: m.Name, Spec: spec, schema: schema, handler: handler}
			if _, dup := snap.byWireName[t.WireName()]; dup {
				return fmt.Errorf("duplicate tool name %q", t.WireName())
			}
			snap.byWireName[t.WireName()] = t
			snap.bySkill[m.Name] = append(snap.bySkill[m.Name], t)
		}
	}
	for key := range handlers {
		if !seen[key] {
			return fmt.Errorf("handler %q has no manifest tool", key)
		}
	}

	r.snap.Store(snap)
	return nil
}

// Resolve looks up a tool by its LLM-facing function name.
func (r *Registry) Resolve(wireName string) (*Tool, error) {
	t, ok := r.snap.Load().byWireName[wireName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, wireName)
	}
	return t, nil
}

// SkillNames returns the sorted set of registered skills.
func (r *Registry) SkillNames() []string {
	snap := r.snap.Load()
	names := make([]string, 0, len(snap.bySkill))
	for name := range snap.bySkill {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToolsFor derives the OpenAI tool schema for an agent's declared skills.
// Unknown skill names are ignored so a catalog edit cannot break a turn.
func (r *Registry) ToolsFor(skillNames []string) []openai.Tool {
	snap := r.snap.Load()
	var out []openai.Tool
	for _, skill := range skillNames {
		for _, t := range snap.bySkill[skill] {
			params := t.Spec.Parameters
			if len(params) == 0 {
				params = json.RawMessage(`{"type":"object","properties":{}}`)
			}
			out = append(out, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.WireName(),
					Description: t.Spec.Description,
					Parameters:  params,
				},
			})
		}
	}
	return out
}
