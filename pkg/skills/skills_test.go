package skills

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuiltinRegistry(t *testing.T) *Registry {
	t.Helper()
	manifests, handlers := Builtins()
	r, err := NewRegistry(manifests, handlers)
	require.NoError(t, err)
	return r
}

func TestRegistryDispatch(t *testing.T) {
	r := newBuiltinRegistry(t)

	tool, err := r.Resolve("calc_add")
	require.NoError(t, err)
	assert.Equal(t, "calc", tool.SkillName)

	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"a": 2, "b": 2}`))
	require.NoError(t, err)
	assert.Equal(t, "4", out)
}

func TestRegistryRejectsInvalidArguments(t *testing.T) {
	r := newBuiltinRegistry(t)
	tool, err := r.Resolve("calc_add")
	require.NoError(t, err)

	_, err = tool.Invoke(context.Background(), json.RawMessage(`{"a": "two", "b": 2}`))
	assert.ErrorIs(t, err, ErrInvalidArguments)

	_, err = tool.Invoke(context.Background(), json.RawMessage(`{"a": 1}`))
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestRegistryUnknownTool(t *testing.T) {
	r := newBuiltinRegistry(t)
	_, err := r.Resolve("calc_exp")
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestDivisionByZero(t *testing.T) {
	r := newBuiltinRegistry(t)
	tool, err := r.Resolve("calc_div")
	require.NoError(t, err)

	_, err = tool.Invoke(context.Background(), json.RawMessage(`{"a": 1, "b": 0}`))
	assert.EqualError(t, err, "division by zero")
}

func TestToolsForDeclaredSkills(t *testing.T) {
	r := newBuiltinRegistry(t)

	tools := r.ToolsFor([]string{"calc", "no_such_skill"})
	require.Len(t, tools, 4)
	names := make([]string, 0, len(tools))
	for _, tl := range tools {
		names = append(names, tl.Function.Name)
	}
	assert.ElementsMatch(t, []string{"calc_add", "calc_sub", "calc_mul", "calc_div"}, names)
}

func TestRebuildRejectsMismatchedHandlers(t *testing.T) {
	manifests, handlers := Builtins()
	r, err := NewRegistry(manifests, handlers)
	require.NoError(t, err)

	// Missing handler for a declared tool.
	broken := map[string]Handler{}
	err = r.Rebuild(manifests, broken)
	assert.ErrorContains(t, err, "no handler registered")

	// Previous snapshot must survive the failed rebuild.
	_, err = r.Resolve("clock_now")
	assert.NoError(t, err)

	// Handler without a manifest tool.
	handlers["ghost.tool"] = func(context.Context, json.RawMessage) (string, error) { return "", nil }
	err = r.Rebuild(manifests, handlers)
	assert.ErrorContains(t, err, "has no manifest tool")
}

func TestSkillNamesSorted(t *testing.T) {
	r := newBuiltinRegistry(t)
	assert.Equal(t, []string{"calc", "clock", "memory_search"}, r.SkillNames())
}
