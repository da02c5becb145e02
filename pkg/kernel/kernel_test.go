package kernel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKernelDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"identity.yaml": `
name: aria
role: multi-agent orchestrator
traits:
  - curious
  - precise
`,
		"values.yaml": `
core:
  honesty: always answer truthfully
  care: protect the operator
`,
		"safety_constraints.yaml": `
forbidden:
  - exfiltrate secrets
max_tool_rounds: 6
`,
		"constitution.yaml": `
articles:
  - agents act only through declared skills
`,
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestLoadAndGet(t *testing.T) {
	k, err := Load(writeKernelDir(t))
	require.NoError(t, err)

	identity, ok := k.Get("identity")
	require.True(t, ok)
	assert.Equal(t, "aria", identity.String("name"))

	traits, ok := identity.Get("traits")
	require.True(t, ok)
	list, ok := traits.(*List)
	require.True(t, ok)
	assert.Equal(t, 2, list.Len())
	assert.Equal(t, "curious", list.At(0))
}

func TestLoadMissingFile(t *testing.T) {
	dir := writeKernelDir(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "constitution.yaml")))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestImmutabilityAtEveryDepth(t *testing.T) {
	k, err := Load(writeKernelDir(t))
	require.NoError(t, err)

	identity, _ := k.Get("identity")
	assert.ErrorIs(t, identity.Set("name", "mallory"), ErrKernelImmutable)
	assert.ErrorIs(t, identity.Delete("name"), ErrKernelImmutable)

	traits, _ := identity.Get("traits")
	list := traits.(*List)
	assert.ErrorIs(t, list.Set(0, "evil"), ErrKernelImmutable)
	assert.ErrorIs(t, list.Append("evil"), ErrKernelImmutable)

	values, _ := k.Get("values")
	nested, _ := values.Get("core")
	assert.ErrorIs(t, nested.(*Tree).Set("honesty", "optional"), ErrKernelImmutable)
}

func TestVerifyIntegrity(t *testing.T) {
	dir := writeKernelDir(t)
	k, err := Load(dir)
	require.NoError(t, err)

	assert.True(t, k.VerifyIntegrity(), "clean load must verify")

	// Tamper with a source file on disk.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "values.yaml"), []byte("core: {}\n"), 0o644))
	assert.False(t, k.VerifyIntegrity())

	// Loaded view is unaffected by the on-disk change.
	values, _ := k.Get("values")
	nested, ok := values.Get("core")
	require.True(t, ok)
	assert.Equal(t, "always answer truthfully", nested.(*Tree).String("honesty"))
}

func TestVerifyIntegrityMissingFile(t *testing.T) {
	dir := writeKernelDir(t)
	k, err := Load(dir)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "safety_constraints.yaml")))
	assert.False(t, k.VerifyIntegrity())
}

func TestSystemPrompt(t *testing.T) {
	k, err := Load(writeKernelDir(t))
	require.NoError(t, err)

	prompt := k.SystemPrompt()
	assert.Contains(t, prompt, "## identity")
	assert.Contains(t, prompt, "name: aria")
	assert.Contains(t, prompt, "## safety constraints")
	assert.NotContains(t, prompt, "constitution", "constitution is not part of the chat prompt")
}
