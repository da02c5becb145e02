// Package kernel loads and checksum-verifies the identity/policy configuration
// blobs. The loaded trees are deep-frozen: every level is exposed through
// read-only views, and any mutation attempt returns ErrKernelImmutable.
// The core never writes to kernel storage; reload is an operator action.
package kernel

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrKernelImmutable is returned by every mutation attempt on a loaded tree.
var ErrKernelImmutable = errors.New("kernel is immutable")

// BlobNames are the four configuration blobs loaded from the kernel directory.
var BlobNames = []string{"identity", "values", "safety_constraints", "constitution"}

// Kernel holds the frozen blobs plus the SHA-256 of each source file.
type Kernel struct {
	dir   string
	blobs map[string]*Tree
	sums  map[string][sha256.Size]byte
}

// Load reads each named blob from dir (<name>.yaml), records its SHA-256,
// parses it and deep-freezes the result. A missing or unparsable file fails
// the whole load.
func Load(dir string) (*Kernel, error) {
	k := &Kernel{
		dir:   dir,
		blobs: make(map[string]*Tree, len(BlobNames)),
		sums:  make(map[string][sha256.Size]byte, len(BlobNames)),
	}

	for _, name := range BlobNames {
		path := filepath.Join(dir, name+".yaml")
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read kernel blob %q: %w", name, err)
		}

		var parsed map[string]any
		if err := yaml.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse kernel blob %q: %w", name, err)
		}

		k.sums[name] = sha256.Sum256(raw)
		k.blobs[name] = freezeMap(parsed)
	}

	return k, nil
}

// Get returns the frozen tree for a blob name.
func (k *Kernel) Get(name string) (*Tree, bool) {
	t, ok := k.blobs[name]
	return t, ok
}

// VerifyIntegrity recomputes each source file's SHA-256 and compares it with
// the sum recorded at load. Returns false on any mismatch or missing file.
// It never auto-reloads.
func (k *Kernel) VerifyIntegrity() bool {
	for name, want := range k.sums {
		raw, err := os.ReadFile(filepath.Join(k.dir, name+".yaml"))
		if err != nil {
			return false
		}
		if sha256.Sum256(raw) != want {
			return false
		}
	}
	return true
}

// Checksums returns the hex-encoded SHA-256 per blob, for the debug API.
func (k *Kernel) Checksums() map[string]string {
	out := make(map[string]string, len(k.sums))
	for name, sum := range k.sums {
		out[name] = fmt.Sprintf("%x", sum)
	}
	return out
}

// SystemPrompt renders the identity, values and safety blobs into the
// kernel-sourced section of every chat system prompt. Sections appear in
// blob order; string leaves are emitted as "key: value" lines.
func (k *Kernel) SystemPrompt() string {
	var sections []string
	for _, name := range []string{"identity", "values", "safety_constraints"} {
		tree, ok := k.blobs[name]
		if !ok {
			continue
		}
		var b strings.Builder
		b.WriteString("## " + strings.ReplaceAll(name, "_", " ") + "\n")
		renderTree(&b, tree, "")
		sections = append(sections, b.String())
	}
	return strings.Join(sections, "\n")
}

func renderTree(b *strings.Builder, t *Tree, prefix string) {
	for _, key := range t.Keys() {
		v, _ := t.Get(key)
		label := key
		if prefix != "" {
			label = prefix + "." + key
		}
		switch val := v.(type) {
		case *Tree:
			renderTree(b, val, label)
		case *List:
			for i := 0; i < val.Len(); i++ {
				if s, ok := val.At(i).(string); ok {
					fmt.Fprintf(b, "%s: %s\n", label, s)
				}
			}
		default:
			fmt.Fprintf(b, "%s: %v\n", label, val)
		}
	}
}

// Tree is a read-only view over a nested map. Leaves are strings, numbers
// and bools; branches are *Tree and *List.
type Tree struct {
	entries map[string]any
}

// Get returns the value at key.
func (t *Tree) Get(key string) (any, bool) {
	v, ok := t.entries[key]
	return v, ok
}

// String returns the string leaf at key, or "" when absent or not a string.
func (t *Tree) String(key string) string {
	if v, ok := t.entries[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Keys returns the sorted key set.
func (t *Tree) Keys() []string {
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the entry count.
func (t *Tree) Len() int { return len(t.entries) }

// Set always fails: the kernel contract is observable immutability at every
// depth.
func (t *Tree) Set(string, any) error { return ErrKernelImmutable }

// Delete always fails.
func (t *Tree) Delete(string) error { return ErrKernelImmutable }

// List is a read-only view over a sequence.
type List struct {
	items []any
}

// Len returns the element count.
func (l *List) Len() int { return len(l.items) }

// At returns the element at index i, or nil when out of range.
func (l *List) At(i int) any {
	if i < 0 || i >= len(l.items) {
		return nil
	}
	return l.items[i]
}

// Set always fails.
func (l *List) Set(int, any) error { return ErrKernelImmutable }

// Append always fails.
func (l *List) Append(any) error { return ErrKernelImmutable }

func freezeMap(m map[string]any) *Tree {
	entries := make(map[string]any, len(m))
	for k, v := range m {
		entries[k] = freeze(v)
	}
	return &Tree{entries: entries}
}

func freeze(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return freezeMap(val)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = freeze(item)
		}
		return &List{items: items}
	default:
		return val
	}
}
