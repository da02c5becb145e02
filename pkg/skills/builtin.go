package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Builtins returns the manifests and handlers for the skills compiled into
// the binary. External skills merge on top of these at boot.
func Builtins() ([]Manifest, map[string]Handler) {
	manifests := []Manifest{
		{
			Name:        "calc",
			Description: "Deterministic arithmetic.",
			Tools: []ToolSpec{
				{
					Name:        "add",
					Description: "Add two numbers.",
					Parameters:  numberPairSchema,
				},
				{
					Name:        "sub",
					Description: "Subtract b from a.",
					Parameters:  numberPairSchema,
				},
				{
					Name:        "mul",
					Description: "Multiply two numbers.",
					Parameters:  numberPairSchema,
				},
				{
					Name:        "div",
					Description: "Divide a by b.",
					Parameters:  numberPairSchema,
				},
			},
		},
		{
			Name:        "clock",
			Description: "Current time.",
			Tools: []ToolSpec{
				{
					Name:        "now",
					Description: "Current UTC time in RFC 3339 format.",
					Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
				},
			},
		},
		{
			Name:        "memory_search",
			Description: "Semantic search over past conversations.",
			Tools: []ToolSpec{
				{
					Name:        "search",
					Description: "Search prior sessions for relevant context.",
					Parameters: json.RawMessage(`{
						"type": "object",
						"properties": {
							"query": {"type": "string"},
							"limit": {"type": "integer", "minimum": 1, "maximum": 20}
						},
						"required": ["query"]
					}`),
				},
			},
		},
	}

	handlers := map[string]Handler{
		"calc.add":             calcHandler(func(a, b float64) (float64, error) { return a + b, nil }),
		"calc.sub":             calcHandler(func(a, b float64) (float64, error) { return a - b, nil }),
		"calc.mul":             calcHandler(func(a, b float64) (float64, error) { return a * b, nil }),
		"calc.div":             calcHandler(safeDiv),
		"clock.now":            clockNow,
		"memory_search.search": memorySearch,
	}
	return manifests, handlers
}

var numberPairSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"a": {"type": "number"},
		"b": {"type": "number"}
	},
	"required": ["a", "b"]
}`)

func calcHandler(op func(a, b float64) (float64, error)) Handler {
	return func(_ context.Context, args json.RawMessage) (string, error) {
		var in struct {
			A float64 `json:"a"`
			B float64 `json:"b"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		result, err := op(in.A, in.B)
		if err != nil {
			return "", err
		}
		return formatNumber(result), nil
	}
}

func safeDiv(a, b float64) (float64, error) {
	if b == 0 {
		return 0, errors.New("division by zero")
	}
	return a / b, nil
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

func clockNow(_ context.Context, _ json.RawMessage) (string, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}

// memorySearch is a placeholder until the external embedder exposes a query
// endpoint. Returning an empty result keeps the tool loop well-formed.
func memorySearch(_ context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return fmt.Sprintf("no stored memories matched %q", in.Query), nil
}
