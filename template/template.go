// Package template evaluates CEL expressions against a variable store, either whole (Eval, EvalBool)
// or embedded in a string as {{expression}} (Expand).
package template

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"
)

// Regular expression to match {{expression}} patterns.
var celExprReg = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Expand expands {{CEL expression}} snippets in template with values from the store.
func Expand(template string, store map[string]any) (string, error) {
	env, err := createCELEnv(store)
	if err != nil {
		return "", fmt.Errorf("failed to create CEL environment: %w", err)
	}

	var expandErr error
	result := celExprReg.ReplaceAllStringFunc(template, func(match string) string {
		if expandErr != nil {
			return match
		}
		expr := strings.TrimSpace(match[2 : len(match)-2])
		v, err := eval(env, expr, store)
		if err != nil {
			expandErr = fmt.Errorf("template error for '{{%s}}': %w", expr, err)
			return match
		}
		return fmt.Sprintf("%v", v)
	})

	if expandErr != nil {
		return "", expandErr
	}

	return result, nil
}

// Eval evaluates a single CEL expression and returns its Go value.
func Eval(expr string, store map[string]any) (any, error) {
	env, err := createCELEnv(store)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return eval(env, expr, store)
}

// EvalBool evaluates expr and requires a bool result.
func EvalBool(expr string, store map[string]any) (bool, error) {
	v, err := Eval(expr, store)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q evaluated to %T, want bool", expr, v)
	}
	return b, nil
}

// Check compiles expr against the variable names in store without evaluating it.
func Check(expr string, store map[string]any) error {
	env, err := createCELEnv(store)
	if err != nil {
		return fmt.Errorf("failed to create CEL environment: %w", err)
	}
	if _, issues := env.Compile(expr); issues != nil && issues.Err() != nil {
		return fmt.Errorf("compilation error for %q: %w", expr, issues.Err())
	}
	return nil
}

func eval(env *cel.Env, expr string, store map[string]any) (any, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation error: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	out, _, err := prg.Eval(store)
	if err != nil {
		return nil, fmt.Errorf("evaluation error: %w", err)
	}
	return out.Value(), nil
}

// EnvironToMap returns the process environment as a map, for use as the "env" variable.
func EnvironToMap() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = v
	}
	return env
}

// createCELEnv creates a CEL environment with all variables from the store.
func createCELEnv(store map[string]any) (*cel.Env, error) {
	var options []cel.EnvOption
	for key, value := range store {
		options = append(options, cel.Variable(key, inferCELType(value)))
	}
	return cel.NewEnv(options...)
}

// inferCELType infers the CEL type from a Go value.
func inferCELType(value any) *cel.Type {
	switch value.(type) {
	case string:
		return cel.StringType
	case int, int32, int64:
		return cel.IntType
	case float32, float64:
		return cel.DoubleType
	case bool:
		return cel.BoolType
	case map[string]any:
		return cel.MapType(cel.StringType, cel.AnyType)
	case map[string]string:
		return cel.MapType(cel.StringType, cel.StringType)
	case []any:
		return cel.ListType(cel.AnyType)
	case []string:
		return cel.ListType(cel.StringType)
	default:
		return cel.AnyType
	}
}
