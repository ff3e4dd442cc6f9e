// Package template expands ${name} placeholders in catalogued commands,
// URLs and environment values.
package template

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// Variables binds placeholder names to their values for one expansion.
type Variables map[string]any

// Substitute expands every ${name} in text from vars. The ${env:NAME}
// form reads the process environment instead. Unresolvable placeholders
// are collected and reported together, never silently left in place.
func Substitute(text string, vars Variables) (string, error) {
	if !strings.Contains(text, "${") {
		return text, nil
	}

	var errs []error
	expanded := placeholder.ReplaceAllStringFunc(text, func(match string) string {
		val, err := resolve(match[2:len(match)-1], vars)
		if err != nil {
			errs = append(errs, err)
			return match
		}
		return val
	})
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return expanded, nil
}

func resolve(name string, vars Variables) (string, error) {
	if env, ok := strings.CutPrefix(name, "env:"); ok {
		val, ok := os.LookupEnv(env)
		if !ok {
			return "", fmt.Errorf("env var %q not set", env)
		}
		return val, nil
	}
	val, ok := vars[name]
	if !ok {
		return "", fmt.Errorf("variable %q not found", name)
	}
	return fmt.Sprintf("%v", val), nil
}

// SubstituteMap expands every value of m, keeping the keys as they are.
func SubstituteMap(m map[string]string, vars Variables) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}

	out := make(map[string]string, len(m))
	var errs []error
	for k, v := range m {
		expanded, err := Substitute(v, vars)
		if err != nil {
			errs = append(errs, fmt.Errorf("value %q: %w", k, err))
			continue
		}
		out[k] = expanded
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
