package config

import (
	"fmt"
	"strings"
)

// ParseConfigPath splits a dotted key such as "engine.thresholds.payment".
// Segments hold letters, digits, '_' or '-'.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for i, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: fmt.Sprintf("config path %q: segment %d is empty", raw, i+1)}
		}
		if j := strings.IndexFunc(p, invalidKeyRune); j >= 0 {
			return nil, &ConfigError{Message: fmt.Sprintf("config path %q: invalid character %q", raw, p[j])}
		}
	}
	return parts, nil
}

func invalidKeyRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		return false
	}
	return true
}

// parent walks to the map holding the last segment of path. With create it
// makes or replaces intermediate values with maps.
func parent(root map[string]any, path []string, create bool) (map[string]any, bool) {
	m := root
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			if !create {
				return nil, false
			}
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
	return m, true
}

// GetValueAtPath returns the value at path in a decoded YAML tree.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	m, ok := parent(root, path, false)
	if !ok {
		return nil, false
	}
	v, ok := m[path[len(path)-1]]
	return v, ok
}

// SetValueAtPath stores value at path. Intermediate scalars are replaced by
// maps.
func SetValueAtPath(root map[string]any, path []string, value any) {
	m, _ := parent(root, path, true)
	m[path[len(path)-1]] = value
}

// UnsetValueAtPath deletes path and reports whether it was present.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	m, ok := parent(root, path, false)
	if !ok {
		return false
	}
	last := path[len(path)-1]
	if _, ok := m[last]; !ok {
		return false
	}
	delete(m, last)
	return true
}
