package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// tree renders cfg as the generic map its JSON tags describe.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// section walks all but the last key of path and returns the map holding
// the leaf along with the leaf's key.
func section(m map[string]any, path string) (map[string]any, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("empty path")
	}
	keys := strings.Split(path, ".")
	for _, k := range keys[:len(keys)-1] {
		child, ok := m[k].(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("key not found: %s", path)
		}
		m = child
	}
	leaf := keys[len(keys)-1]
	if _, ok := m[leaf]; !ok {
		return nil, "", fmt.Errorf("key not found: %s", path)
	}
	return m, leaf, nil
}

// GetByPath retrieves a config value by dot-notation path (e.g. "bot.number").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	parent, leaf, err := section(m, path)
	if err != nil {
		return nil, err
	}
	return parent[leaf], nil
}

// SetByPath sets an existing config value from its command-line form. The
// raw string is converted to the type the field already has; lists are
// comma-separated.
func SetByPath(cfg *Config, path, raw string) error {
	m, err := tree(cfg)
	if err != nil {
		return err
	}
	parent, leaf, err := section(m, path)
	if err != nil {
		return err
	}

	switch parent[leaf].(type) {
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s: expected true or false, got %q", path, raw)
		}
		parent[leaf] = b
	case float64:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%s: expected a number, got %q", path, raw)
		}
		parent[leaf] = n
	case []any, nil:
		var items []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		parent[leaf] = items
	default:
		parent[leaf] = raw
	}

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Sanitize returns a copy of the config with secrets masked.
func Sanitize(cfg *Config) *Config {
	masked := *cfg
	masked.Price.URLs = append([]string(nil), cfg.Price.URLs...)
	if masked.Teli.Token != "" {
		masked.Teli.Token = maskString(masked.Teli.Token)
	}
	if masked.HTTP.Secret != "" {
		masked.HTTP.Secret = "***"
	}
	return &masked
}

// maskString keeps the first and last four characters.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf path with its current value.
func ListPaths(cfg *Config) map[string]any {
	m, err := tree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}
