package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed loads a YAML file of key → bundle entries into the store. Each
// value may be a YAML mapping (converted to JSON) or a pre-encoded JSON
// string. Used to bootstrap edge nodes and development setups.
func Seed(ctx context.Context, store Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("kv: read seed %q: %w", path, err)
	}

	var entries map[string]any
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("kv: parse seed %q: %w", path, err)
	}

	n := 0
	for key, val := range entries {
		var raw []byte
		switch v := val.(type) {
		case string:
			if !json.Valid([]byte(v)) {
				return n, fmt.Errorf("kv: seed key %q: value is not valid JSON", key)
			}
			raw = []byte(v)
		default:
			raw, err = json.Marshal(v)
			if err != nil {
				return n, fmt.Errorf("kv: seed key %q: %w", key, err)
			}
		}
		if err := store.Put(ctx, key, raw); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
