package connectors

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDir reads catalog entries from *.yaml, *.yml and *.json files under dir.
// ${VAR} references are expanded from the environment so client secrets can
// stay out of the files. A file may hold one entry or a list of entries.
func LoadDir(dir string) ([]Definition, error) {
	if dir == "" {
		return nil, nil
	}
	out := []Definition{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		defs, err := parse([]byte(os.ExpandEnv(string(b))), ext == ".json")
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for _, def := range defs {
			if def.Slug == "" {
				continue
			}
			if def.AuthMethod == "" {
				def.AuthMethod = AuthOAuth2
			}
			out = append(out, def)
		}
		return nil
	})
	return out, err
}

func parse(b []byte, isJSON bool) ([]Definition, error) {
	trimmed := strings.TrimSpace(string(b))
	list := strings.HasPrefix(trimmed, "[") ||
		(strings.HasPrefix(trimmed, "-") && !strings.HasPrefix(trimmed, "---"))
	if isJSON {
		if list {
			var defs []Definition
			return defs, json.Unmarshal(b, &defs)
		}
		var d Definition
		return []Definition{d}, json.Unmarshal(b, &d)
	}
	if list {
		var defs []Definition
		if err := yaml.Unmarshal(b, &defs); err != nil {
			return nil, fmt.Errorf("yaml parse: %w", err)
		}
		return defs, nil
	}
	var d Definition
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("yaml parse: %w", err)
	}
	return []Definition{d}, nil
}
