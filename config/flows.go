package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/flowrunner/flow"
	"github.com/c360studio/flowrunner/template"
)

// LoadFlow reads a single flow definition file. Environment references
// are expanded before parsing; structure is checked but plugin names are
// not resolved here (the orchestrator does that against its registry).
func LoadFlow(path string) (*flow.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file %s: %w", path, err)
	}

	var f flow.Flow
	if err := yaml.Unmarshal([]byte(template.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("failed to parse flow file %s: %w", path, err)
	}
	if f.Name == "" {
		f.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := flow.Validate(&f, nil); err != nil {
		return nil, fmt.Errorf("flow file %s: %w", path, err)
	}
	return &f, nil
}

// LoadFlowDir loads every .yaml/.yml file in dir, sorted by file name.
// A file that fails to load aborts the whole scan.
func LoadFlowDir(dir string) ([]*flow.Flow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow directory %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	flows := make([]*flow.Flow, 0, len(paths))
	seen := map[string]string{}
	for _, path := range paths {
		f, err := LoadFlow(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("duplicate flow name %q in %s and %s", f.Name, prev, path)
		}
		seen[f.Name] = path
		flows = append(flows, f)
	}
	return flows, nil
}
