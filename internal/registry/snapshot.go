package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	yaml "gopkg.in/yaml.v3"
)

// LoadSnapshot restores r from the YAML snapshot at path. A missing file
// leaves r untouched and is not an error, so the first build of a project
// can point at a snapshot that does not exist yet.
func LoadSnapshot(r *Registry, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read registry snapshot: %w", err)
	}

	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return false, fmt.Errorf("decode registry snapshot %s: %w", path, err)
	}
	if err := r.Restore(s); err != nil {
		return false, fmt.Errorf("restore registry snapshot %s: %w", path, err)
	}
	return true, nil
}

// SaveSnapshot writes the state of r to path as YAML.
func SaveSnapshot(r *Registry, path string) error {
	data, err := yaml.Marshal(r.Snapshot())
	if err != nil {
		return fmt.Errorf("encode registry snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write registry snapshot: %w", err)
	}
	return nil
}
