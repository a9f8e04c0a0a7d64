package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v4"
)

// Encode serializes samples as YAML when format is "yaml", JSON otherwise.
func Encode(samples []Sample, format string) ([]byte, error) {
	if samples == nil {
		samples = []Sample{}
	}
	switch format {
	case "yaml", "yml":
		data, err := yaml.Marshal(samples)
		if err != nil {
			return nil, fmt.Errorf("error marshalling yaml: %w", err)
		}
		return data, nil
	default:
		data, err := json.Marshal(samples)
		if err != nil {
			return nil, fmt.Errorf("error marshalling JSON: %w", err)
		}
		return data, nil
	}
}

// WriteFile writes samples to path, choosing the format from the extension.
// The file is replaced atomically so a crash never leaves half a trace.
func WriteFile(path string, samples []Sample) error {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	data, err := Encode(samples, format)
	if err != nil {
		return err
	}
	return atomicWriteFile(path, data, 0o644)
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".monitoring-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := f.Name()

	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync data to disk: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if err := os.Rename(tempPath, absPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
