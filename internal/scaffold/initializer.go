// Package scaffold writes a starter pledge.yml.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/pledge/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// ExistingConfigError reports a configuration file that would be overwritten.
type ExistingConfigError struct {
	Path string
}

func (e *ExistingConfigError) Error() string {
	return fmt.Sprintf("%s already exists", e.Path)
}

// CheckExisting returns an ExistingConfigError if path already exists.
func CheckExisting(path string) error {
	if _, err := os.Stat(path); err == nil {
		return &ExistingConfigError{Path: path}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check %s: %w", path, err)
	}
	return nil
}

// Template returns the starter configuration.
func Template() ([]byte, error) {
	content, err := templatesFS.ReadFile("templates/pledge.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read pledge.yml template: %w", err)
	}
	return content, nil
}

// Initialize writes the starter configuration to path and verifies it loads.
// Without force an existing file is left alone and an ExistingConfigError returned.
func Initialize(path string, force bool) error {
	if !force {
		if err := CheckExisting(path); err != nil {
			return err
		}
	}

	content, err := Template()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if _, err := config.Load(path); err != nil {
		return fmt.Errorf("created %s does not load: %w", path, err)
	}
	return nil
}
