// Package scaffold writes a starter mission file.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/config"
)

// MissionFile is the file Initialize creates.
const MissionFile = "mission.yml"

//go:embed templates/*
var templatesFS embed.FS

// Template returns the starter mission file.
func Template() ([]byte, error) {
	data, err := templatesFS.ReadFile("templates/mission.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read mission.yml template: %w", err)
	}
	return data, nil
}

// Initialize writes mission.yml into dir and returns its path. An existing
// file is an error unless force is set.
func Initialize(dir string, force bool) (string, error) {
	path := filepath.Join(dir, MissionFile)

	if !force {
		if err := CheckExisting(dir); err != nil {
			return "", err
		}
	}

	data, err := Template()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	// The template must load cleanly
	if _, err := config.Load(path); err != nil {
		return "", fmt.Errorf("created %s is invalid: %w", path, err)
	}

	return path, nil
}

// CheckExisting returns an error if dir already holds a mission file.
func CheckExisting(dir string) error {
	path := filepath.Join(dir, MissionFile)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists\n\nUse 'brain init --force' to overwrite it", path)
	}
	return nil
}
