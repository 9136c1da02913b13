package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// FindDotEnv walks from dir up to the filesystem root and returns the first
// file called name. It returns "" when none exists.
func FindDotEnv(dir, name string) string {
	for {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadDotEnv loads variables from the nearest .env-style file named name,
// searching upwards from the working directory. Variables already present
// in the environment win. An absolute or relative path containing a
// separator is loaded directly. Returns the loaded path, or "" if none.
func LoadDotEnv(name string) (string, error) {
	if name == "" {
		return "", nil
	}

	path := name
	if filepath.Base(name) == name {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("dotenv: %w", err)
		}
		path = FindDotEnv(wd, name)
		if path == "" {
			return "", nil
		}
	}

	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("dotenv %s: %w", path, err)
	}
	return path, nil
}
