// Package config resolves docrag settings. Precedence, lowest first:
// built-in defaults, the YAML file, then environment variables. The file is
// applied by exporting its values as environment variables that are not
// already set, so every component reads one source.
//
// The file is the first that exists of:
//  1. the --config flag
//  2. $DOCRAG_CONFIG
//  3. $DOCRAG_HOME/config.yaml (default ~/.docrag/config.yaml)
//  4. ./docrag.yaml
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load finds the config file, validates it and exports its values. It
// returns the path that was applied, or "" when there is none. Unknown keys
// are rejected so typos do not silently fall back to defaults.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := findFile(explicitPath)
	if path == "" {
		log.Debug("config: no config file, using environment only")
		return "", nil
	}

	f, err := parseFile(path)
	if err != nil {
		return "", err
	}

	var applied, shadowed []string
	for _, p := range f.envPairs() {
		if p.value == "" {
			continue
		}
		if os.Getenv(p.key) != "" {
			shadowed = append(shadowed, p.key)
			continue
		}
		if err := os.Setenv(p.key, p.value); err != nil {
			return "", fmt.Errorf("config: set %s: %w", p.key, err)
		}
		applied = append(applied, p.key)
	}

	log.Info("config: applied config file",
		slog.String("path", path),
		slog.Int("keys_applied", len(applied)))
	if len(shadowed) > 0 {
		log.Debug("config: environment overrides file", slog.Any("keys", shadowed))
	}
	return path, nil
}

func parseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &f, nil
}

// LoadDotEnv exports KEY=VALUE pairs from each file (default ".env")
// without overriding variables already set. Missing files are skipped.
func LoadDotEnv(log *slog.Logger, paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		err := godotenv.Load(p)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			continue
		case err != nil:
			return fmt.Errorf("config: load %s: %w", p, err)
		}
		log.Debug("config: loaded dotenv file", slog.String("path", p))
	}
	return nil
}

// findFile returns the first candidate config file that exists. An explicit
// path that does not exist yields "".
func findFile(explicit string) string {
	if explicit != "" {
		if exists(explicit) {
			return explicit
		}
		return ""
	}
	candidates := []string{os.Getenv("DOCRAG_CONFIG")}
	if home, err := HomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, "config.yaml"))
	}
	candidates = append(candidates, "docrag.yaml")

	for _, c := range candidates {
		if c != "" && exists(c) {
			return c
		}
	}
	return ""
}

func exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// HomeDir returns the docrag state directory: $DOCRAG_HOME, or ~/.docrag.
func HomeDir() (string, error) {
	if h := os.Getenv("DOCRAG_HOME"); h != "" {
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".docrag"), nil
}
