// Package envfile seeds the process environment from a .env file so the API
// key and overrides like TESTMEND_MODEL can live next to the config file.
// Variables already present in the environment always win.
package envfile

import (
	"os"
	"path/filepath"
	"strings"
)

// Load applies the nearest .env file, searching from the working directory
// upward. TESTMEND_ENV_PATH points at an explicit file instead. It returns
// the number of variables set; no .env anywhere is not an error.
func Load() (int, error) {
	if explicit := strings.TrimSpace(os.Getenv("TESTMEND_ENV_PATH")); explicit != "" {
		return LoadPath(explicit)
	}
	dir, err := os.Getwd()
	if err != nil {
		return 0, err
	}
	for {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			return LoadPath(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return 0, nil
		}
		dir = parent
	}
}

// LoadPath applies one specific env file.
func LoadPath(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	set := 0
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := parseLine(line)
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return set, err
		}
		set++
	}
	return set, nil
}

// parseLine understands KEY=value with optional "export " prefix and single
// or double quotes around the value. Blank lines, comments, and anything
// without an = are skipped.
func parseLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, value, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	value = strings.TrimSpace(value)
	for _, quote := range []string{`"`, "'"} {
		if len(value) >= 2 && strings.HasPrefix(value, quote) && strings.HasSuffix(value, quote) {
			value = strings.TrimSuffix(strings.TrimPrefix(value, quote), quote)
			break
		}
	}
	return key, value, true
}
