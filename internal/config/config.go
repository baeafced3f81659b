// Package config loads the run configuration from YAML with environment
// overrides. The API key itself never lives in the file; the file names the
// environment variable that carries it.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML fields like "15m" or "90s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Project binds a case-list project name to a checkout path.
type Project struct {
	Name     string `yaml:"name"`
	Checkout string `yaml:"checkout"`
}

type Config struct {
	Model           string `yaml:"model"`
	APIKeyEnv       string `yaml:"api_key_env"`
	BaseURL         string `yaml:"base_url"`
	ReasoningEffort string `yaml:"reasoning_effort"`

	MaxRounds        int      `yaml:"max_rounds"`
	BuildTimeout     Duration `yaml:"build_timeout"`
	ParallelProjects int      `yaml:"parallel_projects"`
	ReviewMode       bool     `yaml:"review_mode"`
	KeepMutated      bool     `yaml:"keep_mutated"`
	MutationCheck    bool     `yaml:"mutation_check"`

	CaseList  string `yaml:"case_list"`
	DataDir   string `yaml:"data_dir"`
	OutputDir string `yaml:"output_dir"`
	DBPath    string `yaml:"db_path"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Projects []Project `yaml:"projects"`
}

func Default() Config {
	return Config{
		Model:            "o4-mini",
		APIKeyEnv:        "OPENAI_API_KEY",
		ReasoningEffort:  "medium",
		MaxRounds:        5,
		BuildTimeout:     Duration(15 * time.Minute),
		ParallelProjects: 1,
		CaseList:         "cases.csv",
		DataDir:          "data",
		OutputDir:        "out",
		DBPath:           "testmend.db",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load reads path into the defaults, applies environment overrides, and
// validates the result. A missing file is fine; defaults plus environment
// still make a usable config.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return Config{}, err
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrideString(&c.Model, "TESTMEND_MODEL")
	overrideString(&c.BaseURL, "TESTMEND_BASE_URL")
	overrideString(&c.DataDir, "TESTMEND_DATA_DIR")
	overrideString(&c.OutputDir, "TESTMEND_OUTPUT_DIR")
	overrideString(&c.DBPath, "TESTMEND_DB_PATH")
	overrideString(&c.CaseList, "TESTMEND_CASE_LIST")
	overrideString(&c.LogLevel, "TESTMEND_LOG_LEVEL")
	overrideString(&c.LogFormat, "TESTMEND_LOG_FORMAT")
}

func overrideString(target *string, name string) {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		*target = value
	}
}

func (c *Config) validate() error {
	if c.Model == "" {
		return fmt.Errorf("model must be set")
	}
	if c.APIKeyEnv == "" {
		return fmt.Errorf("api_key_env must be set")
	}
	if c.MaxRounds <= 0 {
		return fmt.Errorf("max_rounds must be positive, got %d", c.MaxRounds)
	}
	if c.ParallelProjects <= 0 {
		return fmt.Errorf("parallel_projects must be positive, got %d", c.ParallelProjects)
	}
	if time.Duration(c.BuildTimeout) <= 0 {
		return fmt.Errorf("build_timeout must be positive")
	}
	seen := map[string]bool{}
	for _, proj := range c.Projects {
		if proj.Name == "" || proj.Checkout == "" {
			return fmt.Errorf("every project needs a name and a checkout")
		}
		if seen[proj.Name] {
			return fmt.Errorf("project %q listed twice", proj.Name)
		}
		seen[proj.Name] = true
	}
	return nil
}

// APIKey reads the key from the configured environment variable.
func (c *Config) APIKey() string {
	return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
}

// SlogLevel maps the configured level name onto slog's levels, defaulting to
// info for anything unrecognized.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
