package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrison/mender/internal/oracle"
	"github.com/harrison/mender/internal/repair"
)

// Defaults for paths relative to the project root
const (
	DirName                = ".mender"
	FileName               = "config.yaml"
	DefaultLogDir          = ".mender/logs"
	DefaultCrashesDir      = "crashes"
	DefaultKnowledgeDBPath = ".mender/knowledge/crystals.db"
)

// TimeoutsConfig holds per-step timeouts. Zero disables a step's timeout.
type TimeoutsConfig struct {
	Diagnose time.Duration `yaml:"diagnose"`
	Apply    time.Duration `yaml:"apply"`
	Validate time.Duration `yaml:"validate"`
	Persist  time.Duration `yaml:"persist"`
}

// OracleConfig selects the diagnosis backend
type OracleConfig struct {
	// Provider is claude, openai or groq
	Provider string `yaml:"provider"`

	// Model overrides the backend's default model
	Model string `yaml:"model"`

	// BaseURL is the API endpoint for openai/groq
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key
	APIKeyEnv string `yaml:"api_key_env"`

	// ClaudePath is the claude binary
	ClaudePath string `yaml:"claude_path"`

	// Temperature is the sampling temperature for openai/groq
	Temperature float32 `yaml:"temperature"`
}

// ValidationConfig lists the commands that decide whether a fix works
type ValidationConfig struct {
	Commands []string `yaml:"commands"`
}

// KnowledgeConfig configures the crystal store
type KnowledgeConfig struct {
	// DBPath is the SQLite database, relative to the project root unless absolute
	DBPath string `yaml:"db_path"`

	// PriorLimit caps approach statistics fed back to the oracle (0 disables)
	PriorLimit int `yaml:"prior_limit"`
}

// Config represents mender configuration options
type Config struct {
	// MaxIterations bounds the repair loop
	MaxIterations int `yaml:"max_iterations"`

	// Timeouts bound each loop step
	Timeouts TimeoutsConfig `yaml:"timeouts"`

	// RevertOnFailure undoes an attempt's edits after failed validation
	RevertOnFailure bool `yaml:"revert_on_failure"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where run logs are written
	LogDir string `yaml:"log_dir"`

	// CrashesDir is where crash records are captured
	CrashesDir string `yaml:"crashes_dir"`

	Oracle     OracleConfig     `yaml:"oracle"`
	Validation ValidationConfig `yaml:"validation"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		MaxIterations: repair.DefaultMaxIterations,
		Timeouts: TimeoutsConfig{
			Diagnose: repair.DefaultDiagnoseTimeout,
			Apply:    repair.DefaultApplyTimeout,
			Validate: repair.DefaultValidateTimeout,
			Persist:  repair.DefaultPersistTimeout,
		},
		RevertOnFailure: false,
		LogLevel:        "info",
		LogDir:          DefaultLogDir,
		CrashesDir:      DefaultCrashesDir,
		Oracle: OracleConfig{
			Provider: oracle.ProviderClaude,
		},
		Validation: ValidationConfig{
			Commands: []string{"go test ./..."},
		},
		Knowledge: KnowledgeConfig{
			DBPath:     DefaultKnowledgeDBPath,
			PriorLimit: repair.DefaultPriorLimit,
		},
	}
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations are strings in YAML ("90s", "2m")
	type yamlTimeouts struct {
		Diagnose string `yaml:"diagnose"`
		Apply    string `yaml:"apply"`
		Validate string `yaml:"validate"`
		Persist  string `yaml:"persist"`
	}
	type yamlConfig struct {
		MaxIterations   int              `yaml:"max_iterations"`
		Timeouts        yamlTimeouts     `yaml:"timeouts"`
		RevertOnFailure bool             `yaml:"revert_on_failure"`
		LogLevel        string           `yaml:"log_level"`
		LogDir          string           `yaml:"log_dir"`
		CrashesDir      string           `yaml:"crashes_dir"`
		Oracle          OracleConfig     `yaml:"oracle"`
		Validation      ValidationConfig `yaml:"validation"`
		Knowledge       KnowledgeConfig  `yaml:"knowledge"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Presence map for fields whose zero value is meaningful
	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(data, &rawMap); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// An explicit 0 must reach Validate
	if _, exists := rawMap["max_iterations"]; exists {
		cfg.MaxIterations = yamlCfg.MaxIterations
	}

	timeouts := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"diagnose", yamlCfg.Timeouts.Diagnose, &cfg.Timeouts.Diagnose},
		{"apply", yamlCfg.Timeouts.Apply, &cfg.Timeouts.Apply},
		{"validate", yamlCfg.Timeouts.Validate, &cfg.Timeouts.Validate},
		{"persist", yamlCfg.Timeouts.Persist, &cfg.Timeouts.Persist},
	}
	for _, t := range timeouts {
		if t.raw == "" {
			continue
		}
		d, err := time.ParseDuration(t.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid timeouts.%s format %q: %w", t.name, t.raw, err)
		}
		*t.dst = d
	}

	if _, exists := rawMap["revert_on_failure"]; exists {
		cfg.RevertOnFailure = yamlCfg.RevertOnFailure
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.CrashesDir != "" {
		cfg.CrashesDir = yamlCfg.CrashesDir
	}

	o := yamlCfg.Oracle
	if o.Provider != "" {
		cfg.Oracle.Provider = o.Provider
	}
	if o.Model != "" {
		cfg.Oracle.Model = o.Model
	}
	if o.BaseURL != "" {
		cfg.Oracle.BaseURL = o.BaseURL
	}
	if o.APIKeyEnv != "" {
		cfg.Oracle.APIKeyEnv = o.APIKeyEnv
	}
	if o.ClaudePath != "" {
		cfg.Oracle.ClaudePath = o.ClaudePath
	}
	if sectionHas(rawMap, "oracle", "temperature") {
		cfg.Oracle.Temperature = o.Temperature
	}

	// An explicit list replaces the default, even when empty, so that
	// Validate can reject it.
	if sectionHas(rawMap, "validation", "commands") {
		cfg.Validation.Commands = yamlCfg.Validation.Commands
	}

	if yamlCfg.Knowledge.DBPath != "" {
		cfg.Knowledge.DBPath = yamlCfg.Knowledge.DBPath
	}
	if sectionHas(rawMap, "knowledge", "prior_limit") {
		cfg.Knowledge.PriorLimit = yamlCfg.Knowledge.PriorLimit
	}

	return cfg, nil
}

func sectionHas(raw map[string]interface{}, section, key string) bool {
	m, ok := raw[section].(map[string]interface{})
	if !ok {
		return false
	}
	_, exists := m[key]
	return exists
}

// Path returns the config file location for a project root
func Path(projectRoot string) string {
	return filepath.Join(projectRoot, DirName, FileName)
}

// LoadConfigFromDir loads configuration from .mender/config.yaml in the specified directory
// If the directory or file doesn't exist, returns default configuration without error
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(Path(dir))
}

// FlagOverrides carries CLI flag values. Nil fields were not set.
type FlagOverrides struct {
	MaxIterations   *int
	DiagnoseTimeout *time.Duration
	ApplyTimeout    *time.Duration
	ValidateTimeout *time.Duration
	Revert          *bool
	Provider        *string
	Model           *string
	LogLevel        *string
	LogDir          *string
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(f FlagOverrides) {
	if f.MaxIterations != nil {
		c.MaxIterations = *f.MaxIterations
	}
	if f.DiagnoseTimeout != nil {
		c.Timeouts.Diagnose = *f.DiagnoseTimeout
	}
	if f.ApplyTimeout != nil {
		c.Timeouts.Apply = *f.ApplyTimeout
	}
	if f.ValidateTimeout != nil {
		c.Timeouts.Validate = *f.ValidateTimeout
	}
	if f.Revert != nil {
		c.RevertOnFailure = *f.Revert
	}
	if f.Provider != nil {
		c.Oracle.Provider = *f.Provider
	}
	if f.Model != nil {
		c.Oracle.Model = *f.Model
	}
	if f.LogLevel != nil {
		c.LogLevel = *f.LogLevel
	}
	if f.LogDir != nil {
		c.LogDir = *f.LogDir
	}
}

var validProviders = []string{oracle.ProviderClaude, oracle.ProviderOpenAI, oracle.ProviderGroq}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be > 0, got %d", c.MaxIterations)
	}

	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"diagnose", c.Timeouts.Diagnose},
		{"apply", c.Timeouts.Apply},
		{"validate", c.Timeouts.Validate},
		{"persist", c.Timeouts.Persist},
	}
	for _, t := range timeouts {
		if t.d < 0 {
			return fmt.Errorf("timeouts.%s must be >= 0, got %v", t.name, t.d)
		}
	}

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	provider := strings.ToLower(c.Oracle.Provider)
	known := false
	for _, p := range validProviders {
		if provider == p {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("invalid oracle.provider %q, must be one of: %s", c.Oracle.Provider, strings.Join(validProviders, ", "))
	}
	if c.Oracle.Temperature < 0 || c.Oracle.Temperature > 2 {
		return fmt.Errorf("oracle.temperature must be between 0 and 2, got %v", c.Oracle.Temperature)
	}

	if len(c.Validation.Commands) == 0 {
		return fmt.Errorf("validation.commands cannot be empty")
	}
	for i, cmd := range c.Validation.Commands {
		if strings.TrimSpace(cmd) == "" {
			return fmt.Errorf("validation.commands[%d] is blank", i)
		}
	}

	if c.Knowledge.DBPath == "" {
		return fmt.Errorf("knowledge.db_path cannot be empty")
	}
	if c.Knowledge.PriorLimit < 0 {
		return fmt.Errorf("knowledge.prior_limit must be >= 0, got %d", c.Knowledge.PriorLimit)
	}

	return nil
}

// RepairOptions converts the loop settings into repair options
func (c *Config) RepairOptions() repair.Options {
	return repair.Options{
		MaxIterations:   c.MaxIterations,
		DiagnoseTimeout: c.Timeouts.Diagnose,
		ApplyTimeout:    c.Timeouts.Apply,
		ValidateTimeout: c.Timeouts.Validate,
		PersistTimeout:  c.Timeouts.Persist,
		RevertOnFailure: c.RevertOnFailure,
		PriorLimit:      c.Knowledge.PriorLimit,
	}
}

// OracleSettings converts the oracle section for oracle.New
func (c *Config) OracleSettings() oracle.Config {
	return oracle.Config{
		Provider:    c.Oracle.Provider,
		Model:       c.Oracle.Model,
		BaseURL:     c.Oracle.BaseURL,
		APIKeyEnv:   c.Oracle.APIKeyEnv,
		ClaudePath:  c.Oracle.ClaudePath,
		Temperature: c.Oracle.Temperature,
	}
}
