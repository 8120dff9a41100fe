// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/loglens/internal/conversation"
	"github.com/jeranaias/loglens/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete loglens configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Backend connection settings
	Backend BackendConfig `toml:"backend" json:"backend"`

	// Analysis defaults
	Analysis AnalysisConfig `toml:"analysis" json:"analysis"`

	// Conversation archive settings
	Archive ArchiveConfig `toml:"archive" json:"archive"`

	// Terminal display settings
	UI UIConfig `toml:"ui" json:"ui"`
}

// BackendConfig contains AI backend connection configuration.
type BackendConfig struct {
	// BaseURL is the backend base URL.
	BaseURL string `toml:"base_url" json:"base_url"`
	// TimeoutSecs is the non-streaming request timeout in seconds.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// MaxRetries is the retry budget for non-streaming requests.
	MaxRetries int `toml:"max_retries" json:"max_retries"`
	// RequestsPerSecond paces outbound requests. Zero uses the client default.
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
}

// AnalysisConfig contains analysis session defaults.
type AnalysisConfig struct {
	// Provider selects the backend provider: "anthropic" or "openai".
	Provider string `toml:"provider" json:"provider"`
	// Model is the default model identifier.
	Model string `toml:"model" json:"model"`
	// Mode is the analysis depth: "quick", "smart", or "deep".
	Mode string `toml:"mode" json:"mode"`
	// ContextTurns is how many trailing turns accompany follow-up requests.
	ContextTurns int `toml:"context_turns" json:"context_turns"`
	// ContextChars caps each context turn's content.
	ContextChars int `toml:"context_chars" json:"context_chars"`
	// DebounceMs is the render settling window in milliseconds.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms"`
	// GraceMs is the missing-complete grace delay in milliseconds.
	GraceMs int `toml:"grace_ms" json:"grace_ms"`
}

// ArchiveConfig contains conversation archive configuration.
type ArchiveConfig struct {
	// Enabled turns SQLite conversation persistence on.
	Enabled bool `toml:"enabled" json:"enabled"`
	// Path is the archive database path (empty = ~/.loglens/history.db).
	Path string `toml:"path" json:"path"`
}

// UIConfig contains terminal display configuration.
type UIConfig struct {
	// Theme selects the glamour/chroma style: "auto", "dark", "light".
	Theme string `toml:"theme" json:"theme"`
	// Highlight enables syntax highlighting of fenced code blocks.
	Highlight bool `toml:"highlight" json:"highlight"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Version: "1",
		Backend: BackendConfig{
			BaseURL:     "http://localhost:8090",
			TimeoutSecs: 60,
			MaxRetries:  3,
		},
		Analysis: AnalysisConfig{
			Provider:     "anthropic",
			Model:        "claude-sonnet",
			Mode:         "smart",
			ContextTurns: conversation.DefaultContextTurns,
			ContextChars: conversation.DefaultContextChars,
			DebounceMs:   100,
			GraceMs:      500,
		},
		Archive: ArchiveConfig{
			Enabled: true,
		},
		UI: UIConfig{
			Theme:     "auto",
			Highlight: true,
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the loglens configuration directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".loglens"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir creates the configuration directory if needed.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// DefaultArchivePath returns the archive database path for an empty
// Archive.Path.
func DefaultArchivePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s). Tries TOML first,
// then JSON, and falls back to defaults. Environment overrides are
// applied last.
func Load() (*Config, error) {
	if path, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}
	if path, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file, applying
// defaults for missing values, environment overrides, and validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	if strings.HasSuffix(path, ".json") {
		if err := loadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := loadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	fillDefaults(cfg)
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

func loadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = defaults.Backend.BaseURL
	}
	if cfg.Backend.TimeoutSecs == 0 {
		cfg.Backend.TimeoutSecs = defaults.Backend.TimeoutSecs
	}
	if cfg.Backend.MaxRetries == 0 {
		cfg.Backend.MaxRetries = defaults.Backend.MaxRetries
	}

	if cfg.Analysis.Provider == "" {
		cfg.Analysis.Provider = defaults.Analysis.Provider
	}
	if cfg.Analysis.Model == "" {
		cfg.Analysis.Model = defaults.Analysis.Model
	}
	if cfg.Analysis.Mode == "" {
		cfg.Analysis.Mode = defaults.Analysis.Mode
	}
	if cfg.Analysis.ContextTurns == 0 {
		cfg.Analysis.ContextTurns = defaults.Analysis.ContextTurns
	}
	if cfg.Analysis.ContextChars == 0 {
		cfg.Analysis.ContextChars = defaults.Analysis.ContextChars
	}
	if cfg.Analysis.DebounceMs == 0 {
		cfg.Analysis.DebounceMs = defaults.Analysis.DebounceMs
	}
	if cfg.Analysis.GraceMs == 0 {
		cfg.Analysis.GraceMs = defaults.Analysis.GraceMs
	}

	if cfg.UI.Theme == "" {
		cfg.UI.Theme = defaults.UI.Theme
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file with owner-only
// permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(file, "# loglens configuration file")
	fmt.Fprintln(file, "# Generated by loglens - edit with care")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file atomically.
func SaveJSON(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if _, err := url.ParseRequestURI(c.Backend.BaseURL); err != nil {
		errs = append(errs, ValidationError{
			Field:   "backend.base_url",
			Message: fmt.Sprintf("invalid URL %q", c.Backend.BaseURL),
		})
	}
	if c.Backend.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "backend.timeout_secs",
			Message: "cannot be negative",
		})
	}
	if c.Backend.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "backend.max_retries",
			Message: "cannot be negative",
		})
	}
	if c.Backend.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{
			Field:   "backend.requests_per_second",
			Message: "cannot be negative",
		})
	}

	validProviders := map[string]bool{"anthropic": true, "openai": true}
	if !validProviders[strings.ToLower(c.Analysis.Provider)] {
		errs = append(errs, ValidationError{
			Field:   "analysis.provider",
			Message: fmt.Sprintf("invalid provider '%s', must be one of: anthropic, openai", c.Analysis.Provider),
		})
	}

	validModes := map[string]bool{"quick": true, "smart": true, "deep": true}
	if !validModes[strings.ToLower(c.Analysis.Mode)] {
		errs = append(errs, ValidationError{
			Field:   "analysis.mode",
			Message: fmt.Sprintf("invalid mode '%s', must be one of: quick, smart, deep", c.Analysis.Mode),
		})
	}

	if c.Analysis.ContextTurns < 0 {
		errs = append(errs, ValidationError{
			Field:   "analysis.context_turns",
			Message: "cannot be negative",
		})
	}
	if c.Analysis.ContextChars < 0 {
		errs = append(errs, ValidationError{
			Field:   "analysis.context_chars",
			Message: "cannot be negative",
		})
	}
	if c.Analysis.DebounceMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "analysis.debounce_ms",
			Message: "cannot be negative",
		})
	}
	if c.Analysis.GraceMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "analysis.grace_ms",
			Message: "cannot be negative",
		})
	}

	validThemes := map[string]bool{"auto": true, "dark": true, "light": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: auto, dark, light", c.UI.Theme),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("LOGLENS_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("LOGLENS_PROVIDER"); v != "" {
		c.Analysis.Provider = v
	}
	if v := os.Getenv("LOGLENS_MODEL"); v != "" {
		c.Analysis.Model = v
	}
	if v := os.Getenv("LOGLENS_MODE"); v != "" {
		c.Analysis.Mode = v
	}
	if v := os.Getenv("LOGLENS_ARCHIVE"); v != "" {
		c.Archive.Path = v
		c.Archive.Enabled = true
	}
	if v := os.Getenv("LOGLENS_DEBOUNCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Analysis.DebounceMs = ms
		}
	}
}
