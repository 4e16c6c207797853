// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides configuration types and loading for the memory
// service. A single YAML file is the entry point; environment variables
// override the credential and mode knobs.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/engram/pkg/scope"
)

// Config is the complete service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server,omitempty"`
	Storage     StorageConfig     `yaml:"storage,omitempty"`
	Embedder    EmbedderConfig    `yaml:"embedder,omitempty"`
	Classifier  ClassifierConfig  `yaml:"classifier,omitempty"`
	Capture     CaptureConfig     `yaml:"capture,omitempty"`
	Query       QueryConfig       `yaml:"query,omitempty"`
	Maintenance MaintenanceConfig `yaml:"maintenance,omitempty"`
	Import      ImportConfig      `yaml:"import,omitempty"`
	Sync        SyncConfig        `yaml:"sync,omitempty"`
	Logging     LoggingConfig     `yaml:"logging,omitempty"`
}

// ServerConfig configures the HTTP boundary and its credentials.
type ServerConfig struct {
	Host        string `yaml:"host,omitempty"`
	Port        int    `yaml:"port,omitempty"`
	APIKey      string `yaml:"api_key,omitempty"`
	AdminKey    string `yaml:"admin_key,omitempty"`
	AgentID     string `yaml:"agent_id,omitempty"`
	Permissions string `yaml:"permissions,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8700
	}
	if c.AgentID == "" {
		c.AgentID = "rest-agent"
	}
	if c.Permissions == "" {
		c.Permissions = string(scope.Standard)
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", c.Port)
	}
	if _, err := scope.ParsePolicyMode(c.Permissions); err != nil {
		return err
	}
	return nil
}

// StorageConfig configures the embedded database and backups.
type StorageConfig struct {
	Path       string `yaml:"path,omitempty"`
	BackupDir  string `yaml:"backup_dir,omitempty"`
	BackupKeep int    `yaml:"backup_keep,omitempty"`
}

func (c *StorageConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "engram.db"
	}
	if c.BackupDir == "" {
		c.BackupDir = "backups"
	}
	if c.BackupKeep == 0 {
		c.BackupKeep = 5
	}
}

func (c *StorageConfig) Validate() error {
	if c.BackupKeep < 1 {
		return fmt.Errorf("backup_keep must be positive, got %d", c.BackupKeep)
	}
	return nil
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	Provider  string `yaml:"provider,omitempty"` // ollama | openai
	BaseURL   string `yaml:"base_url,omitempty"`
	Model     string `yaml:"model,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	Dimension int    `yaml:"dimension,omitempty"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "ollama"
	}
	if c.BaseURL == "" && c.Provider == "ollama" {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Model == "" {
		c.Model = "nomic-embed-text"
	}
	if c.Dimension == 0 {
		c.Dimension = 768
	}
}

func (c *EmbedderConfig) Validate() error {
	switch c.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unsupported embedder provider: %s", c.Provider)
	}
	if c.Provider == "openai" && c.APIKey == "" {
		return fmt.Errorf("openai embedder requires an api_key")
	}
	if c.Dimension < 1 {
		return fmt.Errorf("dimension must be positive, got %d", c.Dimension)
	}
	return nil
}

// ClassifierConfig configures the generative classifier behind the capture
// pipeline. Disabled when no base URL is set.
type ClassifierConfig struct {
	Enabled            bool    `yaml:"enabled,omitempty"`
	BaseURL            string  `yaml:"base_url,omitempty"`
	Model              string  `yaml:"model,omitempty"`
	APIKey             string  `yaml:"api_key,omitempty"`
	AutoStoreThreshold float64 `yaml:"auto_store_threshold,omitempty"`
	SuggestThreshold   float64 `yaml:"suggest_threshold,omitempty"`
}

func (c *ClassifierConfig) SetDefaults() {
	if c.Model == "" {
		c.Model = "llama3.2"
	}
	if c.AutoStoreThreshold == 0 {
		c.AutoStoreThreshold = 0.85
	}
	if c.SuggestThreshold == 0 {
		c.SuggestThreshold = 0.70
	}
	if c.BaseURL != "" {
		c.Enabled = true
	}
}

func (c *ClassifierConfig) Validate() error {
	if c.Enabled && c.BaseURL == "" {
		return fmt.Errorf("classifier is enabled without a base_url")
	}
	if c.AutoStoreThreshold < c.SuggestThreshold {
		return fmt.Errorf("auto_store_threshold (%v) must be >= suggest_threshold (%v)",
			c.AutoStoreThreshold, c.SuggestThreshold)
	}
	return nil
}

// CaptureConfig configures trigger detection and the classification queue.
type CaptureConfig struct {
	CooldownMs           int     `yaml:"cooldown_ms,omitempty"`
	MinConfidenceScore   float64 `yaml:"min_confidence_score,omitempty"`
	QueueSize            int     `yaml:"queue_size,omitempty"`
	ProcessingIntervalMs int     `yaml:"processing_interval_ms,omitempty"`
}

func (c *CaptureConfig) SetDefaults() {
	if c.CooldownMs == 0 {
		c.CooldownMs = 5000
	}
	if c.MinConfidenceScore == 0 {
		c.MinConfidenceScore = 0.5
	}
	if c.QueueSize == 0 {
		c.QueueSize = 100
	}
	if c.ProcessingIntervalMs == 0 {
		c.ProcessingIntervalMs = 1000
	}
}

func (c *CaptureConfig) Validate() error {
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if c.MinConfidenceScore < 0 || c.MinConfidenceScore > 1 {
		return fmt.Errorf("min_confidence_score must be 0-1, got %v", c.MinConfidenceScore)
	}
	return nil
}

// QueryConfig configures the retrieval pipeline and its result cache.
type QueryConfig struct {
	CacheSize    int `yaml:"cache_size,omitempty"`
	CacheTTLSec  int `yaml:"cache_ttl_sec,omitempty"`
	DefaultLimit int `yaml:"default_limit,omitempty"`
}

func (c *QueryConfig) SetDefaults() {
	if c.CacheSize == 0 {
		c.CacheSize = 256
	}
	if c.CacheTTLSec == 0 {
		c.CacheTTLSec = 300
	}
	if c.DefaultLimit == 0 {
		c.DefaultLimit = 10
	}
}

func (c *QueryConfig) Validate() error {
	if c.DefaultLimit < 1 {
		return fmt.Errorf("default_limit must be positive, got %d", c.DefaultLimit)
	}
	return nil
}

// MaintenanceConfig configures the scheduled maintenance runner.
type MaintenanceConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	Schedule string `yaml:"schedule,omitempty"`

	AutoPromoteThreshold float64 `yaml:"auto_promote_threshold,omitempty"`
	ReviewThreshold      float64 `yaml:"review_threshold,omitempty"`
	MinPatternSize       int     `yaml:"min_pattern_size,omitempty"`
	SimilarityThreshold  float64 `yaml:"similarity_threshold,omitempty"`
}

func (c *MaintenanceConfig) SetDefaults() {
	if c.Schedule == "" {
		c.Schedule = "0 5 * * *"
	}
	if c.AutoPromoteThreshold == 0 {
		c.AutoPromoteThreshold = 0.9
	}
	if c.ReviewThreshold == 0 {
		c.ReviewThreshold = 0.7
	}
	if c.MinPatternSize == 0 {
		c.MinPatternSize = 2
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.75
	}
}

func (c *MaintenanceConfig) Validate() error {
	if c.AutoPromoteThreshold < c.ReviewThreshold {
		return fmt.Errorf("auto_promote_threshold (%v) must be >= review_threshold (%v)",
			c.AutoPromoteThreshold, c.ReviewThreshold)
	}
	if c.MinPatternSize < 2 {
		return fmt.Errorf("min_pattern_size must be at least 2, got %d", c.MinPatternSize)
	}
	return nil
}

// ImportConfig bounds bulk imports.
type ImportConfig struct {
	MaxEntries int `yaml:"max_entries,omitempty"`
}

func (c *ImportConfig) SetDefaults() {
	if c.MaxEntries == 0 {
		c.MaxEntries = 10000
	}
}

func (c *ImportConfig) Validate() error {
	if c.MaxEntries < 1 {
		return fmt.Errorf("max_entries must be positive, got %d", c.MaxEntries)
	}
	return nil
}

// SyncAdapterConfig configures one external task source.
type SyncAdapterConfig struct {
	Type         string            `yaml:"type"`
	BaseURL      string            `yaml:"base_url,omitempty"`
	Token        string            `yaml:"token,omitempty"`
	Database     string            `yaml:"database,omitempty"`
	FieldMapping map[string]string `yaml:"field_mapping,omitempty"`
	DryRun       bool              `yaml:"dry_run,omitempty"`
}

func (c *SyncAdapterConfig) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("sync adapter requires a type")
	}
	return nil
}

// SyncConfig holds the named sync adapters.
type SyncConfig struct {
	Adapters map[string]SyncAdapterConfig `yaml:"adapters,omitempty"`
}

func (c *SyncConfig) SetDefaults() {
	if c.Adapters == nil {
		c.Adapters = make(map[string]SyncAdapterConfig)
	}
}

func (c *SyncConfig) Validate() error {
	for name, a := range c.Adapters {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("sync adapter '%s' validation failed: %w", name, err)
		}
	}
	return nil
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // simple | verbose
	Output string `yaml:"output,omitempty"` // stderr | file path
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

func (c *LoggingConfig) Validate() error {
	switch c.Format {
	case "simple", "verbose":
		return nil
	}
	return fmt.Errorf("unsupported log format: %s", c.Format)
}

// SetDefaults sets defaults across all sections.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Storage.SetDefaults()
	c.Embedder.SetDefaults()
	c.Classifier.SetDefaults()
	c.Capture.SetDefaults()
	c.Query.SetDefaults()
	c.Maintenance.SetDefaults()
	c.Import.SetDefaults()
	c.Sync.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate validates all sections.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"server", &c.Server},
		{"storage", &c.Storage},
		{"embedder", &c.Embedder},
		{"classifier", &c.Classifier},
		{"capture", &c.Capture},
		{"query", &c.Query},
		{"maintenance", &c.Maintenance},
		{"import", &c.Import},
		{"sync", &c.Sync},
		{"logging", &c.Logging},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s validation failed: %w", s.name, err)
		}
	}
	return nil
}

// PolicyMode returns the parsed write-policy mode. Call after Validate.
func (c *Config) PolicyMode() scope.PolicyMode {
	mode, _ := scope.ParsePolicyMode(c.Server.Permissions)
	return mode
}

// Load loads configuration from a YAML file, applies environment
// overrides, and fills defaults. A missing file yields the default
// configuration.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := unmarshalExpanded(raw, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// LoadFromString parses configuration from a YAML string.
func LoadFromString(yamlContent string) (*Config, error) {
	var cfg Config
	if err := unmarshalExpanded([]byte(yamlContent), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// unmarshalExpanded decodes YAML through an intermediate map so that
// environment references inside values are expanded with their types
// preserved.
func unmarshalExpanded(raw []byte, cfg *Config) error {
	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return err
	}
	expanded, err := yaml.Marshal(ExpandEnvVarsInData(tree))
	if err != nil {
		return err
	}
	return yaml.Unmarshal(expanded, cfg)
}

// applyEnvOverrides maps process environment knobs onto the config. The
// environment wins over the file for credentials and modes.
func (c *Config) applyEnvOverrides() {
	overrides := []struct {
		env    string
		target *string
	}{
		{"ENGRAM_PERMISSIONS_MODE", &c.Server.Permissions},
		{"ENGRAM_REST_API_KEY", &c.Server.APIKey},
		{"ENGRAM_ADMIN_KEY", &c.Server.AdminKey},
		{"ENGRAM_REST_AGENT_ID", &c.Server.AgentID},
		{"ENGRAM_CLASSIFIER_BASE_URL", &c.Classifier.BaseURL},
		{"ENGRAM_CLASSIFIER_MODEL", &c.Classifier.Model},
		{"ENGRAM_DB_PATH", &c.Storage.Path},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
	if v := os.Getenv("ENGRAM_MAX_IMPORT_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Import.MaxEntries = n
		}
	}
}
