// Package config loads per-environment YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the news engine configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Auth       AuthConfig       `yaml:"auth"`
	Index      IndexConfig      `yaml:"index"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Ranking    RankingConfig    `yaml:"ranking"`
	Research   ResearchConfig   `yaml:"research"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Events     EventsConfig     `yaml:"events"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string      `yaml:"level"` // debug, info, warn, error (default: determined by env)
	File  FileLogging `yaml:"file"`
}

// FileLogging configures the optional rotating log file.
type FileLogging struct {
	Path       string `yaml:"path"` // empty disables the file sink
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	JWTSecret    string   `yaml:"jwt_secret"`
	AdminAPIKeys []string `yaml:"admin_api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds Redis connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// IndexConfig holds vector index settings shared by articles and cluster centroids.
type IndexConfig struct {
	Dimensions int `yaml:"dimensions"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	KeyPrefix          string `yaml:"key_prefix"`
	EmbeddingCacheDays int    `yaml:"embedding_cache_days"` // 0 disables the embedding cache
}

// EmbeddingConfig holds the embedding provider settings.
type EmbeddingConfig struct {
	APIKey              string `yaml:"api_key"`
	BaseURL             string `yaml:"base_url"`
	Model               string `yaml:"model"`
	DocumentInstruction string `yaml:"document_instruction"`
	MaxInputChars       int    `yaml:"max_input_chars"`
}

// GenerationConfig holds the analysis model settings.
type GenerationConfig struct {
	APIKey      string  `yaml:"api_key"` // defaults to embedding.api_key
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
}

// SourceConfig declares one feed.
type SourceConfig struct {
	Name        string   `yaml:"name"`
	URL         string   `yaml:"url"`
	IntervalSec int      `yaml:"interval_sec"` // 0 uses ingestion.default_interval_sec
	Credibility int      `yaml:"credibility"`
	Topics      []string `yaml:"topics"`
}

// IngestionConfig holds feed polling settings.
type IngestionConfig struct {
	Sources                   []SourceConfig `yaml:"sources"`
	Concurrency               int            `yaml:"concurrency"`
	DefaultIntervalSec        int            `yaml:"default_interval_sec"`
	MaxIntervalSec            int            `yaml:"max_interval_sec"`
	ErrorThreshold            int            `yaml:"error_threshold"`
	MaxArticlesPerFetch       int            `yaml:"max_articles_per_fetch"`
	MinContentCharsForExtract int            `yaml:"min_content_chars_for_extract"`
	EmbedAttempts             int            `yaml:"embed_attempts"`
	EmbedBackoffMs            int            `yaml:"embed_backoff_ms"`
	FetchTimeoutSec           int            `yaml:"fetch_timeout_sec"`
	UserAgent                 string         `yaml:"user_agent"`
	HostIntervalMs            int            `yaml:"host_interval_ms"` // minimum spacing between requests to one host
}

// ClusteringConfig holds assignment thresholds and lifecycle policy.
type ClusteringConfig struct {
	JoinThreshold      float64 `yaml:"join_threshold"`
	LinkThreshold      float64 `yaml:"link_threshold"`
	StabilityFloor     float64 `yaml:"stability_floor"`
	OngoingVolume      int     `yaml:"ongoing_volume"`
	OngoingWindowHours int     `yaml:"ongoing_window_hours"`
	QuiescenceHours    int     `yaml:"quiescence_hours"`
}

// RankingWeights are the score blend weights; they must sum to 1.
type RankingWeights struct {
	LongTerm    float64 `yaml:"long_term"`
	Session     float64 `yaml:"session"`
	Credibility float64 `yaml:"credibility"`
	Recency     float64 `yaml:"recency"`
}

// RankingConfig holds feed ranking settings.
type RankingConfig struct {
	Weights                 RankingWeights `yaml:"weights"`
	HalfLifeHours           int            `yaml:"half_life_hours"`
	LookbackDays            int            `yaml:"lookback_days"`
	CandidateK              int            `yaml:"candidate_k"`
	BlindSpotMinCredibility int            `yaml:"blind_spot_min_credibility"`
	LearningRate            float64        `yaml:"learning_rate"`
	SessionAlpha            float64        `yaml:"session_alpha"`
	SessionTTLMin           int            `yaml:"session_ttl_min"`
	FallbackSize            int            `yaml:"fallback_size"`
	FallbackTTLMin          int            `yaml:"fallback_ttl_min"`
	FeedbackWorkers         int            `yaml:"feedback_workers"`
}

// ResearchConfig holds the deep research cache settings.
type ResearchConfig struct {
	TTLHours             int `yaml:"ttl_hours"`
	GenerationTimeoutSec int `yaml:"generation_timeout_sec"`
	RelatedK             int `yaml:"related_k"`
	SiblingLimit         int `yaml:"sibling_limit"`
	StaleAfterNewRelated int `yaml:"stale_after_new_related"` // negative disables
}

// JobsConfig holds cron schedules. An empty schedule disables the job.
type JobsConfig struct {
	ClusterSweep    string `yaml:"cluster_sweep"`
	ResearchCleanup string `yaml:"research_cleanup"`
}

// EventsConfig holds in-process event bus settings.
type EventsConfig struct {
	BufferSize     int `yaml:"buffer_size"`
	ClusterWorkers int `yaml:"cluster_workers"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
// A .env file in the working directory, if present, is loaded first; it never
// overrides variables already set in the environment.
func Load(env string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}
	return LoadFile(findConfigPath(env))
}

// LoadFile reads, expands, defaults and validates a config file.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

func defaultInt(v *int, d int) {
	if *v <= 0 {
		*v = d
	}
}

func defaultFloat(v *float64, d float64) {
	if *v <= 0 {
		*v = d
	}
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	defaultInt(&c.HTTP.ReadTimeoutSec, 10)
	defaultInt(&c.HTTP.WriteTimeoutSec, 90)
	defaultInt(&c.HTTP.ShutdownSec, 15)
	defaultInt(&c.Database.ReadinessTimeout, 10)
	defaultInt(&c.Index.Dimensions, 768)
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "news:"
	}
	if c.Storage.EmbeddingCacheDays < 0 {
		c.Storage.EmbeddingCacheDays = 0
	}
	if c.Logging.File.Path != "" {
		defaultInt(&c.Logging.File.MaxSizeMB, 100)
		defaultInt(&c.Logging.File.MaxBackups, 5)
		defaultInt(&c.Logging.File.MaxAgeDays, 28)
	}

	if c.Generation.APIKey == "" {
		c.Generation.APIKey = c.Embedding.APIKey
	}
	if c.Generation.BaseURL == "" {
		c.Generation.BaseURL = c.Embedding.BaseURL
	}
	defaultInt(&c.Embedding.MaxInputChars, 32000)
	defaultInt(&c.Generation.MaxTokens, 800)
	if c.Generation.Temperature <= 0 {
		c.Generation.Temperature = 0.3
	}

	in := &c.Ingestion
	defaultInt(&in.Concurrency, 4)
	defaultInt(&in.DefaultIntervalSec, 300)
	defaultInt(&in.MaxIntervalSec, 6*3600)
	defaultInt(&in.ErrorThreshold, 5)
	defaultInt(&in.MaxArticlesPerFetch, 50)
	defaultInt(&in.MinContentCharsForExtract, 500)
	defaultInt(&in.EmbedAttempts, 3)
	defaultInt(&in.EmbedBackoffMs, 1000)
	defaultInt(&in.FetchTimeoutSec, 30)
	defaultInt(&in.HostIntervalMs, 1000)
	if in.UserAgent == "" {
		in.UserAgent = "newsengine/1.0 (+https://github.com/newsiq/newsengine)"
	}
	for i := range in.Sources {
		defaultInt(&in.Sources[i].IntervalSec, in.DefaultIntervalSec)
		if in.Sources[i].Credibility == 0 {
			in.Sources[i].Credibility = 50
		}
	}

	cl := &c.Clustering
	defaultFloat(&cl.JoinThreshold, 0.80)
	defaultFloat(&cl.LinkThreshold, 0.70)
	defaultFloat(&cl.StabilityFloor, 0.5)
	defaultInt(&cl.OngoingVolume, 3)
	defaultInt(&cl.OngoingWindowHours, 24)
	defaultInt(&cl.QuiescenceHours, 72)

	rk := &c.Ranking
	if rk.Weights == (RankingWeights{}) {
		rk.Weights = RankingWeights{LongTerm: 0.45, Session: 0.25, Credibility: 0.15, Recency: 0.15}
	}
	defaultInt(&rk.HalfLifeHours, 24)
	defaultInt(&rk.LookbackDays, 7)
	defaultInt(&rk.CandidateK, 200)
	defaultInt(&rk.BlindSpotMinCredibility, 70)
	defaultFloat(&rk.LearningRate, 0.05)
	defaultFloat(&rk.SessionAlpha, 0.3)
	defaultInt(&rk.SessionTTLMin, 30)
	defaultInt(&rk.FallbackSize, 1024)
	defaultInt(&rk.FallbackTTLMin, 15)
	defaultInt(&rk.FeedbackWorkers, 8)

	rs := &c.Research
	defaultInt(&rs.TTLHours, 24)
	defaultInt(&rs.GenerationTimeoutSec, 60)
	defaultInt(&rs.RelatedK, 5)
	defaultInt(&rs.SiblingLimit, 5)
	if rs.StaleAfterNewRelated == 0 {
		rs.StaleAfterNewRelated = 3
	}

	if c.Jobs.ClusterSweep == "" {
		c.Jobs.ClusterSweep = "*/15 * * * *"
	}
	if c.Jobs.ResearchCleanup == "" {
		c.Jobs.ResearchCleanup = "0 * * * *"
	}
	if c.Jobs.ClusterSweep == "off" {
		c.Jobs.ClusterSweep = ""
	}
	if c.Jobs.ResearchCleanup == "off" {
		c.Jobs.ResearchCleanup = ""
	}

	defaultInt(&c.Events.BufferSize, 1024)
	defaultInt(&c.Events.ClusterWorkers, 4)
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port))
	}
	if c.HTTP.WriteTimeoutSec <= c.Research.GenerationTimeoutSec {
		errs = append(errs, fmt.Errorf(
			"http.write_timeout_sec (%d) must exceed research.generation_timeout_sec (%d)",
			c.HTTP.WriteTimeoutSec, c.Research.GenerationTimeoutSec))
	}
	if len(c.Database.Addrs) == 0 {
		errs = append(errs, errors.New("database.addrs is required"))
	}
	if c.Embedding.Model == "" {
		errs = append(errs, errors.New("embedding.model is required"))
	}
	if c.Generation.Model == "" {
		errs = append(errs, errors.New("generation.model is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if !strings.HasSuffix(c.Storage.KeyPrefix, ":") {
		errs = append(errs, fmt.Errorf("storage.key_prefix must end with ':', got %q", c.Storage.KeyPrefix))
	}

	seen := make(map[string]bool, len(c.Ingestion.Sources))
	for i, s := range c.Ingestion.Sources {
		switch {
		case s.URL == "":
			errs = append(errs, fmt.Errorf("ingestion.sources[%d].url is required", i))
		case seen[s.URL]:
			errs = append(errs, fmt.Errorf("ingestion.sources[%d].url %q is duplicated", i, s.URL))
		}
		seen[s.URL] = true
		if s.Credibility < 0 || s.Credibility > 100 {
			errs = append(errs, fmt.Errorf("ingestion.sources[%d].credibility must be within [0,100]", i))
		}
	}

	cl := c.Clustering
	if cl.JoinThreshold > 1 || cl.LinkThreshold > cl.JoinThreshold {
		errs = append(errs, fmt.Errorf(
			"clustering thresholds must satisfy link (%.2f) <= join (%.2f) <= 1", cl.LinkThreshold, cl.JoinThreshold))
	}

	w := c.Ranking.Weights
	if w.LongTerm < 0 || w.Session < 0 || w.Credibility < 0 || w.Recency < 0 {
		errs = append(errs, errors.New("ranking.weights must be non-negative"))
	} else if sum := w.LongTerm + w.Session + w.Credibility + w.Recency; math.Abs(sum-1) > 1e-6 {
		errs = append(errs, fmt.Errorf("ranking.weights must sum to 1, got %.4f", sum))
	}
	if c.Ranking.SessionAlpha > 1 {
		errs = append(errs, fmt.Errorf("ranking.session_alpha must be within (0,1], got %.2f", c.Ranking.SessionAlpha))
	}
	return errors.Join(errs...)
}

// Seconds converts a whole number of seconds to a duration.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
