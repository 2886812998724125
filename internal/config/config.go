package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the trigger analysis service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	History   HistoryConfig   `yaml:"history"`
	Cache     CacheConfig     `yaml:"cache"`
	Admission AdmissionConfig `yaml:"admission"`
	Trend     TrendConfig     `yaml:"trend"`
	Impact    ImpactConfig    `yaml:"impact"`
	Inference InferenceConfig `yaml:"inference"`
	Rules     RulesConfig     `yaml:"rules"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the webhook HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// HistoryConfig selects and configures the event/analysis store.
type HistoryConfig struct {
	// Backend is "sqlite" or "weaviate".
	Backend  string         `yaml:"backend"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Weaviate WeaviateConfig `yaml:"weaviate"`
	// QueryLimit bounds how many events a single window query may return.
	QueryLimit int `yaml:"queryLimit"`
}

// SQLiteConfig configures the embedded history store.
type SQLiteConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout int    `yaml:"busyTimeoutMs"`
}

// WeaviateConfig configures the document/similarity store.
type WeaviateConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CacheConfig controls the admission cache backend.
type CacheConfig struct {
	// Backend is "redis" or "memory".
	Backend      string        `yaml:"backend"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	// MemorySize bounds the in-memory provider.
	MemorySize int `yaml:"memorySize"`
}

// AdmissionConfig tunes the dedup/suppression window.
type AdmissionConfig struct {
	Window         time.Duration `yaml:"window"`
	MaxOccurrences int           `yaml:"maxOccurrences"`
	ResultTTL      time.Duration `yaml:"resultTTL"`
	SeverityDelta  int           `yaml:"severityDelta"`
	ValueDeltaFrac float64       `yaml:"valueDeltaFrac"`
}

// TrendConfig tunes the trend engine lookback and projection horizon.
type TrendConfig struct {
	Lookback time.Duration `yaml:"lookback"`
	Horizon  time.Duration `yaml:"horizon"`
}

// ImpactConfig holds the business cost model.
type ImpactConfig struct {
	// BaseCostPerHour indexes hourly downtime cost by severity (0-5).
	BaseCostPerHour []float64 `yaml:"baseCostPerHour"`
	// TagMultipliers boosts cost for matching event tags (key=value or key).
	TagMultipliers map[string]float64 `yaml:"tagMultipliers"`
	// DefaultDowntime is assumed when no recovery history exists.
	DefaultDowntime time.Duration `yaml:"defaultDowntime"`
	// CriticalTag marks production-critical hosts/items.
	CriticalTag string `yaml:"criticalTag"`
	// SharedTag marks shared dependencies that propagate impact.
	SharedTag string `yaml:"sharedTag"`
}

// InferenceConfig selects and bounds the language-model backend.
type InferenceConfig struct {
	// Backend is "anthropic", "ollama" or "none".
	Backend         string        `yaml:"backend"`
	Model           string        `yaml:"model"`
	APIKey          string        `yaml:"apiKey"`
	BaseURL         string        `yaml:"baseURL"`
	MaxTokens       int           `yaml:"maxTokens"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"maxRetries"`
	DegradedCeiling float64       `yaml:"degradedCeiling"`
	SimilarLimit    int           `yaml:"similarLimit"`
}

// RulesConfig controls rule-pack loading for the recommender.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TRIGGER_RCA_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		History: HistoryConfig{
			Backend:    "sqlite",
			SQLite:     SQLiteConfig{Path: "trigger-rca.db", BusyTimeout: 5000},
			Weaviate:   WeaviateConfig{Timeout: 5 * time.Second},
			QueryLimit: 500,
		},
		Cache: CacheConfig{
			Backend:      "memory",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			MemorySize:   4096,
		},
		Admission: AdmissionConfig{
			Window:         60 * time.Second,
			MaxOccurrences: 1,
			ResultTTL:      time.Hour,
			SeverityDelta:  1,
			ValueDeltaFrac: 0.2,
		},
		Trend: TrendConfig{
			Lookback: 24 * time.Hour,
			Horizon:  4 * time.Hour,
		},
		Impact: ImpactConfig{
			BaseCostPerHour: []float64{0, 50, 200, 500, 2000, 10000},
			TagMultipliers: map[string]float64{
				"service=payment": 2.0,
				"service=core":    1.5,
				"service=auth":    1.5,
			},
			DefaultDowntime: 30 * time.Minute,
			CriticalTag:     "critical",
			SharedTag:       "shared",
		},
		Inference: InferenceConfig{
			Backend:         "none",
			Model:           "",
			MaxTokens:       1024,
			Timeout:         30 * time.Second,
			MaxRetries:      1,
			DegradedCeiling: 0.5,
			SimilarLimit:    5,
		},
		Rules:   RulesConfig{Path: "configs/rules/default.yaml"},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRIGGER_RCA_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("TRIGGER_RCA_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("TRIGGER_RCA_HISTORY_BACKEND"); v != "" {
		cfg.History.Backend = v
	}
	if v := os.Getenv("TRIGGER_RCA_SQLITE_PATH"); v != "" {
		cfg.History.SQLite.Path = v
	}
	if v := os.Getenv("TRIGGER_RCA_WEAVIATE_URL"); v != "" {
		cfg.History.Weaviate.Endpoint = v
	}
	if v := os.Getenv("TRIGGER_RCA_WEAVIATE_API_KEY"); v != "" {
		cfg.History.Weaviate.APIKey = v
	}
	if v := os.Getenv("TRIGGER_RCA_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("TRIGGER_RCA_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("TRIGGER_RCA_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("TRIGGER_RCA_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("TRIGGER_RCA_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("TRIGGER_RCA_CACHE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("TRIGGER_RCA_ADMISSION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Admission.Window = d
		}
	}
	if v := os.Getenv("TRIGGER_RCA_ADMISSION_MAX_OCCURRENCES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Admission.MaxOccurrences = n
		}
	}
	if v := os.Getenv("TRIGGER_RCA_ADMISSION_SEVERITY_DELTA"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Admission.SeverityDelta = n
		}
	}
	if v := os.Getenv("TRIGGER_RCA_TREND_LOOKBACK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Trend.Lookback = d
		}
	}
	if v := os.Getenv("TRIGGER_RCA_INFERENCE_BACKEND"); v != "" {
		cfg.Inference.Backend = v
	}
	if v := os.Getenv("TRIGGER_RCA_INFERENCE_MODEL"); v != "" {
		cfg.Inference.Model = v
	}
	if v := os.Getenv("TRIGGER_RCA_INFERENCE_API_KEY"); v != "" {
		cfg.Inference.APIKey = v
	}
	if v := os.Getenv("TRIGGER_RCA_INFERENCE_BASE_URL"); v != "" {
		cfg.Inference.BaseURL = v
	}
	if v := os.Getenv("TRIGGER_RCA_INFERENCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Inference.Timeout = d
		}
	}
	if v := os.Getenv("TRIGGER_RCA_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("TRIGGER_RCA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TRIGGER_RCA_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
