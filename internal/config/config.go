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

// Config captures the settings required to boot the stream engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Window    WindowConfig    `yaml:"window"`
	Detector  DetectorConfig  `yaml:"detector"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Risk      RiskConfig      `yaml:"risk"`
	Forecast  ForecastConfig  `yaml:"forecast"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Store     StoreConfig     `yaml:"store"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// WindowConfig bounds the per-metric sliding windows.
type WindowConfig struct {
	Retention     time.Duration `yaml:"retention"`
	MaxSamples    int           `yaml:"maxSamples"`
	SkewTolerance time.Duration `yaml:"skewTolerance"`
}

// DetectorConfig tunes the dual-method anomaly detector.
type DetectorConfig struct {
	MinWindow     int     `yaml:"minWindow"`
	ZThreshold    float64 `yaml:"zThreshold"`
	IQRMultiplier float64 `yaml:"iqrMultiplier"`
}

// AlertingConfig controls cooldown gating and the in-memory alert buffer.
type AlertingConfig struct {
	AnomalyCooldown   time.Duration `yaml:"anomalyCooldown"`
	ThresholdCooldown time.Duration `yaml:"thresholdCooldown"`
	BufferCapacity    int           `yaml:"bufferCapacity"`
	PersistTimeout    time.Duration `yaml:"persistTimeout"`
}

// RiskConfig exposes the risk-level cut points as explicit tunables.
// The band between SafeThreshold and HighThreshold is MODERATE.
type RiskConfig struct {
	SafeThreshold     float64       `yaml:"safeThreshold"`
	HighThreshold     float64       `yaml:"highThreshold"`
	CriticalThreshold float64       `yaml:"criticalThreshold"`
	RefreshInterval   time.Duration `yaml:"refreshInterval"`
}

// ForecastConfig tunes the linear CO2 extrapolation.
type ForecastConfig struct {
	Horizon       time.Duration `yaml:"horizon"`
	TrendEpsilon  float64       `yaml:"trendEpsilon"`
	VarianceScale float64       `yaml:"varianceScale"`
}

// DispatchConfig bounds per-subscriber delivery queues.
type DispatchConfig struct {
	QueueDepth int `yaml:"queueDepth"`
}

// StoreConfig controls best-effort persistence of alerts and aggregates.
type StoreConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	AlertLogSize int           `yaml:"alertLogSize"`
	AggregateTTL time.Duration `yaml:"aggregateTTL"`
}

// SimulatorConfig controls the built-in synthetic telemetry source.
type SimulatorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Cities   []string      `yaml:"cities"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("GREENFLOW_CONFIG")
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
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Window: WindowConfig{
			Retention:     10 * time.Minute,
			MaxSamples:    600,
			SkewTolerance: 30 * time.Second,
		},
		Detector: DetectorConfig{
			MinWindow:     10,
			ZThreshold:    3.0,
			IQRMultiplier: 1.5,
		},
		Alerting: AlertingConfig{
			AnomalyCooldown:   2 * time.Minute,
			ThresholdCooldown: 5 * time.Minute,
			BufferCapacity:    200,
			PersistTimeout:    2 * time.Second,
		},
		Risk: RiskConfig{
			SafeThreshold:     40,
			HighThreshold:     55,
			CriticalThreshold: 75,
			RefreshInterval:   30 * time.Second,
		},
		Forecast: ForecastConfig{
			Horizon:       30 * time.Minute,
			TrendEpsilon:  0.005,
			VarianceScale: 100,
		},
		Dispatch: DispatchConfig{QueueDepth: 16},
		Store: StoreConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			AlertLogSize: 1000,
			AggregateTTL: time.Hour,
		},
		Simulator: SimulatorConfig{
			Enabled:  false,
			Interval: 2 * time.Second,
			Cities:   []string{"delhi", "berlin", "sao-paulo"},
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func validate(cfg *Config) error {
	if cfg.Window.Retention <= 0 {
		return fmt.Errorf("window.retention must be positive")
	}
	if cfg.Window.MaxSamples <= 0 {
		return fmt.Errorf("window.maxSamples must be positive")
	}
	if cfg.Detector.ZThreshold <= 0 {
		return fmt.Errorf("detector.zThreshold must be positive")
	}
	if cfg.Risk.HighThreshold < cfg.Risk.SafeThreshold || cfg.Risk.CriticalThreshold < cfg.Risk.HighThreshold {
		return fmt.Errorf("risk thresholds must be ordered safe <= high <= critical")
	}
	if cfg.Dispatch.QueueDepth <= 0 {
		return fmt.Errorf("dispatch.queueDepth must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GREENFLOW_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("GREENFLOW_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("GREENFLOW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GREENFLOW_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("GREENFLOW_WINDOW_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Window.Retention = d
		}
	}
	if v := os.Getenv("GREENFLOW_WINDOW_MAX_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Window.MaxSamples = n
		}
	}
	if v := os.Getenv("GREENFLOW_WINDOW_SKEW_TOLERANCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Window.SkewTolerance = d
		}
	}
	if v := os.Getenv("GREENFLOW_DETECTOR_MIN_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detector.MinWindow = n
		}
	}
	if v := os.Getenv("GREENFLOW_DETECTOR_Z_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detector.ZThreshold = f
		}
	}
	if v := os.Getenv("GREENFLOW_DETECTOR_IQR_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detector.IQRMultiplier = f
		}
	}
	if v := os.Getenv("GREENFLOW_ALERT_ANOMALY_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Alerting.AnomalyCooldown = d
		}
	}
	if v := os.Getenv("GREENFLOW_ALERT_THRESHOLD_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Alerting.ThresholdCooldown = d
		}
	}
	if v := os.Getenv("GREENFLOW_ALERT_BUFFER_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Alerting.BufferCapacity = n
		}
	}
	if v := os.Getenv("GREENFLOW_RISK_SAFE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Risk.SafeThreshold = f
		}
	}
	if v := os.Getenv("GREENFLOW_RISK_HIGH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Risk.HighThreshold = f
		}
	}
	if v := os.Getenv("GREENFLOW_RISK_CRITICAL_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Risk.CriticalThreshold = f
		}
	}
	if v := os.Getenv("GREENFLOW_FORECAST_HORIZON"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Forecast.Horizon = d
		}
	}
	if v := os.Getenv("GREENFLOW_DISPATCH_QUEUE_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.QueueDepth = n
		}
	}
	if v := os.Getenv("GREENFLOW_STORE_ENABLED"); v != "" {
		cfg.Store.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("GREENFLOW_STORE_ADDR"); v != "" {
		cfg.Store.Addr = v
	}
	if v := os.Getenv("GREENFLOW_STORE_USERNAME"); v != "" {
		cfg.Store.Username = v
	}
	if v := os.Getenv("GREENFLOW_STORE_PASSWORD"); v != "" {
		cfg.Store.Password = v
	}
	if v := os.Getenv("GREENFLOW_STORE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Store.DB = db
		}
	}
	if v := os.Getenv("GREENFLOW_STORE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Store.TLS = true
	}
	if v := os.Getenv("GREENFLOW_SIMULATOR_ENABLED"); v != "" {
		cfg.Simulator.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("GREENFLOW_SIMULATOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Simulator.Interval = d
		}
	}
}
