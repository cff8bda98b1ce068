package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"geovar/pkg/util"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Backend struct {
		Type         string        `yaml:"type"`
		BatchSize    int           `yaml:"batch_size"`
		BatchTimeout time.Duration `yaml:"batch_timeout"`
	} `yaml:"backend"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		JobsTopic    string   `yaml:"jobs_topic"`
		ResultsTopic string   `yaml:"results_topic"`
		ErrorsTopic  string   `yaml:"errors_topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Engine struct {
		Regimes       int     `yaml:"regimes"`
		Confidence    float64 `yaml:"confidence"`
		Distribution  string  `yaml:"distribution"`
		StudentTDof   float64 `yaml:"student_t_dof"`
		EMTolerance   float64 `yaml:"em_tolerance"`
		EMMaxIters    int     `yaml:"em_max_iters"`
		Significance  float64 `yaml:"significance"`
		Workers       int     `yaml:"workers"`
		DegeneracyCap int     `yaml:"degeneracy_cap"`
		Adjustment    struct {
			Baseline float64 `yaml:"baseline"`
			Scale    float64 `yaml:"scale"`
			Min      float64 `yaml:"min"`
			Max      float64 `yaml:"max"`
		} `yaml:"adjustment"`
	} `yaml:"engine"`
	SignalIndex struct {
		BaseURL string        `yaml:"base_url"`
		APIKey  string        `yaml:"api_key"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"signal_index"`
	Cache struct {
		ResultTTL time.Duration `yaml:"result_ttl"`
		Redis     struct {
			Enabled  bool   `yaml:"enabled"`
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("SIGNAL_INDEX_API_KEY"); v != "" {
		c.SignalIndex.APIKey = v
	}
	c.Server.Port = util.ParseIntDefault(os.Getenv("SERVER_PORT"), c.Server.Port)
	c.ClickHouse.Port = util.ParseIntDefault(os.Getenv("CLICKHOUSE_PORT"), c.ClickHouse.Port)
	if v := os.Getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_JOBS_TOPIC"); v != "" {
		c.Kafka.JobsTopic = v
	}
	if v := os.Getenv("KAFKA_RESULTS_TOPIC"); v != "" {
		c.Kafka.ResultsTopic = v
	}
	if v := os.Getenv("KAFKA_ERRORS_TOPIC"); v != "" {
		c.Kafka.ErrorsTopic = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Backend.Type == "" {
		return fmt.Errorf("backend.type is required")
	}
	switch c.Backend.Type {
	case "kafka", "clickhouse", "both":
	default:
		return fmt.Errorf("backend.type must be 'kafka', 'clickhouse' or 'both', got '%s'", c.Backend.Type)
	}
	if c.Engine.Regimes != 0 && (c.Engine.Regimes < 2 || c.Engine.Regimes > 8) {
		return fmt.Errorf("engine.regimes must be between 2 and 8, got %d", c.Engine.Regimes)
	}
	if c.Engine.Confidence != 0 && (c.Engine.Confidence <= 0 || c.Engine.Confidence >= 1) {
		return fmt.Errorf("engine.confidence must be in (0, 1), got %v", c.Engine.Confidence)
	}
	if c.Engine.Distribution != "" && c.Engine.Distribution != "normal" && c.Engine.Distribution != "student-t" {
		return fmt.Errorf("engine.distribution must be 'normal' or 'student-t', got '%s'", c.Engine.Distribution)
	}
	if c.Engine.Significance != 0 && (c.Engine.Significance <= 0 || c.Engine.Significance >= 1) {
		return fmt.Errorf("engine.significance must be in (0, 1), got %v", c.Engine.Significance)
	}
	return nil
}
