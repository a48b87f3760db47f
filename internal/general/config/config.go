package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Store     StoreConfig     `yaml:"store"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	JWT       JWTConfig       `yaml:"jwt"`
	Access    AccessConfig    `yaml:"access"`
	Publisher PublisherConfig `yaml:"publisher"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type ServiceConfig struct {
	Port       int    `yaml:"port" validate:"gte=0,lte=65535"`
	InstanceID string `yaml:"instance_id"`
}

type StoreConfig struct {
	Backend       string        `yaml:"backend" validate:"omitempty,oneof=memory postgres"`
	Timeout       time.Duration `yaml:"timeout" validate:"gte=0"`
	RetainHistory bool          `yaml:"retain_history"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"gte=0,lte=65535"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"database"`
}

type RabbitMQConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"gte=0,lte=65535"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Prefetch int    `yaml:"prefetch" validate:"gte=0"`

	// PublishTimeout bounds one publish including its broker confirm.
	PublishTimeout time.Duration `yaml:"publish_timeout" validate:"gte=0"`
	// LocationTTL expires relayed positions nobody consumed in time; status events never expire.
	LocationTTL time.Duration `yaml:"location_ttl" validate:"gte=0"`
}

type JWTConfig struct {
	SecretKey string        `yaml:"secret_key"`
	TTL       time.Duration `yaml:"ttl" validate:"gte=0"`
}

type AccessConfig struct {
	DriverCodes     []string `yaml:"driver_codes" validate:"dive,required"`
	DefaultIdentity string   `yaml:"default_identity"`
}

type PublisherConfig struct {
	MinInterval       time.Duration `yaml:"min_interval" validate:"gte=0"`
	MinDistanceMeters float64       `yaml:"min_distance_meters" validate:"gte=0"`
	SmoothingWindow   int           `yaml:"smoothing_window" validate:"gte=0"`
	LowAccuracyMeters float64       `yaml:"low_accuracy_meters" validate:"gte=0"`
	BufferSize        int           `yaml:"buffer_size" validate:"gte=0"`
}

type SchedulerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Start           string        `yaml:"start"`
	End             string        `yaml:"end"`
	Tick            time.Duration `yaml:"tick" validate:"gte=0"`
	Timezone        string        `yaml:"timezone"`
	ClosedWeekdays  []string      `yaml:"closed_weekdays"`
	Holidays        []string      `yaml:"holidays" validate:"dive,datetime=2006-01-02"`
	AutoCode        string        `yaml:"auto_code"`
	AutoIdentity    string        `yaml:"auto_identity"`
	StopAtWindowEnd bool          `yaml:"stop_at_window_end"`
}

// LoadFromFile loads config from a YAML file to a Config struct, applies defaults, and validates required fields.
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := parseYAML(file, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied and the in-memory backend selected.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// applyDefaults sets safe defaults for some fields.
func applyDefaults(cfg *Config) {
	// Service
	if cfg.Service.Port == 0 {
		cfg.Service.Port = 3000
	}

	// Store
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendMemory
	}
	if cfg.Store.Timeout == 0 {
		cfg.Store.Timeout = 5 * time.Second
	}

	// Database
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}

	// RabbitMQ
	if cfg.RabbitMQ.Host == "" {
		cfg.RabbitMQ.Host = "localhost"
	}
	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}
	if cfg.RabbitMQ.Prefetch == 0 {
		cfg.RabbitMQ.Prefetch = 16
	}
	if cfg.RabbitMQ.PublishTimeout == 0 {
		cfg.RabbitMQ.PublishTimeout = 5 * time.Second
	}
	if cfg.RabbitMQ.LocationTTL == 0 {
		cfg.RabbitMQ.LocationTTL = 10 * time.Second
	}

	// JWT
	if cfg.JWT.TTL == 0 {
		cfg.JWT.TTL = 12 * time.Hour
	}
	if cfg.JWT.SecretKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			// fallback: time-based bytes
			key = []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
		}
		cfg.JWT.SecretKey = base64.StdEncoding.EncodeToString(key)
	}

	// Access
	if cfg.Access.DefaultIdentity == "" {
		cfg.Access.DefaultIdentity = "driver1"
	}

	// Publisher
	if cfg.Publisher.MinInterval == 0 {
		cfg.Publisher.MinInterval = 3 * time.Second
	}
	if cfg.Publisher.MinDistanceMeters == 0 {
		cfg.Publisher.MinDistanceMeters = 10
	}
	if cfg.Publisher.SmoothingWindow == 0 {
		cfg.Publisher.SmoothingWindow = 5
	}
	if cfg.Publisher.LowAccuracyMeters == 0 {
		cfg.Publisher.LowAccuracyMeters = 50
	}
	if cfg.Publisher.BufferSize == 0 {
		cfg.Publisher.BufferSize = 64
	}

	// Scheduler
	if cfg.Scheduler.Start == "" {
		cfg.Scheduler.Start = "07:45"
	}
	if cfg.Scheduler.End == "" {
		cfg.Scheduler.End = "09:00"
	}
	if cfg.Scheduler.Tick == 0 {
		cfg.Scheduler.Tick = time.Minute
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "Local"
	}
	if cfg.Scheduler.ClosedWeekdays == nil {
		cfg.Scheduler.ClosedWeekdays = []string{"Sunday"}
	}
	if cfg.Scheduler.AutoCode == "" {
		cfg.Scheduler.AutoCode = "AUTO_SESSION_7AM"
	}
	if cfg.Scheduler.AutoIdentity == "" {
		cfg.Scheduler.AutoIdentity = "auto_driver"
	}
}

// validate checks struct tags first, then cross-field requirements, collecting every problem.
func (c *Config) validate() error {
	var problems []string

	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	// DB is only required for the durable backend
	if c.Store.Backend == BackendPostgres {
		if c.Database.User == "" {
			problems = append(problems, "database.user is required")
		}
		if c.Database.Password == "" {
			problems = append(problems, "database.password is required")
		}
		if c.Database.Name == "" {
			problems = append(problems, "database.database is required")
		}
	}

	// RabbitMQ
	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.User == "" {
			problems = append(problems, "rabbitmq.user is required")
		}
		if c.RabbitMQ.Password == "" {
			problems = append(problems, "rabbitmq.password is required")
		}
	}

	// Access
	if len(c.Access.DriverCodes) == 0 {
		problems = append(problems, "access.driver_codes must list at least one code")
	}

	// Scheduler
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("scheduler.timezone: %v", err))
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// Location resolves the scheduler time zone; validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// AllowedCodes returns the configured driver codes plus the reserved scheduler code.
func (c *Config) AllowedCodes() []string {
	out := make([]string, 0, len(c.Access.DriverCodes)+1)
	out = append(out, c.Access.DriverCodes...)
	return append(out, c.Scheduler.AutoCode)
}
