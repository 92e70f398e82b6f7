package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/logging"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/mission"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/task"
	"github.com/RetrieverRobotics/UMBC-Robosub/pkg/comms"
)

const (
	// DefaultPeriod is the task manager cycle when none is configured.
	DefaultPeriod = "100ms"
	// DefaultHealthAddr is where /healthz listens.
	DefaultHealthAddr = ":8080"
	// DefaultVehicle names the vehicle in Redis keys.
	DefaultVehicle = "robosub"
	// DefaultShoreLink is the bus link id bound to Redis.
	DefaultShoreLink = "shore"
)

// MissionConfig represents the top-level mission.yml configuration
type MissionConfig struct {
	Version    string            `yaml:"version"`
	Period     string            `yaml:"period,omitempty"` // Task manager cycle, e.g. "100ms"
	Reset      bool              `yaml:"reset_after_branch,omitempty"`
	Start      string            `yaml:"start,omitempty"` // Comma-separated task names
	Tree       string            `yaml:"tree,omitempty"`  // Branch groups: [Root ? S1,S2 : F1,F2]
	Links      *LinksConfig      `yaml:"links,omitempty"`
	Parameters *ParametersConfig `yaml:"parameters,omitempty"`
	Logging    *LoggingConfig    `yaml:"logging,omitempty"`
	Health     *HealthConfig     `yaml:"health,omitempty"`

	period time.Duration
}

// LinksConfig specifies the transports behind the bus links
type LinksConfig struct {
	Serial *SerialConfig `yaml:"serial,omitempty"`
	Redis  *RedisConfig  `yaml:"redis,omitempty"`
}

// SerialConfig binds the teensy link to a serial device.
// An empty device runs against a local stub.
type SerialConfig struct {
	Device string `yaml:"device,omitempty"`
	Baud   int    `yaml:"baud,omitempty"`
}

// RedisConfig binds a shore link to a Redis server
type RedisConfig struct {
	URL     string `yaml:"url"`
	Vehicle string `yaml:"vehicle,omitempty"`
	Link    string `yaml:"link,omitempty"`
}

// ParametersConfig holds the run parameters published on the pi link.
// Durations are milliseconds.
type ParametersConfig struct {
	StartDelay         *int     `yaml:"start_delay,omitempty"`
	PressureTarget     *float64 `yaml:"pressure_target,omitempty"`
	PressureTolerance  *float64 `yaml:"pressure_tolerance,omitempty"`
	ValidationThrust   *float64 `yaml:"validation_thrust,omitempty"`
	ValidationDuration *int     `yaml:"validation_duration,omitempty"`
	SelfTest           *bool    `yaml:"self_test,omitempty"`
	Thrusters          *int     `yaml:"thrusters,omitempty"`
}

// LoggingConfig selects log level and format
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// HealthConfig specifies the health endpoint. Disabled turns it off.
type HealthConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// Default returns a validated configuration with every default applied.
func Default() *MissionConfig {
	c := &MissionConfig{Version: "1.0"}
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return c
}

// Validate performs strict validation on the configuration and fills in
// defaults for anything left out.
func (c *MissionConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Period == "" {
		c.Period = DefaultPeriod
	}
	period, err := time.ParseDuration(c.Period)
	if err != nil {
		return fmt.Errorf("invalid period '%s': %w", c.Period, err)
	}
	if period <= 0 || period > task.MaxPeriod {
		return fmt.Errorf("period must be in (0, %s], got %s", task.MaxPeriod, period)
	}
	c.period = period

	if strings.TrimSpace(c.Start) == "" {
		c.Start = mission.DefaultStart
	}
	if strings.TrimSpace(c.Tree) == "" {
		c.Tree = mission.DefaultTree
	}
	if _, diags := task.ParseTree(c.Tree); len(diags) > 0 {
		return fmt.Errorf("invalid tree: %s", diags[0])
	}

	if c.Links == nil {
		c.Links = &LinksConfig{}
	}
	if err := c.Links.validate(); err != nil {
		return err
	}

	if c.Parameters == nil {
		c.Parameters = &ParametersConfig{}
	}
	if err := c.Parameters.validate(); err != nil {
		return err
	}

	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}

	if c.Health == nil {
		c.Health = &HealthConfig{}
	}
	if c.Health.Addr == "" {
		c.Health.Addr = DefaultHealthAddr
	}

	return nil
}

func (l *LinksConfig) validate() error {
	if l.Serial == nil {
		l.Serial = &SerialConfig{}
	}
	if l.Serial.Baud == 0 {
		l.Serial.Baud = comms.DefaultBaud
	}
	if l.Serial.Baud < 0 {
		return fmt.Errorf("links.serial.baud must be > 0, got %d", l.Serial.Baud)
	}

	// Redis is optional
	if l.Redis == nil {
		return nil
	}
	if l.Redis.URL == "" {
		return fmt.Errorf("links.redis.url is required when links.redis is set")
	}
	if _, err := redis.ParseURL(l.Redis.URL); err != nil {
		return fmt.Errorf("links.redis.url: %w", err)
	}
	if l.Redis.Vehicle == "" {
		l.Redis.Vehicle = DefaultVehicle
	}
	if l.Redis.Link == "" {
		l.Redis.Link = DefaultShoreLink
	}
	if l.Redis.Link == mission.LinkPi || l.Redis.Link == mission.LinkTeensy {
		return fmt.Errorf("links.redis.link '%s' clashes with a built-in link", l.Redis.Link)
	}
	return nil
}

func (p *ParametersConfig) validate() error {
	def := mission.DefaultParams()

	if p.StartDelay == nil {
		p.StartDelay = intPtr(int(def.StartDelay.Milliseconds()))
	}
	if p.PressureTarget == nil {
		p.PressureTarget = floatPtr(def.PressureTarget)
	}
	if p.PressureTolerance == nil {
		p.PressureTolerance = floatPtr(def.PressureTolerance)
	}
	if p.ValidationThrust == nil {
		p.ValidationThrust = floatPtr(def.ValidationThrust)
	}
	if p.ValidationDuration == nil {
		p.ValidationDuration = intPtr(int(def.ValidationDuration.Milliseconds()))
	}
	if p.SelfTest == nil {
		p.SelfTest = &def.SelfTest
	}
	if p.Thrusters == nil {
		p.Thrusters = intPtr(def.Thrusters)
	}

	if *p.StartDelay < 0 {
		return fmt.Errorf("parameters.start_delay must be >= 0, got %d", *p.StartDelay)
	}
	if *p.PressureTolerance <= 0 {
		return fmt.Errorf("parameters.pressure_tolerance must be > 0, got %g", *p.PressureTolerance)
	}
	if *p.ValidationThrust < -1 || *p.ValidationThrust > 1 {
		return fmt.Errorf("parameters.validation_thrust must be in [-1, 1], got %g", *p.ValidationThrust)
	}
	if *p.ValidationDuration < 0 {
		return fmt.Errorf("parameters.validation_duration must be >= 0, got %d", *p.ValidationDuration)
	}
	if *p.Thrusters < 0 {
		return fmt.Errorf("parameters.thrusters must be >= 0, got %d", *p.Thrusters)
	}
	return nil
}

func (l *LoggingConfig) validate() error {
	if l.Level == "" {
		l.Level = logging.LevelInfo
	}
	level := strings.ToUpper(l.Level)
	if !slices.Contains(logging.ValidLevels(), level) {
		return fmt.Errorf("invalid logging.level: %s (must be one of %s)", l.Level, strings.Join(logging.ValidLevels(), ", "))
	}
	l.Level = level

	if l.Format == "" {
		l.Format = logging.FormatText
	}
	if l.Format != logging.FormatJSON && l.Format != logging.FormatText {
		return fmt.Errorf("invalid logging.format: %s (must be 'json' or 'text')", l.Format)
	}
	return nil
}

// PeriodDuration returns the validated task manager cycle.
func (c *MissionConfig) PeriodDuration() time.Duration {
	if c.period == 0 {
		if d, err := time.ParseDuration(c.Period); err == nil {
			return d
		}
		return task.DefaultPeriod
	}
	return c.period
}

// Params converts the validated parameters for mission.PublishParams.
func (c *MissionConfig) Params() mission.Params {
	p := c.Parameters
	return mission.Params{
		StartDelay:         time.Duration(*p.StartDelay) * time.Millisecond,
		PressureTarget:     *p.PressureTarget,
		PressureTolerance:  *p.PressureTolerance,
		ValidationThrust:   *p.ValidationThrust,
		ValidationDuration: time.Duration(*p.ValidationDuration) * time.Millisecond,
		SelfTest:           *p.SelfTest,
		Thrusters:          *p.Thrusters,
	}
}

// Parse decodes and validates mission YAML
func Parse(data []byte) (*MissionConfig, error) {
	var config MissionConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Load reads and validates mission.yml from the specified path
func Load(path string) (*MissionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
