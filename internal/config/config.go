package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	apperrors "synthcontrol/internal/errors"
)

// EnvPrefix namespaces every environment variable read by Load
const EnvPrefix = "SYNTH"

// Config represents the complete estimation configuration
type Config struct {
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	Estimation EstimationConfig `yaml:"estimation" envconfig:"ESTIMATION"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level     string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format    string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	AddSource bool   `yaml:"add_source" envconfig:"ADD_SOURCE"`
}

// EstimationConfig contains the parameters of the importance search and the weight solver
type EstimationConfig struct {
	Restarts               int           `yaml:"restarts" envconfig:"RESTARTS" validate:"min=1,max=1024"`
	Seed                   int64         `yaml:"seed" envconfig:"SEED"`
	MaxConcurrency         int           `yaml:"max_concurrency" envconfig:"MAX_CONCURRENCY" validate:"min=1"`
	MaxFailures            int           `yaml:"max_failures" envconfig:"MAX_FAILURES" validate:"min=0"`
	OuterMaxIterations     int           `yaml:"outer_max_iterations" envconfig:"OUTER_MAX_ITERATIONS" validate:"min=1"`
	OuterMaxEvaluations    int           `yaml:"outer_max_evaluations" envconfig:"OUTER_MAX_EVALUATIONS" validate:"min=1"`
	OuterTolerance         float64       `yaml:"outer_tolerance" envconfig:"OUTER_TOLERANCE" validate:"gte=0"`
	OuterConvergenceWindow int           `yaml:"outer_convergence_window" envconfig:"OUTER_CONVERGENCE_WINDOW" validate:"min=1"`
	InnerMaxIterations     int           `yaml:"inner_max_iterations" envconfig:"INNER_MAX_ITERATIONS" validate:"min=1"`
	InnerTolerance         float64       `yaml:"inner_tolerance" envconfig:"INNER_TOLERANCE" validate:"gt=0"`
	TieTolerance           float64       `yaml:"tie_tolerance" envconfig:"TIE_TOLERANCE" validate:"gte=0"`
	Standardize            bool          `yaml:"standardize" envconfig:"STANDARDIZE"`
	Timeout                time.Duration `yaml:"timeout" envconfig:"TIMEOUT" validate:"gte=0"`
}

// TelemetryConfig contains OpenTelemetry configuration
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name" envconfig:"SERVICE_NAME" validate:"required"`
	ServiceVersion string  `yaml:"service_version" envconfig:"SERVICE_VERSION"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER" validate:"oneof=prometheus none"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
}

// Load builds the configuration from defaults, then the YAML file at path,
// then SYNTH_* environment variables. Later sources win. An empty path
// searches the usual locations; a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = getConfigFilePath()
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			fileConfig, err := loadFromFile(path)
			if err != nil {
				return nil, apperrors.NewConfigError("failed to load config from file", err).
					WithContext("path", path)
			}
			cfg = fileConfig
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to load config from env", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile overlays a YAML file on the defaults
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, err)
	}
	return cfg, nil
}

// getConfigFilePath returns the first config file found in the common locations
func getConfigFilePath() string {
	locations := []string{
		"synth.yaml",
		"configs/synth.yaml",
		"../configs/synth.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Validate checks every section and returns a CONFIG AppError listing the violations
func (c *Config) Validate() error {
	err := newValidator().Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.NewConfigError("config validation failed", err)
	}

	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, fmt.Sprintf("%s failed %s=%s (value %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return apperrors.NewConfigError("config validation failed: "+strings.Join(messages, "; "), err)
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Estimation: EstimationConfig{
			Restarts:               4,
			Seed:                   1,
			MaxConcurrency:         4,
			MaxFailures:            10,
			OuterMaxIterations:     500,
			OuterMaxEvaluations:    5000,
			OuterTolerance:         1e-10,
			OuterConvergenceWindow: 50,
			InnerMaxIterations:     20000,
			InnerTolerance:         1e-10,
			TieTolerance:           1e-12,
			Standardize:            true,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "synthcontrol",
			ServiceVersion: "dev",
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
	}
}
