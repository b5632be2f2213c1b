package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"github.com/sciexp/flytezen/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int               `mapstructure:"config_version" yaml:"config_version"`
	Project       string            `mapstructure:"project" yaml:"project"`
	Domain        string            `mapstructure:"domain" yaml:"domain"`
	Image         string            `mapstructure:"image" yaml:"image"`
	PackagePath   string            `mapstructure:"package_path" yaml:"package_path"`
	StateDir      string            `mapstructure:"state_dir" yaml:"state_dir"`
	DefaultEntity string            `mapstructure:"default_entity" yaml:"default_entity"`
	Backend       BackendConfig     `mapstructure:"backend" yaml:"backend"`
	FastPackage   FastPackageConfig `mapstructure:"fast_package" yaml:"fast_package"`
	Staging       StagingConfig     `mapstructure:"staging" yaml:"staging"`
	Monitor       MonitorConfig     `mapstructure:"monitor" yaml:"monitor"`
	Entities      []EntityConfig    `mapstructure:"entities" yaml:"entities"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// BackendConfig configures the orchestration service connection.
type BackendConfig struct {
	Endpoint              string `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure              bool   `mapstructure:"insecure" yaml:"insecure"`
	ConsoleURL            string `mapstructure:"console_url" yaml:"console_url"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// FastPackageConfig controls where dev-mode sources land in the container.
type FastPackageConfig struct {
	DestinationDir string `mapstructure:"destination_dir" yaml:"destination_dir"`
}

// StagingConfig configures the S3-compatible store used for dev-mode sources.
type StagingConfig struct {
	Endpoint     string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey    string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey    string `mapstructure:"secret_key" yaml:"secret_key"`
	Region       string `mapstructure:"region" yaml:"region"`
	UseSSL       bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	CreateBucket bool   `mapstructure:"create_bucket" yaml:"create_bucket"`
}

// MonitorConfig tunes completion monitoring.
type MonitorConfig struct {
	PollIntervalSeconds   int `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	ConfirmTimeoutSeconds int `mapstructure:"confirm_timeout_seconds" yaml:"confirm_timeout_seconds"`
}

// EntityConfig declares a runnable entity.
type EntityConfig struct {
	Module       string         `mapstructure:"module" yaml:"module"`
	Name         string         `mapstructure:"name" yaml:"name"`
	Type         string         `mapstructure:"type" yaml:"type"`
	Inputs       map[string]any `mapstructure:"inputs" yaml:"inputs,omitempty"`
	LocalCommand []string       `mapstructure:"local_command" yaml:"local_command,omitempty"`
}

// Ref returns the entity reference for the declaration.
func (e EntityConfig) Ref() schema.EntityRef {
	kind := schema.EntityType(e.Type)
	if kind == "" {
		kind = schema.EntityWorkflow
	}
	return schema.EntityRef{Module: e.Module, Name: e.Name, Type: kind}
}

// PollInterval returns the monitor poll interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalSeconds) * time.Second
}

// ConfirmTimeout returns how long a termination prompt waits for an answer.
func (c Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.Monitor.ConfirmTimeoutSeconds) * time.Second
}

// RequestTimeout bounds unary backend calls.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeoutSeconds) * time.Second
}

// DefaultConfig returns a config targeting a local sandbox cluster.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Project:       "flytesnacks",
		Domain:        "development",
		Image:         "localhost:30000/flytezen",
		PackagePath:   "src",
		StateDir:      filepath.Join(home, ".flytezen", "state"),
		DefaultEntity: "lrwine_training_workflow",
		Backend: BackendConfig{
			Endpoint:              "localhost:30080",
			Insecure:              true,
			ConsoleURL:            "http://localhost:30080",
			RequestTimeoutSeconds: 30,
		},
		FastPackage: FastPackageConfig{
			DestinationDir: "/root",
		},
		Staging: StagingConfig{
			Endpoint:     "localhost:30002",
			Region:       "us-east-1",
			UseSSL:       false,
			CreateBucket: true,
		},
		Monitor: MonitorConfig{
			PollIntervalSeconds:   3,
			ConfirmTimeoutSeconds: 60,
		},
		Entities: []EntityConfig{
			{
				Module: "lrwine",
				Name:   "training_workflow",
				Type:   string(schema.EntityWorkflow),
				Inputs: map[string]any{
					"logistic_regression": map[string]any{"max_iter": 2000},
				},
				LocalCommand: []string{"python", "-m", "flytezen.workflows.lrwine"},
			},
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".flytezen", "config.yaml"), nil
}
