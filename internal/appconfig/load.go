package appconfig

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sciexp/flytezen/schema"
)

// Environment variables that override config keys.
var envOverrides = map[string]string{
	"image":              "WORKFLOW_IMAGE",
	"project":            "FLYTEZEN_PROJECT",
	"domain":             "FLYTEZEN_DOMAIN",
	"backend.endpoint":   "FLYTEZEN_BACKEND_ENDPOINT",
	"staging.access_key": "FLYTEZEN_STAGING_ACCESS_KEY",
	"staging.secret_key": "FLYTEZEN_STAGING_SECRET_KEY",
}

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("project", cfg.Project)
	v.SetDefault("domain", cfg.Domain)
	v.SetDefault("image", cfg.Image)
	v.SetDefault("package_path", cfg.PackagePath)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("default_entity", cfg.DefaultEntity)
	v.SetDefault("backend.endpoint", cfg.Backend.Endpoint)
	v.SetDefault("backend.insecure", cfg.Backend.Insecure)
	v.SetDefault("backend.console_url", cfg.Backend.ConsoleURL)
	v.SetDefault("backend.request_timeout_seconds", cfg.Backend.RequestTimeoutSeconds)
	v.SetDefault("fast_package.destination_dir", cfg.FastPackage.DestinationDir)
	v.SetDefault("staging.endpoint", cfg.Staging.Endpoint)
	v.SetDefault("staging.access_key", cfg.Staging.AccessKey)
	v.SetDefault("staging.secret_key", cfg.Staging.SecretKey)
	v.SetDefault("staging.region", cfg.Staging.Region)
	v.SetDefault("staging.use_ssl", cfg.Staging.UseSSL)
	v.SetDefault("staging.create_bucket", cfg.Staging.CreateBucket)
	v.SetDefault("monitor.poll_interval_seconds", cfg.Monitor.PollIntervalSeconds)
	v.SetDefault("monitor.confirm_timeout_seconds", cfg.Monitor.ConfirmTimeoutSeconds)
	for key, env := range envOverrides {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, err
		}
	}

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
		if v.IsSet("entities") {
			// A declared list replaces the built-in entities instead of merging into them.
			cfg.Entities = nil
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv exports the variables in a dotenv file into the process
// environment. Variables already set in the process are left untouched.
// A missing file is not an error.
func LoadDotEnv(path string) (int, error) {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	loaded := 0
	for _, key := range v.AllKeys() {
		name := strings.ToUpper(key)
		if _, ok := os.LookupEnv(name); ok {
			continue
		}
		if err := os.Setenv(name, v.GetString(key)); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

// ValidateRequired reports every setting the mode needs but lacks.
func (c Config) ValidateRequired(mode schema.Mode) error {
	if !mode.Remote() {
		return nil
	}
	var missing []string
	check := func(value, key string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, describeKey(key))
		}
	}
	check(c.Backend.Endpoint, "backend.endpoint")
	check(c.Project, "project")
	check(c.Domain, "domain")
	check(c.Image, "image")
	if mode == schema.ModeDev {
		check(c.Staging.Endpoint, "staging.endpoint")
		check(c.Staging.AccessKey, "staging.access_key")
		check(c.Staging.SecretKey, "staging.secret_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w for %s mode: %s", schema.ErrMissingConfig, mode, strings.Join(missing, ", "))
	}
	return nil
}

func describeKey(key string) string {
	if env, ok := envOverrides[key]; ok {
		return fmt.Sprintf("%s (%s)", key, env)
	}
	return key
}

func validateConfig(cfg Config) error {
	consoleURL := strings.TrimSpace(cfg.Backend.ConsoleURL)
	if consoleURL != "" {
		parsed, err := url.Parse(consoleURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("backend.console_url must include scheme and host (e.g. https://flyte.example.com)")
		}
	}
	if strings.Contains(cfg.Staging.Endpoint, "://") {
		return fmt.Errorf("staging.endpoint must be host:port without a scheme; use staging.use_ssl for TLS")
	}
	if cfg.Monitor.PollIntervalSeconds <= 0 {
		return fmt.Errorf("monitor.poll_interval_seconds must be positive")
	}
	if cfg.Monitor.ConfirmTimeoutSeconds <= 0 {
		return fmt.Errorf("monitor.confirm_timeout_seconds must be positive")
	}
	if cfg.Backend.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("backend.request_timeout_seconds must not be negative")
	}
	for i, entity := range cfg.Entities {
		if entity.Module == "" || entity.Name == "" {
			return fmt.Errorf("entities[%d]: module and name are required", i)
		}
		switch schema.EntityType(entity.Type) {
		case "", schema.EntityWorkflow, schema.EntityTask:
		default:
			return fmt.Errorf("entities[%d]: unsupported type %q", i, entity.Type)
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.PackagePath = expandEnv(cfg.PackagePath)
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Image = expandEnv(cfg.Image)
	cfg.FastPackage.DestinationDir = expandEnv(cfg.FastPackage.DestinationDir)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
