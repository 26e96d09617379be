package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dhcgn/email-analyzer/decoder"
)

const (
	DefaultListen          = ":8080"
	DefaultMaxUploadSize   = 32 << 20
	DefaultFormField       = "file"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Config captures everything needed to run the HTTP service.
type Config struct {
	Listen          string        `yaml:"listen"`
	LogLevel        string        `yaml:"log_level"`
	LogDir          string        `yaml:"log_dir"`
	LogFormat       string        `yaml:"log_format"`
	MaxUploadSize   int64         `yaml:"max_upload_size"`
	FormField       string        `yaml:"form_field"`
	Decoder         string        `yaml:"decoder"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used when neither a file nor flags
// override anything.
func Default() Config {
	return Config{
		Listen:          DefaultListen,
		LogLevel:        "info",
		LogFormat:       "text",
		MaxUploadSize:   DefaultMaxUploadSize,
		FormField:       DefaultFormField,
		Decoder:         decoder.Default,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	def := Default()

	flags := cmd.Flags()
	flags.String("config", "", "Path to a YAML config file; explicit flags take precedence")
	flags.String("listen", def.Listen, "Address the HTTP server listens on")
	flags.String("log-level", def.LogLevel, "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files in addition to stdout")
	flags.String("log-format", def.LogFormat, "Log output format: text or json")
	flags.Int64("max-upload-size", def.MaxUploadSize, "Maximum accepted request body in bytes")
	flags.String("form-field", def.FormField, "Multipart form field carrying the uploaded file")
	flags.String("decoder", def.Decoder, fmt.Sprintf("MIME decoder backend (%s)", strings.Join(decoder.Names(), ", ")))
	flags.Duration("read-timeout", def.ReadTimeout, "HTTP server read timeout")
	flags.Duration("write-timeout", def.WriteTimeout, "HTTP server write timeout")
	flags.Duration("shutdown-timeout", def.ShutdownTimeout, "Grace period for in-flight requests on shutdown")

	return nil
}

// LoadConfig builds a Config from defaults, the optional YAML file and the
// flags that were set explicitly, in that order, and validates the result.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()
	cfg := Default()

	path, err := flags.GetString("config")
	if err != nil {
		return Config{}, err
	}
	if path != "" {
		if cfg, err = LoadFile(path, cfg); err != nil {
			return Config{}, err
		}
	}

	if flags.Changed("listen") {
		if cfg.Listen, err = flags.GetString("listen"); err != nil {
			return Config{}, err
		}
	}
	if flags.Changed("log-level") {
		if cfg.LogLevel, err = flags.GetString("log-level"); err != nil {
			return Config{}, err
		}
	}
	if flags.Changed("log-dir") {
		if cfg.LogDir, err = flags.GetString("log-dir"); err != nil {
			return Config{}, err
		}
	}
	if flags.Changed("log-format") {
		if cfg.LogFormat, err = flags.GetString("log-format"); err != nil {
			return Config{}, err
		}
	}
	if flags.Changed("max-upload-size") {
		if cfg.MaxUploadSize, err = flags.GetInt64("max-upload-size"); err != nil {
			return Config{}, err
		}
	}
	if flags.Changed("form-field") {
		if cfg.FormField, err = flags.GetString("form-field"); err != nil {
			return Config{}, err
		}
	}
	if flags.Changed("decoder") {
		if cfg.Decoder, err = flags.GetString("decoder"); err != nil {
			return Config{}, err
		}
	}
	if flags.Changed("read-timeout") {
		if cfg.ReadTimeout, err = flags.GetDuration("read-timeout"); err != nil {
			return Config{}, err
		}
	}
	if flags.Changed("write-timeout") {
		if cfg.WriteTimeout, err = flags.GetDuration("write-timeout"); err != nil {
			return Config{}, err
		}
	}
	if flags.Changed("shutdown-timeout") {
		if cfg.ShutdownTimeout, err = flags.GetDuration("shutdown-timeout"); err != nil {
			return Config{}, err
		}
	}

	cfg = normalize(cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFile overlays the YAML document at path onto base. Keys missing from
// the file keep their value from base.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func normalize(cfg Config) Config {
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.Decoder = strings.ToLower(strings.TrimSpace(cfg.Decoder))
	cfg.FormField = strings.TrimSpace(cfg.FormField)
	if cfg.LogDir != "" {
		cfg.LogDir = filepath.Clean(cfg.LogDir)
	}
	return cfg
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("--listen is required")
	}
	if cfg.MaxUploadSize <= 0 {
		return fmt.Errorf("--max-upload-size must be positive")
	}
	if cfg.FormField == "" {
		return fmt.Errorf("--form-field must not be empty")
	}
	if cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 || cfg.ShutdownTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if _, err := decoder.New(cfg.Decoder); err != nil {
		if errors.Is(err, decoder.ErrUnknownDecoder) {
			return fmt.Errorf("invalid --decoder: %w", err)
		}
		return err
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid --log-format: %s", cfg.LogFormat)
	}

	return nil
}
