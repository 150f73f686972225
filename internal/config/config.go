package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the querydeps configuration file.
type Config struct {
	// Schema is the path of the SDL file documents are analysed against.
	Schema string `yaml:"schema"`
	// Validate is the default for requests that do not choose.
	Validate        bool         `yaml:"validate"`
	StrictVariables bool         `yaml:"strictVariables"`
	Server          ServerConfig `yaml:"server"`
	Otel            OtelConfig   `yaml:"otel"`
	Log             LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Addr             string        `yaml:"addr" validate:"required,hostname_port"`
	Timeout          time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxBodyBytes     int64         `yaml:"maxBodyBytes" validate:"gte=0"`
	BatchConcurrency int           `yaml:"batchConcurrency" validate:"gte=0,lte=1024"`
	Pretty           bool          `yaml:"pretty"`
	CORSOrigins      []string      `yaml:"corsOrigins" validate:"dive,required"`
}

type OtelConfig struct {
	// Endpoint is the OTLP gRPC collector address. Empty disables tracing.
	Endpoint string `yaml:"endpoint" validate:"omitempty,hostname_port"`
	Service  string `yaml:"service" validate:"required"`
}

type LogConfig struct {
	// Verbosity is the stdr verbosity; 1 enables per-analysis summaries.
	Verbosity int `yaml:"verbosity" validate:"gte=0,lte=10"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Validate: true,
		Server: ServerConfig{
			Addr:         ":8080",
			Timeout:      10 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
		Otel: OtelConfig{Service: "querydeps"},
	}
}

// Load reads a YAML configuration file on top of Default and validates the
// result. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func newValidate() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Check checks field constraints and reports every violation.
func (c *Config) Check() error {
	err := newValidate().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		// Namespace is "Config.server.addr"; drop the root struct name.
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		msgs[i] = fmt.Sprintf("%s: failed %q (value %v)", field, fe.Tag(), fe.Value())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
