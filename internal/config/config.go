package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server ServerConfig
	Admin  AdminConfig
	Model  ModelConfig
	Log    LogConfig
}

type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port            string        `env:"SERVER_PORT" envDefault:"5000"`
	Timeout         time.Duration `env:"SERVER_TIMEOUT" envDefault:"2m"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxUploadBytes  int64         `env:"SERVER_MAX_UPLOAD_BYTES" envDefault:"10485760"`
}

// AdminConfig controls the listener for /metrics and /swagger.
type AdminConfig struct {
	Enabled bool   `env:"ADMIN_ENABLED" envDefault:"true"`
	Port    string `env:"ADMIN_PORT" envDefault:"9090"`
}

// ModelConfig says where the captioning artifact lives on disk and how to
// run it. It cannot change which artifact is loaded.
type ModelConfig struct {
	Dir            string `env:"MODEL_DIR" envDefault:"models"`
	RuntimeLibrary string `env:"ONNXRUNTIME_LIB"`
	IntraOpThreads int    `env:"MODEL_INTRA_OP_THREADS" envDefault:"0"`
	MaxLength      int    `env:"MODEL_MAX_LENGTH" envDefault:"0"`
	MaxImagePixels int    `env:"MODEL_MAX_IMAGE_PIXELS" envDefault:"40000000"`
	Preload        bool   `env:"MODEL_PRELOAD" envDefault:"false"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
