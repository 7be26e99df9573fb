package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root configuration of the contact directory service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Photos   PhotoConfig    `yaml:"photos"`
	Paging   PagingConfig   `yaml:"paging"`
	CORS     CORSConfig     `yaml:"cors"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"             env:"PORT"                    env-default:"8080"`
	GinLogging      string        `yaml:"gin_logging"      env:"GIN_LOGGING"             env-default:"on"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// RequestLogging reports whether gin should log every request.
func (c ServerConfig) RequestLogging() bool {
	return !strings.EqualFold(c.GinLogging, "off")
}

// DatabaseConfig holds MySQL connection settings. An empty host selects the in-memory store.
type DatabaseConfig struct {
	Host         string        `yaml:"host"           env:"DBHOST"`
	User         string        `yaml:"user"           env:"DBUSER"`
	Password     string        `yaml:"password"       env:"DBPWD"`
	Name         string        `yaml:"name"           env:"DBNAME"              env-default:"test"`
	MaxOpenConns int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS"   env-default:"25"`
	MaxIdleConns int           `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"   env-default:"5"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"  env:"DB_CONN_LIFETIME"    env-default:"1h"`
}

// Enabled reports whether a MySQL server is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// PhotoConfig holds settings of the photo file storage.
type PhotoConfig struct {
	UploadDir string `yaml:"upload_dir" env:"UPLOAD_DIR"      env-default:"uploads/photos"`
	MaxBytes  int64  `yaml:"max_bytes"  env:"MAX_PHOTO_BYTES" env-default:"10485760"`
}

// PagingConfig holds list and search paging defaults.
type PagingConfig struct {
	DefaultSize int `yaml:"default_size" env:"DEFAULT_PAGE_SIZE" env-default:"10"`
	MaxSize     int `yaml:"max_size"     env:"MAX_PAGE_SIZE"     env-default:"100"`
}

// CORSConfig holds the origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins   string `yaml:"allowed_origins"   env:"CORS_ALLOWED_ORIGINS"   env-default:"http://localhost:3000,http://localhost:5173"`
	AllowCredentials bool   `yaml:"allow_credentials" env:"CORS_ALLOW_CREDENTIALS" env-default:"true"`
}

// Origins returns the allowed origins as a list.
func (c CORSConfig) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

// Load reads configuration from an optional YAML file and environment variables. Environment
// variables take precedence over the file, which takes precedence over defaults. The file is
// named by CONFIG_PATH; without it only the environment is read.
func Load() (*Config, error) {
	var cfg Config

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate checks value ranges and collects all problems.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Server.Port))
	}
	if c.Database.Enabled() && c.Database.User == "" {
		errs = append(errs, errors.New("DBUSER is required when DBHOST is set"))
	}
	if c.Photos.UploadDir == "" {
		errs = append(errs, errors.New("UPLOAD_DIR must not be empty"))
	}
	if c.Photos.MaxBytes < 1 {
		errs = append(errs, errors.New("MAX_PHOTO_BYTES must be positive"))
	}
	if c.Paging.DefaultSize < 1 || c.Paging.MaxSize < c.Paging.DefaultSize {
		errs = append(errs, fmt.Errorf("page sizes invalid: default %d, max %d", c.Paging.DefaultSize, c.Paging.MaxSize))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q is neither text nor json", c.Log.Format))
	}
	return errors.Join(errs...)
}
