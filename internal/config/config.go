// Package config loads ShelfLife settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultOAuthURL    = "http://thebookdb.localhost:3000"
	DefaultAPIURL      = "http://api.thebookdb.localhost:3000"
	DefaultRedirectURI = "http://localhost:4001/auth/tbdb/callback"
	DefaultScope       = "data:read"
	DefaultClientName  = "ShelfLife Instance"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	TBDB     TBDBConfig     `yaml:"tbdb"`
	Worker   WorkerConfig   `yaml:"worker"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host          string `yaml:"host" validate:"required"`
	Port          int    `yaml:"port" validate:"min=1,max=65535"`
	AdminPassword string `yaml:"admin_password"`
}

// Addr is host:port for net/http.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type TBDBConfig struct {
	OAuthURL        string        `yaml:"oauth_url" validate:"required,url"`
	APIURL          string        `yaml:"api_url" validate:"required,url"`
	RedirectURI     string        `yaml:"redirect_uri" validate:"required,url"`
	Scope           string        `yaml:"scope" validate:"required"`
	ClientName      string        `yaml:"client_name" validate:"required"`
	RequestTimeout  time.Duration `yaml:"request_timeout" validate:"gt=0"`
	ThrottleDefault time.Duration `yaml:"throttle_default" validate:"gte=0"`
}

type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency" validate:"min=1,max=32"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	LockDir      string        `yaml:"lock_dir"`
}

type StorageConfig struct {
	CoverDir string `yaml:"cover_dir" validate:"required"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error disabled off"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console auto"`
}

// Default returns the settings used when no file or env override is present.
func Default() Config {
	return Config{
		Server:   ServerConfig{Host: "127.0.0.1", Port: 4001},
		Database: DatabaseConfig{Path: "shelflife.db"},
		TBDB: TBDBConfig{
			OAuthURL:        DefaultOAuthURL,
			APIURL:          DefaultAPIURL,
			RedirectURI:     DefaultRedirectURI,
			Scope:           DefaultScope,
			ClientName:      DefaultClientName,
			RequestTimeout:  30 * time.Second,
			ThrottleDefault: 1100 * time.Millisecond,
		},
		Worker:  WorkerConfig{Concurrency: 2, PollInterval: 2 * time.Second},
		Storage: StorageConfig{CoverDir: "storage/covers"},
		Log:     LogConfig{Level: "info", Format: "auto"},
	}
}

// Load reads path (or the first existing default location when path is
// empty), applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks struct constraints.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func findConfigFile() string {
	candidates := []string{
		"config/shelflife.yaml",
		"/etc/shelflife/shelflife.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "shelflife", "shelflife.yaml"))
	}
	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			return c
		}
	}
	return ""
}

func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	setString("HOST", &cfg.Server.Host)
	setString("SHELFLIFE_ADMIN_PASSWORD", &cfg.Server.AdminPassword)
	setString("SHELFLIFE_DB", &cfg.Database.Path)
	setString("TBDB_OAUTH_URL", &cfg.TBDB.OAuthURL)
	setString("TBDB_API_URI", &cfg.TBDB.APIURL)
	setString("TBDB_REDIRECT_URI", &cfg.TBDB.RedirectURI)
	setString("SHELFLIFE_COVER_DIR", &cfg.Storage.CoverDir)
	setString("SHELFLIFE_LOCK_DIR", &cfg.Worker.LockDir)
	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("LOG_FORMAT", &cfg.Log.Format)

	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := strings.TrimSpace(os.Getenv("SHELFLIFE_WORKERS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SHELFLIFE_WORKERS: %w", err)
		}
		cfg.Worker.Concurrency = n
	}

	cfg.TBDB.OAuthURL = strings.TrimRight(cfg.TBDB.OAuthURL, "/")
	cfg.TBDB.APIURL = strings.TrimRight(cfg.TBDB.APIURL, "/")
	return nil
}
