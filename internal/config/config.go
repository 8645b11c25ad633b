package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Catalogue CatalogueConfig `yaml:"catalogue"`
	Search    SearchConfig    `yaml:"search"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

// CatalogueConfig points the client side at a catalogue deployment.
type CatalogueConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

type SearchConfig struct {
	PageSize     int           `yaml:"page_size"`
	MinPageSize  int           `yaml:"min_page_size"`
	MaxPageSize  int           `yaml:"max_page_size"`
	Debounce     time.Duration `yaml:"debounce"`
	SpinnerDelay time.Duration `yaml:"spinner_delay"`
}

type StorageConfig struct {
	// Backend selects the reference server's store: "sqlite" or "postgres".
	Backend     string `yaml:"backend"`
	DataDir     string `yaml:"data_dir"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4700,
		},
		Catalogue: CatalogueConfig{
			BaseURL: "http://127.0.0.1:4700",
		},
		Search: SearchConfig{
			PageSize:     20,
			MinPageSize:  20,
			MaxPageSize:  1000,
			Debounce:     300 * time.Millisecond,
			SpinnerDelay: 400 * time.Millisecond,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "fccsearch")
	}
	return ".fccsearch"
}

// Load reads configuration from defaults, then an optional YAML file, then
// FCCSEARCH_* environment variables. The file path comes from
// FCCSEARCH_CONFIG, falling back to the platform config dir.
// A missing file is not an error; a malformed one is.
func Load() (Config, error) {
	path := os.Getenv("FCCSEARCH_CONFIG")
	if path == "" {
		path = filepath.Join(defaultDataDir(), "config.yaml")
	}
	return loadFrom(path)
}

func loadFrom(path string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus env are enough to run.
	default:
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FCCSEARCH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FCCSEARCH_TOKEN"); v != "" {
		cfg.Server.Token = v
		cfg.Catalogue.Token = v
	}
	if v := os.Getenv("FCCSEARCH_BASE_URL"); v != "" {
		cfg.Catalogue.BaseURL = v
	}
	if v := os.Getenv("FCCSEARCH_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.PageSize = n
		}
	}
	if v := os.Getenv("FCCSEARCH_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("FCCSEARCH_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("FCCSEARCH_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("FCCSEARCH_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func validate(cfg *Config) error {
	if cfg.Search.MinPageSize <= 0 || cfg.Search.MaxPageSize < cfg.Search.MinPageSize {
		return fmt.Errorf("invalid page size bounds [%d, %d]", cfg.Search.MinPageSize, cfg.Search.MaxPageSize)
	}
	cfg.Search.PageSize = ClampPageSize(cfg.Search.PageSize, cfg.Search.MinPageSize, cfg.Search.MaxPageSize)
	if cfg.Search.Debounce <= 0 {
		cfg.Search.Debounce = 300 * time.Millisecond
	}
	if cfg.Search.SpinnerDelay <= 0 {
		cfg.Search.SpinnerDelay = 400 * time.Millisecond
	}
	switch strings.ToLower(cfg.Storage.Backend) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage backend %q (want sqlite or postgres)", cfg.Storage.Backend)
	}
	if strings.EqualFold(cfg.Storage.Backend, "postgres") && cfg.Storage.PostgresDSN == "" {
		return fmt.Errorf("postgres backend requires a DSN (FCCSEARCH_POSTGRES_DSN)")
	}
	return nil
}

// ClampPageSize bounds a requested page size to the deployment's limits.
func ClampPageSize(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
