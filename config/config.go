package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds everything the server and the CLI need to open the stores.
type Config struct {
	Listen         string   `toml:"listen"`
	LogLevel       string   `toml:"log_level"`
	LogFile        string   `toml:"log_file"`
	AllowedOrigins []string `toml:"allowed_origins"`

	Storage StorageConfig `toml:"storage"`
	GC      GCConfig      `toml:"gc"`
}

// StorageConfig selects the document backend. Uploads always live on the
// local filesystem under UploadsPath.
type StorageConfig struct {
	Type           string `toml:"type"` // "filesystem", "memory" or "sqlite"
	DocumentsPath  string `toml:"documents_path"`
	UploadsPath    string `toml:"uploads_path"`
	DataSourceName string `toml:"data_source_name"` // only used for type=sqlite
	MaxUploadSize  int64  `toml:"max_upload_size"`  // bytes; 0 disables the limit
}

type GCConfig struct {
	GracePeriod string `toml:"grace_period"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		Listen:         ":3001",
		LogLevel:       "info",
		AllowedOrigins: []string{"https://*", "http://*"},
		Storage: StorageConfig{
			Type:           "filesystem",
			DocumentsPath:  "./data/scrapbooks",
			UploadsPath:    "./data/uploads",
			DataSourceName: "scrapbook.db",
			MaxUploadSize:  50 << 20,
		},
		GC: GCConfig{GracePeriod: "24h"},
	}
}

// Read decodes TOML from r on top of the defaults.
func Read(r io.Reader) (*Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Load builds the effective configuration: defaults, then the optional TOML
// file at path, then a .env file in the working directory, then environment
// variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		cfg, err = Read(f)
		if err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found")
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables using lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"STORAGE_TYPE":       &c.Storage.Type,
		"LOCAL_STORAGE_PATH": &c.Storage.DocumentsPath,
		"UPLOADS_PATH":       &c.Storage.UploadsPath,
		"DATA_SOURCE_NAME":   &c.Storage.DataSourceName,
		"LISTEN":             &c.Listen,
		"LOG_LEVEL":          &c.LogLevel,
		"LOG_FILE":           &c.LogFile,
		"GC_GRACE_PERIOD":    &c.GC.GracePeriod,
	}
	for key, field := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*field = v
		}
	}

	if v, ok := lookup("MAX_UPLOAD_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_SIZE %q: %w", v, err)
		}
		c.Storage.MaxUploadSize = n
	}
	if v, ok := lookup("ALLOWED_ORIGINS"); ok && v != "" {
		var origins []string
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		c.AllowedOrigins = origins
	}
	return nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "filesystem":
		if c.Storage.DocumentsPath == "" {
			return fmt.Errorf("storage.documents_path is required for filesystem storage")
		}
	case "sqlite":
		if c.Storage.DataSourceName == "" {
			return fmt.Errorf("storage.data_source_name is required for sqlite storage")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	if c.Storage.UploadsPath == "" && c.Storage.Type != "memory" {
		return fmt.Errorf("storage.uploads_path is required")
	}
	if c.Storage.MaxUploadSize < 0 {
		return fmt.Errorf("storage.max_upload_size must not be negative")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if _, err := c.Grace(); err != nil {
		return err
	}
	return nil
}

// Grace parses the configured garbage collection grace period.
func (c *Config) Grace() (time.Duration, error) {
	d, err := time.ParseDuration(c.GC.GracePeriod)
	if err != nil {
		return 0, fmt.Errorf("invalid gc.grace_period %q: %w", c.GC.GracePeriod, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("gc.grace_period must not be negative")
	}
	return d, nil
}
