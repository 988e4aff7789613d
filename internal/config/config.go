package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"dagback/internal/backend"
	"dagback/internal/chunk"
	"dagback/internal/cryptoprovider"
)

// Config represents the main configuration for dagback.
type Config struct {
	HostID     string                `toml:"host_id"`
	BaseDir    string                `toml:"base_dir"`
	LogDir     string                `toml:"log_dir"`
	Roots      []RootConfig          `toml:"roots"`
	Backend    backend.Config        `toml:"backend"`
	Crypto     cryptoprovider.Config `toml:"crypto"`
	Database   DatabaseConfig        `toml:"database"`
	Chunker    ChunkerConfig         `toml:"chunker"`
	Filesystem FilesystemConfig      `toml:"filesystem"`
	GC         GCConfig              `toml:"gc"`
}

// RootConfig names one tracked directory: a backup set name plus the
// absolute path the Scanner and Backup Walker operate over.
type RootConfig struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// DatabaseConfig represents configuration for the local Files/Object Cache.
// This uses a tagged union pattern - the Type field determines which other
// fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" (only supported type)
	DataDir string `toml:"data_dir,omitempty"` // sqlite file lives at <data_dir>/cache.db
}

// ChunkerConfig configures the Chunker's fixed chunk size and the
// threshold below which files are stored as a single blob.
type ChunkerConfig struct {
	ChunkSize    int64 `toml:"chunk_size"`
	MinChunkable int64 `toml:"min_chunkable"`
}

// GCConfig holds the Garbage Collector's settings: currently only an
// Enabled flag.
type GCConfig struct {
	Enabled bool `toml:"enabled"`
}

// NewConfig creates a new Config with the provided values and default key
// paths, all rooted under baseDir the way the teacher's config keeps every
// derived path under one directory.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Crypto: cryptoprovider.Config{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "dagback.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "dagback.key"),
			MACKeyPath:     filepath.Join(baseDir, "keys", "dagback.mac"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "cache"),
		},
		Chunker: ChunkerConfig{
			ChunkSize:    chunk.DefaultChunkSize,
			MinChunkable: chunk.DefaultMinChunkable,
		},
		Backend: backend.Config{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, "repository"),
		},
		GC: GCConfig{Enabled: true},
	}
}

// knownBackendTypes are the backend.Config.Type values accepted by
// backend.New; kept here rather than imported so Validate can report a
// config-shaped error instead of failing lazily at backend construction.
var knownBackendTypes = map[string]bool{"filesystem": true, "b2": true, "memory": true}

// Validate rejects a Config that would either fail at App construction time
// or be silently reinterpreted: an empty HostID, an unrecognized
// Backend.Type (which backend.New would reject only later), a Database.Type
// other than sqlite (App.New opens the SQLite cache for any type but
// "memory"), and a non-positive Chunker bound (which the walker and the
// Chunker would replace with their defaults).
func (c *Config) Validate() error {
	if c.HostID == "" {
		return fmt.Errorf("config: host_id must not be empty")
	}
	if !knownBackendTypes[c.Backend.Type] {
		return fmt.Errorf("config: unknown backend type %q", c.Backend.Type)
	}
	if c.Database.Type != "sqlite" {
		return fmt.Errorf("config: unknown database type %q", c.Database.Type)
	}
	if c.Chunker.ChunkSize <= 0 {
		return fmt.Errorf("config: chunker.chunk_size must be positive, got %d", c.Chunker.ChunkSize)
	}
	if c.Chunker.MinChunkable <= 0 {
		return fmt.Errorf("config: chunker.min_chunkable must be positive, got %d", c.Chunker.MinChunkable)
	}

	seen := make(map[string]bool, len(c.Roots))
	for _, root := range c.Roots {
		if root.Name == "" {
			return fmt.Errorf("config: root entry has an empty name")
		}
		if root.Path == "" {
			return fmt.Errorf("config: root %q has an empty path", root.Name)
		}
		if seen[root.Name] {
			return fmt.Errorf("config: duplicate root name %q", root.Name)
		}
		seen[root.Name] = true
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader and validates it, so a
// malformed or half-edited config.toml is rejected here rather than
// surfacing as a confusing failure once the App tries to use it.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer without validating it,
// since callers may persist a Config built up incrementally (AddRoot
// appends one root at a time to an already-validated base).
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init validates cfg and initializes a new config file at the specified
// path with it, refusing to write a config that would only fail later.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
