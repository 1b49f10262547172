package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tape/internal/storage"
	pkgconfig "github.com/starford/tape/pkg/config"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Store  StoreConfig       `yaml:"store"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Auth   AuthConfig        `yaml:"auth"`
	Import ImportConfig      `yaml:"import"`
}

// Validate validates the configuration and expands "~" in its paths.
func (c *Config) Validate() error {
	if err := pkgconfig.ExpandPaths(&c.Store.Path, &c.Store.Snapshots.Path, &c.SQLite.Path); err != nil {
		return err
	}
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig locates the collection file.
type StoreConfig struct {
	// Path is the data directory holding collection files.
	Path string `yaml:"path"`
	// Collection is the file the service edits, relative to Path.
	Collection string `yaml:"collection"`
	// InlineTags adds #words found in note bodies to their tags.
	InlineTags bool           `yaml:"inline_tags"`
	Snapshots  SnapshotConfig `yaml:"snapshots"`
}

var collectionName = validation.By(func(v any) error {
	name, _ := v.(string)
	switch {
	case filepath.IsAbs(name) || strings.HasPrefix(filepath.Clean(name), ".."):
		return errors.New("must be relative to the store path")
	case strings.HasPrefix(filepath.Base(name), "."):
		return errors.New("must not be a hidden file")
	case filepath.Ext(name) != storage.CollectionExt:
		return fmt.Errorf("must end with %s", storage.CollectionExt)
	}
	return nil
})

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Collection, validation.Required, collectionName),
		validation.Field(&c.Snapshots),
	)
}

// SnapshotConfig controls backups of the collection file. An empty Path
// disables them.
type SnapshotConfig struct {
	Path string `yaml:"path"`
	// Keep is the number of snapshots kept; 0 keeps all of them.
	Keep int `yaml:"keep"`
}

// Validate validates the snapshot configuration.
func (c SnapshotConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Keep, validation.Min(0)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// ImportConfig holds the defaults for hotlist imports.
type ImportConfig struct {
	SkipTrash  bool `yaml:"skip_trash"`
	FolderTags bool `yaml:"folder_tags"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Path:       "~/.tape",
			Collection: "notes.json",
			Snapshots: SnapshotConfig{
				Path: "~/.tape-snapshots",
				Keep: 20,
			},
		},
		SQLite: SQLiteConfig{
			Path: "~/.tape-index.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Import: ImportConfig{
			SkipTrash: true,
		},
	}
}
