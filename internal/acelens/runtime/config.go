package runtime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lexcodex/acelens/framework/apimap"
	"github.com/lexcodex/acelens/framework/lens"
)

// ConfigFileName is looked up in the workspace root when no config path is
// given.
const ConfigFileName = ".acelens.yaml"

// Config captures every knob shared by the serve, map, and lenses commands.
// Source paths are relative to the workspace root unless absolute.
type Config struct {
	Workspace        string         `yaml:"-"`
	ConfigPath       string         `yaml:"-"`
	DeclarationsPath string         `yaml:"declarations"`
	LoadersPath      string         `yaml:"loaders"`
	ModuleAlias      string         `yaml:"module"`
	Variant          apimap.Variant `yaml:"variant"`
	ImportPrefix     string         `yaml:"import_prefix"`
	ImportExtension  string         `yaml:"import_extension"`
	CommandID        string         `yaml:"command"`
	LensTitle        string         `yaml:"title"`
	Languages        []string       `yaml:"languages"`
	LogPath          string         `yaml:"log"`
	LogEvents        bool           `yaml:"log_events"`
	TelemetryPath    string         `yaml:"telemetry"`
	MetricsAddr      string         `yaml:"metrics_addr"`
	Watch            bool           `yaml:"watch"`
}

// DefaultConfig infers defaults based on the current working directory.
// Errors from os.Getwd are ignored so callers can override manually.
func DefaultConfig() Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return Config{
		Workspace:        cwd,
		DeclarationsPath: filepath.Join(".ace", "fundamentals", "apis.ts"),
		LoadersPath:      filepath.Join(".ace", "fundamentals", "apiLoaders.ts"),
		ModuleAlias:      lens.DefaultModuleAlias,
		Variant:          apimap.VariantCallArg,
		ImportPrefix:     apimap.DefaultImportPrefix,
		ImportExtension:  apimap.DefaultImportExtension,
		CommandID:        lens.DefaultCommandID,
		LensTitle:        lens.DefaultTitle,
		Languages:        []string{"typescript", "typescriptreact"},
		Watch:            true,
	}
}

// Normalize fills missing defaults and validates the variant. It does not
// resolve source paths; use ForWorkspace for that.
func (c *Config) Normalize() error {
	def := DefaultConfig()
	if c.Workspace == "" {
		c.Workspace = def.Workspace
	}
	abs, err := filepath.Abs(c.Workspace)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	c.Workspace = abs
	if c.DeclarationsPath == "" {
		c.DeclarationsPath = def.DeclarationsPath
	}
	if c.LoadersPath == "" {
		c.LoadersPath = def.LoadersPath
	}
	if c.ModuleAlias == "" {
		c.ModuleAlias = def.ModuleAlias
	}
	if c.Variant == "" {
		c.Variant = def.Variant
	}
	if _, err := apimap.NewDeclarationExtractor(c.Variant); err != nil {
		return err
	}
	if c.ImportPrefix == "" {
		c.ImportPrefix = def.ImportPrefix
	}
	if c.ImportExtension == "" {
		c.ImportExtension = def.ImportExtension
	}
	if c.CommandID == "" {
		c.CommandID = def.CommandID
	}
	if c.LensTitle == "" {
		c.LensTitle = def.LensTitle
	}
	if len(c.Languages) == 0 {
		c.Languages = def.Languages
	}
	if c.LogPath != "" && !filepath.IsAbs(c.LogPath) {
		c.LogPath = filepath.Join(c.Workspace, c.LogPath)
	}
	if c.TelemetryPath != "" && !filepath.IsAbs(c.TelemetryPath) {
		c.TelemetryPath = filepath.Join(c.Workspace, c.TelemetryPath)
	}
	return nil
}

// Sources resolves the declarations and loaders paths against root.
func (c Config) Sources(root string) apimap.Sources {
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Join(root, p)
	}
	return apimap.Sources{
		Declarations: resolve(c.DeclarationsPath),
		Loaders:      resolve(c.LoadersPath),
	}
}

// Annotator returns the lens annotator described by c.
func (c Config) Annotator() lens.Annotator {
	return lens.Annotator{
		Module:    c.ModuleAlias,
		CommandID: c.CommandID,
		Title:     c.LensTitle,
	}
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	if path == "" {
		return fmt.Errorf("config path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	c.ConfigPath = path
	return nil
}

// LoadWorkspaceFile overlays the workspace's config file when one exists.
// A missing file is not an error.
func (c *Config) LoadWorkspaceFile(root string) error {
	path := c.ConfigPath
	if path == "" {
		path = filepath.Join(root, ConfigFileName)
	}
	err := c.LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// SaveFile writes the persisted part of c as YAML.
func (c Config) SaveFile(path string) error {
	if path == "" {
		return fmt.Errorf("config path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
