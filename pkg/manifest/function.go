// Package manifest reads and writes function manifests (ember.toml or
// ember.yaml) describing a function's identity, runtime settings and routes.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/ignitionstack/ember/pkg/artifact"
	"gopkg.in/yaml.v2"
)

// Default manifest file names, in lookup order
var DefaultFiles = []string{"ember.toml", "ember.yaml", "ember.yml"}

type FunctionManifest struct {
	FunctionSettings FunctionSettings `yaml:"function" toml:"function" json:"function" validate:"required"`
}

type FunctionSettings struct {
	ID          string `yaml:"id" toml:"id" json:"id" validate:"required,max=128,excludesall=@/"`
	Version     string `yaml:"version" toml:"version" json:"version" validate:"omitempty,max=64,excludesall=@/"`
	Description string `yaml:"description,omitempty" toml:"description,omitempty" json:"description,omitempty"`

	VersionSettings FunctionVersionSettings `yaml:"settings" toml:"settings" json:"settings"`
	Routes          []RouteSettings         `yaml:"routes,omitempty" toml:"routes,omitempty" json:"routes,omitempty" validate:"dive"`
}

type FunctionVersionSettings struct {
	ABI         string            `yaml:"abi,omitempty" toml:"abi,omitempty" json:"abi,omitempty" validate:"omitempty,oneof=raw extism"`
	Timeout     Duration          `yaml:"timeout,omitempty" toml:"timeout,omitempty" json:"timeout,omitempty" validate:"gte=0"`
	Wasi        bool              `yaml:"enable_wasi" toml:"enable_wasi" json:"enable_wasi"`
	AllowedUrls []string          `yaml:"allowed_urls,omitempty" toml:"allowed_urls,omitempty" json:"allowed_urls,omitempty"`
	Config      map[string]string `yaml:"config,omitempty" toml:"config,omitempty" json:"config,omitempty"`
}

// RouteSettings maps requests to the function. Path may hold :param segments
// or end in /*.
type RouteSettings struct {
	Method   string `yaml:"method,omitempty" toml:"method,omitempty" json:"method,omitempty" validate:"omitempty,oneof=GET POST PUT DELETE PATCH HEAD OPTIONS ANY *"`
	Path     string `yaml:"path" toml:"path" json:"path" validate:"required,startswith=/"`
	Priority int    `yaml:"priority,omitempty" toml:"priority,omitempty" json:"priority,omitempty" validate:"gte=0"`
}

// Duration is a time.Duration written as "1.5s" in manifests.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Reference returns the function reference the manifest describes.
func (m *FunctionManifest) Reference() artifact.Reference {
	version := m.FunctionSettings.Version
	if version == "" {
		version = artifact.DefaultVersion
	}
	return artifact.Reference{ID: m.FunctionSettings.ID, Version: version}
}

// Location applies the manifest settings to the artifact stored at path.
func (s FunctionVersionSettings) Location(path, fingerprint string) artifact.Location {
	abi := artifact.ABI(s.ABI)
	if abi == "" {
		abi = artifact.ABIRaw
	}
	return artifact.Location{
		Path:         path,
		Fingerprint:  fingerprint,
		ABI:          abi,
		Timeout:      time.Duration(s.Timeout),
		EnableWASI:   s.Wasi,
		AllowedHosts: s.AllowedUrls,
		Config:       s.Config,
	}
}

// Validate checks field constraints
func (m *FunctionManifest) Validate() error {
	if err := validator.New().Struct(m); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	return nil
}

func (m *FunctionManifest) MarshalYaml() ([]byte, error) {
	return yaml.Marshal(m)
}

func (m *FunctionManifest) MarshalToml() ([]byte, error) {
	return toml.Marshal(m)
}

// Parse decodes a manifest in the given format ("toml" or "yaml") and
// validates it.
func Parse(data []byte, format string) (*FunctionManifest, error) {
	var m FunctionManifest
	switch strings.ToLower(format) {
	case "toml":
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.UnmarshalStrict(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", format)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads the manifest at path. A directory is searched for DefaultFiles.
func Load(path string) (*FunctionManifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("manifest not found: %w", err)
	}
	if info.IsDir() {
		found := ""
		for _, name := range DefaultFiles {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				found = candidate
				break
			}
		}
		if found == "" {
			return nil, fmt.Errorf("no manifest found in %s, expected %s", path, DefaultFiles[0])
		}
		path = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data, strings.TrimPrefix(filepath.Ext(path), "."))
}
