// Package config loads and validates the daemon's YAML configuration.
//
// The file is read exactly once at startup, unified against the
// embedded CUE schema, and handed to components as an immutable value.
// Nothing re-reads the file or the environment afterwards.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/upcycle-sh/upcycle/internal/service"
)

//go:embed schema.cue
var schemaSource string

// Defaults applied after schema validation.
const (
	DefaultRemote       = "origin"
	DefaultBranch       = "main"
	DefaultPollInterval = time.Minute
	DefaultStageTimeout = 5 * time.Minute
	DefaultRetries      = 5
	DefaultBackoff      = 2 * time.Second
)

// FieldError is a single validation failure, positioned in the config
// file when the schema can point at the offending field.
type FieldError struct {
	Pos     token.Pos
	Message string
}

func (e *FieldError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "90s" or "2m30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RepoConfig locates the watched repository.
type RepoConfig struct {
	Path   string `yaml:"path"`
	Remote string `yaml:"remote"`
	Branch string `yaml:"branch"`
}

// DepsConfig drives dependency synchronization.
type DepsConfig struct {
	Manifests   []string `yaml:"manifests"`
	SyncCommand []string `yaml:"sync_command"`
	StateFile   string   `yaml:"state_file"`
}

// LogConfig names the two run-log sinks.
type LogConfig struct {
	Path string `yaml:"path"`
	DB   string `yaml:"db"`
}

// HealthConfig selects a service's post-restart health probe. An empty
// block (or none at all) means asking the service manager.
type HealthConfig struct {
	Command []string `yaml:"command"`
	Manager bool     `yaml:"manager"`
}

// ServiceConfig describes one managed service.
type ServiceConfig struct {
	Name        string        `yaml:"name"`
	Unit        string        `yaml:"unit"`
	Order       int           `yaml:"order"`
	Criticality string        `yaml:"criticality"`
	Retries     int           `yaml:"retries"`
	Backoff     Duration      `yaml:"backoff"`
	Health      *HealthConfig `yaml:"health"`
}

// Config is the daemon's complete startup configuration.
type Config struct {
	Repo         RepoConfig      `yaml:"repo"`
	PollInterval Duration        `yaml:"poll_interval"`
	StageTimeout Duration        `yaml:"stage_timeout"`
	Deps         DepsConfig      `yaml:"deps"`
	Log          LogConfig       `yaml:"log"`
	Services     []ServiceConfig `yaml:"services"`
}

// Load reads, validates, and defaults the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates raw YAML config bytes. The path is used only for
// error positions.
func Parse(path string, data []byte) (*Config, error) {
	if err := validateSchema(path, data); err != nil {
		return nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateSchema unifies the YAML document with the embedded #Config
// definition and converts CUE errors into positioned FieldErrors.
func validateSchema(path string, data []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling embedded schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return errors.New("embedded schema has no #Config definition")
	}

	file, err := cueyaml.Extract(path, data)
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return convertCUEErrors(err)
	}

	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}
	return nil
}

func convertCUEErrors(err error) error {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return err
	}
	converted := make([]error, 0, len(list))
	for _, e := range list {
		converted = append(converted, &FieldError{
			Pos:     e.Position(),
			Message: e.Error(),
		})
	}
	return errors.Join(converted...)
}

func (c *Config) applyDefaults() {
	if c.Repo.Remote == "" {
		c.Repo.Remote = DefaultRemote
	}
	if c.Repo.Branch == "" {
		c.Repo.Branch = DefaultBranch
	}
	if c.PollInterval == 0 {
		c.PollInterval = Duration(DefaultPollInterval)
	}
	if c.StageTimeout == 0 {
		c.StageTimeout = Duration(DefaultStageTimeout)
	}
	for i := range c.Services {
		if c.Services[i].Retries == 0 {
			c.Services[i].Retries = DefaultRetries
		}
		if c.Services[i].Backoff == 0 {
			c.Services[i].Backoff = Duration(DefaultBackoff)
		}
	}
}

// check covers the cross-field invariants the schema cannot express.
func (c *Config) check() error {
	seen := make(map[string]bool, len(c.Services))
	for _, svc := range c.Services {
		if seen[svc.Name] {
			return &FieldError{Message: fmt.Sprintf("duplicate service name %q", svc.Name)}
		}
		seen[svc.Name] = true
		if svc.Health != nil && svc.Health.Manager && len(svc.Health.Command) > 0 {
			return &FieldError{Message: fmt.Sprintf("service %q: health.manager and health.command are mutually exclusive", svc.Name)}
		}
	}
	return nil
}

// ToDescriptors converts the service entries into the immutable
// descriptors the restart pipeline consumes.
func (c *Config) ToDescriptors() []service.Descriptor {
	out := make([]service.Descriptor, 0, len(c.Services))
	for _, svc := range c.Services {
		d := service.Descriptor{
			Name:         svc.Name,
			Unit:         svc.Unit,
			StartupOrder: svc.Order,
			Criticality:  service.Criticality(svc.Criticality),
			Retries:      svc.Retries,
			Backoff:      svc.Backoff.Std(),
			Health:       service.Health{Mode: service.HealthManager},
		}
		if svc.Health != nil && len(svc.Health.Command) > 0 {
			d.Health = service.Health{
				Mode:    service.HealthCommand,
				Command: svc.Health.Command,
			}
		}
		out = append(out, d)
	}
	return out
}
