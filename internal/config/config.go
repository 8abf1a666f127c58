// SPDX-License-Identifier: AGPL-3.0-only
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/s3eon/b2edge/internal/auth"
	"github.com/s3eon/b2edge/internal/origin"
	"github.com/s3eon/b2edge/internal/router"
	"github.com/s3eon/b2edge/internal/signer"
	"gopkg.in/yaml.v3"
)

// Secret store types.
const (
	StoreMap   = "map"
	StoreDir   = "dir"
	StoreVault = "vault"
)

type Config struct {
	Listen           Interpolated[string]            `yaml:"listen"`
	Location         Location                        `yaml:"location"`
	Backends         map[string]Interpolated[string] `yaml:"backends"`
	Origins          map[string]Origin               `yaml:"origins"`
	Pops             map[string][]string             `yaml:"pops"`
	DefaultOrigins   []string                        `yaml:"defaultOrigins"`
	DiagnosticHeader string                          `yaml:"diagnosticHeader"`
	TrustedProxies   []string                        `yaml:"trustedProxies"`
	Signing          Signing                         `yaml:"signing"`
	Transport        Transport                       `yaml:"transport"`
	Log              Log                             `yaml:"log"`
	Metrics          Metrics                         `yaml:"metrics"`
	Tracing          Tracing                         `yaml:"tracing"`
}

type Location struct {
	OverrideParam string `yaml:"overrideParam"`
	HostnameEnv   string `yaml:"hostnameEnv"`
	LocalHostname string `yaml:"localHostname"`
	LocationEnv   string `yaml:"locationEnv"`
	Default       string `yaml:"default"`
}

type Origin struct {
	Backend string               `yaml:"backend"`
	Bucket  Interpolated[string] `yaml:"bucket"`
	Host    Interpolated[string] `yaml:"host"`
}

type Signing struct {
	Enabled       bool   `yaml:"enabled"`
	Signer        string `yaml:"signer"`
	RegionPattern string `yaml:"regionPattern"`
	Store         Store  `yaml:"store"`
}

type Store struct {
	Type   string                                     `yaml:"type"`
	Name   string                                     `yaml:"name"`
	Dir    Interpolated[string]                       `yaml:"dir"`
	Vault  Vault                                      `yaml:"vault"`
	Stores map[string]map[string]Interpolated[string] `yaml:"stores"`
}

type Vault struct {
	Address   Interpolated[string]        `yaml:"address"`
	Token     Interpolated[string]        `yaml:"token"`
	Namespace Interpolated[string]        `yaml:"namespace"`
	Mount     string                      `yaml:"mount"`
	Timeout   Interpolated[time.Duration] `yaml:"timeout"`
}

type Transport struct {
	CAFile  Interpolated[string]        `yaml:"caFile"`
	Timeout Interpolated[time.Duration] `yaml:"timeout"`
	// MaxBodySize bounds the request body held in memory for replay across
	// attempts, in bytes. Larger requests get 413. Zero disables the limit.
	MaxBodySize Interpolated[int64] `yaml:"maxBodySize"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Tracing struct {
	Enabled     bool                 `yaml:"enabled"`
	Endpoint    Interpolated[string] `yaml:"endpoint"`
	Protocol    string               `yaml:"protocol"`
	SampleRatio float64              `yaml:"sampleRatio"`
	ServiceName string               `yaml:"serviceName"`
}

// Default returns the configuration used for keys a file leaves out. Origins
// and backends have no defaults.
func Default() *Config {
	return &Config{
		Listen: Interpolated[string]{Value: ":8080"},
		Location: Location{
			OverrideParam: "pop",
			HostnameEnv:   "FASTLY_HOSTNAME",
			LocalHostname: "localhost",
			LocationEnv:   "FASTLY_POP",
			Default:       origin.DefaultLocation,
		},
		DiagnosticHeader: router.DefaultDiagnosticHeader,
		Signing: Signing{
			Signer:        "aws",
			RegionPattern: origin.DefaultRegionPattern,
			Store: Store{
				Type:  StoreMap,
				Name:  auth.DefaultStoreName,
				Vault: Vault{Mount: "secret"},
			},
		},
		Transport: Transport{MaxBodySize: Interpolated[int64]{Value: router.DefaultMaxBodySize}},
		Log:       Log{Level: "info", Format: "text"},
		Metrics:   Metrics{Enabled: true, Path: "/metrics"},
		Tracing:   Tracing{Protocol: "grpc", SampleRatio: 1},
	}
}

// Load reads and validates the YAML file at path. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// Validate reports every problem found, so that a bad deployment fails at
// startup rather than on the first request.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Listen.Value == "" {
		add("listen: must not be empty")
	}
	if c.Location.LocationEnv == "" {
		add("location.locationEnv: must not be empty")
	}
	if c.Location.Default == "" {
		add("location.default: must not be empty")
	}
	if c.DiagnosticHeader == "" {
		add("diagnosticHeader: must not be empty")
	}

	for name, raw := range c.Backends {
		u, err := url.Parse(raw.Value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("backends.%s: %q is not an http(s) URL", name, raw.Value)
		}
	}

	if len(c.Origins) == 0 {
		add("origins: at least one origin is required")
	}
	for name, o := range c.Origins {
		if o.Bucket.Value == "" || o.Host.Value == "" {
			add("origins.%s: bucket and host are required", name)
		}
		if _, ok := c.Backends[o.backend(name)]; !ok {
			add("origins.%s: backend %q is not declared", name, o.backend(name))
		}
	}

	registry, err := c.Registry()
	if err != nil {
		errs = append(errs, err)
	}

	if c.Signing.Enabled {
		errs = append(errs, c.validateSigning(registry)...)
	}

	if c.Transport.MaxBodySize.Value < 0 {
		add("transport.maxBodySize: %d is negative", c.Transport.MaxBodySize.Value)
	}

	if _, err := c.Log.level(); err != nil {
		add("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format: %q is not text or json", c.Log.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		add("metrics.path: %q must start with /", c.Metrics.Path)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		add("tracing.sampleRatio: %v is not within [0, 1]", c.Tracing.SampleRatio)
	}

	return errors.Join(errs...)
}

func (c *Config) validateSigning(registry *origin.Registry) (errs []error) {
	if _, err := signer.New(c.Signing.Signer); err != nil {
		errs = append(errs, fmt.Errorf("signing.signer: %w", err))
	}

	if regions, err := origin.NewRegionExtractor(c.Signing.RegionPattern); err != nil {
		errs = append(errs, fmt.Errorf("signing.regionPattern: %w", err))
	} else if registry != nil {
		if err := regions.Validate(registry.Origins()); err != nil {
			errs = append(errs, fmt.Errorf("signing.regionPattern: %w", err))
		}
	}

	s := c.Signing.Store
	switch s.Type {
	case StoreMap, StoreVault:
	case StoreDir:
		if s.Dir.Value == "" {
			errs = append(errs, errors.New("signing.store.dir: required for dir stores"))
		}
	default:
		errs = append(errs, fmt.Errorf("signing.store.type: unknown store type %q", s.Type))
	}
	return
}

// backend defaults to the origin's own name.
func (o Origin) backend(name string) string {
	if o.Backend == "" {
		return name
	}
	return o.Backend
}

func (l Log) level() (slog.Level, error) {
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(l.Level))
	return lvl, err
}
