package config

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/s3eon/b2edge/internal/auth"
	"github.com/s3eon/b2edge/internal/location"
	"github.com/s3eon/b2edge/internal/metrics"
	"github.com/s3eon/b2edge/internal/origin"
	"github.com/s3eon/b2edge/internal/router"
	"github.com/s3eon/b2edge/internal/secretstore"
	"github.com/s3eon/b2edge/internal/signer"
	"github.com/s3eon/b2edge/internal/tracing"
)

// Registry builds the origin registry. The built-in location table and
// default order apply when pops and defaultOrigins are left out.
func (c *Config) Registry() (*origin.Registry, error) {
	origins := make(map[string]origin.Origin, len(c.Origins))
	for name, o := range c.Origins {
		origins[name] = origin.Origin{
			BackendName: o.backend(name),
			BucketName:  o.Bucket.Value,
			BucketHost:  o.Host.Value,
		}
	}

	layout := c.Pops
	if len(layout) == 0 {
		layout = origin.BuiltinLayout
	}
	fallback := c.DefaultOrigins
	if len(fallback) == 0 {
		fallback = origin.DefaultOrder
	}
	return origin.BuildRegistry(origins, layout, fallback)
}

// Resolver reads location variables from the process environment.
func (c *Config) Resolver() *location.Resolver {
	return location.NewResolver(location.Options{
		OverrideParam:   c.Location.OverrideParam,
		HostnameEnv:     c.Location.HostnameEnv,
		LocalHostname:   c.Location.LocalHostname,
		LocationEnv:     c.Location.LocationEnv,
		DefaultLocation: c.Location.Default,
	}, nil)
}

func (c *Config) BackendTransport() (*router.BackendTransport, error) {
	backends := make(map[string]string, len(c.Backends))
	for name, u := range c.Backends {
		backends[name] = u.Value
	}

	var opts []router.TransportOptFunc
	if c.Transport.CAFile.Value != "" {
		opts = append(opts, router.WithAdditionalCACert(c.Transport.CAFile.Value))
	}
	if c.Transport.Timeout.Value > 0 {
		opts = append(opts, router.WithResponseHeaderTimeout(c.Transport.Timeout.Value))
	}
	return router.NewBackendTransport(backends, opts...)
}

func (c *Config) SecretStore(log *slog.Logger) (secretstore.Store, error) {
	s := c.Signing.Store
	switch s.Type {
	case StoreMap, "":
		stores := make(map[string]map[string]string, len(s.Stores))
		for name, kv := range s.Stores {
			stores[name] = make(map[string]string, len(kv))
			for k, v := range kv {
				stores[name][k] = v.Value
			}
		}
		return secretstore.NewMap(stores), nil
	case StoreDir:
		return secretstore.NewDir(s.Dir.Value), nil
	case StoreVault:
		v, err := secretstore.NewVault(secretstore.VaultOptions{
			Address:   s.Vault.Address.Value,
			Token:     s.Vault.Token.Value,
			Namespace: s.Vault.Namespace.Value,
			Mount:     s.Vault.Mount,
			Timeout:   s.Vault.Timeout.Value,
		}, log)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown store type %q", s.Type)
	}
}

// Authenticator returns auth.Noop unless signing is enabled.
func (c *Config) Authenticator(log *slog.Logger, m *metrics.Metrics) (auth.Authenticator, error) {
	if !c.Signing.Enabled {
		return auth.Noop{}, nil
	}

	store, err := c.SecretStore(log)
	if err != nil {
		return nil, fmt.Errorf("secret store: %w", err)
	}
	sig, err := signer.New(c.Signing.Signer)
	if err != nil {
		return nil, err
	}
	regions, err := origin.NewRegionExtractor(c.Signing.RegionPattern)
	if err != nil {
		return nil, err
	}

	return auth.NewSigning(auth.SigningOptions{
		Store:     store,
		StoreName: c.Signing.Store.Name,
		Signer:    sig,
		Regions:   regions,
		Now:       time.Now,
		Log:       log,
		Metrics:   m,
	}), nil
}

// RouterOptions returns the router options carried by the configuration.
func (c *Config) RouterOptions() []router.RouterOptFunc {
	return []router.RouterOptFunc{
		router.WithDiagnosticHeader(c.DiagnosticHeader),
		router.WithTrustedProxies(c.TrustedProxies),
		router.WithMaxBodySize(c.Transport.MaxBodySize.Value),
	}
}

func (c *Config) TracingOptions() tracing.Options {
	return tracing.Options{
		Enabled:     c.Tracing.Enabled,
		Endpoint:    c.Tracing.Endpoint.Value,
		Protocol:    c.Tracing.Protocol,
		SampleRatio: c.Tracing.SampleRatio,
		ServiceName: c.Tracing.ServiceName,
	}
}

// LogLevel is valid once Validate has passed.
func (c *Config) LogLevel() slog.Level {
	lvl, _ := c.Log.level()
	return lvl
}

// BackendNames lists the declared backends.
func (c *Config) BackendNames() []string {
	return slices.Sorted(maps.Keys(c.Backends))
}
