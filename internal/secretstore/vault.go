package secretstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

type VaultOptions struct {
	// Address of the Vault server, e.g. https://vault.example.com:8200. Empty
	// falls back to VAULT_ADDR.
	Address string
	// Token used for requests. Empty falls back to VAULT_TOKEN.
	Token     string
	Namespace string
	// Mount is the KV v2 mount path, "secret" by default.
	Mount   string
	Timeout time.Duration
}

// Vault reads stores from a KV v2 secrets engine. Store name maps to the secret
// path <mount>/data/<name>; every key of the secret is a store entry.
type Vault struct {
	client *api.Client
	mount  string
	log    *slog.Logger
}

func NewVault(opts VaultOptions, log *slog.Logger) (*Vault, error) {
	config := api.DefaultConfig()
	if config.Error != nil {
		return nil, fmt.Errorf("failed to read Vault environment: %w", config.Error)
	}
	if opts.Address != "" {
		config.Address = opts.Address
	}
	if opts.Timeout > 0 {
		config.Timeout = opts.Timeout
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if opts.Token != "" {
		client.SetToken(opts.Token)
	}
	if opts.Namespace != "" {
		client.SetNamespace(opts.Namespace)
	}

	mount := strings.Trim(opts.Mount, "/")
	if mount == "" {
		mount = "secret"
	}
	if log == nil {
		log = slog.Default()
	}

	return &Vault{client: client, mount: mount, log: log}, nil
}

func (v *Vault) Open(ctx context.Context, name string) (Handle, error) {
	path := fmt.Sprintf("%s/data/%s", v.mount, strings.Trim(name, "/"))

	secret, err := v.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		v.log.Error("Failed to read from Vault", slog.String("path", path), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: no secret at %s", ErrStoreUnavailable, path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: invalid KV v2 data at %s", ErrStoreUnavailable, path)
	}

	kv := make(mapHandle, len(data))
	for k, val := range data {
		s, ok := val.(string)
		if !ok {
			v.log.Debug("Ignoring non-string Vault value", slog.String("path", path), slog.String("key", k))
			continue
		}
		kv[k] = s
	}
	return kv, nil
}
