package credentials

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.com/i2y/llmgateway/provider"
)

// Env reads secrets from the process environment, falling back to dotenv
// files. The variable for a provider is its CredentialKey, or
// <ID>_API_KEY when none is configured. <ID>_VARIANT selects a base URL
// variant.
type Env struct {
	catalog *provider.Catalog
	files   []string
	lookup  func(string) (string, bool)

	mu     sync.RWMutex
	dotenv map[string]string
}

// EnvOption configures an Env source.
type EnvOption func(*Env)

// WithDotenv adds dotenv files read on construction and on every Refresh.
// Missing files are skipped.
func WithDotenv(files ...string) EnvOption {
	return func(e *Env) {
		e.files = append(e.files, files...)
	}
}

// WithLookup replaces os.LookupEnv.
func WithLookup(lookup func(string) (string, bool)) EnvOption {
	return func(e *Env) {
		e.lookup = lookup
	}
}

// NewEnv creates an environment source for the providers of catalog.
func NewEnv(catalog *provider.Catalog, opts ...EnvOption) (*Env, error) {
	e := &Env{
		catalog: catalog,
		lookup:  os.LookupEnv,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Credentials implements provider.CredentialSource.
func (e *Env) Credentials(_ context.Context, providerID string) (provider.Credentials, error) {
	key := e.keyFor(providerID)
	secret := e.value(key)
	if secret == "" {
		return provider.Credentials{}, missing(providerID)
	}
	return provider.Credentials{
		Secret:  secret,
		Variant: e.value(envName(providerID) + "_VARIANT"),
	}, nil
}

// Refresh implements provider.CredentialSource by re-reading the dotenv
// files, picking up secrets rotated on disk.
func (e *Env) Refresh(ctx context.Context, providerID string, _ provider.Credentials) (provider.Credentials, error) {
	if err := e.reload(); err != nil {
		return provider.Credentials{}, &provider.Error{Kind: provider.KindCredential, Provider: providerID, Cause: err}
	}
	return e.Credentials(ctx, providerID)
}

func (e *Env) reload() error {
	values := make(map[string]string)
	for _, f := range e.files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		m, err := godotenv.Read(f)
		if err != nil {
			return err
		}
		for k, v := range m {
			values[k] = v
		}
	}

	e.mu.Lock()
	e.dotenv = values
	e.mu.Unlock()
	return nil
}

func (e *Env) keyFor(providerID string) string {
	if e.catalog != nil {
		if cfg, ok := e.catalog.Provider(providerID); ok && cfg.CredentialKey != "" {
			return cfg.CredentialKey
		}
	}
	return envName(providerID) + "_API_KEY"
}

func (e *Env) value(key string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return strings.TrimSpace(e.dotenv[key])
}

func envName(providerID string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(providerID))
}
