// Package resolver maps a model identifier, or a consumer feature when no
// model is given, to an ordered list of provider candidates.
package resolver

import (
	"context"
	"log/slog"
	"strings"

	"github.com/i2y/llmgateway/provider"
)

// DefaultModel is the built-in model used when neither the request nor the
// feature configuration names one.
const DefaultModel = "gpt-4o-mini"

// Strategy selects how many candidates are returned.
type Strategy int

const (
	// AnyAvailable returns every credentialed provider in priority order,
	// so the runner can fall back between them.
	AnyAvailable Strategy = iota
	// FirstAvailable returns only the highest-priority candidate.
	FirstAvailable
)

func (s Strategy) String() string {
	switch s {
	case AnyAvailable:
		return "any_available"
	case FirstAvailable:
		return "first_available"
	default:
		return "unknown"
	}
}

// ParseStrategy parses "any_available" or "first_available". The short
// forms "any" and "first" are accepted.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "any", "any_available":
		return AnyAvailable, nil
	case "first", "first_available":
		return FirstAvailable, nil
	default:
		return AnyAvailable, provider.Errorf(provider.KindValidation, "unknown strategy %q", s)
	}
}

// Feature names a consumer of the gateway.
type Feature string

const (
	FeatureCompletion      Feature = "completion"
	FeatureCommitMessage   Feature = "commit_message"
	FeatureAgent           Feature = "agent"
	FeatureImageGeneration Feature = "image_generation"
)

// Capability returns the model capability a feature requires.
func (f Feature) Capability() provider.Capability {
	switch f {
	case FeatureAgent:
		return provider.CapabilityTools
	case FeatureImageGeneration:
		return provider.CapabilityImageGeneration
	default:
		return provider.CapabilityText
	}
}

// Query is a resolution request. Model is "model@provider", a bare model
// key, or empty.
type Query struct {
	Model   string
	Feature Feature
}

// Resolver resolves queries against a catalog. It performs no network I/O;
// credential availability is read through the CredentialSource.
type Resolver struct {
	catalog  *provider.Catalog
	creds    provider.CredentialSource
	defaults map[Feature]string
	builtin  string
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFeatureDefaults sets the configured default model per feature.
func WithFeatureDefaults(defaults map[Feature]string) Option {
	return func(r *Resolver) {
		for f, m := range defaults {
			r.defaults[f] = m
		}
	}
}

// WithDefaultModel overrides the built-in default model.
func WithDefaultModel(model string) Option {
	return func(r *Resolver) {
		r.builtin = model
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New creates a Resolver.
func New(catalog *provider.Catalog, creds provider.CredentialSource, opts ...Option) *Resolver {
	r := &Resolver{
		catalog:  catalog,
		creds:    creds,
		defaults: make(map[Feature]string),
		builtin:  DefaultModel,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the candidates for q, never empty on success.
func (r *Resolver) Resolve(ctx context.Context, q Query, s Strategy) ([]provider.ResolvedModel, error) {
	if q.Model != "" {
		return r.resolveIdentifier(ctx, q.Model, s)
	}
	return r.resolveDefault(ctx, q.Feature, s)
}

func (r *Resolver) resolveIdentifier(ctx context.Context, id string, s Strategy) ([]provider.ResolvedModel, error) {
	if i := strings.LastIndex(id, "@"); i >= 0 {
		m, err := r.resolvePinned(ctx, id[:i], id[i+1:])
		if err != nil {
			return nil, err
		}
		return []provider.ResolvedModel{m}, nil
	}
	return r.resolveKey(ctx, id, s)
}

func (r *Resolver) resolvePinned(ctx context.Context, key, providerID string) (provider.ResolvedModel, error) {
	if key == "" || providerID == "" {
		return provider.ResolvedModel{}, provider.Errorf(provider.KindConfiguration, "malformed model identifier %q", key+"@"+providerID)
	}
	cfg, ok := r.catalog.Provider(providerID)
	if !ok {
		return provider.ResolvedModel{}, &provider.Error{Kind: provider.KindConfiguration, Provider: providerID, Message: "unknown provider"}
	}
	variant, err := r.available(ctx, cfg)
	if err != nil {
		return provider.ResolvedModel{}, err
	}
	model, ok := r.catalog.Serves(providerID, key)
	if !ok {
		return provider.ResolvedModel{}, &provider.Error{Kind: provider.KindConfiguration, Provider: providerID, Model: key, Message: "provider does not serve model"}
	}
	return provider.ResolvedModel{ProviderID: providerID, Model: model, Variant: variant}, nil
}

func (r *Resolver) resolveKey(ctx context.Context, key string, s Strategy) ([]provider.ResolvedModel, error) {
	offerings := r.catalog.Offerings(key)
	if len(offerings) == 0 {
		return nil, &provider.Error{Kind: provider.KindConfiguration, Model: key, Message: "no provider serves model"}
	}

	var out []provider.ResolvedModel
	for _, o := range offerings {
		cfg, ok := r.catalog.Provider(o.Provider)
		if !ok {
			continue
		}
		variant, err := r.available(ctx, cfg)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, &provider.Error{Kind: provider.KindCanceled, Cause: ctxErr}
			}
			r.logger.Debug("skipping provider without credentials", "provider", o.Provider, "model", key)
			continue
		}
		out = append(out, provider.ResolvedModel{ProviderID: o.Provider, Model: o.Model, Variant: variant})
		if s == FirstAvailable {
			break
		}
	}

	if len(out) == 0 {
		return nil, &provider.Error{Kind: provider.KindConfiguration, Model: key, Message: "no provider with credentials serves model"}
	}
	return out, nil
}

// resolveDefault tries, in order, the feature's configured default, the
// built-in default and a capability scan over the catalog.
func (r *Resolver) resolveDefault(ctx context.Context, f Feature, s Strategy) ([]provider.ResolvedModel, error) {
	if f == "" {
		f = FeatureCompletion
	}

	if model, ok := r.defaults[f]; ok && model != "" {
		out, err := r.resolveIdentifier(ctx, model, s)
		if err == nil {
			return out, nil
		}
		if provider.KindOf(err) == provider.KindCanceled {
			return nil, err
		}
		r.logger.Debug("feature default unavailable", "feature", f, "model", model, "error", err)
	}

	if r.builtin != "" {
		if m, ok := r.catalog.Model(r.builtin); !ok || m.HasCapability(f.Capability()) {
			out, err := r.resolveIdentifier(ctx, r.builtin, s)
			if err == nil {
				return out, nil
			}
			if provider.KindOf(err) == provider.KindCanceled {
				return nil, err
			}
			r.logger.Debug("built-in default unavailable", "feature", f, "model", r.builtin, "error", err)
		}
	}

	return r.scan(ctx, f.Capability(), s)
}

// scan walks the catalog in declaration order for models with capability c.
func (r *Resolver) scan(ctx context.Context, c provider.Capability, s Strategy) ([]provider.ResolvedModel, error) {
	seen := make(map[provider.ResolvedModel]bool)
	var out []provider.ResolvedModel
	for _, m := range r.catalog.Models() {
		if !m.HasCapability(c) {
			continue
		}
		found, err := r.resolveKey(ctx, m.Key, s)
		if err != nil {
			if provider.KindOf(err) == provider.KindCanceled {
				return nil, err
			}
			continue
		}
		for _, rm := range found {
			if seen[rm] {
				continue
			}
			seen[rm] = true
			out = append(out, rm)
		}
		if s == FirstAvailable {
			break
		}
	}

	if len(out) == 0 {
		return nil, provider.Errorf(provider.KindConfiguration, "no available model with capability %q", c)
	}
	return out, nil
}

// available returns the credential variant when cfg can be used.
func (r *Resolver) available(ctx context.Context, cfg *provider.Config) (string, error) {
	if !cfg.RequiresCredentials() {
		return "", nil
	}
	creds, err := r.creds.Credentials(ctx, cfg.ID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", &provider.Error{Kind: provider.KindCanceled, Cause: ctxErr}
		}
		return "", &provider.Error{Kind: provider.KindCredential, Provider: cfg.ID, Cause: err}
	}
	if !creds.Usable() {
		return "", &provider.Error{Kind: provider.KindCredential, Provider: cfg.ID, Cause: provider.ErrNoCredentials}
	}
	return creds.Variant, nil
}
