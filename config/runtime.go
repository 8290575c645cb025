package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/oauth2"

	"github.com/i2y/llmgateway/credentials"
	"github.com/i2y/llmgateway/gateway"
	"github.com/i2y/llmgateway/provider"
	"github.com/i2y/llmgateway/resolver"
	"github.com/i2y/llmgateway/telemetry"
	"github.com/i2y/llmgateway/transport"
)

// Runtime is a gateway assembled from a Config, with the resources it owns.
type Runtime struct {
	Gateway     *gateway.Gateway
	Catalog     *provider.Catalog
	Credentials provider.CredentialSource
	Logger      *slog.Logger

	// Usage is the SQLite exporter, when configured.
	Usage *telemetry.SQLite

	closers []func(context.Context) error
}

// BuildOption adjusts how a Runtime is assembled.
type BuildOption func(*buildConfig)

type buildConfig struct {
	logger    *slog.Logger
	transport transport.Transport
	lookup    func(string) (string, bool)
}

// WithLogger sets the logger instead of one built from the Log settings.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(b *buildConfig) {
		b.logger = logger
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(t transport.Transport) BuildOption {
	return func(b *buildConfig) {
		b.transport = t
	}
}

// WithLookup replaces os.LookupEnv for credentials and OAuth secrets.
func WithLookup(lookup func(string) (string, bool)) BuildOption {
	return func(b *buildConfig) {
		b.lookup = lookup
	}
}

// Build assembles the gateway described by c. The Runtime must be closed
// to flush telemetry.
func (c *Config) Build(ctx context.Context, opts ...BuildOption) (_ *Runtime, err error) {
	b := &buildConfig{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = c.Logger(os.Stderr)
	}

	rt := &Runtime{Logger: b.logger}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	rt.Catalog, err = c.LoadCatalog()
	if err != nil {
		return nil, err
	}

	rt.Credentials, err = c.credentials(rt.Catalog, b.lookup)
	if err != nil {
		return nil, err
	}

	sink, err := c.telemetry(ctx, rt)
	if err != nil {
		return nil, err
	}

	t := b.transport
	if t == nil {
		t = transport.NewHTTP(
			transport.WithHeaderTimeout(c.HTTP.HeaderTimeout),
			transport.WithLogger(b.logger),
		)
	}

	var ropts []resolver.Option
	if len(c.Features) > 0 {
		ropts = append(ropts, resolver.WithFeatureDefaults(c.Features))
	}
	if c.DefaultModel != "" {
		ropts = append(ropts, resolver.WithDefaultModel(c.DefaultModel))
	}

	rt.Gateway = gateway.New(rt.Catalog, rt.Credentials,
		gateway.WithLogger(b.logger),
		gateway.WithTransport(t),
		gateway.WithTelemetry(sink),
		gateway.WithTimeout(c.Timeout),
		gateway.WithResolverOptions(ropts...),
	)
	return rt, nil
}

// credentials chains OAuth sources before environment secrets and
// coalesces refreshes per provider.
func (c *Config) credentials(catalog *provider.Catalog, lookup func(string) (string, bool)) (provider.CredentialSource, error) {
	env, err := credentials.NewEnv(catalog,
		credentials.WithDotenv(c.Dotenv...),
		credentials.WithLookup(lookup),
	)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	if len(c.OAuth) == 0 {
		return credentials.Coalesce(env), nil
	}

	configs := make(map[string]*oauth2.Config, len(c.OAuth))
	tokens := make(map[string]*oauth2.Token)
	for id, o := range c.OAuth {
		secret, _ := lookup(o.ClientSecretEnv)
		configs[id] = &oauth2.Config{
			ClientID:     o.ClientID,
			ClientSecret: secret,
			Endpoint:     oauth2.Endpoint{TokenURL: o.TokenURL},
			Scopes:       o.Scopes,
		}
		if rt, ok := lookup(o.RefreshTokenEnv); ok && rt != "" {
			tokens[id] = &oauth2.Token{RefreshToken: rt}
		}
	}
	oauth := credentials.NewOAuth(configs, credentials.NewMemoryStore(tokens))
	return credentials.Coalesce(credentials.Chain{oauth, env}), nil
}

// telemetry builds the configured sinks. Exporters are registered on rt
// for shutdown.
func (c *Config) telemetry(ctx context.Context, rt *Runtime) (telemetry.Sink, error) {
	var sinks telemetry.Multi

	if c.Telemetry.SQLite != "" {
		db, err := telemetry.OpenSQLite(c.resolve(c.Telemetry.SQLite))
		if err != nil {
			return nil, err
		}
		batcher := telemetry.NewBatcher(db,
			telemetry.WithBatchSize(c.Telemetry.BatchSize),
			telemetry.WithFlushInterval(c.Telemetry.FlushInterval),
			telemetry.WithQueueCapacity(c.Telemetry.QueueCapacity),
			telemetry.WithLogger(rt.Logger),
		)
		rt.Usage = db
		// Closers run in reverse, so the batcher drains before the db closes.
		rt.closers = append(rt.closers, func(context.Context) error { return db.Close() }, batcher.Close)
		sinks = append(sinks, batcher)
	}

	if c.Telemetry.OTLPEndpoint != "" {
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(c.Telemetry.OTLPEndpoint))
		if err != nil {
			return nil, fmt.Errorf("creating OTLP exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "llmgw"))),
		)
		rt.closers = append(rt.closers, tp.Shutdown)
		sinks = append(sinks, telemetry.NewOTel(tp))
	}

	switch len(sinks) {
	case 0:
		return telemetry.Nop{}, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

// Close flushes telemetry and releases the runtime's resources.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
