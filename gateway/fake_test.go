package gateway

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/i2y/llmgateway/provider"
	"github.com/i2y/llmgateway/resolver"
	"github.com/i2y/llmgateway/telemetry"
	"github.com/i2y/llmgateway/transport"
)

// script is one scripted response of the fake transport.
type script struct {
	openErr error
	frames  []string
	err     error         // reported by Err once frames are exhausted
	hold    bool          // block after frames until the context is canceled
	slow    time.Duration // wait before each frame after the first, ignoring the context
}

// fakeTransport serves scripts per host. The last script of a host repeats.
type fakeTransport struct {
	mu      sync.Mutex
	scripts map[string][]script
	opened  []string
	auth    []string

	frames atomic.Int32 // delivered by Next
	read   atomic.Int32 // taken by Frame for parsing
	closed atomic.Int32
}

func newFakeTransport(scripts map[string][]script) *fakeTransport {
	return &fakeTransport{scripts: scripts}
}

func (f *fakeTransport) Open(ctx context.Context, req *provider.WireRequest) (transport.Stream, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.opened = append(f.opened, u.Host)
	f.auth = append(f.auth, req.Header.Get("Authorization"))
	queue := f.scripts[u.Host]
	if len(queue) == 0 {
		f.mu.Unlock()
		return nil, &provider.Error{Kind: provider.KindNetwork, Message: "no route to " + u.Host}
	}
	sc := queue[0]
	if len(queue) > 1 {
		f.scripts[u.Host] = queue[1:]
	}
	f.mu.Unlock()

	if sc.openErr != nil {
		return nil, sc.openErr
	}
	return &fakeStream{ctx: ctx, script: sc, owner: f}, nil
}

func (f *fakeTransport) hosts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

func (f *fakeTransport) authorizations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.auth...)
}

type fakeStream struct {
	ctx    context.Context
	script script
	owner  *fakeTransport
	pos    int
	err    error
}

func (s *fakeStream) Next() bool {
	if s.pos < len(s.script.frames) {
		if s.pos > 0 && s.script.slow > 0 {
			time.Sleep(s.script.slow)
		}
		s.pos++
		s.owner.frames.Add(1)
		return true
	}
	if s.script.hold {
		<-s.ctx.Done()
		s.err = &provider.Error{Kind: provider.KindCanceled, Cause: s.ctx.Err()}
		return false
	}
	s.err = s.script.err
	return false
}

func (s *fakeStream) Frame() provider.Frame {
	s.owner.read.Add(1)
	return provider.Frame{Data: []byte(s.script.frames[s.pos-1])}
}

func (s *fakeStream) Err() error { return s.err }

func (s *fakeStream) Close() error {
	s.owner.closed.Add(1)
	return nil
}

// fakeCreds hands out "<secret>" and "<secret>-refreshed", counts
// refreshes per provider and keeps the rejected secrets.
type fakeCreds struct {
	mu         sync.Mutex
	secrets    map[string]string
	refreshes  map[string]int
	rejected   []string
	refreshErr error
}

func newFakeCreds(secrets map[string]string) *fakeCreds {
	return &fakeCreds{secrets: secrets, refreshes: make(map[string]int)}
}

func (c *fakeCreds) Credentials(_ context.Context, providerID string) (provider.Credentials, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.secrets[providerID]
	if !ok {
		return provider.Credentials{}, provider.ErrNoCredentials
	}
	return provider.Credentials{Secret: s}, nil
}

func (c *fakeCreds) Refresh(_ context.Context, providerID string, rejected provider.Credentials) (provider.Credentials, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes[providerID]++
	c.rejected = append(c.rejected, rejected.Secret)
	if c.refreshErr != nil {
		return provider.Credentials{}, c.refreshErr
	}
	c.secrets[providerID] += "-refreshed"
	return provider.Credentials{Secret: c.secrets[providerID]}, nil
}

func (c *fakeCreds) rejectedSecrets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.rejected...)
}

func (c *fakeCreds) refreshCount(providerID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshes[providerID]
}

// recorder collects telemetry kinds.
type recorder struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *recorder) Record(ev telemetry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []telemetry.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]telemetry.Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

// testCatalog has two OpenAI-compatible providers serving model "m", alpha
// before beta.
func testCatalog(t *testing.T) *provider.Catalog {
	t.Helper()
	c, err := provider.NewCatalog(
		[]*provider.Config{
			{ID: "alpha", Protocol: provider.FamilyOpenAICompatible, BaseURL: "https://alpha.test/v1", Auth: provider.AuthBearer},
			{ID: "beta", Protocol: provider.FamilyOpenAICompatible, BaseURL: "https://beta.test/v1", Auth: provider.AuthBearer},
		},
		[]*provider.ModelEntry{{
			Key:          "m",
			Capabilities: []provider.Capability{provider.CapabilityText},
			Providers: []provider.Offering{
				{Provider: "alpha"},
				{Provider: "beta", Priority: 10},
			},
		}},
	)
	require.NoError(t, err)
	return c
}

type harness struct {
	transport *fakeTransport
	creds     *fakeCreds
	sink      *recorder
	runner    *Runner
}

func newHarness(t *testing.T, scripts map[string][]script) *harness {
	t.Helper()
	catalog := testCatalog(t)
	h := &harness{
		transport: newFakeTransport(scripts),
		creds:     newFakeCreds(map[string]string{"alpha": "a", "beta": "b"}),
		sink:      &recorder{},
	}
	h.runner = NewRunner(catalog, resolver.New(catalog, h.creds), h.creds, h.transport, h.sink, nil)
	return h
}

func hello() *provider.Request {
	return CompletionRequest("m", "hi")
}

// Canned OpenAI-compatible frames.
const (
	frameHel     = `{"choices":[{"index":0,"delta":{"content":"Hel"}}]}`
	frameLoStop  = `{"choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`
	frameUsage   = `{"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`
	frameDone    = `[DONE]`
	frameRole    = `{"choices":[{"index":0,"delta":{"role":"assistant"}}]}`
	frameBadKey  = `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`
	frameOops    = `{"choices": oops}`
	frameToolArg = `{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Oslo\"}"}}]},"finish_reason":"tool_calls"}]}`
)

func helloScript() script {
	return script{frames: []string{frameHel, frameLoStop, frameUsage, frameDone}}
}

func networkFailure() script {
	return script{openErr: &provider.Error{Kind: provider.KindNetwork, StatusCode: 503, Message: "unavailable"}}
}

func authFailure() script {
	return script{openErr: &provider.Error{Kind: provider.KindAuthExpired, StatusCode: 401, Message: "invalid key"}}
}
