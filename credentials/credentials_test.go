package credentials

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/llmgateway/provider"
)

func TestStatic(t *testing.T) {
	src := Static{
		"openai": {Secret: "sk-1"},
		"empty":  {Secret: "  "},
	}

	creds, err := src.Credentials(context.Background(), "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-1", creds.Secret)

	for _, id := range []string{"empty", "missing"} {
		_, err := src.Credentials(context.Background(), id)
		assert.ErrorIs(t, err, provider.ErrCredential)
		assert.ErrorIs(t, err, provider.ErrNoCredentials)
	}
}

type countingSource struct {
	secret    string
	refreshes atomic.Int32
	release   chan struct{}
	err       error
}

func (s *countingSource) Credentials(context.Context, string) (provider.Credentials, error) {
	if s.secret == "" {
		return provider.Credentials{}, missing("x")
	}
	return provider.Credentials{Secret: s.secret}, nil
}

func (s *countingSource) Refresh(_ context.Context, _ string, _ provider.Credentials) (provider.Credentials, error) {
	s.refreshes.Add(1)
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return provider.Credentials{}, s.err
	}
	return provider.Credentials{Secret: s.secret + "-fresh"}, nil
}

func TestChain(t *testing.T) {
	first := &countingSource{}
	second := &countingSource{secret: "b"}
	chain := Chain{first, second}

	creds, err := chain.Credentials(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "b", creds.Secret)

	creds, err = chain.Refresh(context.Background(), "p", provider.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, "b-fresh", creds.Secret)
	assert.Zero(t, first.refreshes.Load())
	assert.Equal(t, int32(1), second.refreshes.Load())

	_, err = Chain{first}.Credentials(context.Background(), "p")
	assert.ErrorIs(t, err, provider.ErrNoCredentials)
}

func TestCoalesce_SharesOneRefresh(t *testing.T) {
	src := &countingSource{secret: "s", release: make(chan struct{})}
	c := Coalesce(src)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]provider.Credentials, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creds, err := c.Refresh(context.Background(), "openai", provider.Credentials{})
			assert.NoError(t, err)
			results[i] = creds
		}(i)
	}

	require.Eventually(t, func() bool { return c.Waiting("openai") == callers }, time.Second, time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Equal(t, int32(1), src.refreshes.Load())
	for _, r := range results {
		assert.Equal(t, "s-fresh", r.Secret)
	}
}

func TestCoalesce_ProvidersAreIndependent(t *testing.T) {
	src := &countingSource{secret: "s"}
	c := Coalesce(src)

	_, err := c.Refresh(context.Background(), "a", provider.Credentials{})
	require.NoError(t, err)
	_, err = c.Refresh(context.Background(), "b", provider.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.refreshes.Load())
}

func TestCoalesce_CanceledWaiter(t *testing.T) {
	src := &countingSource{secret: "s", release: make(chan struct{})}
	defer close(src.release)
	c := Coalesce(src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Refresh(ctx, "openai", provider.Credentials{})
	assert.ErrorIs(t, err, provider.ErrCanceled)
}

func TestCoalesce_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	c := Coalesce(&countingSource{secret: "s", err: boom})
	_, err := c.Refresh(context.Background(), "openai", provider.Credentials{})
	assert.ErrorIs(t, err, boom)
}
