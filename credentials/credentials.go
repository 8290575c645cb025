// Package credentials provides provider.CredentialSource implementations:
// environment and dotenv secrets, OAuth access tokens with refresh, fixed
// secrets for tests, and refresh coalescing.
package credentials

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/i2y/llmgateway/provider"
)

func missing(providerID string) error {
	return &provider.Error{
		Kind:     provider.KindCredential,
		Provider: providerID,
		Cause:    provider.ErrNoCredentials,
	}
}

// Static serves fixed credentials. Refresh returns the same value.
type Static map[string]provider.Credentials

// Credentials implements provider.CredentialSource.
func (s Static) Credentials(_ context.Context, providerID string) (provider.Credentials, error) {
	c, ok := s[providerID]
	if !ok || !c.Usable() {
		return provider.Credentials{}, missing(providerID)
	}
	return c, nil
}

// Refresh implements provider.CredentialSource.
func (s Static) Refresh(ctx context.Context, providerID string, _ provider.Credentials) (provider.Credentials, error) {
	return s.Credentials(ctx, providerID)
}

// Holder is implemented by sources whose Credentials call may exchange
// tokens. Holds reports whether the source has material for a provider
// without using it.
type Holder interface {
	Holds(ctx context.Context, providerID string) bool
}

// Chain consults sources in order; the first one holding credentials for a
// provider owns both lookup and refresh for it.
type Chain []provider.CredentialSource

// Credentials implements provider.CredentialSource.
func (c Chain) Credentials(ctx context.Context, providerID string) (provider.Credentials, error) {
	for _, src := range c {
		if h, ok := src.(Holder); ok {
			if h.Holds(ctx, providerID) {
				return src.Credentials(ctx, providerID)
			}
			continue
		}
		creds, err := src.Credentials(ctx, providerID)
		if err == nil && creds.Usable() {
			return creds, nil
		}
		if err != nil && provider.KindOf(err) != provider.KindCredential {
			return provider.Credentials{}, err
		}
	}
	return provider.Credentials{}, missing(providerID)
}

// Refresh implements provider.CredentialSource. Only the owning source is
// refreshed.
func (c Chain) Refresh(ctx context.Context, providerID string, rejected provider.Credentials) (provider.Credentials, error) {
	src, err := c.owner(ctx, providerID)
	if err != nil {
		return provider.Credentials{}, err
	}
	return src.Refresh(ctx, providerID, rejected)
}

// owner finds the source responsible for providerID. Holders are asked
// through Holds so that finding the owner never exchanges a token.
func (c Chain) owner(ctx context.Context, providerID string) (provider.CredentialSource, error) {
	for _, src := range c {
		if h, ok := src.(Holder); ok {
			if h.Holds(ctx, providerID) {
				return src, nil
			}
			continue
		}
		creds, err := src.Credentials(ctx, providerID)
		if err == nil && creds.Usable() {
			return src, nil
		}
		if err != nil && provider.KindOf(err) != provider.KindCredential {
			return nil, err
		}
	}
	return nil, missing(providerID)
}

// Coalesced wraps a source so that concurrent refreshes for the same
// provider share one upstream refresh.
type Coalesced struct {
	src   provider.CredentialSource
	group singleflight.Group

	mu      sync.Mutex
	pending map[string]int
}

// Coalesce wraps src.
func Coalesce(src provider.CredentialSource) *Coalesced {
	return &Coalesced{src: src, pending: make(map[string]int)}
}

// Credentials implements provider.CredentialSource.
func (c *Coalesced) Credentials(ctx context.Context, providerID string) (provider.Credentials, error) {
	return c.src.Credentials(ctx, providerID)
}

// Refresh implements provider.CredentialSource. Callers arriving while a
// refresh for the same provider is in flight receive its result.
func (c *Coalesced) Refresh(ctx context.Context, providerID string, rejected provider.Credentials) (provider.Credentials, error) {
	ch := c.group.DoChan(providerID, func() (any, error) {
		// The refresh outlives the cancellation of any single waiter.
		return c.src.Refresh(context.WithoutCancel(ctx), providerID, rejected)
	})

	c.mu.Lock()
	c.pending[providerID]++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.pending[providerID]--
		c.mu.Unlock()
	}()

	select {
	case res := <-ch:
		if res.Err != nil {
			return provider.Credentials{}, res.Err
		}
		creds, ok := res.Val.(provider.Credentials)
		if !ok {
			return provider.Credentials{}, fmt.Errorf("refreshing %s: unexpected result %T", providerID, res.Val)
		}
		return creds, nil
	case <-ctx.Done():
		return provider.Credentials{}, &provider.Error{Kind: provider.KindCanceled, Provider: providerID, Cause: ctx.Err()}
	}
}

// Waiting reports how many callers are waiting on a refresh for providerID.
func (c *Coalesced) Waiting(providerID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[providerID]
}
