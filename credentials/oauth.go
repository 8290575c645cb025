package credentials

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"

	"github.com/i2y/llmgateway/provider"
)

// expiryLeeway refreshes tokens slightly before they expire.
const expiryLeeway = 30 * time.Second

// TokenStore persists OAuth tokens per provider.
type TokenStore interface {
	Load(ctx context.Context, providerID string) (*oauth2.Token, error)
	Save(ctx context.Context, providerID string, tok *oauth2.Token) error
}

// ErrTokenNotFound is returned by a TokenStore without a token for a provider.
var ErrTokenNotFound = errors.New("token not found")

// MemoryStore is an in-memory TokenStore.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]*oauth2.Token
}

// NewMemoryStore creates a store seeded with tokens.
func NewMemoryStore(tokens map[string]*oauth2.Token) *MemoryStore {
	s := &MemoryStore{tokens: make(map[string]*oauth2.Token)}
	for id, tok := range tokens {
		s.tokens[id] = tok
	}
	return s
}

// Load implements TokenStore.
func (s *MemoryStore) Load(_ context.Context, providerID string) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[providerID]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return tok, nil
}

// Save implements TokenStore.
func (s *MemoryStore) Save(_ context.Context, providerID string, tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[providerID] = tok
	return nil
}

// OAuth serves OAuth access tokens and exchanges refresh tokens when the
// upstream rejects an access token or it is known to be expired.
// Exchanges are serialized per provider; a caller that waited on another
// caller's exchange receives its token instead of exchanging again.
type OAuth struct {
	configs    map[string]*oauth2.Config
	store      TokenStore
	httpClient *http.Client
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// OAuthOption configures an OAuth source.
type OAuthOption func(*OAuth)

// WithHTTPClient sets the client used for token exchanges.
func WithHTTPClient(client *http.Client) OAuthOption {
	return func(o *OAuth) {
		o.httpClient = client
	}
}

// NewOAuth creates an OAuth source. configs maps provider ids to their
// OAuth client configuration.
func NewOAuth(configs map[string]*oauth2.Config, store TokenStore, opts ...OAuthOption) *OAuth {
	o := &OAuth{
		configs: configs,
		store:   store,
		now:     time.Now,
		locks:   make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Holds implements Holder. It reports whether a token is stored for a
// configured provider, without checking or refreshing it.
func (o *OAuth) Holds(ctx context.Context, providerID string) bool {
	if _, ok := o.configs[providerID]; !ok {
		return false
	}
	tok, err := o.store.Load(ctx, providerID)
	return err == nil && (tok.AccessToken != "" || tok.RefreshToken != "")
}

// Credentials implements provider.CredentialSource. A token that is
// missing or expired is refreshed before it is handed out.
func (o *OAuth) Credentials(ctx context.Context, providerID string) (provider.Credentials, error) {
	tok, err := o.load(ctx, providerID)
	if err != nil {
		return provider.Credentials{}, err
	}
	if o.valid(tok) {
		return credentialsFor(tok), nil
	}
	return o.exchange(ctx, providerID, tok.AccessToken)
}

// Refresh implements provider.CredentialSource. The refresh token is
// exchanged unless the stored access token already differs from rejected
// and is still valid.
func (o *OAuth) Refresh(ctx context.Context, providerID string, rejected provider.Credentials) (provider.Credentials, error) {
	return o.exchange(ctx, providerID, rejected.Secret)
}

func (o *OAuth) load(ctx context.Context, providerID string) (*oauth2.Token, error) {
	if _, ok := o.configs[providerID]; !ok {
		return nil, missing(providerID)
	}
	tok, err := o.store.Load(ctx, providerID)
	if errors.Is(err, ErrTokenNotFound) {
		return nil, missing(providerID)
	}
	if err != nil {
		return nil, &provider.Error{Kind: provider.KindCredential, Provider: providerID, Message: "loading token", Cause: err}
	}
	return tok, nil
}

// exchange trades the stored refresh token for a new access token while
// holding the provider's lock.
func (o *OAuth) exchange(ctx context.Context, providerID, rejected string) (provider.Credentials, error) {
	unlock, err := o.lock(ctx, providerID)
	if err != nil {
		return provider.Credentials{}, err
	}
	defer unlock()

	tok, err := o.load(ctx, providerID)
	if err != nil {
		return provider.Credentials{}, err
	}
	if tok.AccessToken != rejected && o.valid(tok) {
		return credentialsFor(tok), nil
	}
	if tok.RefreshToken == "" {
		return provider.Credentials{}, &provider.Error{Kind: provider.KindCredential, Provider: providerID, Message: "access token expired and no refresh token is stored"}
	}

	if o.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
	}
	// A token without an access token forces the exchange.
	fresh, err := o.configs[providerID].TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	if err != nil {
		return provider.Credentials{}, &provider.Error{Kind: provider.KindCredential, Provider: providerID, Message: "refreshing token", Cause: err}
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	if extra := tok.Extra("variant"); extra != nil && fresh.Extra("variant") == nil {
		fresh = fresh.WithExtra(map[string]any{"variant": extra})
	}

	if err := o.store.Save(ctx, providerID, fresh); err != nil {
		return provider.Credentials{}, &provider.Error{Kind: provider.KindCredential, Provider: providerID, Message: "saving token", Cause: err}
	}
	return credentialsFor(fresh), nil
}

func (o *OAuth) lock(ctx context.Context, providerID string) (func(), error) {
	o.mu.Lock()
	l, ok := o.locks[providerID]
	if !ok {
		l = make(chan struct{}, 1)
		o.locks[providerID] = l
	}
	o.mu.Unlock()

	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-ctx.Done():
		return nil, &provider.Error{Kind: provider.KindCanceled, Provider: providerID, Cause: ctx.Err()}
	}
}

func (o *OAuth) valid(tok *oauth2.Token) bool {
	return tok.AccessToken != "" && !o.expired(tok)
}

func (o *OAuth) expired(tok *oauth2.Token) bool {
	expiry := tok.Expiry
	if expiry.IsZero() {
		if exp, ok := TokenExpiry(tok.AccessToken); ok {
			expiry = exp
		}
	}
	if expiry.IsZero() {
		return false
	}
	return !o.now().Add(expiryLeeway).Before(expiry)
}

func credentialsFor(tok *oauth2.Token) provider.Credentials {
	creds := provider.Credentials{Secret: tok.AccessToken}
	if v, ok := tok.Extra("variant").(string); ok {
		creds.Variant = v
	}
	return creds
}

// TokenExpiry returns the exp claim of a JWT access token without
// verifying its signature. Opaque tokens report false.
func TokenExpiry(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
