package provider

import (
	"fmt"
	"net/http"
	"strings"
)

// Family identifies a wire protocol family. The set is closed.
type Family string

const (
	// FamilyOpenAI is the official OpenAI Chat Completions API.
	FamilyOpenAI Family = "openai"
	// FamilyOpenAICompatible covers third-party Chat Completions clones.
	FamilyOpenAICompatible Family = "openai-compatible"
	// FamilyGeminiOpenAI is Google's OpenAI-compatible Gemini endpoint.
	FamilyGeminiOpenAI Family = "gemini-openai"
	// FamilyAnthropic is the Anthropic Messages API.
	FamilyAnthropic Family = "anthropic"
	// FamilyGemini is the native Gemini generateContent API.
	FamilyGemini Family = "gemini"
)

// Families lists every supported protocol family.
func Families() []Family {
	return []Family{FamilyOpenAI, FamilyOpenAICompatible, FamilyGeminiOpenAI, FamilyAnthropic, FamilyGemini}
}

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	for _, known := range Families() {
		if f == known {
			return true
		}
	}
	return false
}

// AuthType describes how credentials are attached to a request.
type AuthType string

const (
	AuthBearer AuthType = "bearer" // Authorization: Bearer <secret>
	AuthHeader AuthType = "header" // <AuthHeader>: <secret>
	AuthOAuth  AuthType = "oauth"  // Authorization: Bearer <access token>, refreshable
	AuthNone   AuthType = "none"
)

// Config describes one configured provider.
// A Config is immutable once its Catalog is built.
type Config struct {
	ID            string            `yaml:"id"`
	Name          string            `yaml:"name"`
	Protocol      Family            `yaml:"protocol"`
	BaseURL       string            `yaml:"base_url"`
	Variants      map[string]string `yaml:"variants"`
	Auth          AuthType          `yaml:"auth"`
	AuthHeader    string            `yaml:"auth_header"`
	CredentialKey string            `yaml:"credential_key"`
	Headers       map[string]string `yaml:"headers"`
	Body          map[string]any    `yaml:"body"`

	// Serves lists model name patterns (doublestar syntax) this provider
	// accepts in addition to the catalog's model entries.
	Serves []string `yaml:"serves"`
}

// Endpoint returns the base URL for the given variant, falling back to
// BaseURL when the variant is empty or unknown.
func (c *Config) Endpoint(variant string) string {
	base := c.BaseURL
	if variant != "" {
		if u, ok := c.Variants[variant]; ok && u != "" {
			base = u
		}
	}
	return strings.TrimRight(base, "/")
}

// RequiresCredentials reports whether requests need a secret.
func (c *Config) RequiresCredentials() bool {
	return c.Auth != AuthNone
}

func (c *Config) validate() error {
	if c.ID == "" {
		return fmt.Errorf("provider id is required")
	}
	if !c.Protocol.Valid() {
		return fmt.Errorf("provider %q: unknown protocol %q", c.ID, c.Protocol)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("provider %q: base_url is required", c.ID)
	}
	switch c.Auth {
	case "":
		c.Auth = AuthBearer
	case AuthBearer, AuthOAuth, AuthNone:
	case AuthHeader:
		if c.AuthHeader == "" {
			return fmt.Errorf("provider %q: auth_header is required for header auth", c.ID)
		}
	default:
		return fmt.Errorf("provider %q: unknown auth type %q", c.ID, c.Auth)
	}
	return nil
}

// Credentials is opaque bearer material for one provider.
type Credentials struct {
	Secret  string
	Variant string // Optional base URL variant selected by the account
}

// Usable reports whether the credentials carry a secret.
func (c Credentials) Usable() bool {
	return strings.TrimSpace(c.Secret) != ""
}

// Authorize attaches credentials to h according to the provider's auth type.
func (c *Config) Authorize(h http.Header, creds Credentials) {
	switch c.Auth {
	case AuthNone:
	case AuthHeader:
		h.Set(c.AuthHeader, creds.Secret)
	default:
		h.Set("Authorization", "Bearer "+creds.Secret)
	}
}
