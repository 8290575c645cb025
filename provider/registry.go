package provider

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// Capability is a feature a model advertises.
type Capability string

const (
	CapabilityText            Capability = "text"
	CapabilityTools           Capability = "tools"
	CapabilityVision          Capability = "vision"
	CapabilityImageGeneration Capability = "image_generation"
)

// ModelEntry is a catalog model key with its eligible providers.
type ModelEntry struct {
	Key          string       `yaml:"key"`
	Capabilities []Capability `yaml:"capabilities"`
	Providers    []Offering   `yaml:"providers"`
}

// Offering is one provider serving a model key.
// Lower Priority values are tried first; declaration order breaks ties.
type Offering struct {
	Provider string `yaml:"id"`
	Model    string `yaml:"model"` // Provider-side name; defaults to the key
	Priority int    `yaml:"priority"`
}

// HasCapability reports whether the model advertises c.
func (m *ModelEntry) HasCapability(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

type catalogFile struct {
	Providers []*Config     `yaml:"providers"`
	Models    []*ModelEntry `yaml:"models"`
}

// Catalog is the read-only provider registry and model catalog.
// All methods are safe for concurrent use.
type Catalog struct {
	providers map[string]*Config
	order     []string
	models    map[string]*ModelEntry
	modelKeys []string
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(builtinCatalog)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// ParseCatalog parses a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return NewCatalog(f.Providers, f.Models)
}

// NewCatalog validates and indexes providers and models.
// The catalog takes ownership of the passed values.
func NewCatalog(providers []*Config, models []*ModelEntry) (*Catalog, error) {
	c := &Catalog{
		providers: make(map[string]*Config, len(providers)),
		models:    make(map[string]*ModelEntry, len(models)),
	}

	for _, p := range providers {
		if err := p.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.providers[p.ID]; dup {
			return nil, fmt.Errorf("duplicate provider %q", p.ID)
		}
		for _, pattern := range p.Serves {
			if !doublestar.ValidatePattern(pattern) {
				return nil, fmt.Errorf("provider %q: invalid serves pattern %q", p.ID, pattern)
			}
		}
		c.providers[p.ID] = p
		c.order = append(c.order, p.ID)
	}

	for _, m := range models {
		if m.Key == "" {
			return nil, fmt.Errorf("model key is required")
		}
		if _, dup := c.models[m.Key]; dup {
			return nil, fmt.Errorf("duplicate model %q", m.Key)
		}
		for i := range m.Providers {
			o := &m.Providers[i]
			if _, ok := c.providers[o.Provider]; !ok {
				return nil, fmt.Errorf("model %q: unknown provider %q", m.Key, o.Provider)
			}
			if o.Model == "" {
				o.Model = m.Key
			}
		}
		sort.SliceStable(m.Providers, func(i, j int) bool {
			return m.Providers[i].Priority < m.Providers[j].Priority
		})
		c.models[m.Key] = m
		c.modelKeys = append(c.modelKeys, m.Key)
	}

	return c, nil
}

// Provider retrieves a provider by id.
func (c *Catalog) Provider(id string) (*Config, bool) {
	p, ok := c.providers[id]
	return p, ok
}

// Providers returns all providers in declaration order.
func (c *Catalog) Providers() []*Config {
	out := make([]*Config, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.providers[id])
	}
	return out
}

// Model retrieves a model entry by key.
func (c *Catalog) Model(key string) (*ModelEntry, bool) {
	m, ok := c.models[key]
	return m, ok
}

// Models returns all model entries in declaration order.
func (c *Catalog) Models() []*ModelEntry {
	out := make([]*ModelEntry, 0, len(c.modelKeys))
	for _, k := range c.modelKeys {
		out = append(out, c.models[k])
	}
	return out
}

// Offerings returns the providers eligible for a model key in priority order.
// A catalog model entry is authoritative; otherwise providers whose serves
// patterns match the key are returned in declaration order.
func (c *Catalog) Offerings(key string) []Offering {
	if m, ok := c.models[key]; ok {
		out := make([]Offering, len(m.Providers))
		copy(out, m.Providers)
		return out
	}
	var out []Offering
	for _, id := range c.order {
		if c.providers[id].servesPattern(key) {
			out = append(out, Offering{Provider: id, Model: key})
		}
	}
	return out
}

// Serves reports whether provider id can serve the model key and returns
// the provider-side model name.
func (c *Catalog) Serves(id, key string) (string, bool) {
	p, ok := c.providers[id]
	if !ok {
		return "", false
	}
	if m, ok := c.models[key]; ok {
		for _, o := range m.Providers {
			if o.Provider == id {
				return o.Model, true
			}
		}
	}
	if p.servesPattern(key) {
		return key, true
	}
	return "", false
}

func (c *Config) servesPattern(key string) bool {
	for _, pattern := range c.Serves {
		if ok, _ := doublestar.Match(pattern, key); ok {
			return true
		}
	}
	return false
}
