// Package tld maps TLDs to the registries that serve them.
package tld

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/namelens/domaincheck/internal/core"
)

//go:embed registry.yaml
var builtinYAML []byte

const fallbackTimeout = 2 * time.Second

// Entry is one registry row.
type Entry struct {
	core.TLDConfig `yaml:",inline"`
	Group          string `yaml:"group,omitempty" json:"group,omitempty"`
}

type document struct {
	TLDs []Entry `yaml:"tlds"`
}

// Fallback resolves TLDs absent from the registry, typically from the
// cached IANA RDAP bootstrap data.
type Fallback interface {
	Resolve(ctx context.Context, tld string) (core.TLDConfig, bool)
}

// Registry holds TLD configurations keyed by lowercase TLD.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	fallback Fallback
}

// Builtin decodes the embedded registry.
func Builtin() ([]Entry, error) {
	return decode(builtinYAML)
}

// New builds a registry from the embedded entries.
func New() (*Registry, error) {
	entries, err := Builtin()
	if err != nil {
		return nil, err
	}
	return NewFromEntries(entries)
}

// NewFromEntries builds a registry from explicit entries.
func NewFromEntries(entries []Entry) (*Registry, error) {
	reg := &Registry{entries: make(map[string]Entry, len(entries))}
	for _, entry := range entries {
		if err := reg.put(entry, false); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// LoadOverrideFile replaces or adds the entries listed in a YAML file with
// the same layout as the built-in registry.
func (r *Registry) LoadOverrideFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied registry path
	if err != nil {
		return fmt.Errorf("read tld registry %s: %w", path, err)
	}
	entries, err := decode(data)
	if err != nil {
		return fmt.Errorf("tld registry %s: %w", path, err)
	}
	for _, entry := range entries {
		if err := r.put(entry, true); err != nil {
			return fmt.Errorf("tld registry %s: %w", path, err)
		}
	}
	return nil
}

// Override replaces the entry for each config's TLD.
func (r *Registry) Override(configs ...core.TLDConfig) error {
	for _, cfg := range configs {
		group := "override"
		if existing, ok := r.entry(cfg.TLD); ok {
			group = existing.Group
		}
		if err := r.put(Entry{TLDConfig: cfg, Group: group}, true); err != nil {
			return err
		}
	}
	return nil
}

// SetFallback installs the resolver used for unknown TLDs.
func (r *Registry) SetFallback(fallback Fallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = fallback
}

// Lookup returns the configuration for tld. Registry entries win over the
// fallback resolver.
func (r *Registry) Lookup(tld string) (core.TLDConfig, bool) {
	if r == nil {
		return core.TLDConfig{}, false
	}
	if entry, ok := r.entry(tld); ok {
		return entry.TLDConfig, true
	}

	r.mu.RLock()
	fallback := r.fallback
	r.mu.RUnlock()
	if fallback == nil {
		return core.TLDConfig{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), fallbackTimeout)
	defer cancel()
	return fallback.Resolve(ctx, normalize(tld))
}

// TLDs returns the registered TLDs in sorted order.
func (r *Registry) TLDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for tld := range r.entries {
		out = append(out, tld)
	}
	sort.Strings(out)
	return out
}

// Entries returns the registered entries sorted by TLD, optionally limited
// to the given TLDs.
func (r *Registry) Entries(only ...string) []Entry {
	filter := make(map[string]struct{}, len(only))
	for _, tld := range only {
		filter[normalize(tld)] = struct{}{}
	}

	tlds := r.TLDs()
	out := make([]Entry, 0, len(tlds))
	for _, tld := range tlds {
		if len(filter) > 0 {
			if _, ok := filter[tld]; !ok {
				continue
			}
		}
		if entry, ok := r.entry(tld); ok {
			out = append(out, entry)
		}
	}
	return out
}

// Validate reports every entry that violates the endpoint rules.
func (r *Registry) Validate(only ...string) []error {
	var errs []error
	for _, entry := range r.Entries(only...) {
		if err := entry.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tld %s: %w", entry.TLD, err))
		}
	}
	return errs
}

func (r *Registry) entry(tld string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[normalize(tld)]
	return entry, ok
}

func (r *Registry) put(entry Entry, replace bool) error {
	key := normalize(entry.TLD)
	if key == "" {
		return fmt.Errorf("tld entry missing tld")
	}
	entry.TLD = key
	entry.RDAPEndpoint = trimDomainSuffix(entry.RDAPEndpoint)
	entry.SecondaryRDAPEndpoint = trimDomainSuffix(entry.SecondaryRDAPEndpoint)
	entry.WhoisServer = strings.TrimSpace(entry.WhoisServer)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; exists && !replace {
		return fmt.Errorf("duplicate tld entry: %s", key)
	}
	r.entries[key] = entry
	return nil
}

func decode(data []byte) ([]Entry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode tld registry: %w", err)
	}
	return doc.TLDs, nil
}

func normalize(tld string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tld), "."))
}

// trimDomainSuffix stores endpoints as bases so the client can append
// /domain/<name> uniformly.
func trimDomainSuffix(endpoint string) string {
	value := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	return strings.TrimSuffix(value, "/domain")
}
