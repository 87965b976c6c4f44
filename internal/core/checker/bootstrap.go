package checker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/namelens/domaincheck/internal/core"
)

// DefaultBootstrapURL is the IANA RDAP DNS bootstrap registry.
const DefaultBootstrapURL = "https://data.iana.org/rdap/dns.json"

const bootstrapMaxBytes = 4 << 20

// ErrBootstrapUnconfigured is returned when no bootstrap store is wired.
var ErrBootstrapUnconfigured = errors.New("bootstrap store is not configured")

// BootstrapStore persists the RDAP bootstrap mapping.
type BootstrapStore interface {
	ReplaceBootstrap(ctx context.Context, snap core.BootstrapSnapshot) (stored, removed int, err error)
	BootstrapInfo(ctx context.Context) (core.BootstrapInfo, error)
	GetRDAPServers(ctx context.Context, tld string) ([]string, error)
}

// BootstrapAuditor records completed bootstrap refreshes.
type BootstrapAuditor interface {
	Info(component, message string, data map[string]any)
}

// BootstrapService downloads the IANA RDAP bootstrap file and answers
// endpoint lookups for TLDs missing from the built-in registry.
type BootstrapService struct {
	Store      BootstrapStore
	Audit      BootstrapAuditor
	HTTPClient *http.Client
	BaseURL    string
	Clock      func() time.Time
}

// BootstrapDocument is the IANA RDAP DNS bootstrap format.
type BootstrapDocument struct {
	Version     string       `json:"version"`
	Publication string       `json:"publication"`
	Services    [][][]string `json:"services"`
}

// BootstrapSummary reports what an update stored.
type BootstrapSummary struct {
	TLDCount    int       `json:"tld_count"`
	Skipped     int       `json:"skipped"`
	Removed     int       `json:"removed"`
	Version     string    `json:"version"`
	Publication time.Time `json:"publication"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// BootstrapStatus reports cached bootstrap metadata.
type BootstrapStatus struct {
	TLDCount    int       `json:"tld_count"`
	Version     string    `json:"version"`
	Publication time.Time `json:"publication"`
	FetchedAt   time.Time `json:"fetched_at"`
	Source      string    `json:"source"`
}

// Update fetches the bootstrap file and replaces the cache with every TLD
// that has at least one HTTPS endpoint. Plain-HTTP endpoints are dropped and
// TLDs no longer listed stop resolving.
func (b *BootstrapService) Update(ctx context.Context) (*BootstrapSummary, error) {
	if b == nil || b.Store == nil {
		return nil, ErrBootstrapUnconfigured
	}
	if ctx == nil {
		ctx = context.Background()
	}

	source := b.source()
	doc, err := b.fetch(ctx, source)
	if err != nil {
		return nil, err
	}

	snap := core.BootstrapSnapshot{
		Version:     doc.Version,
		Publication: doc.Publication,
		Source:      source,
		FetchedAt:   b.now(),
		Servers:     make(map[string][]string),
	}
	skipped := 0
	for _, service := range doc.Services {
		if len(service) != 2 {
			continue
		}
		endpoints := httpsEndpoints(service[1])
		for _, tld := range service[0] {
			if len(endpoints) == 0 {
				skipped++
				continue
			}
			snap.Servers[tld] = append(snap.Servers[tld], endpoints...)
		}
	}

	stored, removed, err := b.Store.ReplaceBootstrap(ctx, snap)
	if err != nil {
		return nil, err
	}

	if b.Audit != nil {
		b.Audit.Info("bootstrap", "RDAP bootstrap refreshed", map[string]any{
			"source":    source,
			"version":   doc.Version,
			"tld_count": stored,
			"skipped":   skipped,
			"removed":   removed,
		})
	}

	return &BootstrapSummary{
		TLDCount:    stored,
		Skipped:     skipped,
		Removed:     removed,
		Version:     doc.Version,
		Publication: parseTime(doc.Publication),
		FetchedAt:   snap.FetchedAt,
	}, nil
}

func (b *BootstrapService) fetch(ctx context.Context, source string) (*BootstrapDocument, error) {
	client := b.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("build bootstrap request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch bootstrap data: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bootstrap request failed: status %d", resp.StatusCode)
	}

	var doc BootstrapDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, bootstrapMaxBytes)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode bootstrap data: %w", err)
	}
	return &doc, nil
}

// Status returns cached bootstrap metadata.
func (b *BootstrapService) Status(ctx context.Context) (*BootstrapStatus, error) {
	if b == nil || b.Store == nil {
		return nil, ErrBootstrapUnconfigured
	}
	if ctx == nil {
		ctx = context.Background()
	}

	info, err := b.Store.BootstrapInfo(ctx)
	if err != nil {
		return nil, err
	}
	return &BootstrapStatus{
		TLDCount:    info.TLDCount,
		Version:     info.Version,
		Publication: parseTime(info.Publication),
		FetchedAt:   info.FetchedAt,
		Source:      info.Source,
	}, nil
}

// LookupServers returns cached RDAP endpoints for the TLD.
func (b *BootstrapService) LookupServers(ctx context.Context, tld string) ([]string, error) {
	if b == nil || b.Store == nil {
		return nil, ErrBootstrapUnconfigured
	}
	return b.Store.GetRDAPServers(ctx, tld)
}

// Resolve returns a TLD configuration built from the cached bootstrap entry.
// Bootstrap-derived TLDs never enable WHOIS.
func (b *BootstrapService) Resolve(ctx context.Context, tld string) (core.TLDConfig, bool) {
	if b == nil || b.Store == nil {
		return core.TLDConfig{}, false
	}
	servers, err := b.Store.GetRDAPServers(ctx, tld)
	if err != nil {
		return core.TLDConfig{}, false
	}
	endpoints := httpsEndpoints(servers)
	if len(endpoints) == 0 {
		return core.TLDConfig{}, false
	}
	return core.TLDConfig{
		TLD:          strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tld), ".")),
		RDAPEndpoint: endpoints[0],
	}, true
}

func (b *BootstrapService) source() string {
	if b != nil {
		if value := strings.TrimSpace(b.BaseURL); value != "" {
			return value
		}
	}
	return DefaultBootstrapURL
}

func (b *BootstrapService) now() time.Time {
	if b != nil && b.Clock != nil {
		return b.Clock()
	}
	return time.Now().UTC()
}

func httpsEndpoints(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		if core.RequireHTTPS(raw) != nil {
			continue
		}
		out = append(out, NormalizeRDAPBase(raw))
	}
	return out
}

func parseTime(value string) time.Time {
	if strings.TrimSpace(value) == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
