package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openrdap/rdap"

	"github.com/namelens/domaincheck/internal/core"
)

const (
	rdapMaxBodyBytes    = 1 << 20
	defaultRDAPTimeout  = 10 * time.Second
	defaultRDAPAccept   = "application/rdap+json, application/json"
	simulationAvailable = "available-"
)

// notFoundIndicators are the only 404 bodies accepted as "no such domain".
var notFoundIndicators = []string{
	"not found",
	"no match",
	"object does not exist",
	"domain not found",
}

// RDAPClient queries RDAP registries over HTTPS.
type RDAPClient struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	UserAgent  string
	Simulation bool
	Clock      func() time.Time
	// AllowInsecureTransport skips the https check; tests only.
	AllowInsecureTransport bool
}

// Query looks up domain at the registry base endpoint.
func (c *RDAPClient) Query(ctx context.Context, domain, endpoint string, source core.Source) core.SourceResult {
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	result := core.SourceResult{Source: source, Status: core.StatusError}

	if !c.AllowInsecureTransport {
		if err := core.RequireHTTPS(endpoint); err != nil {
			result.Error = &core.SourceError{
				Code:    core.ErrorTLS,
				Message: fmt.Sprintf("RDAP endpoint must use HTTPS: %s", endpoint),
			}
			result.ResponseTimeMS = elapsedMS(started)
			return result
		}
	}

	requestURL, err := rdapDomainURL(endpoint, domain)
	if err != nil {
		result.Error = &core.SourceError{Code: core.ErrorNetwork, Message: err.Error()}
		result.ResponseTimeMS = elapsedMS(started)
		return result
	}
	result.Server = requestURL

	if c.Simulation {
		return c.simulate(domain, result, started)
	}

	timeout := c.timeout()
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, requestURL, nil)
	if err != nil {
		result.Error = &core.SourceError{Code: core.ErrorNetwork, Message: fmt.Sprintf("build rdap request: %v", err)}
		result.ResponseTimeMS = elapsedMS(started)
		return result
	}
	req.Header.Set("Accept", defaultRDAPAccept)
	if ua := strings.TrimSpace(c.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client().Do(req)
	if err != nil {
		result.Error = classifyTransportError(err, timeout)
		result.ResponseTimeMS = elapsedMS(started)
		return result
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, rdapMaxBodyBytes))
	result.HTTPStatusCode = resp.StatusCode
	result.ResponseTimeMS = elapsedMS(started)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		if readErr != nil {
			result.Error = &core.SourceError{
				Code:       core.ErrorNetwork,
				Message:    fmt.Sprintf("Incomplete RDAP response body: %v", readErr),
				HTTPStatus: resp.StatusCode,
			}
			return result
		}
		if isNotFoundBody(body) {
			result.Status = core.StatusNotFound
			return result
		}
		result.Error = &core.SourceError{
			Code:       core.ErrorServer,
			Message:    fmt.Sprintf("Unexpected HTTP status: %d", resp.StatusCode),
			HTTPStatus: resp.StatusCode,
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		_, extra := retryAfterHeader(resp, c.now())
		result.Details = extra
		result.Error = &core.SourceError{
			Code:       core.ErrorRateLimited,
			Message:    "Rate limited by RDAP server",
			HTTPStatus: resp.StatusCode,
		}
	case resp.StatusCode >= 500:
		if resp.StatusCode == http.StatusServiceUnavailable {
			_, extra := retryAfterHeader(resp, c.now())
			result.Details = extra
		}
		result.Error = &core.SourceError{
			Code:       core.ErrorServer,
			Message:    fmt.Sprintf("RDAP server error: %d", resp.StatusCode),
			HTTPStatus: resp.StatusCode,
		}
	case resp.StatusCode == http.StatusOK:
		if readErr != nil {
			result.Error = &core.SourceError{
				Code:       core.ErrorParse,
				Message:    fmt.Sprintf("Failed to read RDAP response: %v", readErr),
				HTTPStatus: resp.StatusCode,
			}
			return result
		}
		details, parseErr := parseDomainObject(body)
		if parseErr != nil {
			parseErr.HTTPStatus = resp.StatusCode
			result.Error = parseErr
			return result
		}
		result.Status = core.StatusFound
		result.Details = details
	default:
		result.Error = &core.SourceError{
			Code:       core.ErrorServer,
			Message:    fmt.Sprintf("Unexpected HTTP status: %d", resp.StatusCode),
			HTTPStatus: resp.StatusCode,
		}
	}

	return result
}

func (c *RDAPClient) simulate(domain string, result core.SourceResult, started time.Time) core.SourceResult {
	label := domain
	if idx := strings.Index(domain, "."); idx > 0 {
		label = domain[:idx]
	}
	result.Details = map[string]any{"simulated": true}
	if strings.HasPrefix(label, simulationAvailable) {
		result.Status = core.StatusNotFound
		result.HTTPStatusCode = http.StatusNotFound
	} else {
		result.Status = core.StatusFound
		result.HTTPStatusCode = http.StatusOK
		result.Details["status"] = []string{"active"}
	}
	result.ResponseTimeMS = elapsedMS(started)
	return result
}

func (c *RDAPClient) client() *http.Client {
	if c != nil && c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.timeout()}
}

func (c *RDAPClient) timeout() time.Duration {
	if c != nil && c.Timeout > 0 {
		return c.Timeout
	}
	return defaultRDAPTimeout
}

func (c *RDAPClient) now() time.Time {
	if c != nil && c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}

// rdapDomainURL builds <base>/domain/<name>. Endpoints already ending in
// /domain are treated as bases.
func rdapDomainURL(endpoint, domain string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("invalid rdap endpoint: %w", err)
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""

	path := strings.TrimRight(parsed.Path, "/")
	path = strings.TrimSuffix(path, "/domain")
	parsed.Path = path + "/domain/" + strings.TrimSpace(domain)
	parsed.RawPath = ""
	return parsed.String(), nil
}

// NormalizeRDAPBase strips a trailing /domain/ segment from an endpoint.
func NormalizeRDAPBase(endpoint string) string {
	value := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	return strings.TrimSuffix(value, "/domain")
}

func isNotFoundBody(body []byte) bool {
	lower := strings.ToLower(string(body))
	for _, indicator := range notFoundIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

type minimalDomain struct {
	LDHName     string   `json:"ldhName"`
	UnicodeName string   `json:"unicodeName"`
	Status      []string `json:"status"`
}

// parseDomainObject accepts a 200 body only when it carries a domain name
// and a status list. Undefined fields are ignored.
func parseDomainObject(body []byte) (map[string]any, *core.SourceError) {
	var minimal minimalDomain
	if err := json.Unmarshal(body, &minimal); err != nil {
		return nil, &core.SourceError{Code: core.ErrorParse, Message: fmt.Sprintf("Failed to parse RDAP response: %v", err)}
	}
	name := minimal.LDHName
	if name == "" {
		name = minimal.UnicodeName
	}
	if name == "" || len(minimal.Status) == 0 {
		return nil, &core.SourceError{Code: core.ErrorParse, Message: "Response does not contain valid domain object"}
	}

	details := map[string]any{
		"domain_name": name,
		"status":      minimal.Status,
	}

	decoded, err := rdap.NewDecoder(body).Decode()
	if err != nil {
		return details, nil
	}
	if domain, ok := decoded.(*rdap.Domain); ok {
		for key, value := range domainExtra(domain) {
			details[key] = value
		}
	}
	return details, nil
}

func domainExtra(domain *rdap.Domain) map[string]any {
	if domain == nil {
		return nil
	}

	extra := map[string]any{}
	if registrar := findRegistrar(domain); registrar != "" {
		extra["registrar"] = registrar
	}
	if registered := findEventDate(domain.Events, "registration"); registered != "" {
		extra["registration"] = registered
	}
	if expiry := findEventDate(domain.Events, "expiration"); expiry != "" {
		extra["expiration"] = expiry
	}

	nameservers := make([]string, 0, len(domain.Nameservers))
	for _, ns := range domain.Nameservers {
		name := ns.LDHName
		if name == "" {
			name = ns.UnicodeName
		}
		if name != "" {
			nameservers = append(nameservers, strings.ToLower(name))
		}
	}
	if len(nameservers) > 0 {
		extra["nameservers"] = nameservers
	}
	return extra
}

func findRegistrar(domain *rdap.Domain) string {
	for _, entity := range domain.Entities {
		for _, role := range entity.Roles {
			if role == "registrar" && entity.VCard != nil {
				return entity.VCard.Name()
			}
		}
	}
	return ""
}

func findEventDate(events []rdap.Event, action string) string {
	for _, event := range events {
		if event.Action == action {
			return event.Date
		}
	}
	return ""
}
