// Package selftest validates configuration and checks registry endpoint
// connectivity
// before checks are run.
package selftest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/namelens/domaincheck/internal/config"
	"github.com/namelens/domaincheck/internal/core"
	"github.com/namelens/domaincheck/internal/core/checker"
	"github.com/namelens/domaincheck/internal/i18n"
	"github.com/namelens/domaincheck/internal/metrics"
)

// Endpoint kinds.
const (
	KindPrimaryRDAP   = "rdap_primary"
	KindSecondaryRDAP = "rdap_secondary"
	KindWhois         = "whois"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultConcurrency = 8
	defaultWhoisPort   = "43"
)

// EndpointResult is the outcome of one connectivity check.
type EndpointResult struct {
	Endpoint       string  `json:"endpoint"`
	TLD            string  `json:"tld"`
	Kind           string  `json:"kind"`
	Success        bool    `json:"success"`
	ResponseTimeMS float64 `json:"response_time_ms"`
	HTTPStatusCode int     `json:"http_status_code,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// ConfigValidation lists configuration problems. Errors fail the self-test;
// warnings do not.
type ConfigValidation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Report is the complete self-test outcome.
type Report struct {
	Success         bool             `json:"success"`
	Config          ConfigValidation `json:"config_validation"`
	Endpoints       []EndpointResult `json:"endpoint_results"`
	TotalDurationMS float64          `json:"total_duration_ms"`
}

// Failed returns the endpoint checks that did not succeed.
func (r Report) Failed() []EndpointResult {
	var out []EndpointResult
	for _, p := range r.Endpoints {
		if !p.Success {
			out = append(out, p)
		}
	}
	return out
}

// Runner performs the self-test.
type Runner struct {
	Config *config.Config
	// TLDs are the resolved registry configurations to check.
	TLDs       []core.TLDConfig
	HTTPClient *http.Client
	Dialer     func(ctx context.Context, network, addr string) (net.Conn, error)
	Timeout    time.Duration
	// Concurrency bounds simultaneous endpoint checks.
	Concurrency int
	// WhoisPort overrides port 43; tests only.
	WhoisPort string
	Logger    *logging.Logger
	// SkipConnectivity runs only configuration validation.
	SkipConnectivity bool
}

// Run validates the configuration and checks every endpoint.
func (r *Runner) Run(ctx context.Context) Report {
	start := time.Now()
	report := Report{Config: r.ValidateConfig()}
	if !r.SkipConnectivity {
		report.Endpoints = r.checkEndpoints(ctx)
	}
	report.Success = report.Config.Valid && len(report.Failed()) == 0
	report.TotalDurationMS = elapsedMS(start)

	if r.Logger != nil {
		r.Logger.Info("Self-test finished",
			zap.Bool("success", report.Success),
			zap.Int("config_errors", len(report.Config.Errors)),
			zap.Int("endpoints", len(report.Endpoints)),
			zap.Int("failed_endpoints", len(report.Failed())),
			zap.Float64("duration_ms", report.TotalDurationMS))
	}
	return report
}

// ValidateConfig checks the configuration and the resolved TLDs.
func (r *Runner) ValidateConfig() ConfigValidation {
	var out ConfigValidation
	if r.Config != nil {
		if err := r.Config.Validate(); err != nil {
			for _, line := range strings.Split(err.Error(), "\n") {
				if line = strings.TrimSpace(line); line != "" {
					out.Errors = append(out.Errors, line)
				}
			}
		}
		if r.Config.RateLimitConfig().Global == nil {
			out.Warnings = append(out.Warnings, "No global rate limit configured")
		}
		if r.Config.Retry.MaxRetries < 1 {
			out.Warnings = append(out.Warnings, "max_retries is less than 1 - no retries will be performed")
		}
	}

	if len(r.TLDs) == 0 {
		out.Errors = append(out.Errors, "No TLDs configured")
	}
	for _, tc := range r.TLDs {
		if err := tc.Validate(); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("TLD '%s': %v", tc.TLD, err))
			continue
		}
		if strings.TrimSpace(tc.SecondaryRDAPEndpoint) == "" {
			out.Warnings = append(out.Warnings, fmt.Sprintf("TLD '%s': No secondary RDAP endpoint configured", tc.TLD))
		}
		if tc.WhoisEnabled && tc.WhoisServer == "" && checker.DefaultWhoisServers[tc.TLD] == "" {
			out.Errors = append(out.Errors, fmt.Sprintf("TLD '%s': WHOIS enabled but no server configured", tc.TLD))
		}
	}

	out.Valid = len(out.Errors) == 0
	return out
}

type endpoint struct {
	tld, kind, location string
}

func (r *Runner) targets() []endpoint {
	var out []endpoint
	for _, tc := range r.TLDs {
		if tc.RDAPEndpoint != "" {
			out = append(out, endpoint{tc.TLD, KindPrimaryRDAP, tc.RDAPEndpoint})
		}
		if tc.SecondaryRDAPEndpoint != "" {
			out = append(out, endpoint{tc.TLD, KindSecondaryRDAP, tc.SecondaryRDAPEndpoint})
		}
		if tc.WhoisEnabled {
			server := tc.WhoisServer
			if server == "" {
				server = checker.DefaultWhoisServers[tc.TLD]
			}
			if server != "" {
				out = append(out, endpoint{tc.TLD, KindWhois, server})
			}
		}
	}
	return out
}

func (r *Runner) checkEndpoints(ctx context.Context) []EndpointResult {
	targets := r.targets()
	results := make([]EndpointResult, len(targets))

	limit := r.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, p := range targets {
		g.Go(func() error {
			if p.kind == KindWhois {
				results[i] = r.checkWhois(gctx, p)
			} else {
				results[i] = r.checkRDAP(gctx, p)
			}
			res := results[i]
			metrics.RecordSelfTestEndpoint(res.Kind, res.Success, time.Duration(res.ResponseTimeMS*float64(time.Millisecond)))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) checkRDAP(ctx context.Context, p endpoint) EndpointResult {
	start := time.Now()
	res := EndpointResult{Endpoint: p.location, TLD: p.tld, Kind: p.kind}
	if err := core.RequireHTTPS(p.location); err != nil {
		res.Error = "Endpoint does not use HTTPS"
		res.ResponseTimeMS = elapsedMS(start)
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	status, err := r.request(ctx, http.MethodHead, p.location)
	if err == nil && status == http.StatusMethodNotAllowed {
		status, err = r.request(ctx, http.MethodGet, p.location)
	}
	res.ResponseTimeMS = elapsedMS(start)
	if err != nil {
		res.Error = describe(err, r.timeout())
		return res
	}
	res.HTTPStatusCode = status
	res.Success = status < http.StatusInternalServerError
	if !res.Success {
		res.Error = fmt.Sprintf("Server error: %d", status)
	}
	return res
}

func (r *Runner) request(ctx context.Context, method, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/rdap+json")
	client := r.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: r.timeout()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

func (r *Runner) checkWhois(ctx context.Context, p endpoint) EndpointResult {
	port := r.WhoisPort
	if port == "" {
		port = defaultWhoisPort
	}
	addr := net.JoinHostPort(p.location, port)
	res := EndpointResult{Endpoint: addr, TLD: p.tld, Kind: KindWhois}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	dial := r.Dialer
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	conn, err := dial(ctx, "tcp", addr)
	res.ResponseTimeMS = elapsedMS(start)
	if err != nil {
		res.Error = describe(err, r.timeout())
		return res
	}
	_ = conn.Close()
	res.Success = true
	return res
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return defaultTimeout
}

func describe(err error, timeout time.Duration) string {
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("Connection timed out after %s", timeout)
	case errors.As(err, &dnsErr):
		return "DNS resolution failed: " + dnsErr.Error()
	default:
		return err.Error()
	}
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

// Print writes a localized human-readable report.
func Print(w io.Writer, report Report, tr *i18n.Translator) {
	if tr == nil {
		tr = i18n.New(i18n.DefaultLanguage)
	}
	rule := strings.Repeat("=", 50)
	fmt.Fprintf(w, "%s\n%s\n%s\n\n", rule, tr.T("selftest.header", nil), rule)

	fmt.Fprintln(w, tr.T("selftest.config_validation", nil))
	if report.Config.Valid {
		fmt.Fprintf(w, "  ✓ %s\n", tr.T("selftest.config_valid", nil))
	} else {
		fmt.Fprintf(w, "  ✗ %s\n", tr.T("selftest.config_invalid", nil))
		for _, e := range report.Config.Errors {
			fmt.Fprintf(w, "    - %s\n", e)
		}
	}
	if len(report.Config.Warnings) > 0 {
		fmt.Fprintf(w, "\n  %s\n", tr.T("selftest.warnings", nil))
		for _, warning := range report.Config.Warnings {
			fmt.Fprintf(w, "    - %s\n", warning)
		}
	}

	if len(report.Endpoints) > 0 {
		fmt.Fprintf(w, "\n%s\n", tr.T("selftest.connectivity", nil))
		for _, p := range report.Endpoints {
			mark := "✓"
			if !p.Success {
				mark = "✗"
			}
			fmt.Fprintf(w, "  %s [%s] %s: %s (%.0fms)\n", mark, p.TLD, p.Kind, p.Endpoint, p.ResponseTimeMS)
			if p.Error != "" {
				fmt.Fprintf(w, "      %s\n", p.Error)
			}
		}
	}

	fmt.Fprintln(w)
	if report.Success {
		fmt.Fprintf(w, "✓ %s\n", tr.T("selftest.success", nil))
	} else {
		fmt.Fprintf(w, "✗ %s\n", tr.T("selftest.failed", nil))
	}
	fmt.Fprintf(w, "%s: %.0fms\n", tr.T("selftest.duration", nil), report.TotalDurationMS)
}
