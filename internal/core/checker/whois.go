package checker

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/namelens/domaincheck/internal/core"
)

const (
	whoisIanaServer     = "whois.iana.org"
	whoisPort           = "43"
	whoisMaxBytes       = 128 * 1024
	defaultWhoisTimeout = 10 * time.Second
)

// DefaultWhoisServers maps TLDs to their registry WHOIS servers.
var DefaultWhoisServers = map[string]string{
	"de":   "whois.denic.de",
	"com":  "whois.verisign-grs.com",
	"net":  "whois.verisign-grs.com",
	"org":  "whois.pir.org",
	"eu":   "whois.eu",
	"io":   "whois.nic.io",
	"co":   "whois.nic.co",
	"info": "whois.afilias.net",
	"biz":  "whois.biz",
}

// DefaultNoMatchSignals are the exact, case-sensitive strings that mark a
// WHOIS response as "no such domain". Nothing else counts.
var DefaultNoMatchSignals = map[string][]string{
	"de":   {"Status: free"},
	"com":  {"No match for domain"},
	"net":  {"No match for domain"},
	"org":  {"NOT FOUND"},
	"eu":   {"Status: AVAILABLE"},
	"io":   {"NOT FOUND"},
	"co":   {"No Data Found"},
	"info": {"NOT FOUND"},
	"biz":  {"Not found:"},
}

// registrationIndicators mark a response as describing a registered domain.
var registrationIndicators = []string{
	"Domain Name:",
	"Registrant:",
	"Creation Date:",
	"Registry Domain ID:",
	"Registrar:",
	"Name Server:",
	"DNSSEC:",
}

// WhoisClient performs single best-effort WHOIS lookups over TCP port 43.
type WhoisClient struct {
	Servers    map[string]string
	Signals    map[string][]string
	Timeout    time.Duration
	Simulation bool
	// ReferViaIANA asks whois.iana.org for TLDs without a known server.
	ReferViaIANA bool
	// Port overrides the WHOIS port; tests only.
	Port string
}

// Query looks up domain. An empty server resolves one from the TLD.
func (c *WhoisClient) Query(ctx context.Context, domain, server string) core.SourceResult {
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	tld := tldOf(domain)
	result := core.SourceResult{Source: core.SourceWhois, Status: core.StatusError}

	if c.Simulation {
		return c.simulate(domain, tld, result, started)
	}

	server = strings.TrimSpace(server)
	if server == "" {
		resolved, err := c.ResolveServer(ctx, tld)
		if err != nil {
			result.Error = &core.SourceError{Code: core.ErrorNetwork, Message: err.Error()}
			result.ResponseTimeMS = elapsedMS(started)
			return result
		}
		server = resolved
	}
	result.Server = server

	body, err := c.query(ctx, server, domain)
	result.ResponseTimeMS = elapsedMS(started)
	if err != nil {
		if isTimeout(err) {
			result.Error = &core.SourceError{
				Code:    core.ErrorTimeout,
				Message: fmt.Sprintf("WHOIS query timed out after %s", c.timeout()),
			}
		} else {
			result.Error = &core.SourceError{Code: core.ErrorNetwork, Message: "Socket error: " + err.Error()}
		}
		return result
	}

	status, detected := c.Interpret(body, tld)
	result.Status = status
	result.Details = map[string]any{
		"response_hash":            whoisHash(body),
		"no_match_signal_detected": detected,
	}
	return result
}

// Interpret classifies a raw WHOIS response using exact signals only.
func (c *WhoisClient) Interpret(body, tld string) (core.SourceStatus, bool) {
	if strings.TrimSpace(body) == "" {
		return core.StatusAmbiguous, false
	}
	for _, signal := range c.SignalsFor(tld) {
		if signal != "" && strings.Contains(body, signal) {
			return core.StatusNotFound, true
		}
	}
	for _, indicator := range registrationIndicators {
		if strings.Contains(body, indicator) {
			return core.StatusFound, false
		}
	}
	return core.StatusAmbiguous, false
}

// SignalsFor returns the configured no-match signals, falling back to the
// built-in table.
func (c *WhoisClient) SignalsFor(tld string) []string {
	tld = strings.ToLower(strings.TrimSpace(tld))
	if c != nil && c.Signals != nil {
		if signals, ok := c.Signals[tld]; ok {
			return signals
		}
	}
	return DefaultNoMatchSignals[tld]
}

// ResolveServer resolves the WHOIS server for a TLD.
func (c *WhoisClient) ResolveServer(ctx context.Context, tld string) (string, error) {
	tld = strings.ToLower(strings.TrimSpace(tld))
	if tld == "" {
		return "", errors.New("whois tld is required")
	}
	if c != nil && len(c.Servers) > 0 {
		if server := strings.TrimSpace(c.Servers[tld]); server != "" {
			return server, nil
		}
	}
	if server := DefaultWhoisServers[tld]; server != "" {
		return server, nil
	}
	if c == nil || !c.ReferViaIANA {
		return "", fmt.Errorf("no WHOIS server configured for TLD: %s", tld)
	}

	response, err := c.query(ctx, whoisIanaServer, tld)
	if err != nil {
		return "", fmt.Errorf("whois iana query failed: %w", err)
	}
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "refer:") || strings.HasPrefix(lower, "whois:") {
			parts := strings.SplitN(trimmed, ":", 2)
			if len(parts) == 2 && strings.TrimSpace(parts[1]) != "" {
				return strings.TrimSpace(parts[1]), nil
			}
		}
	}
	return "", fmt.Errorf("no WHOIS server configured for TLD: %s", tld)
}

func (c *WhoisClient) query(ctx context.Context, server, query string) (string, error) {
	server = strings.TrimSpace(server)
	if server == "" {
		return "", errors.New("whois server is required")
	}
	timeout := c.timeout()

	dialer := &net.Dialer{Timeout: timeout}
	port := whoisPort
	if c != nil && c.Port != "" {
		port = c.Port
	}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(server, port))
	if err != nil {
		return "", fmt.Errorf("whois dial failed: %w", err)
	}
	defer conn.Close() // nolint:errcheck // best-effort cleanup on network connection

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetDeadline(deadline)

	if _, err := fmt.Fprintf(conn, "%s\r\n", query); err != nil {
		return "", fmt.Errorf("whois query failed: %w", err)
	}

	reader := bufio.NewReader(conn)
	limited := &io.LimitedReader{R: reader, N: whoisMaxBytes}
	body, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("whois read failed: %w", err)
	}

	return string(body), nil
}

func (c *WhoisClient) simulate(domain, tld string, result core.SourceResult, started time.Time) core.SourceResult {
	label := domain
	if idx := strings.Index(domain, "."); idx > 0 {
		label = domain[:idx]
	}

	var body string
	status, detected := core.StatusFound, false
	if strings.HasPrefix(label, simulationAvailable) {
		signal := "NOT FOUND"
		if signals := c.SignalsFor(tld); len(signals) > 0 {
			signal = signals[0]
		}
		body = "[SIMULATED]\n" + signal + "\n"
		status, detected = core.StatusNotFound, true
	} else {
		body = "[SIMULATED]\nDomain Name: " + strings.ToUpper(domain) +
			"\nRegistrar: Example Registrar\nCreation Date: 2020-01-01\n"
	}

	result.Status = status
	result.Details = map[string]any{
		"simulated":                true,
		"response_hash":            whoisHash(body),
		"no_match_signal_detected": detected,
	}
	result.ResponseTimeMS = elapsedMS(started)
	return result
}

func (c *WhoisClient) timeout() time.Duration {
	if c != nil && c.Timeout > 0 {
		return c.Timeout
	}
	return defaultWhoisTimeout
}

func tldOf(domain string) string {
	domain = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
	if idx := strings.LastIndex(domain, "."); idx >= 0 {
		return domain[idx+1:]
	}
	return domain
}

func whoisHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
