package checker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/namelens/domaincheck/internal/core"
)

// retryAfterHeader parses Retry-After as delta-seconds or an HTTP date.
func retryAfterHeader(resp *http.Response, now time.Time) (time.Duration, map[string]any) {
	if resp == nil || resp.Header == nil {
		return 0, nil
	}

	retry := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if retry == "" {
		return 0, nil
	}

	if seconds, err := strconv.Atoi(retry); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, map[string]any{
			"retry_after":         retry,
			"retry_after_seconds": seconds,
		}
	}
	if parsed, err := http.ParseTime(retry); err == nil {
		wait := parsed.Sub(now)
		if wait < 0 {
			wait = 0
		}
		return wait, map[string]any{
			"retry_after":         retry,
			"retry_after_seconds": int(wait.Round(time.Second) / time.Second),
		}
	}

	return 0, map[string]any{"retry_after": retry}
}

// classifyTransportError maps a failed request to a source error.
func classifyTransportError(err error, timeout time.Duration) *core.SourceError {
	if isTimeout(err) {
		message := "Request timed out"
		if timeout > 0 {
			message = fmt.Sprintf("Request timed out after %s", timeout)
		}
		return &core.SourceError{Code: core.ErrorTimeout, Message: message}
	}
	if isTLSFailure(err) {
		return &core.SourceError{Code: core.ErrorTLS, Message: "TLS connection error: " + err.Error()}
	}
	return &core.SourceError{Code: core.ErrorNetwork, Message: "Connection error: " + err.Error()}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isTLSFailure(err error) bool {
	var unknownAuthority x509.UnknownAuthorityError
	var invalidCert x509.CertificateInvalidError
	var hostname x509.HostnameError
	var verification *tls.CertificateVerificationError
	var header tls.RecordHeaderError
	switch {
	case errors.As(err, &unknownAuthority),
		errors.As(err, &invalidCert),
		errors.As(err, &hostname),
		errors.As(err, &verification),
		errors.As(err, &header):
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "tls:") || strings.Contains(lower, "x509:")
}

func elapsedMS(started time.Time) float64 {
	return float64(time.Since(started).Microseconds()) / 1000
}
