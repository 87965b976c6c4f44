// Package validator normalizes raw domain input into canonical form.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"

	"github.com/namelens/domaincheck/internal/core"
)

const (
	maxLabelLength   = 63
	maxDomainLength  = 253
	forbiddenSymbols = "!@#$%^&*()+=[]{}|\\:;\"'<>,?/`~"
)

// Validator validates domains against an allowed TLD set. An empty set
// accepts every syntactically valid TLD.
type Validator struct {
	allowed map[string]struct{}
	profile *idna.Profile
}

// New returns a validator restricted to the given TLDs.
func New(allowed []string) *Validator {
	set := make(map[string]struct{}, len(allowed))
	for _, tld := range allowed {
		value := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tld), "."))
		if value != "" {
			set[value] = struct{}{}
		}
	}
	return &Validator{allowed: set, profile: idna.Lookup}
}

// AllowedTLDs returns the configured TLDs in sorted order.
func (v *Validator) AllowedTLDs() []string {
	out := make([]string, 0, len(v.allowed))
	for tld := range v.allowed {
		out = append(out, tld)
	}
	sort.Strings(out)
	return out
}

// IsAllowedTLD reports whether tld passes the allowed list.
func (v *Validator) IsAllowedTLD(tld string) bool {
	if v == nil || len(v.allowed) == 0 {
		return true
	}
	_, ok := v.allowed[strings.ToLower(tld)]
	return ok
}

// Validate checks raw input and returns its canonical form.
func (v *Validator) Validate(raw string) core.ValidationResult {
	domain := strings.TrimSpace(raw)
	if domain == "" {
		return invalid(core.ValidationEmptyInput, "Domain input is empty", map[string]string{"raw_input": raw})
	}

	if found := forbiddenChars(domain); len(found) > 0 {
		return invalid(core.ValidationForbiddenChars, "Domain contains forbidden characters", map[string]string{
			"raw_input":       raw,
			"forbidden_chars": strings.Join(found, ""),
		})
	}

	canonical, err := v.Canonicalize(domain)
	if err != nil {
		return invalid(core.ValidationIDNA, fmt.Sprintf("IDNA encoding failed: %v", err), map[string]string{
			"raw_input": raw,
		})
	}

	idx := strings.LastIndex(canonical, ".")
	if idx <= 0 || idx == len(canonical)-1 {
		return invalid(core.ValidationTLDExtractionFailed, "Could not extract TLD from domain", map[string]string{
			"raw_input": raw,
			"canonical": canonical,
		})
	}
	tld := canonical[idx+1:]

	if msg := checkFormat(canonical); msg != "" {
		return invalid(core.ValidationInvalidFormat, msg, map[string]string{
			"raw_input": raw,
			"canonical": canonical,
		})
	}

	if !v.IsAllowedTLD(tld) {
		return invalid(core.ValidationInvalidTLD, fmt.Sprintf("TLD '%s' is not in the configured allowed list", tld), map[string]string{
			"raw_input": raw,
			"tld":       tld,
		})
	}

	return core.ValidationResult{Valid: true, Domain: canonical, TLD: tld}
}

// Canonicalize lowercases the domain, drops a trailing dot and applies
// IDNA (UTS #46) to non-ASCII input.
func (v *Validator) Canonicalize(domain string) (string, error) {
	value := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if isASCII(value) {
		return value, nil
	}
	profile := idna.Lookup
	if v != nil && v.profile != nil {
		profile = v.profile
	}
	encoded, err := profile.ToASCII(value)
	if err != nil {
		return "", err
	}
	return strings.ToLower(encoded), nil
}

func checkFormat(domain string) string {
	if len(domain) > maxDomainLength {
		return fmt.Sprintf("Domain exceeds %d characters", maxDomainLength)
	}
	for _, label := range strings.Split(domain, ".") {
		switch {
		case label == "":
			return "Domain contains an empty label"
		case len(label) > maxLabelLength:
			return fmt.Sprintf("Label '%s' exceeds %d characters", label, maxLabelLength)
		case strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-"):
			return fmt.Sprintf("Label '%s' starts or ends with a hyphen", label)
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '-' {
				return fmt.Sprintf("Label '%s' contains invalid character %q", label, r)
			}
		}
	}
	return ""
}

func forbiddenChars(value string) []string {
	var found []string
	seen := make(map[rune]bool)
	for _, r := range value {
		if r == utf8.RuneError || r < 0x20 || r == 0x7f || isSpace(r) || strings.ContainsRune(forbiddenSymbols, r) {
			if !seen[r] {
				seen[r] = true
				found = append(found, string(r))
			}
		}
	}
	return found
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\v', '\f', '\r', 0x85, 0xa0:
		return true
	}
	return false
}

func isASCII(value string) bool {
	for i := 0; i < len(value); i++ {
		if value[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func invalid(code core.ValidationErrorCode, message string, details map[string]string) core.ValidationResult {
	return core.ValidationResult{Error: &core.ValidationError{Code: code, Message: message, Details: details}}
}
