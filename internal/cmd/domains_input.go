package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// readDomainsFile reads one domain per line. Blank lines and lines starting
// with # are skipped; "-" reads stdin.
func readDomainsFile(path string) ([]string, error) {
	var reader io.Reader
	if path == "-" {
		reader = os.Stdin
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close() // nolint:errcheck
		reader = file
	}
	return parseDomains(reader)
}

func parseDomains(r io.Reader) ([]string, error) {
	seen := make(map[string]struct{})
	domains := make([]string, 0)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		// Allow trailing comments: "example.de  # client project"
		if i := strings.Index(raw, "#"); i > 0 {
			raw = strings.TrimSpace(raw[:i])
		}
		key := strings.ToLower(raw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		domains = append(domains, raw)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(domains) == 0 {
		return nil, fmt.Errorf("no domains found")
	}
	return domains, nil
}
