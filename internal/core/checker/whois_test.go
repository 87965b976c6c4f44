package checker

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namelens/domaincheck/internal/core"
)

// startWhoisServer answers every query with reply and records the queries.
func startWhoisServer(t *testing.T, reply string) (string, <-chan string) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	queries := make(chan string, 8)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			line, _ := bufio.NewReader(conn).ReadString('\n')
			queries <- line
			_, _ = conn.Write([]byte(reply))
			_ = conn.Close()
		}
	}()

	_, port, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	return port, queries
}

func TestWhoisQuery(t *testing.T) {
	cases := []struct {
		name     string
		domain   string
		reply    string
		want     core.SourceStatus
		detected bool
	}{
		{"denic free", "example.de", "Domain: example.de\nStatus: free\n", core.StatusNotFound, true},
		{"verisign no match", "example.com", "No match for domain \"EXAMPLE.COM\".\n", core.StatusNotFound, true},
		{"registered", "example.com", "Domain Name: EXAMPLE.COM\nRegistrar: RESERVED-IANA\n", core.StatusFound, false},
		{"case sensitive signal", "example.de", "status: FREE\n", core.StatusAmbiguous, false},
		{"empty", "example.org", "   \n", core.StatusAmbiguous, false},
		{"unrecognized", "example.io", "% rate limit exceeded\n", core.StatusAmbiguous, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			port, queries := startWhoisServer(t, tc.reply)
			client := &WhoisClient{Port: port, Timeout: 2 * time.Second}

			result := client.Query(context.Background(), tc.domain, "127.0.0.1")

			require.Nil(t, result.Error)
			require.Equal(t, core.SourceWhois, result.Source)
			require.Equal(t, tc.want, result.Status)
			require.Equal(t, tc.detected, result.Details["no_match_signal_detected"])
			require.Len(t, result.Details["response_hash"], 64)
			require.Equal(t, tc.domain+"\r\n", <-queries)
		})
	}
}

func TestWhoisCustomSignals(t *testing.T) {
	client := &WhoisClient{Signals: map[string][]string{"de": {"Status: available"}}}

	status, detected := client.Interpret("Status: available", "de")
	assert.Equal(t, core.StatusNotFound, status)
	assert.True(t, detected)

	status, _ = client.Interpret("Status: free", "de")
	assert.Equal(t, core.StatusAmbiguous, status)
}

func TestWhoisConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, _ := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, listener.Close())

	client := &WhoisClient{Port: port, Timeout: time.Second}
	result := client.Query(context.Background(), "example.de", "127.0.0.1")

	require.Equal(t, core.StatusError, result.Status)
	require.Equal(t, core.ErrorNetwork, result.Error.Code)
	require.True(t, strings.HasPrefix(result.Error.Message, "Socket error"))
}

func TestWhoisTimeout(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close() // nolint:errcheck // test cleanup
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		time.Sleep(500 * time.Millisecond)
		_ = conn.Close()
	}()
	_, port, _ := net.SplitHostPort(listener.Addr().String())

	client := &WhoisClient{Port: port, Timeout: 50 * time.Millisecond}
	result := client.Query(context.Background(), "example.de", "127.0.0.1")

	require.Equal(t, core.StatusError, result.Status)
	require.Equal(t, core.ErrorTimeout, result.Error.Code)
}

func TestWhoisResolveServer(t *testing.T) {
	client := &WhoisClient{Servers: map[string]string{"de": "whois.example.test"}}

	server, err := client.ResolveServer(context.Background(), "DE")
	require.NoError(t, err)
	assert.Equal(t, "whois.example.test", server)

	server, err = client.ResolveServer(context.Background(), "com")
	require.NoError(t, err)
	assert.Equal(t, "whois.verisign-grs.com", server)

	_, err = client.ResolveServer(context.Background(), "zz")
	require.Error(t, err)

	result := client.Query(context.Background(), "example.zz", "")
	require.Equal(t, core.ErrorNetwork, result.Error.Code)
	require.Contains(t, result.Error.Message, "no WHOIS server configured for TLD: zz")
}

func TestWhoisSimulation(t *testing.T) {
	client := &WhoisClient{Simulation: true}

	free := client.Query(context.Background(), "available-shop.de", "")
	require.Equal(t, core.StatusNotFound, free.Status)

	taken := client.Query(context.Background(), "shop.de", "")
	require.Equal(t, core.StatusFound, taken.Status)
	require.Equal(t, true, taken.Details["simulated"])
}
