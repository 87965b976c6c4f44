package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namelens/domaincheck/internal/config"
	"github.com/namelens/domaincheck/internal/core"
	"github.com/namelens/domaincheck/internal/core/engine"
	"github.com/namelens/domaincheck/internal/i18n"
)

var checkedAt = time.Date(2025, 12, 10, 5, 29, 0, 0, time.UTC)

type stubChannel struct {
	name  string
	errs  []error
	calls int
}

func (s *stubChannel) Name() string { return s.name }

func (s *stubChannel) Send(ctx context.Context, msg Message) error {
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	if len(s.errs) > 1 {
		s.errs = s.errs[1:]
	}
	return err
}

type auditEntry struct {
	level     string
	component string
	message   string
}

type recordingAuditor struct {
	entries []auditEntry
}

func (a *recordingAuditor) Info(component, message string, data map[string]any) {
	a.entries = append(a.entries, auditEntry{"info", component, message})
}

func (a *recordingAuditor) Error(component, message string, data map[string]any) {
	a.entries = append(a.entries, auditEntry{"error", component, message})
}

func fastRetry(maxRetries int) *engine.RetryManager {
	m := engine.NewRetryManager(core.RetryConfig{MaxRetries: maxRetries, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	m.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return m
}

func available() core.CheckResult {
	return core.CheckResult{Domain: "example.de", Status: core.AvailabilityAvailable, Confidence: core.ConfidenceHigh, Timestamp: checkedAt}
}

func TestShouldNotify(t *testing.T) {
	tests := []struct {
		name     string
		status   core.Availability
		previous *core.DomainState
		want     bool
	}{
		{"first available", core.AvailabilityAvailable, nil, true},
		{"taken to available", core.AvailabilityAvailable, &core.DomainState{LastStatus: core.AvailabilityTaken}, true},
		{"unknown to available", core.AvailabilityAvailable, &core.DomainState{LastStatus: core.AvailabilityUnknown}, true},
		{"still available", core.AvailabilityAvailable, &core.DomainState{LastStatus: core.AvailabilityAvailable}, false},
		{"taken", core.AvailabilityTaken, nil, false},
		{"available to taken", core.AvailabilityTaken, &core.DomainState{LastStatus: core.AvailabilityAvailable}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldNotify(tt.status, tt.previous))
		})
	}
}

func TestNotifySkipsWithoutTransition(t *testing.T) {
	ch := &stubChannel{name: "stub"}
	router := &Router{Channels: []Channel{ch}, Retry: fastRetry(0)}

	sent, err := router.Notify(context.Background(), available(), &core.DomainState{LastStatus: core.AvailabilityAvailable})
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Zero(t, ch.calls)
}

func TestNotifySentWhenAnyChannelSucceeds(t *testing.T) {
	failing := &stubChannel{name: "failing", errs: []error{&DeliveryError{Channel: "failing", StatusCode: 400}}}
	working := &stubChannel{name: "working"}
	auditor := &recordingAuditor{}
	router := &Router{Channels: []Channel{failing, working}, Retry: fastRetry(2), Audit: auditor}

	sent, err := router.Notify(context.Background(), available(), nil)
	require.NoError(t, err)
	assert.True(t, sent)

	results := router.LastResults()
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Equal(t, 1, results[0].Attempts, "client errors are not retried")
	assert.True(t, results[1].Success)

	require.Len(t, auditor.entries, 2)
	assert.Equal(t, "error", auditor.entries[0].level)
	assert.Equal(t, "info", auditor.entries[1].level)
}

func TestNotifyRetriesTransientFailures(t *testing.T) {
	ch := &stubChannel{name: "flaky", errs: []error{
		&DeliveryError{Channel: "flaky", StatusCode: 503},
		errors.New("connection reset"),
		nil,
	}}
	router := &Router{Channels: []Channel{ch}, Retry: fastRetry(3)}

	sent, err := router.Notify(context.Background(), available(), nil)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, 3, ch.calls)
	assert.Equal(t, 3, router.LastResults()[0].Attempts)
}

func TestNotifyReportsAllFailures(t *testing.T) {
	ch := &stubChannel{name: "down", errs: []error{&DeliveryError{Channel: "down", StatusCode: 502}}}
	router := &Router{Channels: []Channel{ch}, Retry: fastRetry(2)}

	sent, err := router.Notify(context.Background(), available(), nil)
	require.Error(t, err)
	assert.False(t, sent)
	assert.Contains(t, err.Error(), "down")
	assert.Equal(t, 3, ch.calls)
}

func TestNotifyWithoutChannels(t *testing.T) {
	sent, err := (&Router{}).Notify(context.Background(), available(), nil)
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestSimulationDoesNotSend(t *testing.T) {
	ch := &stubChannel{name: "stub", errs: []error{errors.New("must not be called")}}
	router := &Router{Channels: []Channel{ch}, Simulation: true}

	sent, err := router.Notify(context.Background(), available(), nil)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Zero(t, ch.calls)
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, retryable(&DeliveryError{StatusCode: 429}))
	assert.True(t, retryable(&DeliveryError{StatusCode: 500}))
	assert.False(t, retryable(&DeliveryError{StatusCode: 404}))
	assert.False(t, retryable(&PermanentError{Err: errors.New("bad")}))
	assert.False(t, retryable(context.Canceled))
	assert.True(t, retryable(errors.New("dial tcp: refused")))
}

func TestTelegramSendsHTMLMessage(t *testing.T) {
	var path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := &Telegram{BotToken: "TOKEN", ChatID: "42", APIURL: srv.URL, Translator: i18n.New("de")}
	require.NoError(t, ch.Send(context.Background(), Message{Domain: "example.de", Status: core.AvailabilityAvailable, Timestamp: checkedAt}))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "HTML", body["parse_mode"])
	assert.Equal(t, "🟢 <b>Domain verfügbar!</b>\n\nDomain: <code>example.de</code>\nStatus: Verfügbar\nZeit: 10.12.2025, 05:29 Uhr", body["text"])
}

func TestDiscordSendsEmbed(t *testing.T) {
	var payload struct {
		Embeds []discordEmbed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := &Discord{WebhookURL: srv.URL, Translator: i18n.New("en")}
	require.NoError(t, ch.Send(context.Background(), Message{Domain: "example.com", Status: core.AvailabilityAvailable, Timestamp: checkedAt}))

	require.Len(t, payload.Embeds, 1)
	embed := payload.Embeds[0]
	assert.Equal(t, "🟢 Domain available!", embed.Title)
	assert.Equal(t, colorAvailable, embed.Color)
	require.Len(t, embed.Fields, 3)
	assert.Equal(t, "example.com", embed.Fields[0].Value)
	assert.Equal(t, "Available", embed.Fields[1].Value)
	assert.Equal(t, "Dec 10, 2025, 05:29 AM", embed.Fields[2].Value)
}

func TestWebhookSignsBody(t *testing.T) {
	var raw []byte
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		raw, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := &Webhook{URL: srv.URL, Secret: "s3cret", Headers: map[string]string{"X-Team": "ops"}, Translator: i18n.New("en")}
	require.NoError(t, ch.Send(context.Background(), Message{Domain: "example.org", Status: core.AvailabilityAvailable, Timestamp: checkedAt}))

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "example.org", payload.Domain)
	assert.Equal(t, "available", payload.Status)
	assert.Equal(t, "2025-12-10T05:29:00Z", payload.Timestamp)
	assert.Equal(t, "en", payload.Language)
	assert.Equal(t, "ops", headers.Get("X-Team"))
	assert.Equal(t, "sha256="+Sign("s3cret", raw), headers.Get(SignatureHeader))
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := (&Webhook{URL: srv.URL}).Send(context.Background(), Message{Domain: "example.org", Timestamp: checkedAt})
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusTooManyRequests, de.StatusCode)
	assert.True(t, de.Retryable())
}

func TestEmailRendersLocalizedMessage(t *testing.T) {
	var gotAddr string
	var gotTo []string
	var gotMsg string
	ch := &Email{
		Host:       "smtp.example.net",
		Port:       2525,
		From:       "alerts@example.net",
		To:         []string{"ops@example.net"},
		Translator: i18n.New("en"),
		SendMail: func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotTo, gotMsg = addr, to, string(msg)
			return nil
		},
	}

	require.NoError(t, ch.Send(context.Background(), Message{Domain: "example.io", Status: core.AvailabilityAvailable, Timestamp: checkedAt}))
	assert.Equal(t, "smtp.example.net:2525", gotAddr)
	assert.Equal(t, []string{"ops@example.net"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Domain example.io is available!\r\n")
	assert.Contains(t, gotMsg, "Status: Available\r\n")
	assert.True(t, strings.HasSuffix(gotMsg, "Time: Dec 10, 2025, 05:29 AM\r\n"))
}

func TestFromConfigBuildsConfiguredChannels(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.NotificationsConfig{
		Discord:       config.DiscordConfig{WebhookURL: srv.URL},
		Webhook:       config.WebhookConfig{URL: srv.URL},
		Retry:         core.RetryConfig{MaxRetries: 0},
		RatePerMinute: 6000,
	}
	router := FromConfig(cfg, "de", false, srv.Client())
	assert.Equal(t, []string{"discord", "webhook"}, router.Names())

	sent, err := router.Notify(context.Background(), available(), nil)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, int32(2), hits.Load())
}
