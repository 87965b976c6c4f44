package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"mime"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/namelens/domaincheck/internal/core"
	"github.com/namelens/domaincheck/internal/i18n"
)

const (
	defaultTelegramAPI = "https://api.telegram.org"
	defaultHTTPTimeout = 10 * time.Second

	// SignatureHeader carries the hex HMAC-SHA256 of a webhook body.
	SignatureHeader = "X-Domaincheck-Signature"

	colorAvailable = 0x00FF00
	colorOther     = 0xFF0000
)

// Telegram posts HTML messages through the Bot API.
type Telegram struct {
	BotToken   string
	ChatID     string
	APIURL     string
	HTTPClient *http.Client
	Translator *i18n.Translator
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, msg Message) error {
	base := strings.TrimRight(strings.TrimSpace(t.APIURL), "/")
	if base == "" {
		base = defaultTelegramAPI
	}
	payload := map[string]any{
		"chat_id":    t.ChatID,
		"text":       t.format(msg),
		"parse_mode": "HTML",
	}
	return postJSON(ctx, t.HTTPClient, t.Name(), base+"/bot"+t.BotToken+"/sendMessage", payload, nil)
}

func (t *Telegram) format(msg Message) string {
	tr := translator(t.Translator)
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>\n\n", marker(msg.Status), html.EscapeString(title(tr, msg.Status)))
	fmt.Fprintf(&b, "%s: <code>%s</code>\n", tr.T("notification.domain_label", nil), html.EscapeString(msg.Domain))
	fmt.Fprintf(&b, "%s: %s\n", tr.T("notification.status_label", nil), tr.Status(msg.Status))
	fmt.Fprintf(&b, "%s: %s", tr.T("notification.time_label", nil), tr.FormatTime(msg.Timestamp))
	return b.String()
}

// Discord posts an embed to a webhook.
type Discord struct {
	WebhookURL string
	HTTPClient *http.Client
	Translator *i18n.Translator
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color"`
	Fields    []discordField `json:"fields"`
	Timestamp string         `json:"timestamp,omitempty"`
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, msg Message) error {
	return postJSON(ctx, d.HTTPClient, d.Name(), d.WebhookURL, map[string]any{
		"embeds": []discordEmbed{d.embed(msg)},
	}, nil)
}

func (d *Discord) embed(msg Message) discordEmbed {
	tr := translator(d.Translator)
	color := colorOther
	if msg.Status == core.AvailabilityAvailable {
		color = colorAvailable
	}
	embed := discordEmbed{
		Title: marker(msg.Status) + " " + title(tr, msg.Status),
		Color: color,
		Fields: []discordField{
			{Name: tr.T("notification.domain_label", nil), Value: msg.Domain, Inline: true},
			{Name: tr.T("notification.status_label", nil), Value: tr.Status(msg.Status), Inline: true},
			{Name: tr.T("notification.time_label", nil), Value: tr.FormatTime(msg.Timestamp), Inline: true},
		},
	}
	if !msg.Timestamp.IsZero() {
		embed.Timestamp = msg.Timestamp.UTC().Format(time.RFC3339)
	}
	return embed
}

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends a plain-text message over SMTP. The server connection is
// upgraded with STARTTLS when offered.
type Email struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	To         []string
	Translator *i18n.Translator
	// SendMail defaults to smtp.SendMail.
	SendMail SendMailFunc
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(e.To) == 0 {
		return &PermanentError{Err: fmt.Errorf("email: no recipients")}
	}

	port := e.Port
	if port == 0 {
		port = 587
	}
	var auth smtp.Auth
	if e.Username != "" {
		auth = smtp.PlainAuth("", e.Username, e.Password, e.Host)
	}
	send := e.SendMail
	if send == nil {
		send = smtp.SendMail
	}

	addr := net.JoinHostPort(e.Host, strconv.Itoa(port))
	if err := send(addr, auth, e.From, e.To, e.render(msg)); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	return nil
}

func (e *Email) render(msg Message) []byte {
	tr := translator(e.Translator)
	subjectKey := "notification.email_subject_changed"
	if msg.Status == core.AvailabilityAvailable {
		subjectKey = "notification.email_subject_available"
	}
	subject := tr.T(subjectKey, map[string]string{"domain": msg.Domain})

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.BEncoding.Encode("UTF-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&b, "%s: %s\r\n", tr.T("notification.domain_label", nil), msg.Domain)
	fmt.Fprintf(&b, "%s: %s\r\n", tr.T("notification.status_label", nil), tr.Status(msg.Status))
	fmt.Fprintf(&b, "%s: %s\r\n", tr.T("notification.time_label", nil), tr.FormatTime(msg.Timestamp))
	return []byte(b.String())
}

// Webhook posts a JSON document to an arbitrary endpoint.
type Webhook struct {
	URL        string
	Headers    map[string]string
	Secret     string
	HTTPClient *http.Client
	Translator *i18n.Translator
}

// WebhookPayload is the body sent by the webhook channel.
type WebhookPayload struct {
	Domain             string `json:"domain"`
	Status             string `json:"status"`
	Timestamp          string `json:"timestamp"`
	TimestampFormatted string `json:"timestamp_formatted"`
	Language           string `json:"language"`
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, msg Message) error {
	tr := translator(w.Translator)
	payload := WebhookPayload{
		Domain:             msg.Domain,
		Status:             msg.Status.String(),
		Timestamp:          msg.Timestamp.UTC().Format(time.RFC3339),
		TimestampFormatted: tr.FormatTime(msg.Timestamp),
		Language:           tr.Language(),
	}
	headers := make(map[string]string, len(w.Headers)+1)
	for k, v := range w.Headers {
		headers[k] = v
	}
	return postJSON(ctx, w.HTTPClient, w.Name(), w.URL, payload, func(body []byte) map[string]string {
		if w.Secret != "" {
			headers[SignatureHeader] = "sha256=" + Sign(w.Secret, body)
		}
		return headers
	})
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postJSON(ctx context.Context, client *http.Client, channel, url string, payload any, headers func(body []byte) map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("%s: encode request: %w", channel, err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("%s: build request: %w", channel, err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if headers != nil {
		for k, v := range headers(body) {
			req.Header.Set(k, v)
		}
	}

	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", channel, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &DeliveryError{Channel: channel, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func translator(tr *i18n.Translator) *i18n.Translator {
	if tr == nil {
		return i18n.New(i18n.DefaultLanguage)
	}
	return tr
}

func title(tr *i18n.Translator, status core.Availability) string {
	if status == core.AvailabilityAvailable {
		return tr.T("notification.domain_available", nil)
	}
	return tr.T("notification.domain_status_changed", nil)
}

func marker(status core.Availability) string {
	if status == core.AvailabilityAvailable {
		return "🟢"
	}
	return "🔴"
}
