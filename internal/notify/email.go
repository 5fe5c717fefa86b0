package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// EmailConfig holds transport settings for outbound email.
type EmailConfig struct {
	SMTPEnabled  bool
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPass     string
	From         string
	ResendAPIKey string
}

// EmailNotifier sends notifications over SMTP, falling back to the Resend
// API when SMTP is disabled.
type EmailNotifier struct {
	cfg EmailConfig
}

// NewEmailNotifier creates a notifier from transport configuration.
func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg}
}

// sendBackoff bounds retries for a single notification. Sends are
// best-effort; the triggering state transition has already committed.
func sendBackoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 15 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx)
}

// Send delivers the message, retrying transient transport failures.
func (n *EmailNotifier) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("no recipient address")
	}

	op := func() error {
		if n.cfg.SMTPEnabled {
			return n.sendViaSMTP(msg)
		}
		return n.sendViaResend(ctx, msg)
	}
	if err := backoff.Retry(op, sendBackoff(ctx)); err != nil {
		return fmt.Errorf("send notification to %s: %w", msg.To, err)
	}
	return nil
}

// sendViaSMTP builds a multipart/related MIME message so the issue image can
// be embedded inline via cid:issue_image.
func (n *EmailNotifier) sendViaSMTP(msg Message) error {
	addr := n.cfg.SMTPHost + ":" + n.cfg.SMTPPort

	boundary := "civic-report-boundary"
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	buf.WriteString("MIME-Version: 1.0\r\n")

	if len(msg.InlineImage) == 0 {
		buf.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
		buf.WriteString(msg.HTML)
	} else {
		fmt.Fprintf(&buf, "Content-Type: multipart/related; boundary=%q\r\n\r\n", boundary)

		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		buf.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
		buf.WriteString(msg.HTML)
		buf.WriteString("\r\n")

		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", msg.ImageType)
		buf.WriteString("Content-Transfer-Encoding: base64\r\n")
		buf.WriteString("Content-ID: <issue_image>\r\n\r\n")
		buf.WriteString(base64.StdEncoding.EncodeToString(msg.InlineImage))
		buf.WriteString("\r\n")

		fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	}

	var auth smtp.Auth
	if n.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", n.cfg.SMTPUser, n.cfg.SMTPPass, n.cfg.SMTPHost)
	}

	if err := smtp.SendMail(addr, auth, n.cfg.From, []string{msg.To}, buf.Bytes()); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// resendBaseURL is overridable in tests.
var resendBaseURL = "https://api.resend.com/emails"

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (n *EmailNotifier) sendViaResend(ctx context.Context, msg Message) error {
	body := resendRequest{
		From:    n.cfg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", resendBaseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.cfg.ResendAPIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("resend API error: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("resend API error: status %d", resp.StatusCode))
	}
	return nil
}
