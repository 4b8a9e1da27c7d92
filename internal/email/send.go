package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/phantomtech/mirage/internal/config"
)

// smtpDialTimeout is the maximum time to establish an SMTP connection.
const smtpDialTimeout = 30 * time.Second

// Send composes a message from the given fields and delivers it over
// SMTP. Connections are ephemeral; each call opens and closes its own.
func Send(ctx context.Context, cfg config.EmailConfig, to, cc []string, subject, body string) error {
	if !cfg.AllowSending {
		return fmt.Errorf("邮件发送功能未启用")
	}
	if len(to) == 0 {
		return fmt.Errorf("收件人不能为空")
	}

	from := cfg.From
	if from == "" {
		from = cfg.Username
	}

	msg, err := ComposeMessage(ComposeOptions{
		From:    from,
		To:      to,
		Cc:      cc,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return err
	}

	return sendMail(ctx, cfg, extractAddress(from), collectRecipients(to, cc), msg)
}

// sendMail connects to the SMTP server, authenticates, and delivers
// the complete RFC 5322 message. Port 587 uses STARTTLS; anything else
// uses implicit TLS.
func sendMail(ctx context.Context, cfg config.EmailConfig, from string, recipients []string, msg []byte) error {
	host, port, err := net.SplitHostPort(cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("invalid smtp_host %q: %w", cfg.SMTPHost, err)
	}
	startTLS := port == "587"

	dialTimeout := smtpDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < dialTimeout {
			dialTimeout = remaining
		}
	}
	dialer := &net.Dialer{Timeout: dialTimeout}
	tlsCfg := &tls.Config{ServerName: host}

	var client *smtp.Client
	if startTLS {
		conn, dialErr := dialer.DialContext(ctx, "tcp", cfg.SMTPHost)
		if dialErr != nil {
			return fmt.Errorf("dial SMTP %s: %w", cfg.SMTPHost, dialErr)
		}
		client, err = smtp.NewClient(conn, host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("create SMTP client on %s: %w", cfg.SMTPHost, err)
		}
	} else {
		conn, dialErr := tls.DialWithDialer(dialer, "tcp", cfg.SMTPHost, tlsCfg)
		if dialErr != nil {
			return fmt.Errorf("dial SMTPS %s: %w", cfg.SMTPHost, dialErr)
		}
		client, err = smtp.NewClient(conn, host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("create SMTP client on %s: %w", cfg.SMTPHost, err)
		}
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}

	if startTLS {
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}

	if cfg.Username != "" && cfg.Password != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close DATA: %w", err)
	}

	return client.Quit()
}

// extractAddress returns the bare email address from a string in
// "Name <addr>" or plain "addr" format.
func extractAddress(s string) string {
	if end := strings.LastIndexByte(s, '>'); end > 0 {
		if start := strings.LastIndexByte(s, '<'); start >= 0 && start < end {
			return s[start+1 : end]
		}
	}
	return s
}

// collectRecipients gathers all unique bare addresses from the To and
// Cc lists for SMTP RCPT TO commands.
func collectRecipients(to, cc []string) []string {
	seen := make(map[string]bool)
	var result []string

	for _, list := range [][]string{to, cc} {
		for _, addr := range list {
			bare := extractAddress(addr)
			if bare != "" && !seen[bare] {
				seen[bare] = true
				result = append(result, bare)
			}
		}
	}

	return result
}
