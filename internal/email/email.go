// Package email gives the assistant direct IMAP access for reading
// and searching the company mailbox, plus SMTP delivery for messages
// it composes. Bodies are written in markdown and converted to
// multipart/alternative MIME.
package email

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
)

// Envelope is the summary metadata for a message, suitable for search
// results handed back to the model.
type Envelope struct {
	// UID is the IMAP unique identifier within the folder.
	UID uint32

	// Date is the message's Date header.
	Date time.Time

	// From is the sender, formatted as "Name <addr>" or just the address.
	From string

	// To is the list of recipients.
	To []string

	// Subject is the message subject line.
	Subject string

	// Size is the message size in bytes.
	Size uint32
}

// Message is a fully fetched email with body content extracted from
// the MIME structure.
type Message struct {
	Envelope

	// MessageID is the Message-ID header value (without angle brackets).
	MessageID string

	// Cc is the list of CC recipients.
	Cc []string

	// TextBody is the plain-text body. Preferred over HTMLBody when
	// handing content to the model.
	TextBody string

	// HTMLBody is the raw HTML body, if the message carries one.
	HTMLBody string
}

// SearchOptions controls mailbox search behavior.
type SearchOptions struct {
	// Folder is the mailbox to search. Default: "INBOX".
	Folder string

	// Query is a free-text string matched against message content.
	Query string

	// From filters by sender address or name.
	From string

	// Since filters for messages on or after this date.
	Since time.Time

	// Before filters for messages before this date.
	Before time.Time

	// Limit is the maximum number of results. Default: 10.
	Limit int
}

// formatAddress formats an IMAP address as "Name <user@host>" or
// just "user@host" if no display name is set.
func formatAddress(addr imap.Address) string {
	email := addr.Addr()
	if addr.Name != "" {
		return fmt.Sprintf("%s <%s>", addr.Name, email)
	}
	return email
}

// FormatEnvelopes renders search results as numbered Chinese text for
// the model to summarize.
func FormatEnvelopes(envelopes []Envelope) string {
	if len(envelopes) == 0 {
		return "没有找到相关邮件。"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("找到 %d 封邮件：\n", len(envelopes)))
	for i, env := range envelopes {
		b.WriteString(fmt.Sprintf("%d. [UID %d] %s\n   发件人：%s  时间：%s\n",
			i+1, env.UID, env.Subject, env.From, env.Date.Format("2006-01-02 15:04")))
	}
	return strings.TrimSpace(b.String())
}

// FormatMessage renders a full message as text for the model.
func FormatMessage(msg *Message) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("主题：%s\n发件人：%s\n时间：%s\n",
		msg.Subject, msg.From, msg.Date.Format("2006-01-02 15:04")))
	if len(msg.To) > 0 {
		b.WriteString(fmt.Sprintf("收件人：%s\n", strings.Join(msg.To, ", ")))
	}
	body := msg.TextBody
	if body == "" && msg.HTMLBody != "" {
		body = "（此邮件只有 HTML 正文）"
	}
	if body == "" {
		body = "（正文为空）"
	}
	b.WriteString("\n" + body)
	return b.String()
}
