package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/phantomtech/mirage/internal/email"
)

func (r *Registry) registerEmail() {
	if r.deps.Email == nil {
		return
	}

	r.Register(&Tool{
		Name:        "search_email",
		Description: "在用户邮箱中搜索邮件，返回匹配的邮件列表。仅在用户明确要求查邮件时使用。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "搜索关键词，匹配邮件内容",
				},
				"from": map[string]any{
					"type":        "string",
					"description": "按发件人地址或姓名过滤",
				},
				"since": map[string]any{
					"type":        "string",
					"description": "起始日期，格式 'YYYY-MM-DD'",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "最多返回的邮件数量，默认 10",
				},
			},
		},
		Handler: r.handleSearchEmail,
	})

	r.Register(&Tool{
		Name:        "read_email",
		Description: "按 UID 读取一封邮件的完整内容。UID 来自 search_email 的结果。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"uid": map[string]any{
					"type":        "integer",
					"description": "邮件的 UID",
				},
			},
			"required": []string{"uid"},
		},
		Handler: r.handleReadEmail,
	})

	if r.deps.EmailCfg.AllowSending {
		r.Register(&Tool{
			Name:        "send_email",
			Description: "以用户的名义发送邮件。收件人写联系人姓名即可，系统会在通讯录中解析出邮箱地址。仅在用户明确要求发邮件时使用，发送前向用户确认内容。",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"to": map[string]any{
						"type":        "string",
						"description": "收件人姓名或邮箱地址",
					},
					"subject": map[string]any{
						"type":        "string",
						"description": "邮件主题",
					},
					"body": map[string]any{
						"type":        "string",
						"description": "邮件正文，Markdown 格式",
					},
				},
				"required": []string{"to", "subject", "body"},
			},
			Handler: r.handleSendEmail,
		})
	}
}

func (r *Registry) handleSearchEmail(ctx context.Context, args map[string]any) (string, error) {
	opts := email.SearchOptions{}
	opts.Query, _ = args["query"].(string)
	opts.From, _ = args["from"].(string)
	if limit, ok := args["limit"].(float64); ok && limit > 0 {
		opts.Limit = int(limit)
	}
	if since, _ := args["since"].(string); since != "" {
		t, err := time.ParseInLocation("2006-01-02", since, time.Local)
		if err != nil {
			return "", fmt.Errorf("since 必须是 'YYYY-MM-DD' 格式，收到 %q", since)
		}
		opts.Since = t
	}

	envelopes, err := r.deps.Email.SearchMessages(ctx, opts)
	if err != nil {
		return "", fmt.Errorf("search_email: %w", err)
	}
	return email.FormatEnvelopes(envelopes), nil
}

func (r *Registry) handleReadEmail(ctx context.Context, args map[string]any) (string, error) {
	uid, ok := args["uid"].(float64)
	if !ok || uid <= 0 {
		return "", fmt.Errorf("read_email: uid is required")
	}

	msg, err := r.deps.Email.ReadMessage(ctx, "", uint32(uid))
	if err != nil {
		return "", fmt.Errorf("read_email: %w", err)
	}
	return email.FormatMessage(msg), nil
}

func (r *Registry) handleSendEmail(ctx context.Context, args map[string]any) (string, error) {
	to, _ := args["to"].(string)
	subject, _ := args["subject"].(string)
	body, _ := args["body"].(string)
	if to == "" || subject == "" || body == "" {
		return "", fmt.Errorf("send_email: to、subject、body 均为必填")
	}

	addr, err := r.resolveRecipient(ctx, to)
	if err != nil {
		return "", err
	}

	if err := email.Send(ctx, r.deps.EmailCfg, []string{addr}, nil, subject, body); err != nil {
		return "", fmt.Errorf("send_email: %w", err)
	}

	return fmt.Sprintf("✅ 邮件已发送给 %s。", addr), nil
}

// resolveRecipient turns a contact name into an address via CardDAV.
// Strings that already look like addresses pass through unchanged.
func (r *Registry) resolveRecipient(ctx context.Context, to string) (string, error) {
	if looksLikeAddress(to) {
		return to, nil
	}
	if r.deps.Contacts == nil {
		return "", fmt.Errorf("通讯录未配置，请直接提供邮箱地址")
	}
	return r.deps.Contacts.ResolveEmail(ctx, to)
}

func looksLikeAddress(s string) bool {
	for i := 1; i < len(s)-1; i++ {
		if s[i] == '@' {
			return true
		}
	}
	return false
}
