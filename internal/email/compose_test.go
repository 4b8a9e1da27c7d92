package email

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/emersion/go-message/mail"
)

func TestComposeMessageRoundTrip(t *testing.T) {
	msg, err := ComposeMessage(ComposeOptions{
		From:    "幻影助手 <mirage@phantomtech.example>",
		To:      []string{"张伟 <zhangwei@phantomtech.example>"},
		Cc:      []string{"li@phantomtech.example"},
		Subject: "季度评审会议纪要",
		Body:    "# 会议纪要\n\n请查收**附件**中的纪要。\n\n- 第一项\n- 第二项",
	})
	if err != nil {
		t.Fatalf("ComposeMessage: %v", err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(msg))
	if err != nil {
		t.Fatalf("parse composed message: %v", err)
	}

	subject, err := mr.Header.Subject()
	if err != nil {
		t.Fatalf("read subject: %v", err)
	}
	if subject != "季度评审会议纪要" {
		t.Errorf("subject = %q", subject)
	}

	from, err := mr.Header.AddressList("From")
	if err != nil || len(from) != 1 {
		t.Fatalf("from list = %v, err %v", from, err)
	}
	if from[0].Address != "mirage@phantomtech.example" {
		t.Errorf("from address = %q", from[0].Address)
	}

	if id, err := mr.Header.MessageID(); err != nil || id == "" {
		t.Errorf("expected generated Message-ID, got %q (err %v)", id, err)
	}

	var sawPlain, sawHTML bool
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next part: %v", err)
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		body, _ := io.ReadAll(part.Body)

		switch ct {
		case "text/plain":
			sawPlain = true
			if strings.Contains(string(body), "**") {
				t.Errorf("plain part still has markdown markers: %q", body)
			}
			if !strings.Contains(string(body), "会议纪要") {
				t.Errorf("plain part missing content: %q", body)
			}
		case "text/html":
			sawHTML = true
			if !strings.Contains(string(body), "<strong>附件</strong>") {
				t.Errorf("html part not rendered from markdown: %q", body)
			}
		}
	}

	if !sawPlain || !sawHTML {
		t.Errorf("expected both text/plain and text/html parts (plain=%v html=%v)", sawPlain, sawHTML)
	}
}

func TestComposeMessageBadAddress(t *testing.T) {
	_, err := ComposeMessage(ComposeOptions{
		From:    "not an address",
		To:      []string{"ok@example.com"},
		Subject: "x",
		Body:    "x",
	})
	if err == nil {
		t.Fatal("expected error for malformed from address")
	}
}

func TestMarkdownToPlain(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"**加粗**文字", "加粗文字"},
		{"# 标题\n正文", "标题\n正文"},
		{"[链接](https://example.com)", "链接 (https://example.com)"},
		{"![图](https://example.com/a.png)", "图"},
		{"`code` here", "code here"},
		{"```go\nfmt.Println()\n```", "fmt.Println()"},
	}
	for _, tc := range cases {
		if got := markdownToPlain(tc.in); got != tc.want {
			t.Errorf("markdownToPlain(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
