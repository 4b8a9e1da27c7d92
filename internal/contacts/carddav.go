// Package contacts resolves recipient names to email addresses through
// a CardDAV address book.
package contacts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-vcard"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/carddav"

	"github.com/phantomtech/mirage/internal/httpkit"
)

// Contact is a resolved address book entry.
type Contact struct {
	Name   string   `json:"name"`
	Emails []string `json:"emails"`
}

// Client wraps a CardDAV connection.
type Client struct {
	dav    *carddav.Client
	logger *slog.Logger
}

// NewClient connects to a CardDAV endpoint with basic auth.
func NewClient(endpoint, username, password string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := webdav.HTTPClientWithBasicAuth(
		httpkit.NewClient(httpkit.WithTimeout(30*time.Second)),
		username, password,
	)
	dav, err := carddav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("carddav client: %w", err)
	}

	return &Client{dav: dav, logger: logger}, nil
}

// Search looks up contacts whose full name contains the query. The
// server is asked for a name-property match; results are re-filtered
// locally for servers that return everything.
func (c *Client) Search(ctx context.Context, query string) ([]Contact, error) {
	principal, err := c.dav.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := c.dav.FindAddressBookHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find address book home set: %w", err)
	}
	books, err := c.dav.FindAddressBooks(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find address books: %w", err)
	}

	req := &carddav.AddressBookQuery{
		DataRequest: carddav.AddressDataRequest{
			Props: []string{vcard.FieldFormattedName, vcard.FieldEmail},
		},
		PropFilters: []carddav.PropFilter{{
			Name: vcard.FieldFormattedName,
			TextMatches: []carddav.TextMatch{{
				Text:      query,
				MatchType: carddav.MatchContains,
			}},
		}},
	}

	var cards []vcard.Card
	for _, book := range books {
		objs, err := c.dav.QueryAddressBook(ctx, book.Path, req)
		if err != nil {
			c.logger.Warn("address book query failed", "book", book.Path, "error", err)
			continue
		}
		for _, obj := range objs {
			cards = append(cards, obj.Card)
		}
	}

	return MatchCards(cards, query), nil
}

// MatchCards converts vCards to contacts, keeping only those whose name
// contains the query (case-insensitive) and that carry at least one
// email address.
func MatchCards(cards []vcard.Card, query string) []Contact {
	query = strings.ToLower(strings.TrimSpace(query))

	var out []Contact
	for _, card := range cards {
		name := card.PreferredValue(vcard.FieldFormattedName)
		if name == "" {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(name), query) {
			continue
		}
		emails := card.Values(vcard.FieldEmail)
		if len(emails) == 0 {
			continue
		}
		out = append(out, Contact{Name: name, Emails: emails})
	}
	return out
}

// ResolveEmail returns the single email address for a recipient name.
// Ambiguous or missing matches return descriptive errors so the model
// can relay them to the user.
func (c *Client) ResolveEmail(ctx context.Context, name string) (string, error) {
	matches, err := c.Search(ctx, name)
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("通讯录中找不到联系人 %q", name)
	case 1:
		return matches[0].Emails[0], nil
	default:
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, m.Name)
		}
		return "", fmt.Errorf("联系人 %q 有多个匹配：%s，请说明具体是哪一位", name, strings.Join(names, "、"))
	}
}
