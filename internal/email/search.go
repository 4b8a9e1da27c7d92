package email

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// SearchMessages searches for messages matching the given criteria.
// Results are returned newest-first, limited to opts.Limit messages.
func (c *Client) SearchMessages(ctx context.Context, opts SearchOptions) ([]Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	if _, err := c.selectFolder(opts.Folder); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{}
	if opts.Query != "" {
		criteria.Text = append(criteria.Text, opts.Query)
	}
	if opts.From != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{
			Key:   "From",
			Value: opts.From,
		})
	}
	if !opts.Since.IsZero() {
		criteria.Since = opts.Since
	}
	if !opts.Before.IsZero() {
		criteria.Before = opts.Before
	}

	searchData, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search mailbox: %w", err)
	}

	allUIDs := searchData.AllUIDs()
	if len(allUIDs) == 0 {
		return nil, nil
	}

	// Take the most recent N UIDs.
	start := 0
	if len(allUIDs) > limit {
		start = len(allUIDs) - limit
	}

	uidSet := imap.UIDSet{}
	for _, uid := range allUIDs[start:] {
		uidSet.AddNum(uid)
	}

	return c.fetchEnvelopes(uidSet)
}

// fetchEnvelopes fetches envelope data for the given UIDs and returns
// them newest-first. Caller must hold c.mu and have a selected folder.
func (c *Client) fetchEnvelopes(uidSet imap.UIDSet) ([]Envelope, error) {
	fetchOpts := &imap.FetchOptions{
		UID:        true,
		Envelope:   true,
		RFC822Size: true,
	}

	fetchCmd := c.client.Fetch(uidSet, fetchOpts)

	var envelopes []Envelope
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		env, err := parseEnvelopeData(msg)
		if err != nil {
			c.logger.Debug("skipping message", "error", err)
			continue
		}
		envelopes = append(envelopes, env)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch envelopes: %w", err)
	}

	// Sort newest-first by UID (descending).
	for i, j := 0, len(envelopes)-1; i < j; i, j = i+1, j-1 {
		envelopes[i], envelopes[j] = envelopes[j], envelopes[i]
	}

	return envelopes, nil
}

// parseEnvelopeData extracts an Envelope from IMAP fetch response items.
func parseEnvelopeData(msg *imapclient.FetchMessageData) (Envelope, error) {
	var env Envelope

	for {
		item := msg.Next()
		if item == nil {
			break
		}

		switch data := item.(type) {
		case imapclient.FetchItemDataUID:
			env.UID = uint32(data.UID)
		case imapclient.FetchItemDataRFC822Size:
			env.Size = uint32(data.Size)
		case imapclient.FetchItemDataEnvelope:
			if data.Envelope != nil {
				env.Date = data.Envelope.Date
				env.Subject = data.Envelope.Subject
				if len(data.Envelope.From) > 0 {
					env.From = formatAddress(data.Envelope.From[0])
				}
				for _, addr := range data.Envelope.To {
					env.To = append(env.To, formatAddress(addr))
				}
			}
		}
	}

	if env.UID == 0 {
		return env, fmt.Errorf("message missing UID")
	}

	return env, nil
}
