package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/phantomtech/mirage/internal/config"
)

// Client is a single-account IMAP client that wraps go-imap/v2 with
// automatic reconnection and mutex-serialized access. All public
// methods are goroutine-safe.
type Client struct {
	cfg    config.EmailConfig
	logger *slog.Logger

	mu     sync.Mutex
	client *imapclient.Client
}

// NewClient creates an IMAP client for the configured account.
// The connection is established lazily on first use.
func NewClient(cfg config.EmailConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
	}
}

// connectLocked establishes the connection and authenticates.
// Caller must hold c.mu.
func (c *Client) connectLocked(ctx context.Context) error {
	// Close any existing stale connection.
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}

	host, port, err := net.SplitHostPort(c.cfg.IMAPHost)
	if err != nil {
		return fmt.Errorf("invalid imap_host %q: %w", c.cfg.IMAPHost, err)
	}

	opts := imapclient.Options{
		TLSConfig: &tls.Config{ServerName: host},
	}

	c.logger.Debug("connecting to IMAP server", "host", host, "port", port)

	// Port 143 means plaintext IMAP (local test servers); everything
	// else uses implicit TLS.
	var client *imapclient.Client
	if port == "143" {
		client, err = imapclient.DialInsecure(c.cfg.IMAPHost, &opts)
	} else {
		client, err = imapclient.DialTLS(c.cfg.IMAPHost, &opts)
	}
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", c.cfg.IMAPHost, err)
	}

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("login as %s: %w", c.cfg.Username, err)
	}

	c.client = client
	c.logger.Info("IMAP connected", "host", host, "user", c.cfg.Username)
	return nil
}

// ensureConnected checks the connection and reconnects if needed.
// Caller must hold c.mu.
func (c *Client) ensureConnected(ctx context.Context) error {
	if c.client != nil {
		// Quick liveness check via NOOP.
		if err := c.client.Noop().Wait(); err == nil {
			return nil
		}
		c.logger.Debug("IMAP connection stale, reconnecting", "host", c.cfg.IMAPHost)
	}
	return c.connectLocked(ctx)
}

// Close logs out and closes the IMAP connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil
	return err
}

// selectFolder selects a mailbox. Caller must hold c.mu.
func (c *Client) selectFolder(folder string) (*imap.SelectData, error) {
	if folder == "" {
		folder = "INBOX"
	}
	data, err := c.client.Select(folder, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}
	return data, nil
}
