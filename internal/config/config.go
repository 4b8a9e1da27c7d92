// Package config handles Mirage configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/mirage/config.yaml, /etc/mirage/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mirage", "config.yaml"))
	}

	paths = append(paths, "/etc/mirage/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Mirage configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Search    SearchConfig    `yaml:"search"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	Email     EmailConfig     `yaml:"email"`
	Contacts  ContactsConfig  `yaml:"contacts"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	History   HistoryConfig   `yaml:"history"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	DataDir   string          `yaml:"data_dir"`
	BrandName string          `yaml:"brand_name"`
	LogLevel  string          `yaml:"log_level"`
}

// ListenConfig defines the web server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// GeminiConfig defines the Gemini API settings for chat, image
// generation, and embeddings.
type GeminiConfig struct {
	APIKey         string `yaml:"api_key"`
	ChatModel      string `yaml:"chat_model"`      // default gemini-2.5-pro
	ImageModel     string `yaml:"image_model"`     // default gemini-2.0-flash-exp
	EmbeddingModel string `yaml:"embedding_model"` // default gemini-embedding-001
}

// SearchConfig selects and configures the web search provider.
type SearchConfig struct {
	Provider   string `yaml:"provider"` // duckduckgo (default) or searxng
	SearXNGURL string `yaml:"searxng_url"`
}

// CalendarConfig defines the CalDAV connection for the calendar tools.
// When URL is empty the calendar tools are disabled.
type CalendarConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// EmailConfig defines IMAP (read/search) and SMTP (send) settings.
// When IMAPHost is empty the email tools are disabled.
type EmailConfig struct {
	IMAPHost     string `yaml:"imap_host"` // host:port
	SMTPHost     string `yaml:"smtp_host"` // host:port
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	From         string `yaml:"from"` // e.g. "Mirage <mirage@phantomtech.example>"
	AllowSending bool   `yaml:"allow_sending"`
}

// ContactsConfig defines the CardDAV address book used to resolve
// recipient names to email addresses.
type ContactsConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTConfig defines the optional event announcer. When disabled, agent
// events stay on the in-process bus only.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"broker_url"`
	TopicPrefix string `yaml:"topic_prefix"` // default "mirage"
	ClientID    string `yaml:"client_id"`
}

// HistoryConfig bounds the conversation context sent to the model.
type HistoryConfig struct {
	// MaxTurns is the number of recent turns kept in the model request,
	// not counting the leading system instruction. Default 50.
	MaxTurns int `yaml:"max_turns"`
}

// RetrievalConfig configures the knowledge base tool.
type RetrievalConfig struct {
	// TopK is the number of documents returned per query. Default 2.
	TopK int `yaml:"top_k"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so secrets can stay out of the file
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:    ListenConfig{Port: 8080},
		BrandName: "幻影科技员工助手",
		DataDir:   "data",
		Gemini: GeminiConfig{
			ChatModel:      "gemini-2.5-pro",
			ImageModel:     "gemini-2.0-flash-exp",
			EmbeddingModel: "gemini-embedding-001",
		},
		Search:    SearchConfig{Provider: "duckduckgo"},
		History:   HistoryConfig{MaxTurns: 50},
		Retrieval: RetrievalConfig{TopK: 2},
		MQTT:      MQTTConfig{TopicPrefix: "mirage"},
	}
}
