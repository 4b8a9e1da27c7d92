// Mirage is the 幻影科技 employee assistant.
//
// It serves a login-protected chat UI backed by the Gemini API, with
// tools for web search, the company policy knowledge base, CalDAV
// calendars, IMAP email, and illustration generation. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	mirage serve              Start the web server
//	mirage ingest <file.md>   Import a policy document into the knowledge base
//	mirage version            Print version and build information
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/phantomtech/mirage/internal/agent"
	"github.com/phantomtech/mirage/internal/artifact"
	"github.com/phantomtech/mirage/internal/auth"
	"github.com/phantomtech/mirage/internal/buildinfo"
	"github.com/phantomtech/mirage/internal/calendar"
	"github.com/phantomtech/mirage/internal/config"
	"github.com/phantomtech/mirage/internal/contacts"
	"github.com/phantomtech/mirage/internal/email"
	"github.com/phantomtech/mirage/internal/events"
	"github.com/phantomtech/mirage/internal/llm"
	"github.com/phantomtech/mirage/internal/memory"
	"github.com/phantomtech/mirage/internal/mqtt"
	"github.com/phantomtech/mirage/internal/retrieval"
	"github.com/phantomtech/mirage/internal/search"
	"github.com/phantomtech/mirage/internal/tools"
	"github.com/phantomtech/mirage/internal/web"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates immediately to [run]. This keeps os.Exit, os.Stdout, and
// os.Args out of the application logic so the full lifecycle can be
// driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the mirage command. Arguments are
// parsed by hand: the flag package relies on package-level globals,
// which makes it impossible to call run() concurrently from tests, and
// the argument surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command == "" {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
			cmdArgs = append(cmdArgs, args[i])
		}
	}

	switch command {
	case "", "serve":
		return runServe(ctx, stdout, configPath)
	case "ingest":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("usage: mirage ingest <file.md>")
		}
		return runIngest(ctx, stdout, configPath, cmdArgs[0])
	case "version":
		_, err := fmt.Fprintln(stdout, buildinfo.String())
		return err
	case "help":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s (try 'mirage help')", command)
	}
}

func printUsage(w io.Writer) error {
	_, err := fmt.Fprint(w, `Mirage - 幻影科技员工助手

Usage:
  mirage [flags] <command>

Commands:
  serve              Start the web server (default)
  ingest <file.md>   Import a policy document into the knowledge base
  version            Print version and build information

Flags:
  -config <path>     Config file (default: auto-discover)
`)
	return err
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig discovers and parses the config file.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

// openDatabase opens the single SQLite file that backs all stores.
// WAL mode keeps readers unblocked during writes; the busy timeout
// covers overlapping HTTP requests.
func openDatabase(dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dataDir, err)
	}
	path := filepath.Join(dataDir, "mirage.db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return db, nil
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Mirage",
		"version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure now that the desired level is known. The initial
	// Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "model", cfg.Gemini.ChatModel)

	if cfg.Gemini.APIKey == "" {
		return fmt.Errorf("gemini.api_key is required")
	}

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	// --- Stores ---
	users, err := auth.NewStore(db)
	if err != nil {
		return err
	}
	convs, err := memory.NewStore(db, logger)
	if err != nil {
		return err
	}
	artifacts, err := artifact.NewStore(db)
	if err != nil {
		return err
	}

	// --- Model and knowledge base ---
	gemini := llm.NewGeminiClient(cfg.Gemini.APIKey, cfg.Gemini.ChatModel, cfg.Gemini.ImageModel, logger)

	embedder, err := retrieval.NewGenAIEmbedder(ctx, cfg.Gemini.APIKey, cfg.Gemini.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	index, err := retrieval.NewIndex(db, embedder, logger)
	if err != nil {
		return err
	}
	if n, err := index.Count(); err == nil && n == 0 {
		logger.Warn("policy knowledge base is empty - run 'mirage ingest' to import documents")
	}

	// --- Web search ---
	searchMgr := search.NewManager(cfg.Search.Provider)
	searchMgr.Register(search.NewDuckDuckGo())
	if cfg.Search.SearXNGURL != "" {
		searchMgr.Register(search.NewSearXNG(cfg.Search.SearXNGURL))
	}

	// --- Optional integrations ---
	var calClient *calendar.Client
	if cfg.Calendar.URL != "" {
		calClient, err = calendar.NewClient(cfg.Calendar.URL, cfg.Calendar.Username, cfg.Calendar.Password, logger)
		if err != nil {
			return fmt.Errorf("calendar client: %w", err)
		}
		logger.Info("calendar configured", "url", cfg.Calendar.URL)
	}

	var contactsClient *contacts.Client
	if cfg.Contacts.URL != "" {
		contactsClient, err = contacts.NewClient(cfg.Contacts.URL, cfg.Contacts.Username, cfg.Contacts.Password, logger)
		if err != nil {
			return fmt.Errorf("contacts client: %w", err)
		}
		logger.Info("contacts configured", "url", cfg.Contacts.URL)
	}

	var emailClient *email.Client
	if cfg.Email.IMAPHost != "" {
		emailClient = email.NewClient(cfg.Email, logger)
		defer emailClient.Close()
		logger.Info("email configured", "imap", cfg.Email.IMAPHost, "sending", cfg.Email.AllowSending)
	}

	// --- Assembly ---
	bus := events.New()
	handoff := artifact.NewBuffer()

	registry := tools.NewRegistry(tools.Deps{
		Search:    searchMgr,
		Retrieval: index,
		Calendar:  calClient,
		Email:     emailClient,
		EmailCfg:  cfg.Email,
		Contacts:  contactsClient,
		Images:    gemini,
		Artifacts: artifacts,
		Handoff:   handoff,
		Bus:       bus,
		Logger:    logger,
	})

	runtime := agent.NewRuntime(agent.Options{
		Store:     convs,
		Artifacts: artifacts,
		Client:    gemini,
		Registry:  registry,
		Bus:       bus,
		BrandName: cfg.BrandName,
		MaxTurns:  cfg.History.MaxTurns,
		Logger:    logger,
	})

	sessions := auth.NewSessionManager(0)

	addr := net.JoinHostPort(cfg.Listen.Address, fmt.Sprintf("%d", cfg.Listen.Port))
	baseURL := "http://" + addr
	if cfg.Listen.Address == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", cfg.Listen.Port)
	}

	webServer := web.NewServer(web.Options{
		Users:     users,
		Sessions:  sessions,
		Convs:     convs,
		Artifacts: artifacts,
		Handoff:   handoff,
		Runtime:   runtime,
		Bus:       bus,
		BrandName: cfg.BrandName,
		BaseURL:   baseURL,
		Logger:    logger,
	})

	// SIGINT/SIGTERM trigger graceful shutdown.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Background workers ---
	if cfg.MQTT.Enabled {
		announcer := mqtt.New(cfg.MQTT, bus, logger)
		go func() {
			if err := announcer.Start(ctx); err != nil {
				logger.Error("mqtt announcer failed", "error", err)
			}
		}()
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			_ = announcer.Stop(stopCtx)
		}()
	}

	// Expired login sessions accumulate until swept.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := sessions.Sweep(); n > 0 {
					logger.Debug("sessions swept", "removed", n)
				}
			}
		}
	}()

	server := &http.Server{
		Addr:              addr,
		Handler:           webServer.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("web server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	return nil
}

// runIngest imports one markdown document into the policy knowledge
// base, replacing any earlier import of the same file.
func runIngest(ctx context.Context, stdout io.Writer, configPath, filePath string) error {
	logger := newLogger(stdout, slog.LevelInfo)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Gemini.APIKey == "" {
		return fmt.Errorf("gemini.api_key is required")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", filePath, err)
	}

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	embedder, err := retrieval.NewGenAIEmbedder(ctx, cfg.Gemini.APIKey, cfg.Gemini.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	index, err := retrieval.NewIndex(db, embedder, logger)
	if err != nil {
		return err
	}

	source := filepath.Base(filePath)
	n, err := index.Ingest(ctx, source, string(data))
	if err != nil {
		return fmt.Errorf("ingest %s: %w", source, err)
	}

	fmt.Fprintf(stdout, "imported %s: %d chunks\n", source, n)
	return nil
}
