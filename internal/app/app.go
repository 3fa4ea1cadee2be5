// Package app wires the client services together: configuration, the HTTP
// client, the session cache, the knowledge-store orchestrator and the chat
// coordinator. The TUI and CLI commands only ever talk to these services,
// never to the transport directly.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/codexrag/ragcli/internal/api"
	"github.com/codexrag/ragcli/internal/chat"
	"github.com/codexrag/ragcli/internal/config"
	"github.com/codexrag/ragcli/internal/knowledge"
	"github.com/codexrag/ragcli/internal/session"
)

// App holds the wired client services for one run.
type App struct {
	Config    *config.Config
	Client    *api.Client
	Sessions  *session.Cache
	Knowledge *knowledge.Orchestrator
	Chat      *chat.Coordinator
	Logger    *log.Logger

	logFile *os.File
}

// New builds the service graph from resolved configuration. Unless debug is
// set, log output is redirected to a file under the state dir so it cannot
// tear the terminal UI.
func New(cfg *config.Config) (*App, error) {
	logger := log.Default()

	var logFile *os.File
	if !cfg.Debug {
		if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir %s: %w", cfg.StateDir, err)
		}
		f, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logFile = f
		logger = log.New(f)
	} else {
		logger.SetLevel(log.DebugLevel)
	}

	client := api.NewClient(cfg.BaseURL, api.WithLogger(logger))
	cache := session.NewCache(client, logger, session.WithPageSize(cfg.SessionPageSize))
	orchestrator := knowledge.NewOrchestrator(client, logger)
	coordinator := chat.NewCoordinator(client, cache, orchestrator, logger)

	logger.Info("client initialized", "base_url", cfg.BaseURL)

	return &App{
		Config:    cfg,
		Client:    client,
		Sessions:  cache,
		Knowledge: orchestrator,
		Chat:      coordinator,
		Logger:    logger,
		logFile:   logFile,
	}, nil
}

// Bootstrap performs the initial session list load. A failure here is
// logged but not fatal: the client stays usable and the list can be
// refreshed later.
func (a *App) Bootstrap(ctx context.Context) {
	if err := a.Sessions.List(ctx); err != nil {
		a.Logger.Warn("initial session load failed", "err", err)
	}
}

// UploadFile opens a local file and runs it through the orchestrator.
func (a *App) UploadFile(ctx context.Context, path string) (*api.DocumentTask, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return a.Knowledge.Upload(ctx, filepath.Base(path), f)
}

// Close releases resources held for the run.
func (a *App) Close() error {
	if a.logFile != nil {
		return a.logFile.Close()
	}
	return nil
}
