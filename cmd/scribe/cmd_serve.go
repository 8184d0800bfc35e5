package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/scribehq/scribe/src/conversation"
	"github.com/scribehq/scribe/src/engine"
	"github.com/scribehq/scribe/src/llm"
	"github.com/scribehq/scribe/src/server"
	"github.com/scribehq/scribe/src/toolkit"
	"github.com/scribehq/scribe/src/usage"
	"github.com/scribehq/scribe/src/vault"
)

// ServeCmd runs the websocket server.
type ServeCmd struct {
	ListenAddr string `help:"Override the listen address"`
	Token      string `help:"Override the shared connection secret"`
	NoTools    bool   `help:"Disable the note tools"`
}

func (s *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	if s.ListenAddr != "" {
		cfg.Server.ListenAddr = s.ListenAddr
	}
	if s.Token != "" {
		cfg.Server.Token = s.Token
	}

	logger := newLogger(cfg.Log)

	store := conversation.NewStore(conversation.StoreConfig{
		MaxConversations: cfg.Store.MaxConversations,
		MaxHistoryLength: cfg.Store.MaxHistory,
		Logger:           logger,
	})

	var recorder engine.UsageRecorder
	if cfg.Usage.DatabasePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Usage.DatabasePath), 0o755); err != nil {
			return err
		}
		ledger, err := usage.Open(cfg.Usage.DatabasePath)
		if err != nil {
			return err
		}
		defer ledger.Close()
		recorder = ledger
	}

	var toolbox *toolkit.Toolbox
	if !s.NoTools && cfg.Vault.Path != "" {
		if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
			return err
		}
		toolbox = toolkit.NewToolbox(logger)
		v := vault.New(afero.NewBasePathFs(afero.NewOsFs(), cfg.Vault.Path), logger)
		if err := v.RegisterAll(toolbox); err != nil {
			return err
		}
		logger.Info("vault tools enabled", "path", cfg.Vault.Path)
	}

	client := llm.NewOpenRouterClient(llm.Config{
		BaseURL: cfg.API.BaseURL,
		APIKey:  cfg.API.APIKey,
		Model:   cfg.API.Model,
		Logger:  logger,
	})

	eng := engine.New(engine.Config{
		Store:         store,
		Client:        client,
		Toolbox:       toolbox,
		SystemPrompt:  cfg.Engine.SystemPrompt,
		MaxToolRounds: cfg.Engine.MaxToolRounds,
		Recorder:      recorder,
		Logger:        logger,
	})

	srv := server.New(server.Config{
		Engine:            eng,
		Token:             cfg.Server.Token,
		MaxProtocolErrors: cfg.Server.MaxProtocolErrors,
		SendBuffer:        cfg.Server.SendBuffer,
		Logger:            logger,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: srv,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Server.ListenAddr, "model", cfg.API.Model)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
