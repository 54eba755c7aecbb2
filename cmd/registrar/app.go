package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/registrar-ai/registrar/internal/agent"
	"github.com/registrar-ai/registrar/internal/college"
	"github.com/registrar-ai/registrar/internal/config"
	"github.com/registrar-ai/registrar/internal/conversation"
	"github.com/registrar-ai/registrar/internal/llm"
	"github.com/registrar-ai/registrar/internal/roles"
	"github.com/registrar-ai/registrar/internal/tools"
	"github.com/registrar-ai/registrar/internal/usage"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// app is the wired set of components every command needs.
type app struct {
	db       *sql.DB
	college  *college.Store
	resolver *roles.Resolver
	runs     *agent.RunStore
	usage    *usage.Store
	llm      llm.Client
	loop     *agent.Loop
}

// newApp opens the database and builds the dispatch loop. A registry
// or capability table that fails validation is fatal.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	dbPath := filepath.Join(cfg.DataDir, "registrar.db")
	store, err := college.Open(dbPath)
	if err != nil {
		return nil, err
	}
	db := store.DB()

	a := &app{db: db, college: store}
	ok := false
	defer func() {
		if !ok {
			db.Close()
		}
	}()

	reg := tools.NewRegistry(logger)
	if err := reg.RegisterCollegeTools(store); err != nil {
		logger.Error("tool registration failed", "error", err)
		return nil, fmt.Errorf("register tools: %w", err)
	}
	reg.Freeze()

	a.resolver, err = roles.NewResolver(reg, logger)
	if err != nil {
		logger.Error("capability table invalid", "error", err)
		return nil, fmt.Errorf("capability tables: %w", err)
	}

	convStore, err := conversation.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	a.runs, err = agent.NewRunStore(db)
	if err != nil {
		return nil, err
	}
	a.usage, err = usage.NewStore(db)
	if err != nil {
		return nil, err
	}

	a.llm = createLLMClient(cfg, logger)
	a.loop = agent.NewLoop(logger, a.llm, a.resolver, conversation.NewManager(convStore, logger), agent.ConfigFrom(cfg))
	a.loop.SetRunStore(a.runs)
	a.loop.SetUsageStore(a.usage, cfg.ProviderFor(cfg.Models.Default), cfg.Pricing)

	logger.Info("stores ready",
		"db", dbPath,
		"tools", len(reg.AllToolNames()))
	ok = true
	return a, nil
}

// Close releases the database.
func (a *app) Close() error {
	return a.db.Close()
}

// lookupUser resolves a user by id or email and returns the id and the
// role to act as. roleOverride replaces the stored role; with an
// override, an id unknown to the college store is accepted as is.
func (a *app) lookupUser(ctx context.Context, key, roleOverride string) (string, string, error) {
	rec, err := a.college.Resolve(ctx, college.Users, key)
	switch {
	case err == nil:
	case errors.Is(err, college.ErrNotFound) && roleOverride != "":
		return key, roleOverride, nil
	default:
		return "", "", fmt.Errorf("user %s: %w", key, err)
	}
	role := rec.String("role")
	if roleOverride != "" {
		role = roleOverride
	}
	return rec.ID(), role, nil
}

func agentRequest(userID, role, threadID, message string) agent.Request {
	return agent.Request{
		Role:     role,
		CallerID: userID,
		ThreadID: threadID,
		Message:  message,
	}
}

// createLLMClient builds a multi-provider client. Models not mapped in
// config fall through to Ollama.
func createLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	ollamaClient := llm.NewOllamaClient(cfg.Models.OllamaURL, logger)
	multi := llm.NewMultiClient(ollamaClient)
	multi.AddProvider("ollama", ollamaClient)

	if cfg.Anthropic.APIKey != "" {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger))
		logger.Debug("Anthropic provider configured")
	}
	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, cfg.ProviderFor(m.Name))
	}

	logger.Info("LLM client initialized",
		"default_model", cfg.Models.Default,
		"default_provider", cfg.ProviderFor(cfg.Models.Default))
	return multi
}
