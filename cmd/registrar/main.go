// Registrar is a role-scoped conversational gateway for a college
// management platform.
//
// It exposes an HTTP and WebSocket API where authenticated admins,
// teachers and students chat with an assistant that can only use the
// tools their role allows. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	registrar serve                          Start the API server
//	registrar init [dir]                     Write an example config
//	registrar seed                           Load demo data and print demo users
//	registrar ask -role R -user U <message>  Run one chat turn
//	registrar tools [-role R]                Print a role's tool catalogue
//	registrar token -user U [-role R]        Mint a bearer token
//	registrar version                        Print version and build information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/registrar-ai/registrar/internal/api"
	"github.com/registrar-ai/registrar/internal/buildinfo"
	"github.com/registrar-ai/registrar/internal/college"
	"github.com/registrar-ai/registrar/internal/config"
	"github.com/registrar-ai/registrar/internal/connwatch"
	"github.com/registrar-ai/registrar/internal/events"
	"github.com/registrar-ai/registrar/internal/roles"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates to [run], keeping os.Exit and os.Args out of application
// logic so commands can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// globalOptions are the flags accepted before the command name.
type globalOptions struct {
	configPath string
	outputFmt  string
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package's globals make concurrent calls from tests impossible.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var opts globalOptions
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			opts.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			opts.outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if opts.outputFmt == "" {
		opts.outputFmt = "text"
	}
	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, opts)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "seed":
		return runSeed(ctx, stdout, opts)
	case "ask":
		return runAsk(ctx, stdout, stderr, opts, cmdArgs)
	case "tools":
		return runTools(ctx, stdout, opts, cmdArgs)
	case "token":
		return runToken(ctx, stdout, opts, cmdArgs)
	case "version":
		return runVersion(stdout, opts.outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// commandFlags holds the flags of ask, tools and token.
type commandFlags struct {
	role     string
	user     string
	thread   string
	ttl      time.Duration
	trailing []string
}

// parseCommandFlags parses -role, -user, -thread and -ttl from a
// subcommand's arguments. Everything else is returned as trailing
// words.
func parseCommandFlags(args []string) (commandFlags, error) {
	var f commandFlags
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(args[i], "=")
		switch name {
		case "-role", "-user", "-thread", "-ttl":
		default:
			f.trailing = append(f.trailing, args[i])
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return f, fmt.Errorf("flag %s needs a value", name)
			}
			value = args[i+1]
			i++
		}
		switch name {
		case "-role":
			f.role = value
		case "-user":
			f.user = value
		case "-thread":
			f.thread = value
		case "-ttl":
			d, err := time.ParseDuration(value)
			if err != nil {
				return f, fmt.Errorf("invalid -ttl: %w", err)
			}
			f.ttl = d
		}
	}
	return f, nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Registrar - role-scoped college assistant gateway")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: registrar [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                        Start the API server")
	fmt.Fprintln(w, "  init [dir]                   Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  seed                         Load demo data and print the demo users")
	fmt.Fprintln(w, "  ask -role R -user U <msg>    Run one chat turn as a user")
	fmt.Fprintln(w, "  tools [-role R]              Print the tool catalogue of a role")
	fmt.Fprintln(w, "  token -user U [-role R]      Mint a bearer token for a user")
	fmt.Fprintln(w, "  version                      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runServe starts the API server and blocks until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, opts globalOptions) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, opts.outputFmt)
	logger.Info("starting Registrar", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = config.NewLogger(stdout, level, opts.outputFmt)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"max_rounds", cfg.Agent.MaxRounds,
		"data_dir", cfg.DataDir)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	bus := events.New()
	a.loop.SetEventBus(bus)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The server starts even when the model is down; turns degrade
	// until it is back.
	watcher := connwatch.Start(ctx, connwatch.Config{
		Name:  cfg.ProviderFor(cfg.Models.Default),
		Probe: a.llm.Ping,
		OnChange: func(ready bool, err error) {
			data := map[string]any{"service": cfg.ProviderFor(cfg.Models.Default), "ready": ready}
			if err != nil {
				data["error"] = err.Error()
			}
			bus.Emit(events.SourceConnwatch, events.KindModelStatus, data)
		},
	}, logger)
	defer watcher.Stop()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.loop, api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer), logger)
	server.SetRunStore(a.runs)
	server.SetUsageStore(a.usage)
	server.SetEventBus(bus)
	server.SetModelWatcher(watcher)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", "error", err)
	}
	logger.Info("Registrar stopped", "uptime", buildinfo.Uptime().Round(time.Second))
	return nil
}

// runSeed loads the demo data set and prints the demo users.
func runSeed(ctx context.Context, stdout io.Writer, opts globalOptions) error {
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, config.NewLogger(io.Discard, slog.LevelInfo, "text"))
	if err != nil {
		return err
	}
	defer a.Close()

	demo, err := a.college.SeedDemo(ctx)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	users := []struct{ email, id, role string }{
		{college.DemoAdminEmail, demo.AdminUserID, string(roles.Admin)},
		{college.DemoTeacherEmail, demo.TeacherUserID, string(roles.Teacher)},
		{college.DemoStudentEmail, demo.StudentUserID, string(roles.Student)},
	}
	if opts.outputFmt == "json" {
		out := make([]map[string]string, 0, len(users))
		for _, u := range users {
			out = append(out, map[string]string{"email": u.email, "user_id": u.id, "role": u.role})
		}
		return json.NewEncoder(stdout).Encode(out)
	}
	fmt.Fprintln(stdout, "Demo users:")
	for _, u := range users {
		fmt.Fprintf(stdout, "  %-8s %-20s %s\n", u.role, u.email, u.id)
	}
	return nil
}

// runAsk runs one chat turn as a user. The turn is written to the
// configured database, so -thread can resume it later.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, opts globalOptions, args []string) error {
	f, err := parseCommandFlags(args)
	if err != nil {
		return err
	}
	message := strings.Join(f.trailing, " ")
	if f.user == "" || message == "" {
		return fmt.Errorf("usage: registrar ask -user U [-role R] [-thread T] <message>")
	}

	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	a, err := newApp(cfg, config.NewLogger(stderr, level, "text"))
	if err != nil {
		return err
	}
	defer a.Close()

	userID, role, err := a.lookupUser(ctx, f.user, f.role)
	if err != nil {
		return err
	}

	resp, err := a.loop.RunTurn(ctx, agentRequest(userID, role, f.thread, message))
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if opts.outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintln(stdout, resp.Answer)
	fmt.Fprintf(stderr, "thread %s, %d round(s)", resp.ThreadID, resp.Rounds)
	if resp.Degraded {
		fmt.Fprintf(stderr, ", degraded: %s", resp.Reason)
	}
	fmt.Fprintln(stderr)
	return nil
}

// runTools prints the catalogue a role is offered, or every role's
// catalogue when -role is omitted.
func runTools(ctx context.Context, stdout io.Writer, opts globalOptions, args []string) error {
	f, err := parseCommandFlags(args)
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, config.NewLogger(io.Discard, slog.LevelInfo, "text"))
	if err != nil {
		return err
	}
	defer a.Close()

	targets := roles.All
	if f.role != "" {
		role, ok := roles.ParseRole(f.role)
		if !ok {
			return fmt.Errorf("unknown role %q", f.role)
		}
		targets = []roles.Role{role}
	}

	if opts.outputFmt == "json" {
		out := make(map[string]any, len(targets))
		for _, role := range targets {
			out[string(role)] = a.resolver.CapabilitiesFor(string(role)).Registry.List()
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	for _, role := range targets {
		profile := a.resolver.CapabilitiesFor(string(role))
		fmt.Fprintf(stdout, "%s (%d tools)\n", role, len(profile.Tools))
		for _, t := range profile.Registry.Tools() {
			fmt.Fprintf(stdout, "  %-40s %s\n", t.Name, t.SideEffect)
		}
	}
	return nil
}

// runToken mints a bearer token for a user. The user may be given by id
// or email; the role defaults to the user's stored role.
func runToken(ctx context.Context, stdout io.Writer, opts globalOptions, args []string) error {
	f, err := parseCommandFlags(args)
	if err != nil {
		return err
	}
	if f.user == "" {
		return fmt.Errorf("usage: registrar token -user U [-role R] [-ttl D]")
	}
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, config.NewLogger(io.Discard, slog.LevelInfo, "text"))
	if err != nil {
		return err
	}
	defer a.Close()

	userID, role, err := a.lookupUser(ctx, f.user, f.role)
	if err != nil {
		return err
	}
	ttl := f.ttl
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}

	token, err := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Mint(userID, role, ttl)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}
	fmt.Fprintln(stdout, token)
	return nil
}

// loadConfig locates, parses and validates the configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
