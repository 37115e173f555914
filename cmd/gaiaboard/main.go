package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/agentbeats/gaiaboard/internal/api"
	"github.com/agentbeats/gaiaboard/internal/auth"
	"github.com/agentbeats/gaiaboard/internal/config"
	"github.com/agentbeats/gaiaboard/internal/eventlog"
	"github.com/agentbeats/gaiaboard/internal/events"
	"github.com/agentbeats/gaiaboard/internal/leaderboard"
	"github.com/agentbeats/gaiaboard/internal/lock"
	"github.com/agentbeats/gaiaboard/internal/log"
	"github.com/agentbeats/gaiaboard/internal/metrics"
	"github.com/agentbeats/gaiaboard/internal/storage"
	"github.com/agentbeats/gaiaboard/internal/submission"
	"github.com/agentbeats/gaiaboard/internal/tui/watch"
	"github.com/agentbeats/gaiaboard/internal/webhook"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	case "serve":
		if hasHelpFlag(args) {
			printServeHelp()
			return 0
		}
		return runServe(args)
	case "refresh":
		if hasHelpFlag(args) {
			printRefreshHelp()
			return 0
		}
		return runRefresh(args)
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
			return 0
		}
		return runWatch(args)
	case "config":
		return runConfigNoun(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}

	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "help":
		printConfigNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: gaiaboard version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("gaiaboard %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// --- ACTION IMPLEMENTATIONS ---

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("gaiaboard starting", "version", version, "config", *configPath)

	pidLockPath := filepath.Join(cfg.Service.DataDir, "gaiaboard.pid")
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.Database.Path, cfg.Database.BusyTimeout)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.Database.Path)

	store := submission.New(db)
	eventLog := eventlog.New(db)
	board := leaderboard.New(db)
	hub := events.NewHub(256)

	if cfg.Leaderboard.RefreshOnStart {
		for _, level := range cfg.Leaderboard.Levels {
			for _, split := range cfg.Leaderboard.Splits {
				started := time.Now()
				res, err := board.Refresh(ctx, level, split)
				if err != nil {
					logger.Error("startup refresh failed", "level", level, "split", split, "error", err)
					return 1
				}
				metrics.ObserveRefreshDuration(time.Since(started))
				metrics.UpdateLeaderboardSize("agent", level, split, res.AgentEntries)
				metrics.UpdateLeaderboardSize("team", level, split, res.TeamEntries)
				logger.Info("startup refresh complete",
					"level", level, "split", split,
					"agent_entries", res.AgentEntries, "team_entries", res.TeamEntries)
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 3)

	if cfg.Leaderboard.RefreshInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Leaderboard.RefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					started := time.Now()
					if _, err := board.RefreshAll(ctx); err != nil {
						logger.Error("periodic refresh failed", "error", err)
						continue
					}
					metrics.ObserveRefreshDuration(time.Since(started))
					logger.Debug("periodic refresh complete", "duration_ms", time.Since(started).Milliseconds())
				}
			}
		}()
		logger.Info("periodic refresh enabled", "interval", cfg.Leaderboard.RefreshInterval)
	}

	if cfg.Webhook.Enabled {
		verifier := webhook.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.AllowUnsigned)
		pipeline := webhook.NewPipeline(verifier, store, board, eventLog, hub, log.WithComponent("pipeline"))
		webhookServer := webhook.NewServer(webhook.FromGlobalConfig(cfg.Webhook),
			pipeline, log.WithComponent("webhook"))
		go func() {
			if err := webhookServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("webhook: %w", err)
			}
		}()
		logger.Info("webhook listener enabled", "listen", cfg.Webhook.Listen)
	}

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{
				Token:  t.Token,
				Scopes: t.Scopes,
			})
		}
		apiServer := api.New(api.Config{
			Listen:      cfg.API.Listen,
			CORSOrigins: cfg.API.CORSOrigins,
			Tokens:      tokens,
		}, store, board, eventLog, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("gaiaboard running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("gaiaboard stopped")
	return 0
}

func runRefresh(args []string) int {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file or directory")
	level := fs.Int("level", 0, "Benchmark level to refresh (1-3)")
	split := fs.String("split", "", "Dataset split to refresh")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if (*level == 0) != (*split == "") {
		fmt.Fprintln(os.Stderr, "Error: --level and --split must be given together (or neither, for a full refresh).")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.Database.Path, cfg.Database.BusyTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	board := leaderboard.New(db)

	var results []leaderboard.RefreshResult
	if *level != 0 {
		res, err := board.Refresh(ctx, *level, *split)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Refresh failed: %v\n", err)
			return 1
		}
		results = append(results, res)
	} else {
		results, err = board.RefreshAll(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Refresh failed: %v\n", err)
			return 1
		}
	}

	if len(results) == 0 {
		fmt.Println("No submissions stored; nothing to refresh.")
		return 0
	}
	for _, res := range results {
		fmt.Printf("level %d / %s: %d agent entries, %d team entries\n",
			res.Level, res.Split, res.AgentEntries, res.TeamEntries)
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api", "http://localhost:8080", "Leaderboard API URL")
	token := fs.String("token", os.Getenv("GAIABOARD_TOKEN"), "API bearer token (optional; reads are public)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	m := watch.New(*apiURL, *token)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	redactSecrets(cfg)

	if *jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(cfg)
		fmt.Print(string(data))
	}
	return 0
}

// redactSecrets blanks credentials before the config is printed.
func redactSecrets(cfg *config.Config) {
	if cfg.Webhook.Secret != "" {
		cfg.Webhook.Secret = "[redacted]"
	}
	for i := range cfg.API.Auth.Tokens {
		cfg.API.Auth.Tokens[i].Token = "[redacted]"
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration check FAILED: %v\n", err)
		return 1
	}

	fmt.Println("Configuration check PASSED.")
	fmt.Printf("  service:     %s (log %s/%s)\n", cfg.Service.Name, cfg.Service.LogLevel, cfg.Service.LogFormat)
	fmt.Printf("  database:    %s\n", cfg.Database.Path)
	if cfg.Webhook.Enabled {
		signing := "hmac-sha256"
		if cfg.Webhook.AllowUnsigned {
			signing = "UNSIGNED (allow_unsigned)"
		}
		fmt.Printf("  webhook:     %s (%s)\n", cfg.Webhook.Listen, signing)
	} else {
		fmt.Println("  webhook:     disabled")
	}
	if cfg.API.Enabled {
		fmt.Printf("  api:         %s (%d tokens)\n", cfg.API.Listen, len(cfg.API.Auth.Tokens))
	} else {
		fmt.Println("  api:         disabled")
	}
	fmt.Printf("  leaderboard: levels %v, splits %v\n", cfg.Leaderboard.Levels, cfg.Leaderboard.Splits)
	return 0
}

// --- HELP TEXT ---

func printUsage() {
	fmt.Println("gaiaboard - GAIA benchmark submission gateway and leaderboard")
	fmt.Println()
	fmt.Println("Usage: gaiaboard <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve            Run the webhook listener and API server in the foreground")
	fmt.Println("  refresh          Recompute leaderboard views from stored submissions")
	fmt.Println("  watch            Launch the live leaderboard TUI")
	fmt.Println("  config show      Print the resolved configuration (secrets redacted)")
	fmt.Println("  config check     Validate configuration and print a summary")
	fmt.Println("  version          Show version information")
	fmt.Println()
	fmt.Println("Run 'gaiaboard <command> --help' for details on a command.")
}

func printServeHelp() {
	fmt.Println("Usage: gaiaboard serve [--config PATH]")
	fmt.Println("Start the submission gateway in the foreground: webhook listener,")
	fmt.Println("API server, and leaderboard materializer share one SQLite database.")
}

func printRefreshHelp() {
	fmt.Println("Usage: gaiaboard refresh [--config PATH] [--level N --split NAME]")
	fmt.Println("Recompute materialized leaderboard views. With no --level/--split,")
	fmt.Println("every (level, split) pair present in the submission store is rebuilt.")
}

func printWatchHelp() {
	fmt.Println("Usage: gaiaboard watch [flags]")
	fmt.Println()
	fmt.Println("Live leaderboard TUI over the API's event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api URL        Leaderboard API URL (default: http://localhost:8080)")
	fmt.Println("  --token TOKEN    API bearer token (or GAIABOARD_TOKEN env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  r                Refetch the current view")
	fmt.Println("  v                Toggle agent/team view")
	fmt.Println("  tab              Cycle level/split")
	fmt.Println("  ↑/↓, k/j         Scroll the board")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: gaiaboard config <action> [flags]")
	fmt.Fprintln(w, "Actions: show, check")
}

func printConfigShowHelp() {
	fmt.Println("Usage: gaiaboard config show [--config PATH] [--json]")
	fmt.Println("Print the fully resolved configuration with secrets redacted.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: gaiaboard config check [--config PATH]")
	fmt.Println("Validate configuration syntax and semantics.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Configuration is valid")
	fmt.Println("  1  Configuration failed to load or validate")
}
