package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"github.com/xiy/petpulse/internal/admin"
	"github.com/xiy/petpulse/internal/config"
	"github.com/xiy/petpulse/internal/generate"
	"github.com/xiy/petpulse/internal/mcp"
	"github.com/xiy/petpulse/internal/orchestrator"
	"github.com/xiy/petpulse/internal/pairlock"
	"github.com/xiy/petpulse/internal/store"
	"github.com/xiy/petpulse/internal/ttl"
)

const (
	version           = "v0.1.0"
	defaultConfigPath = "config/petpulse.yaml"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "tick":
		err = runTick(os.Args[2:])
	case "seed":
		err = runSeed(os.Args[2:])
	case "admin":
		err = runAdmin(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Println("petpulse " + version)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app bundles what every subcommand needs.
type app struct {
	cfg    config.Config
	logger *log.Logger
	store  *store.SQLiteStore
	redis  *redis.Client
}

func setup(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportCaller: false, Prefix: cfg.ServerName})
	setLogLevel(logger, cfg.LogLevel)

	st, err := store.OpenSQLite(ctx, cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: st}, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.store.Close()
}

func (a *app) locker(ctx context.Context) (pairlock.Locker, error) {
	if a.cfg.LockBackend != "redis" {
		return pairlock.NewLocal(), nil
	}
	a.redis = redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", a.cfg.RedisAddr, err)
	}
	a.logger.Info("using redis pair locks", "addr", a.cfg.RedisAddr)
	return pairlock.NewRedis(a.redis, a.cfg.LockTTL()), nil
}

func (a *app) orchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	locker, err := a.locker(ctx)
	if err != nil {
		return nil, err
	}
	return orchestrator.New(orchestrator.Deps{
		Store:     a.store,
		Generator: generate.NewTemplate(),
		Publisher: generate.NewLogPublisher(a.logger),
		Locker:    locker,
	}, orchestrator.Options{
		MaxConcurrentBots:   a.cfg.MaxConcurrentBots,
		GenerationPerMinute: a.cfg.GenerationPerMinute,
		GenerationBurst:     a.cfg.GenerationBurst,
		TopicCooldownHours:  a.cfg.TopicCooldownHours,
		InteractionRetries:  a.cfg.InteractionRetries,
	}, a.logger)
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to config file")
	noTick := fs.Bool("no-tick", false, "Serve MCP tools only, without the tick loop")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	orch, err := a.orchestrator(ctx)
	if err != nil {
		return err
	}

	go ttl.Start(ctx, a.logger, a.cfg.CleanupInterval(), orch)
	if !*noTick {
		go orch.Run(ctx, a.cfg.TickInterval())
	}

	server := mcp.NewServer(orch, a.cfg.ServerName, version, a.logger, a.store)
	a.logger.Info("starting MCP stdio server", "db", a.cfg.DBPath, "tick_interval", a.cfg.TickInterval())
	return serveUntilDone(ctx, a.logger, !*noTick, func(ctx context.Context) error {
		return server.Serve(ctx, os.Stdin, os.Stdout)
	})
}

// serveUntilDone runs the MCP server. With keepAlive set, a closed stdin only
// stops the tools and the process waits for ctx.
func serveUntilDone(ctx context.Context, logger *log.Logger, keepAlive bool, serve func(context.Context) error) error {
	if err := serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if keepAlive && ctx.Err() == nil {
		logger.Info("stdin closed, MCP tools stopped; tick loop keeps running")
		<-ctx.Done()
	}
	return nil
}

func runTick(args []string) error {
	fs := flag.NewFlagSet("tick", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to config file")
	dryRun := fs.Bool("dry-run", false, "Decide without generating, publishing or persisting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	orch, err := a.orchestrator(ctx)
	if err != nil {
		return err
	}
	report, err := orch.Tick(ctx, *dryRun)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runSeed(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to config file")
	rosterPath := fs.String("roster", "", "Path to roster YAML (defaults to roster_path from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	path := *rosterPath
	if path == "" {
		path = a.cfg.RosterPath
	}
	bots, err := config.LoadRoster(path)
	if err != nil {
		return err
	}
	for _, b := range bots {
		if err := a.store.UpsertBot(ctx, b); err != nil {
			return fmt.Errorf("seed %s: %w", b.ID, err)
		}
		a.logger.Info("seeded bot", "id", b.ID, "archetype", b.Archetype, "chronotype", b.Chronotype, "active", b.Active)
	}
	a.logger.Info("roster seeded", "path", path, "bots", len(bots))
	return nil
}

func runAdmin(args []string) error {
	fs := flag.NewFlagSet("admin", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	return admin.Run(ctx, a.store)
}

func setLogLevel(logger *log.Logger, level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
}

func usage() {
	fmt.Print(`petpulse

Usage:
  petpulse serve [--config path] [--no-tick]
  petpulse tick [--config path] [--dry-run]
  petpulse seed [--config path] [--roster path]
  petpulse admin [--config path]
  petpulse version
`)
}
