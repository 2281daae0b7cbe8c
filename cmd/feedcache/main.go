package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reddot-watch/feedcache/internal/admin"
	"reddot-watch/feedcache/internal/client"
	"reddot-watch/feedcache/internal/config"
	"reddot-watch/feedcache/internal/database"
	"reddot-watch/feedcache/internal/feed"
	importfeeds "reddot-watch/feedcache/internal/import"
	"reddot-watch/feedcache/internal/process"
	"reddot-watch/feedcache/internal/regen"
	"reddot-watch/feedcache/internal/scorer"
	"reddot-watch/feedcache/internal/server"
	"reddot-watch/feedcache/internal/storage"
)

const usage = `Usage: feedcache [command] [options]
Commands: import, start, server, refresh, page

For command-specific options, use: feedcache [command] -h`

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	var err error

	switch os.Args[1] {
	case "import":
		err = cmdImport(cfg, os.Args[2:])
	case "start":
		err = cmdStart(cfg, os.Args[2:])
	case "server":
		err = cmdServer(cfg, os.Args[2:])
	case "refresh":
		err = cmdRefresh(cfg, os.Args[2:])
	case "page":
		err = cmdPage(cfg, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
		os.Exit(0)
	default:
		log.Error().Str("command", os.Args[1]).Msg("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}

	if err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("Command failed")
		os.Exit(1)
	}
}

// commonFlags registers -db and -log-level; the returned func applies the log level.
func commonFlags(fs *flag.FlagSet, cfg *config.Config) func() {
	fs.StringVar(&cfg.DBPath, "db", config.GetEnvString("FEEDCACHE_DB_PATH", config.DefaultDBPath),
		"Path to the SQLite database file (env: FEEDCACHE_DB_PATH)")

	var logLevelStr string
	fs.StringVar(&logLevelStr, "log-level", config.GetEnvString("FEEDCACHE_LOG_LEVEL", config.DefaultLogLevel),
		"Log level: debug, info, warn, error (env: FEEDCACHE_LOG_LEVEL)")

	return func() {
		// Handle log level parsing separately since it needs conversion
		if level, err := zerolog.ParseLevel(logLevelStr); err == nil {
			cfg.LogLevel = level
		}
		zerolog.SetGlobalLevel(cfg.LogLevel)
	}
}

// regenFlags registers the scorer and orchestrator settings.
func regenFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.ScorerURL, "scorer-url", config.GetEnvString("FEEDCACHE_SCORER_URL", config.DefaultScorerURL),
		"Scorer endpoint (env: FEEDCACHE_SCORER_URL)")
	fs.DurationVar(&cfg.ScorerTimeout, "scorer-timeout",
		config.GetEnvDuration("FEEDCACHE_SCORER_TIMEOUT", cfg.ScorerTimeout, time.Second),
		"Timeout of one scorer invocation (env: FEEDCACHE_SCORER_TIMEOUT)")
	fs.IntVar(&cfg.ScorerLimit, "scorer-limit", config.GetEnvInt("FEEDCACHE_SCORER_LIMIT", config.DefaultScorerLimit),
		"Items the scorer is asked to rank per user (env: FEEDCACHE_SCORER_LIMIT)")
	fs.IntVar(&cfg.GroupSize, "group-size", config.GetEnvInt("FEEDCACHE_GROUP_SIZE", config.DefaultGroupSize),
		"Users regenerated concurrently per group (env: FEEDCACHE_GROUP_SIZE)")
	fs.DurationVar(&cfg.BatchDelay, "batch-delay",
		config.GetEnvDuration("FEEDCACHE_BATCH_DELAY", cfg.BatchDelay, time.Second),
		"Pause between groups (env: FEEDCACHE_BATCH_DELAY)")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl",
		config.GetEnvDuration("FEEDCACHE_CACHE_TTL", cfg.CacheTTL, time.Minute),
		"Lifetime of regenerated cache rows (env: FEEDCACHE_CACHE_TTL)")
	fs.IntVar(&cfg.MinValidRows, "min-valid-rows", config.GetEnvInt("FEEDCACHE_MIN_VALID_ROWS", config.DefaultMinValidRows),
		"Users with fewer valid rows are stale (env: FEEDCACHE_MIN_VALID_ROWS)")
	fs.IntVar(&cfg.StaleBatchLimit, "stale-batch-limit", config.GetEnvInt("FEEDCACHE_STALE_BATCH_LIMIT", config.DefaultStaleBatchLimit),
		"Maximum users per stale sweep (env: FEEDCACHE_STALE_BATCH_LIMIT)")
}

func openDB(cfg *config.Config, readOnly bool) (*database.DB, error) {
	dbCfg := database.NewConfig(cfg.DBPath)
	dbCfg.ReadOnly = readOnly

	db, err := database.NewDB(dbCfg)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

func newOrchestrator(cfg *config.Config, repo *storage.Repository) *regen.Orchestrator {
	sc := scorer.NewHTTPClient(scorer.ClientConfig{
		URL:         cfg.ScorerURL,
		APIKey:      cfg.ScorerAPIKey,
		Timeout:     cfg.ScorerTimeout,
		BreakerName: "scorer",
	})
	return regen.NewOrchestrator(repo, repo, sc, regen.Options{
		GroupSize:         cfg.GroupSize,
		BatchDelay:        cfg.BatchDelay,
		InvocationTimeout: cfg.ScorerTimeout,
		CacheTTL:          cfg.CacheTTL,
		ScorerLimit:       cfg.ScorerLimit,
	})
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-shutdown:
			log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(shutdown)
	}()
	return ctx, cancel
}

// cmdImport loads catalog items and users from CSV files.
func cmdImport(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	applyLogLevel := commonFlags(fs, cfg)
	itemsPath := fs.String("items", "", "CSV file of catalog items")
	usersPath := fs.String("users", "", "CSV file of users")
	fs.Parse(args)
	applyLogLevel()

	if *itemsPath == "" && *usersPath == "" {
		return errors.New("nothing to import: pass -items and/or -users")
	}

	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	importer := importfeeds.NewImporter(db)
	for _, job := range []struct {
		kind string
		path string
		run  func(context.Context, string) (importfeeds.Summary, error)
	}{
		{"items", *itemsPath, importer.ImportItemsFile},
		{"users", *usersPath, importer.ImportUsersFile},
	} {
		if job.path == "" {
			continue
		}
		summary, err := job.run(ctx, job.path)
		if err != nil {
			return fmt.Errorf("failed to import %s: %w", job.kind, err)
		}
		fmt.Printf("Imported %d of %d %s\n", summary.Imported, summary.Total, job.kind)
		for _, e := range summary.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	return nil
}

// cmdStart runs the sweep loop either once or periodically.
func cmdStart(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	applyLogLevel := commonFlags(fs, cfg)
	regenFlags(fs, cfg)

	var intervalMinutes int
	fs.IntVar(&intervalMinutes, "interval", config.GetEnvInt("FEEDCACHE_INTERVAL", config.DefaultInterval),
		"Interval in minutes between sweeps, 0 for one-shot mode (env: FEEDCACHE_INTERVAL)")
	fs.StringVar(&cfg.SweepMode, "mode", config.GetEnvString("FEEDCACHE_SWEEP_MODE", config.DefaultSweepMode),
		"Sweep mode: stale or all (env: FEEDCACHE_SWEEP_MODE)")
	fs.BoolVar(&cfg.PurgeExpired, "purge", config.GetEnvBool("FEEDCACHE_PURGE_EXPIRED", true),
		"Purge expired cache rows after each sweep (env: FEEDCACHE_PURGE_EXPIRED)")
	fs.Parse(args)
	applyLogLevel()

	// Convert interval minutes to duration
	cfg.Interval = time.Duration(intervalMinutes) * time.Minute
	if err := cfg.Validate(); err != nil {
		return err
	}

	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := storage.NewRepository(db)
	sweeper, err := process.NewSweeper(admin.NewCommands(newOrchestrator(cfg, repo)), repo, process.SweepConfig{
		Mode:         cfg.SweepMode,
		MinValidRows: cfg.MinValidRows,
		BatchLimit:   cfg.StaleBatchLimit,
		Purge:        cfg.PurgeExpired,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sweeper: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	err = sweeper.Run(ctx, cfg.Interval)

	cycles, users, failures, purged := sweeper.Stats()
	log.Info().
		Int64("cycles", cycles).
		Int64("users", users).
		Int64("failures", failures).
		Int64("purged", purged).
		Msg("Sweep stats")
	return err
}

// cmdServer starts the HTTP API server with the provided configuration.
func cmdServer(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	applyLogLevel := commonFlags(fs, cfg)
	regenFlags(fs, cfg)
	fs.StringVar(&cfg.ServerHost, "host", config.GetEnvString("FEEDCACHE_HOST", config.DefaultServerHost),
		"Host to bind the server to (env: FEEDCACHE_HOST)")
	fs.IntVar(&cfg.ServerPort, "port", config.GetEnvInt("FEEDCACHE_PORT", config.DefaultServerPort),
		"Port to listen on (env: FEEDCACHE_PORT)")
	fs.IntVar(&cfg.AdminRateLimit, "admin-rate-limit", config.GetEnvInt("FEEDCACHE_ADMIN_RATE_LIMIT", config.DefaultAdminRateLimit),
		"Admin requests per minute per IP, 0 to disable (env: FEEDCACHE_ADMIN_RATE_LIMIT)")
	fs.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "API key for admin routes (env: FEEDCACHE_API_KEY)")
	fs.Parse(args)
	applyLogLevel()

	if err := cfg.Validate(); err != nil {
		return err
	}
	log.Debug().Msg("Starting server with debug logging enabled")

	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := storage.NewRepository(db)
	orch := newOrchestrator(cfg, repo)

	return server.RunServer(server.Deps{
		DB:             db,
		Pager:          feed.NewReader(repo, nil),
		Commands:       admin.NewCommands(orch),
		Stale:          orch.Detector(),
		APIKey:         cfg.APIKey,
		AdminRateLimit: cfg.AdminRateLimit,
	}, cfg.ListenAddr(), log.Logger)
}

// cmdRefresh runs one admin trigger locally, or against a server with -server.
func cmdRefresh(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	applyLogLevel := commonFlags(fs, cfg)
	regenFlags(fs, cfg)
	userID := fs.String("user", "", "Refresh a single user (manual trigger)")
	stale := fs.Bool("stale", false, "Refresh users with empty or thin caches")
	all := fs.Bool("all", false, "Refresh every active user")
	force := fs.Bool("force", false, "With -all, ask the scorer to ignore cache validity")
	serverURL := fs.String("server", config.GetEnvString("FEEDCACHE_SERVER_URL", ""),
		"Trigger through a running server instead of the local database (env: FEEDCACHE_SERVER_URL)")
	fs.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "API key for admin routes (env: FEEDCACHE_API_KEY)")
	fs.Parse(args)
	applyLogLevel()

	selected := 0
	for _, set := range []bool{*userID != "", *stale, *all} {
		if set {
			selected++
		}
	}
	if selected != 1 {
		return errors.New("pass exactly one of -user, -stale or -all")
	}

	ctx, cancel := signalContext()
	defer cancel()

	var report admin.Report
	var err error
	if *serverURL != "" {
		c, cerr := client.New(client.Config{BaseURL: *serverURL, APIKey: cfg.APIKey, Timeout: client.NoTimeout})
		if cerr != nil {
			return cerr
		}
		switch {
		case *userID != "":
			report, err = c.RefreshUser(ctx, *userID)
		case *stale:
			report, err = c.RefreshStale(ctx, cfg.MinValidRows, cfg.StaleBatchLimit)
		default:
			report, err = c.RefreshAll(ctx, *force)
		}
	} else {
		if err := cfg.Validate(); err != nil {
			return err
		}
		db, derr := openDB(cfg, false)
		if derr != nil {
			return derr
		}
		defer db.Close()

		cmds := admin.NewCommands(newOrchestrator(cfg, storage.NewRepository(db)))
		switch {
		case *userID != "":
			report, err = cmds.RefreshUser(ctx, *userID)
		case *stale:
			report = cmds.RefreshStale(ctx, cfg.MinValidRows, cfg.StaleBatchLimit)
		default:
			report = cmds.RefreshAll(ctx, *force)
		}
	}
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	fmt.Println(string(out))
	if report.PartialFailure() {
		fmt.Fprintln(os.Stderr, report.String())
	}
	return nil
}

// cmdPage walks a user's feed page by page, from a server or the local database.
func cmdPage(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("page", flag.ExitOnError)
	applyLogLevel := commonFlags(fs, cfg)
	userID := fs.String("user", "", "User whose feed to read")
	limit := fs.Int("limit", feed.DefaultLimit, "Items per page")
	maxPages := fs.Int("pages", 1, "Pages to load, 0 for the whole feed")
	language := fs.String("language", "", "Only items in this language")
	topicL1 := fs.String("topic-l1", "", "Only items in this top-level topic")
	topicL2 := fs.String("topic-l2", "", "Only items in this second-level topic")
	serverURL := fs.String("server", config.GetEnvString("FEEDCACHE_SERVER_URL", ""),
		"Read through a running server instead of the local database (env: FEEDCACHE_SERVER_URL)")
	fs.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "API key for admin routes (env: FEEDCACHE_API_KEY)")
	fs.Parse(args)
	applyLogLevel()

	if *userID == "" {
		return feed.ErrMissingUser
	}

	var pager feed.Pager
	if *serverURL != "" {
		c, err := client.New(client.Config{BaseURL: *serverURL, APIKey: cfg.APIKey})
		if err != nil {
			return err
		}
		pager = c
	} else {
		db, err := openDB(cfg, true)
		if err != nil {
			return err
		}
		defer db.Close()
		pager = feed.NewReader(storage.NewRepository(db), nil)
	}

	ctx, cancel := signalContext()
	defer cancel()

	session := feed.NewSession(pager, *userID, *limit)
	session.SetFilters(feed.Filters{Language: *language, TopicL1: *topicL1, TopicL2: *topicL2})

	for pages := 0; session.HasMore() && (*maxPages == 0 || pages < *maxPages); pages++ {
		if _, err := session.LoadMore(ctx); err != nil {
			return fmt.Errorf("failed to load page %d: %w", pages+1, err)
		}
	}

	for i, item := range session.Items() {
		fmt.Printf("%3d  %8.3f  %s  %s\n", i+1, item.Score, item.PublishedAt.Format(time.RFC3339), item.Title)
	}
	if session.HasMore() {
		fmt.Println("... more items available")
	}
	return nil
}
