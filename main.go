package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"curtailscan/internal/api"
	"curtailscan/internal/config"
	"curtailscan/internal/derive"
	"curtailscan/internal/eventbus"
	"curtailscan/internal/feed"
	"curtailscan/internal/models"
	"curtailscan/internal/reconciler"
	"curtailscan/internal/repository"
)

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

const usage = `curtailscan keeps the derived bitcoin calculation dataset consistent
with the curtailment source records.

Usage:
  curtailscan status    [flags]              show partition statuses in scope
  curtailscan reconcile [flags]              reconcile every stale partition
  curtailscan date      [flags] YYYY-MM-DD   reconcile one settlement date
  curtailscan range     [flags] FROM TO      reconcile an inclusive date range
  curtailscan serve     [flags]              run the read-only ops API

Common flags (each subcommand also accepts -h):
  -config path        YAML config file (default: CONFIG_PATH env, else built-ins)
  -variants list      comma-separated hardware variants (default from config)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "status":
		runStatus(args)
	case "reconcile":
		runReconcile(args)
	case "date":
		runDate(args)
	case "range":
		runRange(args)
	case "serve":
		runServe(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}

// commonFlags holds the flags every subcommand shares.
type commonFlags struct {
	configPath string
	variants   string
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	cf := &commonFlags{}
	fs.StringVar(&cf.configPath, "config", strings.TrimSpace(os.Getenv("CONFIG_PATH")), "path to YAML config file")
	fs.StringVar(&cf.variants, "variants", "", "comma-separated hardware variants (overrides config)")
	return cf
}

func loadConfig(cf *commonFlags) *config.Config {
	cfg, err := config.Load(cf.configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cf.variants != "" {
		var names []string
		for _, v := range strings.Split(cf.variants, ",") {
			if v = strings.TrimSpace(v); v != "" {
				names = append(names, v)
			}
		}
		cfg.Variants = names
	}
	return cfg
}

// app bundles the wired dependencies behind the subcommands.
type app struct {
	cfg    *config.Config
	repo   *repository.Repository
	engine *reconciler.Engine
	bus    *eventbus.Bus
}

func buildApp(cfg *config.Config) *app {
	log.Println("Initializing curtailscan...")
	log.Printf("DB: %s", redactDatabaseURL(cfg.DatabaseURL))
	log.Printf("Variants: %s", strings.Join(cfg.Variants, ","))

	repo, err := repository.NewRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}

	if os.Getenv("SKIP_MIGRATION") == "true" {
		log.Println("Database migration SKIPPED (SKIP_MIGRATION=true)")
	} else {
		log.Println("Running database migration...")
		if err := repo.Migrate("schema.sql"); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Database migration complete.")
	}

	variants, err := derive.ResolveVariants(cfg.Variants)
	if err != nil {
		log.Fatalf("Bad variant list: %v", err)
	}

	var params derive.ParamsProvider
	if cfg.ParamsBaseURL != "" {
		log.Printf("Difficulty source: %s", cfg.ParamsBaseURL)
		params = derive.NewHTTPParams(cfg.ParamsBaseURL, cfg.Retry.Policy())
	} else {
		log.Println("Difficulty source: built-in fallback table")
		params = derive.StaticParams{}
	}

	// The repository doubles as the source feed when no remote service is
	// configured: partitions are rebuilt from already-ingested rows.
	var srcFeed reconciler.SourceFeed = repo
	if cfg.FeedBaseURL != "" {
		log.Printf("Source feed: %s", cfg.FeedBaseURL)
		lookup := feed.StaticLookup(cfg.BMULookup())
		if lookup == nil {
			tracked, err := repo.TrackedBMUs(context.Background())
			if err != nil {
				log.Fatalf("Failed to load tracked BMUs: %v", err)
			}
			lookup = feed.StaticLookup(tracked)
		}
		srcFeed = feed.NewClient(feed.Config{
			BaseURL:           cfg.FeedBaseURL,
			RequestsPerSecond: cfg.FeedRPS,
			Burst:             cfg.FeedBurst,
			Retry:             cfg.Retry.Policy(),
		}, lookup)
	} else {
		log.Println("Source feed: local curtailment_records table")
	}

	bus := eventbus.New()
	processor := reconciler.NewReprocessor(repo, srcFeed, params, derive.StandardDeriver{}, variants)
	engine := reconciler.NewEngine(repo, repo, processor, bus)

	return &app{cfg: cfg, repo: repo, engine: engine, bus: bus}
}

func (a *app) close() {
	a.bus.Close()
	a.repo.Close()
}

// watchEvents logs engine events so long runs show live progress.
func (a *app) watchEvents() chan eventbus.Event {
	ch := make(chan eventbus.Event, 256)
	a.bus.SubscribeAll(ch)
	go func() {
		for ev := range ch {
			switch ev.Type {
			case eventbus.TypePartitionSucceeded:
				log.Printf("[run %s] %s ok (%d records)", ev.RunID, ev.Key, ev.RecordsWritten)
			case eventbus.TypePartitionFailed:
				log.Printf("[run %s] %s FAILED: %s", ev.RunID, ev.Key, ev.Message)
			case eventbus.TypeBatchCompleted:
				log.Printf("[run %s] batch %d done", ev.RunID, ev.Batch)
			}
		}
	}()
	return ch
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cf := registerCommon(fs)
	date := fs.String("date", "", "single date YYYY-MM-DD")
	from := fs.String("from", "", "start date YYYY-MM-DD (inclusive)")
	to := fs.String("to", "", "end date YYYY-MM-DD (inclusive)")
	fs.Parse(args)

	cfg := loadConfig(cf)
	a := buildApp(cfg)
	defer a.close()

	scope := parseScopeArgs(*date, *from, *to)
	statuses, err := a.engine.Status(context.Background(), scope, cfg.Variants)
	if err != nil {
		log.Fatalf("status scan failed: %v", err)
	}

	if len(statuses) == 0 {
		fmt.Println("no partitions in scope")
		return
	}
	for _, st := range statuses {
		line := fmt.Sprintf("%-22s %-11s source=%-4d derived=%-4d %.1f%%",
			st.Key, st.Status, st.SourceCount, st.DerivedCount, st.CompletionPct)
		if st.Detail != "" {
			line += " (" + st.Detail + ")"
		}
		fmt.Println(line)
	}
}

func runDate(args []string) {
	fs := flag.NewFlagSet("date", flag.ExitOnError)
	cf := registerCommon(fs)
	runFlags := registerRunFlags(fs)
	fs.Parse(args)

	if fs.NArg() != 1 {
		log.Fatal("usage: curtailscan date [flags] YYYY-MM-DD")
	}
	d, err := time.Parse("2006-01-02", fs.Arg(0))
	if err != nil {
		log.Fatalf("bad date %q: %v", fs.Arg(0), err)
	}
	execute(cf, runFlags, models.ScopeDate(d))
}

func runRange(args []string) {
	fs := flag.NewFlagSet("range", flag.ExitOnError)
	cf := registerCommon(fs)
	runFlags := registerRunFlags(fs)
	fs.Parse(args)

	if fs.NArg() != 2 {
		log.Fatal("usage: curtailscan range [flags] FROM TO")
	}
	from, err := time.Parse("2006-01-02", fs.Arg(0))
	if err != nil {
		log.Fatalf("bad from date %q: %v", fs.Arg(0), err)
	}
	to, err := time.Parse("2006-01-02", fs.Arg(1))
	if err != nil {
		log.Fatalf("bad to date %q: %v", fs.Arg(1), err)
	}
	if to.Before(from) {
		log.Fatalf("range end %s precedes start %s", fs.Arg(1), fs.Arg(0))
	}
	execute(cf, runFlags, models.ScopeRange(from, to))
}

func runReconcile(args []string) {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	cf := registerCommon(fs)
	runFlags := registerRunFlags(fs)
	date := fs.String("date", "", "single date YYYY-MM-DD")
	from := fs.String("from", "", "start date YYYY-MM-DD (inclusive)")
	to := fs.String("to", "", "end date YYYY-MM-DD (inclusive)")
	fs.Parse(args)

	execute(cf, runFlags, parseScopeArgs(*date, *from, *to))
}

type runFlagValues struct {
	batchSize   *int
	concurrency *int
	delay       *time.Duration
	runID       *string
	tolerance   *float64
	fromStore   *bool
}

func registerRunFlags(fs *flag.FlagSet) *runFlagValues {
	return &runFlagValues{
		batchSize:   fs.Int("batch-size", 0, "partitions per batch (default from config)"),
		concurrency: fs.Int("concurrency", 0, "concurrent partitions per batch (default from config)"),
		delay:       fs.Duration("delay", -1, "pause between batches (default from config)"),
		runID:       fs.String("run-id", "", "resume an interrupted run by id"),
		tolerance:   fs.Float64("tolerance", 0, "acceptable completion shortfall in percent"),
		fromStore:   fs.Bool("from-store", false, "recompute from ingested rows even when a feed is configured"),
	}
}

func execute(cf *commonFlags, rf *runFlagValues, scope models.Scope) {
	cfg := loadConfig(cf)
	if *rf.fromStore {
		cfg.FeedBaseURL = ""
	}
	a := buildApp(cfg)
	defer a.close()
	a.watchEvents()

	runCfg := reconciler.RunConfig{
		Scope:           scope,
		Variants:        cfg.Variants,
		BatchSize:       cfg.BatchSize,
		Concurrency:     cfg.Concurrency,
		InterBatchDelay: cfg.InterBatchDelay.Std(),
		RunID:           *rf.runID,
		TolerancePct:    *rf.tolerance,
	}
	if *rf.batchSize > 0 {
		runCfg.BatchSize = *rf.batchSize
	}
	if *rf.concurrency > 0 {
		runCfg.Concurrency = *rf.concurrency
	}
	if *rf.delay >= 0 {
		runCfg.InterBatchDelay = *rf.delay
	}

	// Stop cleanly between batches on SIGINT/SIGTERM; progress already
	// written stays written, so the run can be resumed by id.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := a.engine.Reconcile(ctx, runCfg)
	if err != nil {
		log.Fatalf("reconciliation failed: %v", err)
	}

	fmt.Println(res.Summary.Render())
	if res.Report.Canceled {
		log.Printf("run %s interrupted after %d partitions; resume with -run-id %s",
			res.Report.RunID, res.Report.Attempted, res.Report.RunID)
		os.Exit(1)
	}
	if !res.Passed(*rf.tolerance) {
		for _, st := range res.Summary.Remaining {
			fmt.Fprintf(os.Stderr, "remaining: %s %s\n", st.Key, st.Status)
		}
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cf := registerCommon(fs)
	port := fs.Int("port", 0, "listen port (default from config)")
	fs.Parse(args)

	cfg := loadConfig(cf)
	a := buildApp(cfg)
	defer a.close()

	if *port > 0 {
		cfg.APIPort = *port
	}

	api.BuildCommit = BuildCommit
	srv := api.NewServer(a.engine, a.repo, cfg.Variants, cfg.APIPort)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("API server failed: %v", err)
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}

func parseScopeArgs(date, from, to string) models.Scope {
	if date != "" {
		if from != "" || to != "" {
			log.Fatal("-date cannot be combined with -from/-to")
		}
		d, err := time.Parse("2006-01-02", date)
		if err != nil {
			log.Fatalf("bad date %q: %v", date, err)
		}
		return models.ScopeDate(d)
	}
	return parseScope(from, to)
}

func parseScope(from, to string) models.Scope {
	var scope models.Scope
	if from != "" {
		d, err := time.Parse("2006-01-02", from)
		if err != nil {
			log.Fatalf("bad from date %q: %v", from, err)
		}
		scope.From = models.Midnight(d)
	}
	if to != "" {
		d, err := time.Parse("2006-01-02", to)
		if err != nil {
			log.Fatalf("bad to date %q: %v", to, err)
		}
		scope.To = models.Midnight(d)
	}
	if !scope.From.IsZero() && !scope.To.IsZero() && scope.To.Before(scope.From) {
		log.Fatalf("to date %s precedes from date %s", to, from)
	}
	return scope
}

func redactDatabaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err == nil && u.Scheme != "" {
		if u.User != nil {
			user := u.User.Username()
			if user == "" {
				user = "user"
			}
			u.User = url.UserPassword(user, "****")
		}
		u.RawQuery = ""
		return u.String()
	}
	return "(unparsed database url)"
}
