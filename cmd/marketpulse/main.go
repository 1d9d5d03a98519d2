package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"marketpulse/internal/browser"
	"marketpulse/internal/collector"
	"marketpulse/internal/server"
	"marketpulse/pkg/auth"
	"marketpulse/pkg/config"
	"marketpulse/pkg/logger"
	"marketpulse/pkg/models"
	"marketpulse/pkg/signal"
	"marketpulse/pkg/storage"
)

const usage = `Usage: marketpulse <command> [flags]

Commands:
  scrape    run one collection session
  analyze   compute signals over the stored corpus
  stats     print corpus statistics
  serve     run the HTTP API
  login     capture and store account credentials
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "scrape":
		err = runScrape(os.Args[2:])
	case "analyze":
		err = runAnalyze(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "login":
		err = runLogin(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// commonFlags registers the flags every command shares and returns the
// closure that collects them into the config override map.
func commonFlags(fs *flag.FlagSet) func() map[string]interface{} {
	configFile := fs.String("config", "", "path to configuration file")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	username := fs.String("username", "", "account username")
	ct0 := fs.String("ct0", "", "ct0 session cookie")
	authToken := fs.String("auth-token", "", "auth_token session cookie")
	workers := fs.Int("workers", 0, "number of scrape workers")
	minTweets := fs.Int("min-tweets", 0, "collection target")
	windowHours := fs.Int("window-hours", 0, "recency window in hours")
	databaseURL := fs.String("database-url", "", "postgres connection string")
	listen := fs.String("listen", "", "http listen address")
	debug := fs.Bool("debug", false, "show the automation browser")

	return func() map[string]interface{} {
		flags := map[string]interface{}{"config": *configFile}
		if *logLevel != "" {
			flags["log-level"] = *logLevel
		}
		if *username != "" {
			flags["username"] = *username
		}
		if *ct0 != "" {
			flags["ct0"] = *ct0
		}
		if *authToken != "" {
			flags["auth-token"] = *authToken
		}
		if *workers > 0 {
			flags["workers"] = *workers
		}
		if *minTweets > 0 {
			flags["min-tweets"] = *minTweets
		}
		if *windowHours > 0 {
			flags["window-hours"] = *windowHours
		}
		if *databaseURL != "" {
			flags["database-url"] = *databaseURL
		}
		if *listen != "" {
			flags["listen"] = *listen
		}
		if *debug {
			flags["debug"] = true
		}
		return flags
	}
}

func setup(args []string, name string) (*config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	collect := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	flags := collect()
	configFile, _ := flags["config"].(string)
	delete(flags, "config")

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(cfg *config.Config, log logger.Logger) (*storage.Store, error) {
	store, err := storage.NewStore(cfg.Storage.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runScrape(args []string) error {
	cfg, err := setup(args, "scrape")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logger.GetLogger()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signalContext()
	defer cancel()

	svc, err := newScrapeService(cfg, store, log)
	if err != nil {
		return err
	}

	session := models.NewSession()
	log.InfoWithFields("starting collection session", map[string]interface{}{
		"session_id": session.ID,
		"hashtags":   cfg.Scrape.Hashtags,
		"target":     cfg.Scrape.MinTweets,
	})
	if err := svc.Run(ctx, session); err != nil {
		return err
	}

	return printJSON(session.Snapshot())
}

func runAnalyze(args []string) error {
	cfg, err := setup(args, "analyze")
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signalContext()
	defer cancel()

	now := time.Now().UTC()
	window := time.Duration(cfg.Scrape.TimeWindowHours) * time.Hour
	posts, err := store.PostsInWindow(ctx, now.Add(-window), now)
	if err != nil {
		return err
	}

	engine := signal.NewEngine(log)
	records, aggregate := engine.Analyze(posts)
	if len(records) > 0 {
		if err := store.SaveSignals(ctx, records); err != nil {
			return err
		}
	}

	return printJSON(map[string]interface{}{
		"analyzed":  len(records),
		"aggregate": aggregate,
	})
}

func runStats(args []string) error {
	cfg, err := setup(args, "stats")
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signalContext()
	defer cancel()

	stats, err := store.GetStats(ctx)
	if err != nil {
		return err
	}
	hashtags, err := store.TopHashtags(ctx, 10)
	if err != nil {
		return err
	}

	return printJSON(map[string]interface{}{
		"stats":        stats,
		"top_hashtags": hashtags,
	})
}

func runServe(args []string) error {
	cfg, err := setup(args, "serve")
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	var scraper server.ScrapeRunner
	if cfg.Twitter.HasCookiePair() || cfg.Twitter.HasLoginPair() {
		svc, err := newScrapeService(cfg, store, log)
		if err != nil {
			return err
		}
		scraper = svc
	} else {
		log.Warn("no credentials configured, scrape endpoint disabled")
	}

	ctx, cancel := signalContext()
	defer cancel()

	srv := server.New(cfg.Server, cfg.Scrape.TimeWindowHours, store, signal.NewEngine(log), scraper, log)
	return srv.Start(ctx)
}

func runLogin(args []string) error {
	cfg, err := setup(args, "login")
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	reader := bufio.NewReader(os.Stdin)
	username := cfg.Twitter.Username
	if username == "" {
		fmt.Print("Username: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		username = strings.TrimSpace(line)
	}
	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return err
	}

	cfg.Twitter.Username = username
	cfg.Twitter.Password = string(password)
	cfg.Twitter.CT0 = ""
	cfg.Twitter.AuthToken = ""

	creds, err := auth.NewManager()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	driver := browser.NewDriver(cfg.Browser, cfg.Twitter.Email, log)
	authenticator := auth.NewAuthenticator(cfg.Twitter, driver, nil, creds, nil, log)
	handle, err := authenticator.Authenticate(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Logged in as %s (transfer strategy: %s). Session cookies stored.\n",
		handle.Username, handle.Strategy)
	return nil
}

// scrapeService authenticates lazily on first use and runs collection
// sessions. Shared by the scrape command and the HTTP server.
type scrapeService struct {
	cfg     *config.Config
	store   *storage.Store
	archive *storage.BatchArchive
	logger  logger.Logger

	mu     sync.Mutex
	handle *auth.Handle
}

func newScrapeService(cfg *config.Config, store *storage.Store, log logger.Logger) (*scrapeService, error) {
	archive, err := storage.NewBatchArchive(cfg.Storage.BatchDir, log)
	if err != nil {
		return nil, err
	}
	return &scrapeService{
		cfg:     cfg,
		store:   store,
		archive: archive,
		logger:  log,
	}, nil
}

func (s *scrapeService) authenticate(ctx context.Context) (*auth.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		return s.handle, nil
	}

	creds, err := auth.NewManager()
	if err != nil {
		s.logger.WarnWithFields("credential store unavailable", map[string]interface{}{
			"error": err.Error(),
		})
		creds = nil
	}

	driver := browser.NewDriver(s.cfg.Browser, s.cfg.Twitter.Email, s.logger)
	authenticator := auth.NewAuthenticator(s.cfg.Twitter, driver, nil, creds, nil, s.logger)
	handle, err := authenticator.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	s.handle = handle
	return handle, nil
}

// Run implements server.ScrapeRunner.
func (s *scrapeService) Run(ctx context.Context, session *models.Session) error {
	handle, err := s.authenticate(ctx)
	if err != nil {
		session.RecordError("auth", "authentication", err.Error())
		session.Fail(0)
		if saveErr := s.store.SaveSession(context.Background(), session); saveErr != nil {
			s.logger.WarnWithFields("failed to save session record", map[string]interface{}{
				"session_id": session.ID,
				"error":      saveErr.Error(),
			})
		}
		return err
	}

	factory := func() collector.Fetcher {
		return handle.NewClient()
	}
	col := collector.New(s.cfg, factory, s.store, s.store, s.archive, s.logger)
	return col.Run(ctx, session)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
