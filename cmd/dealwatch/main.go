package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"go.etcd.io/bbolt"

	"dealwatch/internal/analysis"
	"dealwatch/internal/batch"
	"dealwatch/internal/deal"
	"dealwatch/internal/extract"
	"dealwatch/internal/match"
	"dealwatch/internal/metrics"
	"dealwatch/internal/notify"
	"dealwatch/internal/receipt"
	"dealwatch/internal/scrape"
	"dealwatch/internal/server"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("dealwatch")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "dealwatch.db", "Database file path")
		storagePath   = fs.StringLong("storage", "./documents", "Receipt document directory")
		extractorType = fs.StringLong("extractor", "gemini", "Extractor backend: 'gemini' or 'ollama'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-flash", "Gemini model for fast parsing and analysis")
		geminiPrecise = fs.StringLong("gemini-precise-model", "gemini-2.5-pro", "Gemini model for precise reparsing")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		smtpHost      = fs.StringLong("smtp-host", "", "SMTP host for weekly reports (disables email when empty)")
		smtpPort      = fs.IntLong("smtp-port", 587, "SMTP port")
		smtpUser      = fs.StringLong("smtp-user", "", "SMTP username")
		smtpPass      = fs.StringLong("smtp-pass", "", "SMTP password")
		notifyFrom    = fs.StringLong("notify-from", "", "Report sender address")
		notifyTo      = fs.StringLong("notify-to", "", "Report recipient address")
		matchOverlap  = fs.IntLong("match-overlap", 0, "Minimum shared name tokens for a keyword match (0 = default)")
		matchTokenLen = fs.IntLong("match-token-len", 0, "Minimum token length considered in name matching (0 = default)")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("DEALWATCH"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	slog.Info("Opening database...", "path", *dbPath)
	db, err := bbolt.Open(*dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	dealStore, err := deal.NewBoltStore(db)
	if err != nil {
		slog.Error("Failed to initialize deal store", "error", err)
		os.Exit(1)
	}
	receiptDB, err := receipt.NewBoltDB(db)
	if err != nil {
		slog.Error("Failed to initialize receipt database", "error", err)
		os.Exit(1)
	}

	// Pick the extraction backend. Analysis streaming and coupon book
	// scanning are Gemini features; on Ollama they stay disabled.
	var (
		parser          receipt.Parser
		streamFn        server.StreamFunc
		couponExtractor scrape.CouponPageExtractor
	)
	switch *extractorType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini extractor...", "model", *geminiModel, "precise_model", *geminiPrecise)
		gem, err := extract.NewGemini(apiKey, *geminiModel, *geminiPrecise)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
		defer gem.Close()
		parser = gem
		couponExtractor = gem
		streamFn = func(ctx context.Context, prompt string) analysis.ChunkStream {
			return gem.Stream(ctx, prompt)
		}
	case "ollama":
		slog.Info("Initializing Ollama extractor...", "url", *ollamaURL, "model", *ollamaModel)
		parser, err = extract.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid extractor type", "type", *extractorType, "valid", "gemini or ollama")
		os.Exit(1)
	}

	storage, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	receiptService := receipt.NewService(receiptDB, parser, storage)

	registry := metrics.NewRegistry()
	logger := slog.Default()

	adapters := []scrape.Adapter{
		scrape.NewRFDHotDeals(),
		scrape.NewRFDClearance(),
		scrape.NewReddit("Costco"),
		scrape.NewReddit("CostcoCanada"),
		scrape.NewCocoWest(),
		scrape.NewCocoEast(),
	}
	if couponExtractor != nil {
		adapters = append(adapters, scrape.NewCouponBook(couponExtractor, logger))
	}
	scanner := scrape.NewScanner(dealStore, adapters, registry, logger)

	matchConfig := match.DefaultConfig()
	if *matchOverlap > 0 {
		matchConfig.MinTokenOverlap = *matchOverlap
	}
	if *matchTokenLen > 0 {
		matchConfig.MinTokenLen = *matchTokenLen
	}
	engine := match.NewEngine(matchConfig)

	var sender batch.Sender = reportLogger{logger}
	if *smtpHost != "" {
		sender = notify.NewEmailSender(*smtpHost, *smtpPort, *smtpUser, *smtpPass, *notifyFrom)
	}
	runner := batch.NewRunner(scanner, dealStore, receiptService, engine, sender, *notifyTo, registry, logger)

	basicAuth := server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	srv := server.NewServer(receiptService, dealStore, scanner, engine, runner, streamFn, registry, basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := srv.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

// reportLogger stands in for SMTP when no mail server is configured:
// the weekly report lands in the log instead of a mailbox.
type reportLogger struct {
	logger *slog.Logger
}

func (r reportLogger) Send(_ context.Context, to, subject, htmlBody string) error {
	r.logger.Info("Email delivery disabled; report not sent", "to", to, "subject", subject, "bytes", len(htmlBody))
	return nil
}
