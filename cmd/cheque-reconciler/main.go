package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/cheque-reconciler/internal/invoice"
	"github.com/zombor/cheque-reconciler/internal/logging"
	"github.com/zombor/cheque-reconciler/internal/recognition"
	"github.com/zombor/cheque-reconciler/internal/reconcile"
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

	fs := ff.NewFlagSet("cheque-reconciler")
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		dbPath       = fs.StringLong("db", "", "Database file path (in-memory invoices when empty)")
		storagePath  = fs.StringLong("storage", "./cheques", "Cheque image storage directory path")
		invoicesPath = fs.StringLong("invoices", "", "JSON file of invoices to seed an empty store with (sample invoices when empty)")
		engineName   = fs.StringLong("engine", "gemini", "Recognition engine: "+strings.Join(recognition.EngineNames, ", "))
		geminiKey    = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel  = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL    = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel  = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		openaiKey    = fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openaiModel  = fs.StringLong("openai-model", "gpt-4o", "OpenAI model name")
		openaiURL    = fs.StringLong("openai-url", "", "OpenAI-compatible API base URL (optional)")
		tessLang     = fs.StringLong("tesseract-lang", "eng", "Tesseract languages, joined with '+'")
		recogTimeout = fs.DurationLong("recognition-timeout", recognition.DefaultTimeout, "Maximum time for one recognition attempt")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel     = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat    = fs.StringLong("log-format", "text", "Log format: text or json")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("CHEQUE_RECONCILER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := logging.Setup(os.Stderr, *logLevel, *logFormat); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Initialize invoice store
	var store invoice.Store
	if *dbPath != "" {
		slog.Info("Initializing database...", "path", *dbPath)
		db, err := invoice.NewBoltDB(*dbPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		store = db
	} else {
		slog.Info("Using in-memory invoice store")
		store = invoice.NewMemory(nil)
	}
	defer store.Close()

	invoices := invoice.SampleInvoices()
	if *invoicesPath != "" {
		loaded, err := invoice.LoadInvoices(*invoicesPath)
		if err != nil {
			slog.Error("Failed to load invoices", "path", *invoicesPath, "error", err)
			os.Exit(1)
		}
		invoices = loaded
	}
	seeded, err := invoice.Seed(store, invoices)
	if err != nil {
		slog.Error("Failed to seed invoices", "error", err)
		os.Exit(1)
	}
	if seeded > 0 {
		slog.Info("Seeded invoices", "count", seeded)
	}

	// Initialize recognition engine based on type
	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	openaiAPIKey := *openaiKey
	if openaiAPIKey == "" {
		openaiAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	engine, err := recognition.NewEngine(recognition.Config{
		Engine:        *engineName,
		GeminiKey:     apiKey,
		GeminiModel:   *geminiModel,
		OllamaURL:     *ollamaURL,
		OllamaModel:   *ollamaModel,
		OpenAIKey:     openaiAPIKey,
		OpenAIModel:   *openaiModel,
		OpenAIBaseURL: *openaiURL,
		TesseractLang: *tessLang,
	})
	if err != nil {
		slog.Error("Failed to initialize recognition engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	storage, err := reconcile.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize service
	service := reconcile.NewService(recognition.NewAdapter(engine, *recogTimeout), store, storage)
	defer service.Close()

	// Initialize server
	basicAuth := reconcile.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := reconcile.NewServer(service, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "engine", engine.Name(), "timeout", *recogTimeout)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
