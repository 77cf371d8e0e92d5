package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/schollz/progressbar/v3"
	"github.com/zombor/cheque-reconciler/internal/extraction"
	"github.com/zombor/cheque-reconciler/internal/invoice"
	"github.com/zombor/cheque-reconciler/internal/logging"
	"github.com/zombor/cheque-reconciler/internal/matching"
	"github.com/zombor/cheque-reconciler/internal/recognition"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// report is printed to stdout as JSON
type report struct {
	File     string              `json:"file"`
	Outcome  recognition.Outcome `json:"outcome"`
	Fields   *extraction.Fields  `json:"fields,omitempty"`
	Decision *matching.Decision  `json:"decision,omitempty"`
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("cheque-scan")
	var (
		invoicesPath = fs.StringLong("invoices", "", "JSON file of invoices to match against (sample invoices when empty)")
		engineName   = fs.StringLong("engine", "gemini", "Recognition engine: "+strings.Join(recognition.EngineNames, ", "))
		geminiKey    = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel  = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL    = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel  = fs.StringLong("ollama-model", "llava", "Ollama model name")
		openaiKey    = fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openaiModel  = fs.StringLong("openai-model", "gpt-4o", "OpenAI model name")
		openaiURL    = fs.StringLong("openai-url", "", "OpenAI-compatible API base URL (optional)")
		tessLang     = fs.StringLong("tesseract-lang", "eng", "Tesseract languages, joined with '+'")
		recogTimeout = fs.DurationLong("recognition-timeout", recognition.DefaultTimeout, "Maximum time for recognition")
		quiet        = fs.BoolLong("quiet", "Hide the progress bar")
		logLevel     = fs.StringLong("log-level", "warn", "Log level: debug, info, warn or error")
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

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	args := fs.GetArgs()
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "usage: cheque-scan [flags] FILE\n")
		os.Exit(2)
	}
	path := args[0]

	if err := logging.Setup(os.Stderr, *logLevel, *logFormat); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("Failed to read file", "path", path, "error", err)
		os.Exit(1)
	}
	contentType := contentTypeOf(path, data)
	if err := recognition.CheckUpload(contentType, int64(len(data))); err != nil {
		slog.Error("File cannot be recognised", "path", path, "error", err)
		os.Exit(1)
	}

	invoices := invoice.SampleInvoices()
	if *invoicesPath != "" {
		invoices, err = invoice.LoadInvoices(*invoicesPath)
		if err != nil {
			slog.Error("Failed to load invoices", "path", *invoicesPath, "error", err)
			os.Exit(1)
		}
	}
	store := invoice.NewMemory(invoices)

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

	var progress recognition.ProgressFunc
	var bar *progressbar.ProgressBar
	if !*quiet {
		bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("Recognising "+filepath.Base(path)),
			progressbar.OptionSetWidth(40),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
		progress = func(p recognition.Progress) {
			bar.Describe(p.Status)
			bar.Set(int(p.Progress * 100))
		}
	}

	adapter := recognition.NewAdapter(engine, *recogTimeout)
	outcome := adapter.Recognize(context.Background(), data, contentType, progress)
	if bar != nil {
		bar.Finish()
	}

	out := report{File: path, Outcome: outcome}
	if outcome.Success {
		fields := extraction.Extract(outcome.Result.Text)
		decision, err := matching.NewMatcher(store).Match(fields)
		if err != nil {
			slog.Error("Failed to match cheque", "error", err)
			os.Exit(1)
		}
		out.Fields = &fields
		out.Decision = decision
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		slog.Error("Failed to write result", "error", err)
		os.Exit(1)
	}
	if !outcome.Success {
		os.Exit(1)
	}
}

// contentTypeOf guesses from the extension, then the leading bytes
func contentTypeOf(path string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}
