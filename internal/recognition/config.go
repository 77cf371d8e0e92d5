package recognition

import (
	"fmt"
	"log/slog"
	"strings"
)

// Config selects and configures a recognition engine
type Config struct {
	Engine string

	GeminiKey   string
	GeminiModel string

	OllamaURL   string
	OllamaModel string

	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string

	// TesseractLang uses tesseract's own syntax, e.g. "eng+hin"
	TesseractLang string
}

// EngineNames lists the values accepted for Config.Engine
var EngineNames = []string{"gemini", "ollama", "openai", "tesseract"}

// NewEngine builds the engine named by cfg.Engine
func NewEngine(cfg Config) (Engine, error) {
	var (
		engine Engine
		err    error
	)
	switch cfg.Engine {
	case "gemini":
		slog.Info("Initializing Gemini engine...", "model", cfg.GeminiModel)
		engine, err = NewGemini(cfg.GeminiKey, cfg.GeminiModel)
	case "ollama":
		slog.Info("Initializing Ollama engine...", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		engine, err = NewOllama(cfg.OllamaURL, cfg.OllamaModel)
	case "openai":
		slog.Info("Initializing OpenAI engine...", "model", cfg.OpenAIModel)
		engine, err = NewOpenAI(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	case "tesseract":
		var languages []string
		for _, lang := range strings.Split(cfg.TesseractLang, "+") {
			if lang = strings.TrimSpace(lang); lang != "" {
				languages = append(languages, lang)
			}
		}
		slog.Info("Initializing Tesseract engine...", "languages", languages)
		engine, err = NewTesseract(languages...)
	default:
		return nil, fmt.Errorf("invalid engine %q (valid: %s)", cfg.Engine, strings.Join(EngineNames, ", "))
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s engine: %w", cfg.Engine, err)
	}
	return engine, nil
}
