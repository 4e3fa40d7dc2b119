package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"unicode/utf8"

	"github.com/peterbourgon/ff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zombor/receipt-ledger/internal/receipt"
	"github.com/zombor/receipt-ledger/internal/scanning"
)

// rootConfig holds the flags shared by every subcommand
type rootConfig struct {
	flags *ff.FlagSet

	logLevel  *string
	logFormat *string

	store       *string
	dbPath      *string
	counter     *string
	counterPath *string
	imgDir      *string

	recognizer   *string
	languages    *string
	tesseractBin *string
	tessdataDir  *string
	psm          *int
	geminiKey    *string
	geminiModel  *string
	ollamaURL    *string
	ollamaModel  *string

	marker          *string
	decimalPoint    *string
	groupSeparators *string
}

func newRootConfig() *rootConfig {
	fs := ff.NewFlagSet("receipt-ledger")
	return &rootConfig{
		flags: fs,

		logLevel:  fs.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
		logFormat: fs.StringLong("log-format", "text", "Log format: text or json"),

		store:       fs.StringLong("store", "bolt", "Ledger store: 'bolt' or 'sqlite'"),
		dbPath:      fs.StringLong("db", "", "Ledger database path (default receipts.db or receipts.sqlite)"),
		counter:     fs.StringLong("counter", "file", "Image counter: 'file' or 'ledger'"),
		counterPath: fs.StringLong("counter-file", "counter.txt", "Counter file path when --counter=file"),
		imgDir:      fs.StringLong("img-dir", "./img", "Directory for captured images"),

		recognizer:   fs.StringLong("recognizer", "tesseract", "Text recognizer: 'tesseract', 'gemini' or 'ollama'"),
		languages:    fs.StringLong("languages", "eng+tha", "OCR language hints, e.g. eng+tha"),
		tesseractBin: fs.StringLong("tesseract-bin", "tesseract", "Tesseract binary"),
		tessdataDir:  fs.StringLong("tessdata-dir", "", "Tesseract tessdata directory (optional)"),
		psm:          fs.IntLong("psm", 0, "Tesseract page segmentation mode (0 keeps the default)"),
		geminiKey:    fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel:  fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name"),
		ollamaURL:    fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel:  fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)"),

		marker:          fs.StringLong("marker", scanning.DefaultMarker, "Label that precedes the receipt total"),
		decimalPoint:    fs.StringLong("decimal-point", ".", "Decimal point character"),
		groupSeparators: fs.StringLong("group-separators", ",", "Digit grouping characters"),
	}
}

// ledger is a receipt database that also hands out sequences
type ledger interface {
	receipt.DB
	receipt.SequenceStore
}

// app is the wired service and everything that needs closing afterwards
type app struct {
	db         ledger
	recognizer scanning.Recognizer
	service    *receipt.Service
	registry   *prometheus.Registry
}

// openApp wires the service. The recognizer is only built when withOCR is set.
func (c *rootConfig) openApp(withOCR bool) (*app, error) {
	db, err := c.openLedger()
	if err != nil {
		return nil, err
	}
	a := &app{db: db, registry: prometheus.NewRegistry()}

	counter, err := c.openCounter(db)
	if err != nil {
		a.Close()
		return nil, err
	}

	storage, err := receipt.NewLocalStorage(*c.imgDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	if _, err := receipt.AlignCounter(counter, storage); err != nil {
		a.Close()
		return nil, fmt.Errorf("aligning image counter: %w", err)
	}

	extractor, err := c.newExtractor()
	if err != nil {
		a.Close()
		return nil, err
	}

	if withOCR {
		a.recognizer, err = c.newRecognizer()
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.registry.MustRegister(collectors.NewGoCollector())
	metrics := receipt.NewMetrics(a.registry)

	a.service = receipt.NewServiceWithDeps(
		db,
		counter,
		storage,
		a.recognizer,
		extractor,
		scanning.ParseLanguages(*c.languages),
		nil,
		metrics,
	)
	return a, nil
}

// Close releases the recognizer and the ledger
func (a *app) Close() {
	if a.recognizer != nil {
		if err := a.recognizer.Close(); err != nil {
			slog.Warn("Failed to close recognizer", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
}

func (c *rootConfig) openLedger() (ledger, error) {
	path := *c.dbPath
	switch *c.store {
	case "bolt":
		if path == "" {
			path = "receipts.db"
		}
		slog.Debug("Opening ledger", "store", "bolt", "path", path)
		db, err := receipt.NewBoltDB(path)
		if err != nil {
			return nil, fmt.Errorf("initializing database: %w", err)
		}
		return db, nil
	case "sqlite":
		if path == "" {
			path = "receipts.sqlite"
		}
		slog.Debug("Opening ledger", "store", "sqlite", "path", path)
		db, err := receipt.NewSQLiteDB(path)
		if err != nil {
			return nil, fmt.Errorf("initializing database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("invalid store %q: want bolt or sqlite", *c.store)
	}
}

func (c *rootConfig) openCounter(db receipt.SequenceStore) (receipt.Counter, error) {
	switch *c.counter {
	case "file":
		counter, err := receipt.NewFileCounter(*c.counterPath)
		if err != nil {
			return nil, fmt.Errorf("initializing counter: %w", err)
		}
		return counter, nil
	case "ledger":
		return receipt.NewLedgerCounter(db, receipt.ImageSequence), nil
	default:
		return nil, fmt.Errorf("invalid counter %q: want file or ledger", *c.counter)
	}
}

func (c *rootConfig) newExtractor() (*scanning.TotalExtractor, error) {
	point, err := parseDecimalPoint(*c.decimalPoint)
	if err != nil {
		return nil, err
	}
	extractor, err := scanning.NewTotalExtractor(scanning.ExtractorConfig{
		Marker:          *c.marker,
		DecimalPoint:    point,
		GroupSeparators: *c.groupSeparators,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring total extractor: %w", err)
	}
	return extractor, nil
}

func parseDecimalPoint(s string) (rune, error) {
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("invalid decimal point %q: want exactly one character", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

func (c *rootConfig) newRecognizer() (scanning.Recognizer, error) {
	switch *c.recognizer {
	case "tesseract":
		slog.Info("Initializing Tesseract recognizer...", "binary", *c.tesseractBin)
		return scanning.NewTesseract(scanning.TesseractConfig{
			Binary:      *c.tesseractBin,
			TessdataDir: *c.tessdataDir,
			PSM:         *c.psm,
		}), nil
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *c.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini recognizer...", "model", *c.geminiModel)
		g, err := scanning.NewGemini(apiKey, *c.geminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return g, nil
	case "ollama":
		slog.Info("Initializing Ollama recognizer...", "url", *c.ollamaURL, "model", *c.ollamaModel)
		o, err := scanning.NewOllama(*c.ollamaURL, *c.ollamaModel)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama: %w", err)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("invalid recognizer %q: want tesseract, gemini or ollama", *c.recognizer)
	}
}
