package scanning

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)

	if err != nil {
		slog.Error("exec failed",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10), // cap at 8KB
		)
	} else {
		slog.Debug("exec ok",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"stdout_bytes", out.Len(),
		)
	}

	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// TesseractConfig configures the tesseract CLI adapter
type TesseractConfig struct {
	Binary      string // binary name or absolute path; if empty -> "tesseract"
	TessdataDir string
	PSM         int // page segmentation mode; 0 leaves tesseract's default
	TempDir     string
}

// Tesseract implements the Recognizer interface by shelling out to the tesseract CLI
type Tesseract struct {
	cfg    TesseractConfig
	runner Runner
}

// NewTesseract creates a new Tesseract Recognizer
func NewTesseract(cfg TesseractConfig) *Tesseract {
	return NewTesseractWithRunner(cfg, execRunner{})
}

// NewTesseractWithRunner creates a Tesseract Recognizer with a custom command runner for testing
func NewTesseractWithRunner(cfg TesseractConfig, runner Runner) *Tesseract {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	return &Tesseract{cfg: cfg, runner: runner}
}

var reCRLF = regexp.MustCompile(`\r\n?`)

// Recognize writes img to a temporary PNG and runs
// tesseract <png> stdout -l <lang+lang> [--psm N] [--tessdata-dir D]
func (t *Tesseract) Recognize(ctx context.Context, img image.Image, languages []string) (string, error) {
	if len(languages) == 0 {
		return "", fmt.Errorf("at least one language hint is required")
	}

	pngData, err := EncodePNG(img)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(t.cfg.TempDir, "receipt-ocr-*.png")
	if err != nil {
		return "", fmt.Errorf("creating temp image: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(pngData); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing temp image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp image: %w", err)
	}

	args := []string{tmp.Name(), "stdout", "-l", strings.Join(languages, "+")}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}

	out, errb, err := t.runner.Run(ctx, t.cfg.Binary, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(strings.TrimSpace(string(errb)), 512))
	}

	return reCRLF.ReplaceAllString(string(out), "\n"), nil
}

// Close is a no-op for the CLI adapter
func (t *Tesseract) Close() error {
	return nil
}
