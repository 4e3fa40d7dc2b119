package scanning

import (
	"context"
	"image"
	"strings"
)

// DefaultLanguages are the OCR language hints used when none are configured.
// Receipts are commonly bilingual: Latin-script English plus Thai.
var DefaultLanguages = []string{"eng", "tha"}

// Recognizer defines the interface for OCR engines
type Recognizer interface {
	// Recognize returns the raw text found in img. Languages must hold at least one hint.
	// The result is unstructured and may contain misreads; callers must not trust its layout.
	Recognize(ctx context.Context, img image.Image, languages []string) (string, error)
	// Close releases resources held by the engine
	Close() error
}

// ParseLanguages splits a tesseract-style language list ("eng+tha", "eng,tha") into hints.
func ParseLanguages(list string) []string {
	fields := strings.FieldsFunc(list, func(r rune) bool {
		return r == '+' || r == ',' || r == ' '
	})
	langs := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			langs = append(langs, f)
		}
	}
	if len(langs) == 0 {
		return append([]string(nil), DefaultLanguages...)
	}
	return langs
}
