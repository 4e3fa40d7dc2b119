package scanning

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// ErrNoTotalFound is returned when neither the marker nor any numeric token yields a value
var ErrNoTotalFound = errors.New("no total found")

// DefaultMarker is the label printed before the grand total
const DefaultMarker = "NET-TOTAL:"

// reLineBreak matches every line boundary OCR output may carry, not just "\n"
var reLineBreak = regexp.MustCompile("\r\n|[\n\r\v\f\x1c\x1d\x1e\u0085\u2028\u2029]")

// Phase identifies which strategy produced a total
type Phase string

const (
	PhaseMarker   Phase = "marker"
	PhaseFallback Phase = "fallback"
)

// ExtractorConfig fixes the numeric convention used to read amounts.
// Group separators are stripped unconditionally, so with the default convention
// "1.234" always reads as one point two three four, never as one thousand.
type ExtractorConfig struct {
	Marker          string
	DecimalPoint    rune
	GroupSeparators string
}

// DefaultExtractorConfig returns the NET-TOTAL marker with "." decimals and "," grouping.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		Marker:          DefaultMarker,
		DecimalPoint:    '.',
		GroupSeparators: ",",
	}
}

// Extraction is a successfully read total
type Extraction struct {
	Total decimal.Decimal
	Phase Phase
}

// TotalExtractor reads a single monetary total out of OCR text
type TotalExtractor struct {
	cfg      ExtractorConfig
	reNumber *regexp.Regexp
}

// NewTotalExtractor validates cfg and compiles the fallback token pattern.
func NewTotalExtractor(cfg ExtractorConfig) (*TotalExtractor, error) {
	if strings.TrimSpace(cfg.Marker) == "" {
		return nil, fmt.Errorf("marker is required")
	}
	if cfg.DecimalPoint == 0 {
		cfg.DecimalPoint = '.'
	}
	if unicode.IsDigit(cfg.DecimalPoint) {
		return nil, fmt.Errorf("decimal point %q cannot be a digit", cfg.DecimalPoint)
	}
	for _, r := range cfg.GroupSeparators {
		if r == cfg.DecimalPoint {
			return nil, fmt.Errorf("decimal point %q is also a group separator", r)
		}
		if unicode.IsDigit(r) {
			return nil, fmt.Errorf("group separator %q cannot be a digit", r)
		}
	}

	// digit, then digits or group separators, then an optional decimal point and digits
	pattern := `\p{Nd}[\p{Nd}` + escapeClass(cfg.GroupSeparators) + `]*` +
		regexp.QuoteMeta(string(cfg.DecimalPoint)) + `?\p{Nd}*`
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling number pattern: %w", err)
	}

	return &TotalExtractor{cfg: cfg, reNumber: re}, nil
}

// Extract returns the receipt total found in text, rounded to two decimal places.
// The marker phase wins when any marker line parses; otherwise the largest number anywhere
// in the text is taken, since the grand total is normally the largest printed amount.
func (e *TotalExtractor) Extract(text string) (Extraction, error) {
	if v, ok := e.markerTotal(text); ok {
		return Extraction{Total: round(v), Phase: PhaseMarker}, nil
	}
	if v, ok := e.maxNumber(text); ok {
		return Extraction{Total: round(v), Phase: PhaseFallback}, nil
	}
	return Extraction{}, ErrNoTotalFound
}

func (e *TotalExtractor) markerTotal(text string) (float64, bool) {
	for _, line := range reLineBreak.Split(text, -1) {
		idx := strings.LastIndex(line, e.cfg.Marker)
		if idx < 0 {
			continue
		}
		rest := line[idx+len(e.cfg.Marker):]
		v, err := e.parse(keepNumeric(rest, e.cfg.DecimalPoint))
		if err != nil {
			continue
		}
		return v, true
	}
	return 0, false
}

func (e *TotalExtractor) maxNumber(text string) (float64, bool) {
	var (
		best  float64
		found bool
	)
	for _, token := range e.reNumber.FindAllString(text, -1) {
		cleaned := strings.Map(func(r rune) rune {
			if strings.ContainsRune(e.cfg.GroupSeparators, r) {
				return -1
			}
			return asciiDigit(r)
		}, token)
		v, err := e.parse(cleaned)
		if err != nil {
			continue
		}
		if !found || v > best {
			best = v
			found = true
		}
	}
	return best, found
}

// parse reads s, which holds only digits and the configured decimal point
func (e *TotalExtractor) parse(s string) (float64, error) {
	if e.cfg.DecimalPoint != '.' {
		s = strings.ReplaceAll(s, string(e.cfg.DecimalPoint), ".")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("non-finite amount %q", s)
	}
	return v, nil
}

// keepNumeric drops every rune that is not a digit or the decimal point.
// Digits from any script are kept and folded to ASCII.
func keepNumeric(s string, decimalPoint rune) string {
	return strings.Map(func(r rune) rune {
		if r == decimalPoint {
			return r
		}
		if unicode.IsDigit(r) {
			return asciiDigit(r)
		}
		return -1
	}, s)
}

// asciiDigit maps a decimal digit of any script ("๘", "٣") to its ASCII form.
// Other runes are returned unchanged.
func asciiDigit(r rune) rune {
	if r < utf8.RuneSelf || !unicode.IsDigit(r) {
		return r
	}
	// every Nd range is made of whole blocks of ten starting at zero
	for _, rng := range unicode.Nd.R16 {
		if lo, hi := rune(rng.Lo), rune(rng.Hi); r >= lo && r <= hi && rng.Stride == 1 {
			return '0' + (r-lo)%10
		}
	}
	for _, rng := range unicode.Nd.R32 {
		if lo, hi := rune(rng.Lo), rune(rng.Hi); r >= lo && r <= hi && rng.Stride == 1 {
			return '0' + (r-lo)%10
		}
	}
	return r
}

// escapeClass escapes runes for use inside a regexp character class
func escapeClass(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < unicode.MaxASCII && unicode.IsPunct(r) || r == '^' || r == '$' || r == '+' || r == '|' {
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func round(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}
