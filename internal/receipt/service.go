package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-ledger/internal/scanning"
)

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// CaptureResult describes one capture attempt. Sequence and Image are set as
// soon as the frame is stored, even when the attempt later fails.
type CaptureResult struct {
	Sequence uint64         `json:"sequence"`
	Image    string         `json:"image,omitempty"`
	Text     string         `json:"text,omitempty"`
	Phase    scanning.Phase `json:"phase,omitempty"`
	Receipt  *Receipt       `json:"receipt,omitempty"`
}

// Service handles receipt operations
type Service struct {
	db         DB
	counter    Counter
	storage    Storage
	recognizer scanning.Recognizer
	extractor  *scanning.TotalExtractor
	languages  []string
	timeSource TimeSource
	metrics    *Metrics

	// held for a whole capture attempt so sequence order matches insert order
	captureMu sync.Mutex
}

// NewService creates a new Service with the default time source and no metrics
func NewService(db DB, counter Counter, storage Storage, recognizer scanning.Recognizer, extractor *scanning.TotalExtractor, languages []string) *Service {
	return NewServiceWithDeps(db, counter, storage, recognizer, extractor, languages, &defaultTimeSource{}, nil)
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, counter Counter, storage Storage, recognizer scanning.Recognizer, extractor *scanning.TotalExtractor, languages []string, timeSrc TimeSource, metrics *Metrics) *Service {
	if extractor == nil {
		extractor, _ = scanning.NewTotalExtractor(scanning.DefaultExtractorConfig())
	}
	if len(languages) == 0 {
		languages = scanning.DefaultLanguages
	}
	if timeSrc == nil {
		timeSrc = &defaultTimeSource{}
	}
	return &Service{
		db:         db,
		counter:    counter,
		storage:    storage,
		recognizer: recognizer,
		extractor:  extractor,
		languages:  languages,
		timeSource: timeSrc,
		metrics:    metrics,
	}
}

// Capture runs one capture attempt: acquire a frame, number and store it,
// read its total and record a receipt. A failed attempt keeps the stored
// image and the consumed sequence number; nothing is rolled back.
func (s *Service) Capture(ctx context.Context, acquirer Acquirer) (*CaptureResult, error) {
	s.captureMu.Lock()
	defer s.captureMu.Unlock()

	frame, err := acquirer.Acquire(ctx)
	if err == nil && frame == nil {
		err = fmt.Errorf("%w: no frame delivered", ErrAcquisitionCancelled)
	}
	if err != nil {
		if errors.Is(err, ErrAcquisitionCancelled) {
			slog.Info("Capture cancelled", "error", err)
			s.metrics.capture(OutcomeCancelled)
			return nil, err
		}
		s.metrics.capture(OutcomeAcquisitionFailed)
		if !errors.Is(err, ErrAcquisitionFailed) {
			err = fmt.Errorf("%w: %w", ErrAcquisitionFailed, err)
		}
		return nil, err
	}

	seq, err := s.counter.Next()
	if err != nil {
		s.metrics.capture(OutcomeError)
		return nil, fmt.Errorf("advancing image counter: %w", err)
	}
	result := &CaptureResult{Sequence: seq}

	contentType := scanning.DetectContentType(frame.Data, frame.ContentType)
	name, err := s.storage.Save(fmt.Sprintf("%d.%s", seq, scanning.ExtensionFor(contentType)), frame.Data)
	if err != nil {
		s.metrics.capture(OutcomeError)
		return result, fmt.Errorf("saving image %d: %w", seq, err)
	}
	result.Image = name

	text, extraction, err := s.readTotal(ctx, frame.Data, contentType)
	result.Text = text
	if err != nil {
		slog.Warn("Failed to read receipt total",
			"sequence", seq,
			"image", name,
			"content_type", contentType,
			"error", err,
		)
		if errors.Is(err, scanning.ErrNoTotalFound) {
			s.metrics.capture(OutcomeNoTotal)
		} else {
			s.metrics.capture(OutcomeError)
		}
		return result, fmt.Errorf("reading total from %s: %w", name, err)
	}
	result.Phase = extraction.Phase
	s.metrics.extraction(extraction.Phase)

	timestamp := s.timeSource.Now().Format(TimestampLayout)
	id, err := s.db.InsertReceipt(extraction.Total, timestamp, DefaultCategory)
	if err != nil {
		s.metrics.capture(OutcomeError)
		return result, fmt.Errorf("saving receipt to database: %w", err)
	}
	s.metrics.write(opInsert)
	s.metrics.capture(OutcomeRecorded)

	result.Receipt = &Receipt{
		ID:        id,
		Total:     extraction.Total,
		Timestamp: timestamp,
		Category:  DefaultCategory,
	}
	slog.Info("Receipt captured",
		"id", id,
		"sequence", seq,
		"image", name,
		"total", extraction.Total.StringFixed(2),
		"phase", extraction.Phase,
	)
	return result, nil
}

func (s *Service) readTotal(ctx context.Context, data []byte, contentType string) (string, scanning.Extraction, error) {
	if s.recognizer == nil {
		return "", scanning.Extraction{}, fmt.Errorf("no text recognizer configured")
	}
	img, err := scanning.DecodeImage(data, contentType)
	if err != nil {
		return "", scanning.Extraction{}, fmt.Errorf("decoding image: %w", err)
	}
	text, err := s.recognizer.Recognize(ctx, scanning.Normalize(img), s.languages)
	if err != nil {
		return "", scanning.Extraction{}, fmt.Errorf("recognizing text: %w", err)
	}
	extraction, err := s.extractor.Extract(text)
	if err != nil {
		return text, scanning.Extraction{}, err
	}
	return text, extraction, nil
}

// AddReceipt records a manually entered receipt
func (s *Service) AddReceipt(total, timestamp, category string) (*Receipt, error) {
	amount, err := ParseTotal(total)
	if err != nil {
		return nil, err
	}
	ts, err := ParseTimestamp(timestamp)
	if err != nil {
		return nil, err
	}
	category = normalizeCategory(category)

	id, err := s.db.InsertReceipt(amount, ts, category)
	if err != nil {
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}
	s.metrics.write(opInsert)
	return &Receipt{ID: id, Total: amount, Timestamp: ts, Category: category}, nil
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id uint64) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// UpdateTotal corrects the total of a receipt; false means no such id
func (s *Service) UpdateTotal(id uint64, total string) (bool, error) {
	amount, err := ParseTotal(total)
	if err != nil {
		return false, err
	}
	found, err := s.db.UpdateTotal(id, amount)
	if err != nil {
		return false, fmt.Errorf("updating total: %w", err)
	}
	if found {
		s.metrics.write(opUpdateTotal)
	}
	return found, nil
}

// UpdateCategory recategorizes a receipt; an empty category resets it to the default
func (s *Service) UpdateCategory(id uint64, category string) (bool, error) {
	found, err := s.db.UpdateCategory(id, category)
	if err != nil {
		return false, fmt.Errorf("updating category: %w", err)
	}
	if found {
		s.metrics.write(opUpdateCategory)
	}
	return found, nil
}

// DeleteReceipt removes a receipt; its captured image is kept
func (s *Service) DeleteReceipt(id uint64) (bool, error) {
	found, err := s.db.DeleteReceipt(id)
	if err != nil {
		return false, fmt.Errorf("deleting receipt from database: %w", err)
	}
	if found {
		s.metrics.write(opDelete)
	}
	return found, nil
}

// TotalExpense sums every receipt total
func (s *Service) TotalExpense() (decimal.Decimal, error) {
	total, err := s.db.AggregateTotal()
	if err != nil {
		return decimal.Zero, fmt.Errorf("summing receipts: %w", err)
	}
	return total, nil
}

// CategoryTotals sums receipt totals per category
func (s *Service) CategoryTotals() ([]*CategoryTotal, error) {
	totals, err := s.db.CategoryTotals()
	if err != nil {
		return nil, fmt.Errorf("summing categories: %w", err)
	}
	return totals, nil
}

// GetImage retrieves a captured image and its content type
func (s *Service) GetImage(name string) ([]byte, string, error) {
	data, err := s.storage.Get(name)
	if err != nil {
		return nil, "", fmt.Errorf("getting image: %w", err)
	}
	return data, scanning.DetectContentType(data, mime.TypeByExtension(filepath.Ext(name))), nil
}
