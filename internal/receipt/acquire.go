package receipt

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/zombor/receipt-ledger/internal/scanning"
)

// Frame is one captured still image
type Frame struct {
	Data        []byte
	ContentType string
}

// Acquirer produces a single frame on request. Implementations return an
// error wrapping ErrAcquisitionCancelled when told not to deliver a frame and
// ErrAcquisitionFailed when the source could not deliver one.
type Acquirer interface {
	Acquire(ctx context.Context) (*Frame, error)
}

// FileAcquirer reads the frame from an image file on disk
type FileAcquirer struct {
	Path string
}

// Acquire reads the file at Path
func (a FileAcquirer) Acquire(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAcquisitionCancelled, err)
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAcquisitionFailed, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrAcquisitionFailed, a.Path)
	}
	contentType := scanning.DetectContentType(data, mime.TypeByExtension(filepath.Ext(a.Path)))
	return &Frame{Data: data, ContentType: contentType}, nil
}

// FrameAcquirer hands over a frame that is already in memory, such as an upload
type FrameAcquirer struct {
	Frame *Frame
}

// Acquire returns the held frame
func (a FrameAcquirer) Acquire(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAcquisitionCancelled, err)
	}
	if a.Frame == nil {
		return nil, fmt.Errorf("%w: no frame supplied", ErrAcquisitionCancelled)
	}
	if len(a.Frame.Data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrAcquisitionFailed)
	}
	return a.Frame, nil
}
