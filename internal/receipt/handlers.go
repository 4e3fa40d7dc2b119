package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/zombor/receipt-ledger/internal/scanning"
)

// maxUploadSize bounds capture uploads; high-resolution phone photos fit comfortably
const maxUploadSize = int64(50 << 20)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeServiceError maps service errors onto status codes
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMalformedInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Receipt not found")
	default:
		slog.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Receipt ID must be a positive integer")
		return 0, false
	}
	return id, true
}

// handleListReceipts returns a list of all receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

type addReceiptRequest struct {
	Total     json.Number `json:"total"`
	Timestamp string      `json:"timestamp"`
	Category  string      `json:"category"`
}

// handleAddReceipt records a manually entered receipt
func (s *Server) handleAddReceipt(w http.ResponseWriter, r *http.Request) {
	var req addReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	receipt, err := s.service.AddReceipt(req.Total.String(), req.Timestamp, req.Category)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	receipt, err := s.service.GetReceipt(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleUpdateTotal corrects the total of a receipt
func (s *Server) handleUpdateTotal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Total json.Number `json:"total"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	found, err := s.service.UpdateTotal(id, req.Total.String())
	s.respondUpdated(w, id, found, err)
}

// handleUpdateCategory recategorizes a receipt
func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	found, err := s.service.UpdateCategory(id, req.Category)
	s.respondUpdated(w, id, found, err)
}

func (s *Server) respondUpdated(w http.ResponseWriter, id uint64, found bool, err error) {
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Receipt not found")
		return
	}
	receipt, err := s.service.GetReceipt(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	found, err := s.service.DeleteReceipt(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Receipt not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type summaryResponse struct {
	Total      string           `json:"total"`
	Count      int              `json:"count"`
	Categories []*CategoryTotal `json:"categories"`
}

// handleSummary reports the aggregate and per-category totals
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	total, err := s.service.TotalExpense()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	categories, err := s.service.CategoryTotals()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	count := 0
	for _, c := range categories {
		count += c.Count
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		Total:      total.StringFixed(2),
		Count:      count,
		Categories: categories,
	})
}

// handleCapture runs a capture attempt on an uploaded frame
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "File is too large. Maximum size is 50MB.")
			return
		}
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file")
		return
	}

	frame := &Frame{
		Data:        data,
		ContentType: scanning.DetectContentType(data, header.Header.Get("Content-Type")),
	}
	result, err := s.service.Capture(r.Context(), FrameAcquirer{Frame: frame})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, result)
	case result != nil:
		// the frame was stored but no receipt was recorded
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    err.Error(),
			"sequence": result.Sequence,
			"image":    result.Image,
		})
	case errors.Is(err, ErrAcquisitionCancelled), errors.Is(err, ErrAcquisitionFailed):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Error capturing receipt", "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// handleGetImage returns a captured image
func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetImage(r.PathValue("name"))
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrMalformedInput) {
			writeError(w, http.StatusNotFound, "Image not found")
			return
		}
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleExport returns the ledger as an XLSX workbook
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.ExportXLSX()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="receipts.xlsx"`)
	w.Write(data)
}
