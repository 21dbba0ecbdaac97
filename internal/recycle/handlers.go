package recycle

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/bluebin/internal/detection"
)

const (
	maxUploadSize  = int64(20 << 20) // 20MB
	maxDisplaySide = 8192
	serviceName    = "bluebin-detector"
)

// detectRequest is the JSON body of POST /api/detect
type detectRequest struct {
	Image         string `json:"image" validate:"required"`
	DisplayWidth  int    `json:"display_width" validate:"omitempty,min=1,max=8192"`
	DisplayHeight int    `json:"display_height" validate:"omitempty,min=1,max=8192"`
}

// feedbackRequest is the JSON body of POST /api/feedback
type feedbackRequest struct {
	IsCorrect *bool  `json:"is_correct" validate:"required"`
	Consent   bool   `json:"consent"`
	Email     string `json:"email" validate:"omitempty,email,max=254"`
}

// captureResponse is what the page receives after a cycle
type captureResponse struct {
	Success         bool                  `json:"success"`
	CaptureID       string                `json:"capture_id"`
	Detections      detection.Batch       `json:"detections"`
	Placements      []detection.Placement `json:"placements"`
	Count           int                   `json:"count"`
	RecyclableCount int                   `json:"recyclable_count"`
	Prediction      Prediction            `json:"prediction"`
	Message         string                `json:"message,omitempty"`
	Width           int                   `json:"width"`
	Height          int                   `json:"height"`
	DisplayWidth    int                   `json:"display_width"`
	DisplayHeight   int                   `json:"display_height"`
	OverlayURL      string                `json:"overlay_url"`
}

func newCaptureResponse(c *Capture) captureResponse {
	resp := captureResponse{
		Success:         true,
		CaptureID:       c.ID,
		Detections:      c.Detections,
		Placements:      c.Placements,
		Count:           len(c.Detections),
		RecyclableCount: c.RecyclableCount,
		Prediction:      c.Prediction,
		Width:           c.Width,
		Height:          c.Height,
		DisplayWidth:    c.DisplayWidth,
		DisplayHeight:   c.DisplayHeight,
		OverlayURL:      "/api/captures/current/overlay.png?id=" + c.ID,
	}
	if resp.Detections == nil {
		resp.Detections = detection.Batch{}
	}
	if resp.Placements == nil {
		resp.Placements = []detection.Placement{}
	}
	if c.RecyclableCount == 0 {
		resp.Message = NoItemsMessage
	}
	return resp
}

// writeJSON writes v as JSON with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes the {success:false, error} body used by every JSON endpoint
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{
		"success": false,
		"error":   message,
	})
}

// detectStatus maps a cycle error to a status code and a message safe to show
func detectStatus(err error) (int, string) {
	switch {
	case errors.Is(err, detection.ErrInvalidInput):
		return http.StatusBadRequest, "Invalid image payload"
	case errors.Is(err, detection.ErrConfiguration):
		return http.StatusServiceUnavailable, "detection service is not configured"
	case detection.IsTransport(err):
		return http.StatusBadGateway, "detection service unavailable"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// writeCycleResult answers a capture cycle: 204 when busy, an error status on
// failure and the capture otherwise
func writeCycleResult(w http.ResponseWriter, capture *Capture, err error) {
	if errors.Is(err, ErrBusy) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		code, message := detectStatus(err)
		writeError(w, code, message)
		return
	}
	writeJSON(w, http.StatusOK, newCaptureResponse(capture))
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleStaticCSS serves the CSS file
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css")
	w.Write(appCSS)
}

// handleStaticJS serves the JavaScript file
func (s *Server) handleStaticJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(appJS)
}

// handleHealth reports liveness and whether the detector can be called
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "healthy",
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
		"service":             serviceName,
		"detector_configured": s.service.DetectorConfigured(),
	})
}

// handleDetect runs a cycle on a base64 image posted as JSON
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadSize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request. Expected {image: base64string}")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request. Expected {image: base64string}")
		return
	}

	ctrl := s.session(w, r)
	capture, err := s.service.Analyze(r.Context(), ctrl, Frame{
		Base64:        req.Image,
		DisplayWidth:  req.DisplayWidth,
		DisplayHeight: req.DisplayHeight,
	})
	writeCycleResult(w, capture, err)
}

// handleUploadCapture runs a cycle on a multipart image upload
func (s *Server) handleUploadCapture(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "Image is too large. Maximum size is 20MB."
		}
		writeError(w, http.StatusBadRequest, errorMsg)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No image was provided")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading image. Please try again.")
		return
	}

	displayWidth, okW := formDimension(r.FormValue("display_width"))
	displayHeight, okH := formDimension(r.FormValue("display_height"))
	if !okW || !okH {
		writeError(w, http.StatusBadRequest, "display_width and display_height must be positive integers")
		return
	}

	ctrl := s.session(w, r)
	capture, err := s.service.Analyze(r.Context(), ctrl, Frame{
		Data:          data,
		ContentType:   uploadContentType(header.Header.Get("Content-Type"), header.Filename),
		DisplayWidth:  displayWidth,
		DisplayHeight: displayHeight,
	})
	writeCycleResult(w, capture, err)
}

// formDimension parses an optional positive pixel size
func formDimension(v string) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > maxDisplaySide {
		return 0, false
	}
	return n, true
}

// uploadContentType determines the content type of an uploaded frame
func uploadContentType(declared, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		// the encoder sniffs the bytes
		return ""
	}
}

// handleCurrentCapture returns the session's current capture
func (s *Server) handleCurrentCapture(w http.ResponseWriter, r *http.Request) {
	capture := s.session(w, r).Current()
	if capture == nil {
		writeError(w, http.StatusNotFound, "No current capture")
		return
	}
	writeJSON(w, http.StatusOK, newCaptureResponse(capture))
}

// handleCurrentOverlay returns the overlay layer of the current capture
func (s *Server) handleCurrentOverlay(w http.ResponseWriter, r *http.Request) {
	capture := s.session(w, r).Current()
	if capture == nil {
		writeError(w, http.StatusNotFound, "No current capture")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(capture.Overlay)
}

// handleCurrentAnnotated returns the current frame with its overlay drawn on it
func (s *Server) handleCurrentAnnotated(w http.ResponseWriter, r *http.Request) {
	capture := s.session(w, r).Current()
	if capture == nil {
		writeError(w, http.StatusNotFound, "No current capture")
		return
	}

	data, err := s.service.Annotated(capture)
	if err != nil {
		slog.Error("Error rendering annotated image", "capture_id", capture.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Disposition", `attachment; filename="bluebin-`+capture.ID+`.jpg"`)
	w.Write(data)
}

// handleResetCapture clears the current capture and returns the session to idle
func (s *Server) handleResetCapture(w http.ResponseWriter, r *http.Request) {
	s.session(w, r).Reset()
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmitFeedback stores the user's judgment of the current capture
func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "is_correct is required and email must be a valid address")
		return
	}

	capture := s.session(w, r).Current()
	feedback, err := s.service.SubmitFeedback(capture, FeedbackInput{
		IsCorrect: *req.IsCorrect,
		Consent:   req.Consent,
		Email:     strings.TrimSpace(req.Email),
	})
	switch {
	case errors.Is(err, ErrConsentRequired):
		writeError(w, http.StatusBadRequest, "Consent is required to send feedback")
		return
	case errors.Is(err, ErrNoCapture):
		writeError(w, http.StatusConflict, "There is no capture to give feedback on")
		return
	case err != nil:
		slog.Error("Error saving feedback", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, feedback)
}

// handleListFeedback returns all feedback records
func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListFeedback()
	if err != nil {
		slog.Error("Error listing feedback", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// Ensure we always return an array, not nil
	if records == nil {
		records = []*Feedback{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetFeedback returns a single feedback record
func (s *Server) handleGetFeedback(w http.ResponseWriter, r *http.Request) {
	feedback, err := s.service.GetFeedback(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Feedback not found")
		return
	}
	writeJSON(w, http.StatusOK, feedback)
}

// handleGetFeedbackImage returns the image stored with a feedback record
func (s *Server) handleGetFeedbackImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetFeedbackImage(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Image not found")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteFeedback deletes a feedback record and its image
func (s *Server) handleDeleteFeedback(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteFeedback(r.PathValue("id"))
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Feedback not found")
		return
	case err != nil:
		slog.Error("Error deleting feedback", "error", err)
		writeError(w, http.StatusInternalServerError, "Error deleting feedback")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
