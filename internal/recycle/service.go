package recycle

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/zombor/bluebin/internal/detection"
	"github.com/zombor/bluebin/internal/overlay"
)

var (
	// ErrBusy is returned when a session already has a cycle in flight
	ErrBusy = errors.New("a capture is already in progress")

	// ErrNoCapture is returned when an operation needs a current capture and there is none
	ErrNoCapture = errors.New("no current capture")

	// ErrConsentRequired is returned for feedback sent without consent
	ErrConsentRequired = errors.New("consent is required to send feedback")
)

// IDGenerator generates unique IDs for captures and feedback
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// ulidGenerator generates lexically sortable ULIDs
type ulidGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
}

func newULIDGenerator() *ulidGenerator {
	return &ulidGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *ulidGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Pipeline holds the stages a frame passes through after capture
type Pipeline struct {
	Encoder    *detection.FrameEncoder
	Normalizer *detection.Normalizer
	Renderer   *overlay.Renderer
}

func (p Pipeline) withDefaults() Pipeline {
	if p.Encoder == nil {
		p.Encoder = detection.NewFrameEncoder(1024)
	}
	if p.Normalizer == nil {
		p.Normalizer = detection.NewNormalizer(nil)
	}
	if p.Renderer == nil {
		p.Renderer = overlay.NewRenderer(false)
	}
	return p
}

// Frame is a captured still as received from the page. Either Data or Base64 is set.
type Frame struct {
	Data          []byte
	ContentType   string
	Base64        string
	DisplayWidth  int
	DisplayHeight int
}

// FeedbackInput is the user's judgment of the current capture
type FeedbackInput struct {
	IsCorrect bool
	Consent   bool
	Email     string
}

// Service runs capture cycles and handles feedback
type Service struct {
	detector    detection.Detector
	pipeline    Pipeline
	db          DB
	storage     Storage
	metrics     *Metrics
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(detector detection.Detector, pipeline Pipeline, db DB, storage Storage, metrics *Metrics) *Service {
	return NewServiceWithDeps(detector, pipeline, db, storage, metrics, newULIDGenerator(), &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(detector detection.Detector, pipeline Pipeline, db DB, storage Storage, metrics *Metrics, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		detector:    detector,
		pipeline:    pipeline.withDefaults(),
		db:          db,
		storage:     storage,
		metrics:     metrics,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// DetectorConfigured reports whether the detector can be called
func (s *Service) DetectorConfigured() bool {
	return s.detector != nil && s.detector.Configured()
}

// Analyze runs one capture cycle for the session owned by ctrl.
// It returns ErrBusy without doing anything when a cycle is already running.
func (s *Service) Analyze(ctx context.Context, ctrl *Controller, frame Frame) (*Capture, error) {
	cycle, ok := ctrl.Begin()
	if !ok {
		s.metrics.observeCycle("busy")
		return nil, ErrBusy
	}

	capture, err := s.runCycle(ctx, ctrl, cycle, frame)
	if err != nil {
		ctrl.Fail(cycle)
		s.metrics.observeCycle("failed")
		s.metrics.observeError(err)
		return nil, err
	}

	if !ctrl.Complete(cycle, capture) {
		slog.Info("Discarding capture for a session that was reset", "capture_id", capture.ID)
		s.metrics.observeCycle("discarded")
		return capture, nil
	}

	s.metrics.observeCycle("completed")
	return capture, nil
}

func (s *Service) runCycle(ctx context.Context, ctrl *Controller, cycle Cycle, frame Frame) (*Capture, error) {
	var (
		encoded *detection.EncodedFrame
		err     error
	)
	if frame.Base64 != "" {
		encoded, err = s.pipeline.Encoder.EncodeBase64(frame.Base64)
	} else {
		encoded, err = s.pipeline.Encoder.Encode(frame.Data, frame.ContentType)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}

	ctrl.Advance(cycle, AwaitingDetection)

	// Once issued, the request runs to completion even if the client goes away
	start := time.Now()
	raw, err := s.detector.Detect(context.WithoutCancel(ctx), encoded.Base64)
	s.metrics.observeDetect(time.Since(start))
	if err != nil {
		slog.Error("Detection failed",
			"frame_width", encoded.Width,
			"frame_height", encoded.Height,
			"payload_size", len(encoded.Base64),
			"error", err,
		)
		return nil, fmt.Errorf("detecting items: %w", err)
	}

	report := s.pipeline.Normalizer.NormalizeReport(raw)
	s.metrics.observeReport(report)
	switch {
	case report.ParseErr != nil:
		slog.Warn("Detection reply is not valid JSON", "error", report.ParseErr, "reply_length", len(raw))
	case !report.Found:
		slog.Warn("Detection reply holds no array", "reply_length", len(raw))
	}
	for _, r := range report.Rejections {
		slog.Debug("Dropped detection", "index", r.Index, "label", r.Label, "reason", r.Reason)
	}

	ctrl.Advance(cycle, Rendering)

	displayWidth, displayHeight := frame.DisplayWidth, frame.DisplayHeight
	if displayWidth <= 0 || displayHeight <= 0 {
		displayWidth, displayHeight = encoded.Width, encoded.Height
	}

	placements := detection.MapBatch(report.Batch,
		float64(encoded.Width), float64(encoded.Height),
		float64(displayWidth), float64(displayHeight),
	)
	layer := s.pipeline.Renderer.Render(displayWidth, displayHeight, overlay.Items(placements, overlay.DisplaySpace))
	overlayPNG, err := overlay.EncodePNG(layer)
	if err != nil {
		return nil, fmt.Errorf("rendering overlay: %w", err)
	}

	return &Capture{
		ID:              s.idGenerator.Generate(),
		Timestamp:       s.timeSource.Now(),
		Width:           encoded.Width,
		Height:          encoded.Height,
		DisplayWidth:    displayWidth,
		DisplayHeight:   displayHeight,
		Detections:      report.Batch,
		Placements:      placements,
		Rejections:      report.Rejections,
		RecyclableCount: report.Batch.RecyclableCount(),
		Prediction:      Summarize(report.Batch),
		JPEG:            encoded.JPEG,
		Overlay:         overlayPNG,
	}, nil
}

// Annotated returns the captured frame as a JPEG with the overlay drawn on it
func (s *Service) Annotated(capture *Capture) ([]byte, error) {
	if capture == nil {
		return nil, ErrNoCapture
	}

	frame, err := detection.DecodeImage(capture.JPEG, "image/jpeg")
	if err != nil {
		return nil, fmt.Errorf("decoding capture: %w", err)
	}

	layer := s.pipeline.Renderer.Render(capture.Width, capture.Height, overlay.Items(capture.Placements, overlay.CaptureSpace))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, overlay.Composite(frame, layer), &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encoding annotated image: %w", err)
	}
	return buf.Bytes(), nil
}

// SubmitFeedback stores the capture image and the user's judgment of its prediction
func (s *Service) SubmitFeedback(capture *Capture, in FeedbackInput) (*Feedback, error) {
	if !in.Consent {
		return nil, ErrConsentRequired
	}
	if capture == nil {
		return nil, ErrNoCapture
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	metadata := map[string]string{
		"item":       capture.Prediction.Item,
		"recyclable": strconv.FormatBool(capture.Prediction.IsRecyclable),
		"confidence": strconv.FormatFloat(capture.Prediction.Confidence, 'f', 2, 64),
		"correct":    strconv.FormatBool(in.IsCorrect),
		"capture":    capture.ID,
	}
	if in.Email != "" {
		metadata["email"] = in.Email
	}

	savedPath, err := s.storage.Save(fmt.Sprintf("feedback_%s.jpg", id), capture.JPEG, metadata)
	if err != nil {
		return nil, fmt.Errorf("saving feedback image: %w", err)
	}

	feedback := &Feedback{
		ID:          id,
		Timestamp:   now,
		CaptureID:   capture.ID,
		Filename:    savedPath,
		ContentType: "image/jpeg",
		Prediction:  capture.Prediction,
		IsCorrect:   in.IsCorrect,
		Email:       in.Email,
		Detections:  capture.Detections,
	}

	if err := s.db.SaveFeedback(feedback); err != nil {
		// Clean up file if database save fails
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("saving feedback to database: %w", err)
	}

	s.metrics.observeFeedback(in.IsCorrect)
	slog.Info("Feedback saved", "id", id, "item", feedback.Prediction.Item, "correct", in.IsCorrect)
	return feedback, nil
}

// GetFeedback retrieves a feedback record by ID
func (s *Service) GetFeedback(id string) (*Feedback, error) {
	feedback, err := s.db.GetFeedback(id)
	if err != nil {
		return nil, fmt.Errorf("getting feedback: %w", err)
	}
	return feedback, nil
}

// ListFeedback returns all feedback records
func (s *Service) ListFeedback() ([]*Feedback, error) {
	records, err := s.db.ListFeedback()
	if err != nil {
		return nil, fmt.Errorf("listing feedback: %w", err)
	}
	return records, nil
}

// GetFeedbackImage retrieves the image stored with a feedback record
func (s *Service) GetFeedbackImage(id string) ([]byte, string, error) {
	feedback, err := s.db.GetFeedback(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting feedback: %w", err)
	}

	data, err := s.storage.Get(feedback.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting feedback image: %w", err)
	}

	return data, feedback.ContentType, nil
}

// DeleteFeedback removes a feedback record and its image
func (s *Service) DeleteFeedback(id string) error {
	feedback, err := s.db.GetFeedback(id)
	if err != nil {
		return fmt.Errorf("getting feedback for deletion: %w", err)
	}

	if err := s.storage.Delete(feedback.Filename); err != nil {
		// Log error but continue with database deletion
		slog.Warn("Failed to delete feedback image", "filename", feedback.Filename, "error", err)
	}

	if err := s.db.DeleteFeedback(id); err != nil {
		return fmt.Errorf("deleting feedback from database: %w", err)
	}
	return nil
}
