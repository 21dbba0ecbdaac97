package recycle

import (
	"time"

	"github.com/zombor/bluebin/internal/detection"
)

// NoItemsMessage is the prediction item when a capture has no detections
const NoItemsMessage = "No recyclable items detected"

// Prediction summarizes a capture for feedback
type Prediction struct {
	Item         string  `json:"item"`
	IsRecyclable bool    `json:"isRecyclable"`
	Confidence   float64 `json:"confidence"`
}

// Summarize builds the prediction for a batch from its first detection.
// The vision model does not report confidence, so a detection counts as certain.
func Summarize(batch detection.Batch) Prediction {
	if len(batch) == 0 {
		return Prediction{Item: NoItemsMessage}
	}
	return Prediction{
		Item:         batch[0].Label,
		IsRecyclable: batch[0].Recyclable,
		Confidence:   1.0,
	}
}

// Capture is the result of one capture cycle. A session holds at most one and
// replaces it wholesale on the next successful cycle.
type Capture struct {
	ID              string                `json:"id"`
	Timestamp       time.Time             `json:"timestamp"`
	Width           int                   `json:"width"`
	Height          int                   `json:"height"`
	DisplayWidth    int                   `json:"display_width"`
	DisplayHeight   int                   `json:"display_height"`
	Detections      detection.Batch       `json:"detections"`
	Placements      []detection.Placement `json:"placements"`
	Rejections      []detection.Rejection `json:"rejections,omitempty"`
	RecyclableCount int                   `json:"recyclable_count"`
	Prediction      Prediction            `json:"prediction"`
	JPEG            []byte                `json:"-"`
	Overlay         []byte                `json:"-"`
}

// Feedback pairs a captured image with the user's judgment of the prediction
type Feedback struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	CaptureID   string          `json:"capture_id"`
	Filename    string          `json:"filename"`
	ContentType string          `json:"content_type"`
	Prediction  Prediction      `json:"prediction"`
	IsCorrect   bool            `json:"isCorrect"`
	Email       string          `json:"email,omitempty"`
	Detections  detection.Batch `json:"detections"`
}
