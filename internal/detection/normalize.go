package detection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// edgeTolerance is how far past the right or bottom image edge a box may reach
// before it is clipped back to the edge
const edgeTolerance = 0.01

// RejectReason says why a candidate was dropped
type RejectReason string

const (
	RejectUnknownLabel RejectReason = "unknown_label"
	RejectBadShape     RejectReason = "bad_shape"
	RejectOutOfRange   RejectReason = "out_of_range"
	RejectDegenerate   RejectReason = "degenerate"
)

// Candidate is an element of the remote reply after coercion and before validation
type Candidate struct {
	Index      int
	Label      string
	Values     []float64
	Recyclable bool
}

// Rejection records a candidate that failed validation
type Rejection struct {
	Index  int          `json:"index"`
	Label  string       `json:"label"`
	Reason RejectReason `json:"reason"`
}

// NormalizeResult is the full outcome of normalizing one reply
type NormalizeResult struct {
	Batch      Batch
	Rejections []Rejection
	// Found is false when no array-like text was present at all
	Found bool
	// ParseErr is set when an array was found but was not valid JSON
	ParseErr error
}

// Malformed reports whether the reply could not be turned into detections.
// A malformed reply is never an error for the caller; it is an empty batch.
func (r NormalizeResult) Malformed() bool {
	return !r.Found || r.ParseErr != nil
}

// Normalizer turns unreliable model text into a validated Batch
type Normalizer struct {
	categories *Categories
}

// NewNormalizer creates a Normalizer using the given category table
func NewNormalizer(categories *Categories) *Normalizer {
	if categories == nil {
		categories = DefaultCategories()
	}
	return &Normalizer{categories: categories}
}

// Normalize returns the validated detections in raw, in reply order
func (n *Normalizer) Normalize(raw string) Batch {
	return n.NormalizeReport(raw).Batch
}

// NormalizeReport is Normalize plus the reasons every dropped candidate was dropped
func (n *Normalizer) NormalizeReport(raw string) NormalizeResult {
	report := NormalizeResult{Batch: Batch{}}

	text, ok := extractArray(raw)
	if !ok {
		return report
	}
	report.Found = true

	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(text), &elements); err != nil {
		report.ParseErr = fmt.Errorf("unmarshaling detections: %w", err)
		return report
	}

	for i, element := range elements {
		candidate := n.candidate(i, element)
		det, rejection := Validate(candidate)
		if rejection != nil {
			report.Rejections = append(report.Rejections, *rejection)
			continue
		}
		report.Batch = append(report.Batch, det)
	}

	return report
}

var fencedJSON = regexp.MustCompile("(?is)```json\\s*(.*?)```")

// extractArray finds the JSON array text inside a model reply. A ```json fence
// holding an array wins; otherwise the span from the first '[' to the last ']'.
func extractArray(raw string) (string, bool) {
	for _, m := range fencedJSON.FindAllStringSubmatch(raw, -1) {
		body := strings.TrimSpace(m[1])
		if strings.HasPrefix(body, "[") && strings.HasSuffix(body, "]") {
			return body, true
		}
	}

	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

// candidate coerces one reply element. Nothing here fails: missing or
// malformed fields become values that validation will reject.
func (n *Normalizer) candidate(index int, element json.RawMessage) Candidate {
	c := Candidate{
		Index:  index,
		Label:  UnknownLabel,
		Values: []float64{0, 0, 0, 0},
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(element, &fields); err != nil {
		return c
	}

	var label string
	if err := json.Unmarshal(fields["label"], &label); err == nil {
		c.Label = n.categories.Canonicalize(label)
	}

	if values, ok := coerceBox(fields["box_2d"]); ok {
		c.Values = values
	}

	c.Recyclable = bytes.Equal(bytes.TrimSpace(fields["recyclable"]), []byte("true"))

	return c
}

// coerceBox turns a JSON array into clamped numbers. Numeric strings are parsed,
// anything else non-numeric becomes 0. ok is false when raw is absent or not an array.
func coerceBox(raw json.RawMessage) ([]float64, bool) {
	if len(raw) == 0 {
		return nil, false
	}

	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}

	values := make([]float64, len(items))
	for i, item := range items {
		values[i] = clampUnit(toNumber(item))
	}
	return values, true
}

func toNumber(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func clampUnit(f float64) float64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// Validate turns a candidate into a Detection or says why it cannot be one
func Validate(c Candidate) (Detection, *Rejection) {
	reject := func(reason RejectReason) (Detection, *Rejection) {
		return Detection{}, &Rejection{Index: c.Index, Label: c.Label, Reason: reason}
	}

	if c.Label == "" || c.Label == UnknownLabel {
		return reject(RejectUnknownLabel)
	}
	if len(c.Values) != 4 {
		return reject(RejectBadShape)
	}
	for _, v := range c.Values {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return reject(RejectOutOfRange)
		}
	}

	box := Box{XMin: c.Values[0], YMin: c.Values[1], Width: c.Values[2], Height: c.Values[3]}
	if box.XMin+box.Width > 1+edgeTolerance {
		box.Width = 1 - box.XMin
	}
	if box.YMin+box.Height > 1+edgeTolerance {
		box.Height = 1 - box.YMin
	}
	if box.Width <= 0 || box.Height <= 0 {
		return reject(RejectDegenerate)
	}

	return Detection{Label: c.Label, Box: box, Recyclable: c.Recyclable}, nil
}
