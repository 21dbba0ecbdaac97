package detection

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini implements the Detector interface using Google Gemini
type Gemini struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
}

// NewGemini creates a new Gemini Detector instance.
// An empty API key yields a detector that reports ErrConfiguration on every call
// instead of failing startup, so the health check can say so.
func NewGemini(apiKey string, modelName string, timeout time.Duration) (*Gemini, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if apiKey == "" {
		return &Gemini{timeout: timeout}, nil
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	// Low temperature keeps box coordinates stable between captures
	model.SetTemperature(0.1)
	model.SetTopK(32)
	model.SetTopP(1)
	model.SetMaxOutputTokens(4096)

	return &Gemini{
		client:  client,
		model:   model,
		timeout: timeout,
	}, nil
}

// Configured reports whether an API key was supplied
func (g *Gemini) Configured() bool {
	return g.client != nil
}

// Detect sends the frame and the detection prompt to Gemini
func (g *Gemini) Detect(ctx context.Context, imageBase64 string) (string, error) {
	if !g.Configured() {
		return "", fmt.Errorf("%w: gemini api key is missing", ErrConfiguration)
	}
	if err := ValidatePayload(imageBase64); err != nil {
		return "", err
	}

	imageData, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// genai.ImageData expects just the format suffix, not the full MIME type
	parts := []genai.Part{
		genai.Text(detectionPrompt),
		genai.ImageData("jpeg", imageData),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			// A blocked reply carries no detections; treat it like an empty answer
			slog.Warn("Gemini blocked the detection reply", "error", err)
			return "", nil
		}
		return "", &TransportError{Err: err}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	return responseText.String(), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
