package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Ollama implements the Detector interface using a local Ollama server
type Ollama struct {
	baseURL string
	model   string
	client  *resty.Client
}

// NewOllama creates a new Ollama Detector instance
// Vision models that follow the box_2d format reasonably well:
//   - qwen2.5vl (best box placement of the local models)
//   - llava:1.6
//   - llama3.2-vision
func NewOllama(baseURL string, modelName string, timeout time.Duration) *Ollama {
	if timeout <= 0 {
		timeout = 120 * time.Second // vision models on CPU are slow
	}

	return &Ollama{
		baseURL: baseURL,
		model:   modelName,
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout),
	}
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"top_k"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Configured reports whether a base URL and model are set
func (o *Ollama) Configured() bool {
	return o.baseURL != "" && o.model != ""
}

// Detect sends the frame and the detection prompt to Ollama
func (o *Ollama) Detect(ctx context.Context, imageBase64 string) (string, error) {
	if !o.Configured() {
		return "", fmt.Errorf("%w: ollama url and model are required", ErrConfiguration)
	}
	if err := ValidatePayload(imageBase64); err != nil {
		return "", err
	}

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You detect recyclable household items in photos and answer only with JSON.",
			},
			{
				Role:    "user",
				Content: detectionPrompt,
				Images:  []string{imageBase64},
			},
		},
		Options: ollamaOptions{
			Temperature: 0.1,
			TopK:        32,
			TopP:        1,
			NumPredict:  4096,
		},
	}

	var chatResp ollamaChatResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&chatResp).
		Post("/api/chat")
	if err != nil {
		return "", &TransportError{Err: err}
	}

	if resp.IsError() {
		return "", &TransportError{
			StatusCode: resp.StatusCode(),
			Err:        errors.New(resp.String()),
		}
	}

	return chatResp.Message.Content, nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
