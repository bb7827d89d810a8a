package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dealwatch/internal/receipt"
)

// Ollama implements receipt extraction against a local Ollama server.
// Vision models are slow locally, so it only offers the fast single-call
// path; the precise tier falls back to the same call.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates an Ollama backend. llava and qwen2-vl are the usual
// model choices for receipt OCR.
func NewOllama(baseURL, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}
	return &Ollama{
		baseURL: baseURL,
		model:   modelName,
		client:  &http.Client{Timeout: 120 * time.Second},
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Images   []string        `json:"images,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// ParseReceipt extracts structured line items from a receipt document.
func (o *Ollama) ParseReceipt(ctx context.Context, doc []byte, contentType string, tier receipt.Tier) (*receipt.ParsedReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	image, err := prepareImageData(doc, contentType)
	if err != nil {
		return nil, err
	}

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an expert at reading and transcribing retail receipts. You must carefully read all text in the image and extract every line accurately.",
			},
			{
				Role:    "user",
				Content: receiptPrompt,
			},
		},
		Images: []string{base64.StdEncoding.EncodeToString(image)},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: calling ollama API: %v", receipt.ErrParseFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: ollama API error (status %d): %s", receipt.ErrParseFailed, resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", receipt.ErrParseFailed, err)
	}

	raw, err := decodeReceipt(chatResp.Message.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", receipt.ErrParseFailed, err)
	}
	parsed := toParsed(raw)
	if len(parsed.Items) == 0 {
		return nil, fmt.Errorf("%w: extraction returned no usable items", receipt.ErrParseFailed)
	}
	return parsed, nil
}
