package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// HTTPEngine calls an OCR sidecar service over HTTP. The service
// accepts a base64-encoded image and returns recognized text with an
// averaged line confidence.
type HTTPEngine struct {
	name    string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPEngine creates a client for the OCR service at baseURL.
// The name is only used in logs and errors (e.g. "paddle", "easy").
func NewHTTPEngine(name, baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPEngine {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPEngine{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Name returns the engine name given at construction.
func (e *HTTPEngine) Name() string { return e.name }

type recognizeRequest struct {
	ImageBase64 string `json:"image_base64"`
	Filename    string `json:"filename"`
	Language    string `json:"language,omitempty"`
}

type recognizeResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	NumLines   int     `json:"num_lines"`
}

// Recognize sends the image to the OCR service and returns its result.
func (e *HTTPEngine) Recognize(ctx context.Context, imagePath string) (*Result, error) {
	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("ocr %s: read image: %w", e.name, err)
	}

	reqBody := recognizeRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(imageData),
		Filename:    filepath.Base(imagePath),
	}
	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("ocr %s: marshal request: %w", e.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/v1/recognize", bytes.NewReader(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("ocr %s: create request: %w", e.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	e.logger.Debug("sending OCR request",
		"engine", e.name,
		"image", filepath.Base(imagePath),
		"payload_size", len(reqJSON))

	startTime := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ocr %s: request failed: %w", e.name, err)
	}
	defer resp.Body.Close()

	elapsed := time.Since(startTime)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ocr %s: status %d: %s", e.name, resp.StatusCode, string(body))
	}

	var rr recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("ocr %s: decode response: %w", e.name, err)
	}

	e.logger.Debug("OCR response received",
		"engine", e.name,
		"duration", elapsed,
		"confidence", rr.Confidence,
		"lines", rr.NumLines)

	return &Result{
		Text:           rr.Text,
		Confidence:     rr.Confidence,
		ElapsedSeconds: elapsed.Seconds(),
	}, nil
}
