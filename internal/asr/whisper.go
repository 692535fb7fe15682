package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Vipatra/awaaz/internal/audio"
	"github.com/Vipatra/awaaz/internal/engine"
)

func init() {
	engine.ASRRegistry.Register("whisper", func(args json.RawMessage) (engine.ASR, error) {
		return NewWhisperClient(args)
	})
}

// WhisperConfig contains whisper HTTP backend configuration.
type WhisperConfig struct {
	// Endpoint is the transcription API URL.
	Endpoint string `json:"endpoint"`
	// APIKey authorizes requests. Falls back to WHISPER_API_KEY when empty.
	APIKey string `json:"api_key"`
	// Model selects the model served at the endpoint.
	Model string `json:"model"`
	// Language is the default language hint, overridden per request.
	Language string `json:"language"`
	// TimeoutSeconds bounds a single HTTP request.
	TimeoutSeconds int `json:"timeout_seconds"`
	// MaxRetries is the number of retries after a failed attempt.
	MaxRetries int `json:"max_retries"`
	// MaxConcurrent limits in-flight requests per client.
	MaxConcurrent int `json:"max_concurrent"`
}

// WhisperClient sends finalized audio to a whisper-compatible HTTP API.
type WhisperClient struct {
	config     WhisperConfig
	httpClient *http.Client
	semaphore  chan struct{}
}

// NewWhisperClient creates a client from raw JSON arguments.
func NewWhisperClient(args json.RawMessage) (*WhisperClient, error) {
	var cfg WhisperConfig
	if len(args) > 0 {
		if err := json.Unmarshal(args, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse whisper args: %w", err)
		}
	}

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("WHISPER_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}

	httpClient := &http.Client{
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &WhisperClient{
		config:     cfg,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

// Transcribe sends the audio for transcription, retrying transient failures
// with exponential backoff.
func (c *WhisperClient) Transcribe(ctx context.Context, a engine.Audio) (*engine.Transcription, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if len(a.PCM) == 0 {
		return nil, fmt.Errorf("audio payload is empty")
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := c.doRequest(ctx, a)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	return nil, fmt.Errorf("transcription failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *WhisperClient) doRequest(ctx context.Context, a engine.Audio) (*engine.Transcription, error) {
	body, contentType, err := c.createMultipartRequest(a)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "Awaaz/1.0")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var result engine.Transcription
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return &result, nil
}

func (c *WhisperClient) createMultipartRequest(a engine.Audio) (io.Reader, string, error) {
	wav, err := audio.EncodeWAV(a.PCM, a.SampleRate, a.SampleWidth)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode audio: %w", err)
	}

	filename := a.Name
	if filename == "" {
		filename = "segment.wav"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"model":           c.config.Model,
		"response_format": "verbose_json",
	}

	language := a.Language
	if language == "" {
		language = c.config.Language
	}
	if language != "" {
		fields["language"] = language
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func isRetryableError(err error) bool {
	if err == context.DeadlineExceeded {
		return true
	}

	errStr := err.Error()

	// 5xx server errors and rate limiting are retryable
	if strings.Contains(errStr, "HTTP error 5") ||
		strings.Contains(errStr, "HTTP error 429") {
		return true
	}

	// Network/connection errors are typically retryable
	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "refused") {
		return true
	}

	return false
}

// Close waits for all in-flight requests to complete.
func (c *WhisperClient) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	return nil
}
