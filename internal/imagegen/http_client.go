package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultHuggingFaceURL - hosted inference endpoint, если URL не настроен.
const DefaultHuggingFaceURL = "https://api-inference.huggingface.co/models/stabilityai/stable-diffusion-xl-base-1.0"

// maxResponseBytes ограничивает размер тела ответа провайдера в памяти.
const maxResponseBytes = 32 << 20

// HTTPConfig настраивает inference клиент в стиле HuggingFace.
type HTTPConfig struct {
	URL        string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPClient отправляет {"inputs": prompt} в inference endpoint и ждёт в
// ответ сырые байты изображения.
type HTTPClient struct {
	logger   *zap.Logger
	url      string
	token    string
	timeout  time.Duration
	client   *http.Client
	maxBytes int64
}

// NewHTTPClient создаёт клиент. Пустой токен допускается, ошибка будет
// при Generate.
func NewHTTPClient(cfg HTTPConfig, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	url := cfg.URL
	if url == "" {
		url = DefaultHuggingFaceURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		logger:   logger.Named("HuggingFaceClient"),
		url:      url,
		token:    cfg.Token,
		timeout:  timeout,
		client:   client,
		maxBytes: maxResponseBytes,
	}
}

func (c *HTTPClient) Name() string { return ProviderHuggingFace }

type inferenceRequest struct {
	Inputs     string               `json:"inputs"`
	Parameters *inferenceParameters `json:"parameters,omitempty"`
}

type inferenceParameters struct {
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Seed           int64  `json:"seed,omitempty"`
}

func (c *HTTPClient) Generate(ctx context.Context, req Request) (*Image, error) {
	if c.token == "" {
		return nil, &ConfigurationError{Provider: c.Name(), Reason: "API token is not configured"}
	}
	log := c.logger.With(zap.String("api_url", c.url))

	payload := inferenceRequest{Inputs: req.Prompt}
	if req.NegativePrompt != "" || req.Seed != 0 {
		payload.Parameters = &inferenceParameters{NegativePrompt: req.NegativePrompt, Seed: req.Seed}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/*")

	log.Debug("Sending request to inference API")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		log.Warn("Inference API request failed", zap.Error(err))
		return nil, newNetworkError(c.Name(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, newNetworkError(c.Name(), fmt.Errorf("failed to read response body: %w", err))
	}
	oversized := int64(len(data)) > c.maxBytes
	if oversized {
		data = data[:c.maxBytes]
	}

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("Inference API returned non-OK status",
			zap.Int("status_code", resp.StatusCode),
			zap.Int("body_size", len(data)),
		)
		return nil, &ProviderError{Provider: c.Name(), Status: resp.StatusCode, Detail: errorDetail(data)}
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		log.Warn("Inference API returned a non-image body", zap.String("content_type", contentType))
		return nil, &ProviderError{Provider: c.Name(), Status: resp.StatusCode, Detail: errorDetail(data)}
	}
	if len(data) == 0 {
		return nil, &ProviderError{Provider: c.Name(), Status: resp.StatusCode, Detail: "empty image body"}
	}
	if oversized {
		log.Warn("Inference API returned an oversized image", zap.Int64("limit_bytes", c.maxBytes))
		return nil, &ProviderError{Provider: c.Name(), Status: resp.StatusCode, Detail: fmt.Sprintf("image exceeds %d bytes", c.maxBytes)}
	}

	log.Debug("Inference API call successful", zap.Int("size_bytes", len(data)))
	return &Image{Data: data, ContentType: contentType, Model: c.url}, nil
}

// errorDetail отдаёт тело компактным JSON, а если не выходит - сырым
// текстом.
func errorDetail(body []byte) string {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err == nil {
		if compact, err := json.Marshal(decoded); err == nil {
			return Truncate(string(compact), MaxDetailLength)
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		text = "empty response body"
	}
	return Truncate(text, MaxDetailLength)
}

// isTimeout сообщает, вызвана ли err дедлайном.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
