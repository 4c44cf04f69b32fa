package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const defaultImagenModel = "imagen-3.0-generate-002"

// GeminiConfig настраивает клиент Imagen.
type GeminiConfig struct {
	APIKey string
	// BaseURL подменяет endpoint Gemini API.
	BaseURL string
	Model   string
	Timeout time.Duration
}

// GeminiClient генерирует изображения моделями Imagen через Gemini API.
type GeminiClient struct {
	logger  *zap.Logger
	client  *genai.Client
	model   string
	timeout time.Duration
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &GeminiClient{
		logger:  logger.Named("GeminiImageClient"),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
	if c.model == "" {
		c.model = defaultImagenModel
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if cfg.APIKey == "" {
		return c, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	c.client = client
	return c, nil
}

func (c *GeminiClient) Name() string { return ProviderGemini }

func (c *GeminiClient) Generate(ctx context.Context, req Request) (*Image, error) {
	if c.client == nil {
		return nil, &ConfigurationError{Provider: c.Name(), Reason: "API key is not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Models.GenerateImages(ctx, c.model, promptWithNegative(req), &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	})
	if err != nil {
		c.logger.Warn("GenerateImages failed", zap.String("model", c.model), zap.Error(err))
		return nil, c.classify(err)
	}
	if resp == nil || len(resp.GeneratedImages) == 0 {
		return nil, &ProviderError{Provider: c.Name(), Status: http.StatusOK, Detail: "response contained no images"}
	}
	generated := resp.GeneratedImages[0]
	if generated.Image == nil || len(generated.Image.ImageBytes) == 0 {
		detail := "image was filtered"
		if generated.RAIFilteredReason != "" {
			detail = Truncate(generated.RAIFilteredReason, MaxDetailLength)
		}
		return nil, &ProviderError{Provider: c.Name(), Status: http.StatusOK, Detail: detail}
	}
	contentType := generated.Image.MIMEType
	if contentType == "" {
		contentType = http.DetectContentType(generated.Image.ImageBytes)
	}
	return &Image{Data: generated.Image.ImageBytes, ContentType: contentType, Model: c.model}, nil
}

func (c *GeminiClient) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: c.Name(), Status: apiErr.Code, Detail: Truncate(apiErr.Message, MaxDetailLength)}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &ProviderError{Provider: c.Name(), Status: apiErrPtr.Code, Detail: Truncate(apiErrPtr.Message, MaxDetailLength)}
	}
	return newNetworkError(c.Name(), err)
}
