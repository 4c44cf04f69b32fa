package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIConfig настраивает клиент DALL-E.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Size    string
	Timeout time.Duration
}

// OpenAIClient генерирует изображения через images endpoint OpenAI.
type OpenAIClient struct {
	logger  *zap.Logger
	client  *openai.Client
	model   string
	size    string
	timeout time.Duration
}

func NewOpenAIClient(cfg OpenAIConfig, logger *zap.Logger) *OpenAIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &OpenAIClient{
		logger:  logger.Named("OpenAIImageClient"),
		model:   cfg.Model,
		size:    cfg.Size,
		timeout: cfg.Timeout,
	}
	if c.model == "" {
		c.model = openai.CreateImageModelDallE3
	}
	if c.size == "" {
		c.size = openai.CreateImageSize1024x1024
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if cfg.APIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		c.client = openai.NewClientWithConfig(clientCfg)
	}
	return c
}

func (c *OpenAIClient) Name() string { return ProviderOpenAI }

func (c *OpenAIClient) Generate(ctx context.Context, req Request) (*Image, error) {
	if c.client == nil {
		return nil, &ConfigurationError{Provider: c.Name(), Reason: "API key is not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         promptWithNegative(req),
		Model:          c.model,
		N:              1,
		Size:           c.size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		c.logger.Warn("CreateImage failed", zap.String("model", c.model), zap.Error(err))
		return nil, c.classify(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, &ProviderError{Provider: c.Name(), Status: http.StatusOK, Detail: "response contained no image data"}
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, &ProviderError{Provider: c.Name(), Status: http.StatusOK, Detail: fmt.Sprintf("invalid base64 image: %v", err)}
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, &ProviderError{Provider: c.Name(), Status: http.StatusOK, Detail: "decoded payload is not an image: " + contentType}
	}
	return &Image{Data: data, ContentType: contentType, Model: c.model}, nil
}

func (c *OpenAIClient) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: c.Name(), Status: apiErr.HTTPStatusCode, Detail: Truncate(apiErr.Message, MaxDetailLength)}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := string(reqErr.Body)
		if detail == "" && reqErr.Err != nil {
			detail = reqErr.Err.Error()
		}
		return &ProviderError{Provider: c.Name(), Status: reqErr.HTTPStatusCode, Detail: Truncate(detail, MaxDetailLength)}
	}
	return newNetworkError(c.Name(), err)
}
