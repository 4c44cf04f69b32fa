// Package imagegen адаптирует внешних провайдеров text-to-image. Клиент
// делает ровно одну сетевую попытку за вызов; повторы решает вызывающий.
package imagegen

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// MaxDetailLength ограничивает детали ошибок провайдера, отдаваемые наружу.
const MaxDetailLength = 500

// DefaultTimeout - сетевой таймаут одного вызова.
const DefaultTimeout = 120 * time.Second

// Request - один запрос на генерацию.
type Request struct {
	Prompt         string
	NegativePrompt string
	Seed           int64
}

// Image - сгенерированное изображение в том виде, как его вернул провайдер.
type Image struct {
	Data        []byte
	ContentType string
	Model       string
}

// Client генерирует одно изображение за вызов.
type Client interface {
	Generate(ctx context.Context, req Request) (*Image, error)
	// Name определяет провайдера в логах и записях аудита.
	Name() string
}

// Имена провайдеров, которые принимает New.
const (
	ProviderHuggingFace = "huggingface"
	ProviderOpenAI      = "openai"
	ProviderGemini      = "gemini"
)

// Options выбирает и настраивает провайдера.
type Options struct {
	Provider string
	Timeout  time.Duration

	HuggingFace HTTPConfig
	OpenAI      OpenAIConfig
	Gemini      GeminiConfig
}

// New создаёт клиент для opts.Provider. Отсутствие ключей здесь не ошибка,
// оно проявится как *ConfigurationError при первом Generate.
func New(ctx context.Context, opts Options, logger *zap.Logger) (Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", ProviderHuggingFace:
		cfg := opts.HuggingFace
		cfg.Timeout = timeout
		return NewHTTPClient(cfg, logger), nil
	case ProviderOpenAI:
		cfg := opts.OpenAI
		cfg.Timeout = timeout
		return NewOpenAIClient(cfg, logger), nil
	case ProviderGemini:
		cfg := opts.Gemini
		cfg.Timeout = timeout
		return NewGeminiClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown image provider %q", opts.Provider)
	}
}

// Truncate укорачивает s до n рун.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// promptWithNegative вписывает негативный промпт в текст для провайдеров
// без отдельного поля.
func promptWithNegative(req Request) string {
	neg := strings.TrimSpace(req.NegativePrompt)
	if neg == "" {
		return req.Prompt
	}
	return req.Prompt + "\n\nAvoid: " + neg
}
