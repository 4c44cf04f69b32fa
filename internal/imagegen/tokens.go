package imagegen

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding - токенизатор для подсчёта токенов промпта.
const DefaultEncoding = "cl100k_base"

// TokenCounter считает токены промпта для записей аудита заданий.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter загружает кодировку по имени. При первом использовании
// словарь может скачиваться.
func NewTokenCounter(encoding string) (TokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %q: %w", encoding, err)
	}
	return &tiktokenCounter{enc: enc}, nil
}

func (t *tiktokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}
