package domain

import (
	"time"

	"github.com/google/uuid"
)

// SourceType описывает, откуда взят исходный текст истории.
type SourceType string

const (
	SourceTypePaste SourceType = "PASTE"
	SourceTypePDF   SourceType = "PDF"
)

// StoryStatus - состояние жизненного цикла истории.
type StoryStatus string

const (
	StoryStatusDraft      StoryStatus = "DRAFT"
	StoryStatusGenerating StoryStatus = "GENERATING"
	StoryStatusReady      StoryStatus = "READY"
	StoryStatusError      StoryStatus = "ERROR"
)

// Ключи настроек, которые понимает экспорт.
const (
	SettingPageSize   = "page_size"
	SettingFontFamily = "font_family"
	SettingFontSize   = "font_size"
)

// Story - авторская единица верхнего уровня. PageCount денормализован и
// должен совпадать с числом сохранённых страниц, когда Status вышел из
// GENERATING.
type Story struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	Title       string         `json:"title" db:"title"`
	Description string         `json:"description" db:"description"`
	SourceType  SourceType     `json:"source_type" db:"source_type"`
	SourceText  string         `json:"source_text" db:"source_text"`
	Settings    map[string]any `json:"settings" db:"settings"`
	Status      StoryStatus    `json:"status" db:"status"`
	PageCount   int            `json:"page_count" db:"page_count"`
	CreatedBy   *uuid.UUID     `json:"created_by,omitempty" db:"created_by"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// DefaultSettings возвращает настройки стиля новой истории.
func DefaultSettings() map[string]any {
	return map[string]any{
		SettingPageSize:   "A4",
		SettingFontFamily: "Helvetica",
		SettingFontSize:   12,
	}
}

// SettingString возвращает строковую настройку или def, если её нет.
func (s *Story) SettingString(key, def string) string {
	if s == nil || s.Settings == nil {
		return def
	}
	if v, ok := s.Settings[key].(string); ok && v != "" {
		return v
	}
	return def
}

// IsTerminal сообщает, вышла ли история из GENERATING.
func (s StoryStatus) IsTerminal() bool {
	return s == StoryStatusReady || s == StoryStatusError
}
