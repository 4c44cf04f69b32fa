package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PageKind - неизменный тег варианта страницы.
type PageKind string

const (
	PageKindText  PageKind = "TEXT"
	PageKindImage PageKind = "IMAGE"
)

// GenStatus отслеживает генерацию изображения IMAGE страниц. TEXT страницы
// в READY с момента создания.
type GenStatus string

const (
	GenStatusPending GenStatus = "PENDING"
	GenStatusRunning GenStatus = "RUNNING"
	GenStatusReady   GenStatus = "READY"
	GenStatusError   GenStatus = "ERROR"
)

// IsTerminal сообщает, что из этого статуса нет автоматических переходов.
func (s GenStatus) IsTerminal() bool {
	return s == GenStatusReady || s == GenStatusError
}

// TextContent - содержимое TEXT страницы.
type TextContent struct {
	Text string `json:"text"`
}

// ImageContent - содержимое IMAGE страницы.
type ImageContent struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Seed           int64  `json:"seed"`
}

// Page - единица содержимого истории. Задано ровно одно из Text и Image,
// выбор по Kind.
type Page struct {
	ID        uuid.UUID     `json:"id"`
	StoryID   uuid.UUID     `json:"story_id"`
	Index     int           `json:"index"`
	Kind      PageKind      `json:"kind"`
	Text      *TextContent  `json:"text,omitempty"`
	Image     *ImageContent `json:"image,omitempty"`
	GenStatus GenStatus     `json:"gen_status"`
	// ImageArtifact задан тогда и только тогда, когда IMAGE страница в READY.
	ImageArtifact string `json:"image_artifact,omitempty"`
	// GenError задан тогда и только тогда, когда GenStatus равен ERROR.
	GenError  string         `json:"gen_error,omitempty"`
	ImageMeta map[string]any `json:"image_meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewTextPage создаёт TEXT страницу с заданным индексом, сразу в READY.
func NewTextPage(storyID uuid.UUID, index int, text string) *Page {
	return &Page{
		ID:        uuid.New(),
		StoryID:   storyID,
		Index:     index,
		Kind:      PageKindText,
		Text:      &TextContent{Text: text},
		GenStatus: GenStatusReady,
		ImageMeta: map[string]any{},
	}
}

// NewImagePage создаёт IMAGE страницу в PENDING.
func NewImagePage(storyID uuid.UUID, index int, prompt string) *Page {
	return &Page{
		ID:        uuid.New(),
		StoryID:   storyID,
		Index:     index,
		Kind:      PageKindImage,
		Image:     &ImageContent{Prompt: prompt},
		GenStatus: GenStatusPending,
		ImageMeta: map[string]any{},
	}
}

// Validate проверяет инварианты варианта страницы.
func (p *Page) Validate() error {
	if p.Index < 0 {
		return fmt.Errorf("%w: page index %d is negative", ErrInvalidInput, p.Index)
	}
	switch p.Kind {
	case PageKindText:
		if p.Text == nil || p.Text.Text == "" {
			return fmt.Errorf("%w: TEXT page requires text content", ErrInvalidInput)
		}
		if p.Image != nil {
			return fmt.Errorf("%w: TEXT page cannot carry image content", ErrInvalidInput)
		}
	case PageKindImage:
		if p.Image == nil || p.Image.Prompt == "" {
			return fmt.Errorf("%w: IMAGE page requires an image prompt", ErrInvalidInput)
		}
		if p.Text != nil {
			return fmt.Errorf("%w: IMAGE page cannot carry text content", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown page kind %q", ErrInvalidInput, p.Kind)
	}
	switch p.GenStatus {
	case GenStatusReady:
		if p.Kind == PageKindImage && p.ImageArtifact == "" {
			return fmt.Errorf("%w: READY image page requires an artifact", ErrInvalidInput)
		}
	case GenStatusError:
		if p.GenError == "" {
			return fmt.Errorf("%w: ERROR page requires an error message", ErrInvalidInput)
		}
	case GenStatusPending, GenStatusRunning:
	default:
		return fmt.Errorf("%w: unknown gen status %q", ErrInvalidInput, p.GenStatus)
	}
	return nil
}

// Prompt возвращает промпт изображения или "" для TEXT страниц.
func (p *Page) Prompt() string {
	if p.Image == nil {
		return ""
	}
	return p.Image.Prompt
}

// Clone возвращает глубокую копию страницы.
func (p *Page) Clone() *Page {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Text != nil {
		t := *p.Text
		cp.Text = &t
	}
	if p.Image != nil {
		img := *p.Image
		cp.Image = &img
	}
	cp.ImageMeta = cloneMap(p.ImageMeta)
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PageFilter сужает выборку страниц. Нулевые значения подходят под всё.
type PageFilter struct {
	Kind     PageKind
	Statuses []GenStatus
}

// Matches сообщает, проходит ли p фильтр.
func (f PageFilter) Matches(p *Page) bool {
	if f.Kind != "" && p.Kind != f.Kind {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if p.GenStatus == s {
			return true
		}
	}
	return false
}
