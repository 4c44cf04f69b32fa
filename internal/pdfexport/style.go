package pdfexport

import (
	"fmt"
	"strconv"
	"strings"

	"storybook-server/internal/domain"
)

const (
	MinFontSize = 6
	MaxFontSize = 96

	DefaultPageSize   = "A4"
	DefaultFontFamily = "Helvetica"
	DefaultFontSize   = 12
	DefaultDPI        = 300
)

// Style - стиль отрисовки, заданный вызывающим.
type Style struct {
	PageSize   string
	FontFamily string
	FontSize   int
	DPI        int
}

// DefaultStyle - A4, Helvetica 12pt, 300 DPI.
func DefaultStyle() Style {
	return Style{
		PageSize:   DefaultPageSize,
		FontFamily: DefaultFontFamily,
		FontSize:   DefaultFontSize,
		DPI:        DefaultDPI,
	}
}

var pageSizes = map[string]string{
	"a4":     "A4",
	"a5":     "A5",
	"letter": "Letter",
	"legal":  "Legal",
}

// Доступны только базовые шрифты PDF; Arial - псевдоним Helvetica.
var fontFamilies = map[string]string{
	"helvetica":       "Helvetica",
	"arial":           "Helvetica",
	"times":           "Times",
	"times new roman": "Times",
	"courier":         "Courier",
	"courier new":     "Courier",
}

// ParseFontSize разбирает размер шрифта, заданный текстом. Принимаются
// только целые числа в [MinFontSize, MaxFontSize].
func ParseFontSize(s string) (int, error) {
	size, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: font size %q is not an integer", domain.ErrInvalidExportOptions, s)
	}
	if size < MinFontSize || size > MaxFontSize {
		return 0, fmt.Errorf("%w: font size %d is outside %d..%d", domain.ErrInvalidExportOptions, size, MinFontSize, MaxFontSize)
	}
	return size, nil
}

// NormalizeFontFamily сопоставляет имя семейства базовому шрифту.
func NormalizeFontFamily(s string) (string, error) {
	family, ok := fontFamilies[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: unsupported font family %q", domain.ErrInvalidExportOptions, s)
	}
	return family, nil
}

// NormalizePageSize приводит имя формата страницы к каноничному виду.
func NormalizePageSize(s string) (string, error) {
	size, ok := pageSizes[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: unsupported page size %q", domain.ErrInvalidExportOptions, s)
	}
	return size, nil
}

// Normalize проверяет стиль и заполняет нулевые поля значениями по умолчанию.
func (s Style) Normalize() (Style, error) {
	def := DefaultStyle()
	out := s
	var err error

	if out.PageSize == "" {
		out.PageSize = def.PageSize
	}
	if out.PageSize, err = NormalizePageSize(out.PageSize); err != nil {
		return Style{}, err
	}
	if out.FontFamily == "" {
		out.FontFamily = def.FontFamily
	}
	if out.FontFamily, err = NormalizeFontFamily(out.FontFamily); err != nil {
		return Style{}, err
	}
	if out.FontSize == 0 {
		out.FontSize = def.FontSize
	}
	if out.FontSize < MinFontSize || out.FontSize > MaxFontSize {
		return Style{}, fmt.Errorf("%w: font size %d is outside %d..%d", domain.ErrInvalidExportOptions, out.FontSize, MinFontSize, MaxFontSize)
	}
	if out.DPI <= 0 {
		out.DPI = def.DPI
	}
	return out, nil
}

// StyleFromStory берёт формат страницы, семейство и размер шрифта из
// настроек истории поверх def. Негодные значения игнорируются.
func StyleFromStory(story *domain.Story, def Style) Style {
	style := def
	if v := story.SettingString(domain.SettingPageSize, ""); v != "" {
		if size, err := NormalizePageSize(v); err == nil {
			style.PageSize = size
		}
	}
	if v := story.SettingString(domain.SettingFontFamily, ""); v != "" {
		if family, err := NormalizeFontFamily(v); err == nil {
			style.FontFamily = family
		}
	}
	if story != nil && story.Settings != nil {
		switch v := story.Settings[domain.SettingFontSize].(type) {
		case int:
			style.FontSize = v
		case float64:
			style.FontSize = int(v)
		case string:
			if size, err := ParseFontSize(v); err == nil {
				style.FontSize = size
			}
		}
	}
	if style.FontSize < MinFontSize || style.FontSize > MaxFontSize {
		style.FontSize = def.FontSize
	}
	return style
}
