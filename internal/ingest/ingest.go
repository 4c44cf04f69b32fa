// Package ingest извлекает исходный текст из загруженных PDF.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"rsc.io/pdf"
)

// ErrNoText возвращается, когда в PDF нет извлекаемого текста.
var ErrNoText = errors.New("pdf contains no extractable text")

// MaxPDFSize ограничивает размер загружаемого PDF.
const MaxPDFSize = 50 << 20

// ReadPDF читает r целиком и извлекает текст.
func ReadPDF(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxPDFSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read pdf: %w", err)
	}
	if len(data) > MaxPDFSize {
		return "", fmt.Errorf("pdf is larger than %d bytes", MaxPDFSize)
	}
	return ExtractText(bytes.NewReader(data), int64(len(data)))
}

// ExtractText возвращает текст всех страниц по порядку. Строки
// соединяются переводом строки, страницы - пустой строкой.
func ExtractText(r io.ReaderAt, size int64) (text string, err error) {
	// rsc.io/pdf паникует на некоторых битых потоках содержимого.
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("malformed pdf: %v", rec)
		}
	}()

	doc, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	pages := make([]string, 0, doc.NumPage())
	for i := 1; i <= doc.NumPage(); i++ {
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		if t := pageText(page.Content().Text); t != "" {
			pages = append(pages, t)
		}
	}
	if len(pages) == 0 {
		return "", ErrNoText
	}
	return strings.Join(pages, "\n\n"), nil
}

// pageText собирает глифы в строки и переносит строку при смене базовой
// линии. rsc.io/pdf теряет глифы пробелов, поэтому горизонтальный зазор
// больше доли размера шрифта считается границей слова.
func pageText(glyphs []pdf.Text) string {
	var (
		lines []string
		line  strings.Builder
		prev  *pdf.Text
	)
	flush := func() {
		if s := strings.Join(strings.Fields(line.String()), " "); s != "" {
			lines = append(lines, s)
		}
		line.Reset()
	}
	for i := range glyphs {
		g := &glyphs[i]
		if prev != nil {
			if math.Abs(g.Y-prev.Y) > 1 {
				flush()
			} else if math.Abs(g.X-(prev.X+prev.W)) > wordGap*g.FontSize {
				line.WriteByte(' ')
			}
		}
		line.WriteString(g.S)
		prev = g
	}
	flush()
	return strings.Join(lines, "\n")
}

const wordGap = 0.1
