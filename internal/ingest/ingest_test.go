package ingest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"rsc.io/pdf"
)

// buildPDF пишет каждое слово в отдельную ячейку, чтобы границы слов
// читались по позициям глифов.
func buildPDF(t *testing.T, pages ...string) []byte {
	t.Helper()
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetCompression(false)
	for _, text := range pages {
		doc.AddPage()
		doc.SetFont("Helvetica", "", 12)
		for _, word := range strings.Fields(text) {
			doc.Cell(30, 8, word)
		}
		doc.Ln(8)
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func TestReadPDF(t *testing.T) {
	data := buildPDF(t, "The quick brown fox", "jumps over the lazy dog")

	text, err := ReadPDF(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, []string{"The", "quick", "brown", "fox", "jumps", "over", "the", "lazy", "dog"}, strings.Fields(text))
	assert.Contains(t, text, "\n\n")
}

func TestReadPDF_NoText(t *testing.T) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.AddPage()
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))

	_, err := ReadPDF(&buf)
	assert.ErrorIs(t, err, ErrNoText)
}

func TestReadPDF_NotAPDF(t *testing.T) {
	_, err := ReadPDF(strings.NewReader("plain text, not a pdf"))
	assert.Error(t, err)
}

func TestPageText(t *testing.T) {
	glyphs := []pdf.Text{
		{S: "H", X: 10, W: 8, Y: 700, FontSize: 12},
		{S: "i", X: 18, W: 3, Y: 700, FontSize: 12},
		{S: "y", X: 24, W: 6, Y: 700, FontSize: 12},
		{S: "o", X: 30, W: 6, Y: 700, FontSize: 12},
		{S: "n", X: 10, W: 6, Y: 686, FontSize: 12},
		{S: "o", X: 16, W: 6, Y: 686, FontSize: 12},
	}
	assert.Equal(t, "Hi yo\nno", pageText(glyphs))
	assert.Empty(t, pageText(nil))
}
