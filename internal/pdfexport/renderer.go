// Package pdfexport отрисовывает историю и её упорядоченные страницы в PDF.
package pdfexport

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/internal/storage"
)

const (
	margin        = 20.0
	maxImageWidth = 150.0
)

// ImageSource загружает артефакты изображений страниц; подходит storage.Store.
type ImageSource interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// Result - отрисованный документ.
type Result struct {
	Data []byte
	// Sections - число отрисованных входных страниц.
	Sections int
	// SkippedImages - число IMAGE страниц без годного артефакта.
	SkippedImages int
}

// Renderer отрисовывает истории базовыми шрифтами PDF.
type Renderer struct {
	images ImageSource
	logger *zap.Logger
	now    func() time.Time
}

func NewRenderer(images ImageSource, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{images: images, logger: logger.Named("PDFRenderer"), now: time.Now}
}

// Render выдаёт титульную страницу и затем по одной странице PDF на каждую
// входную страницу в заданном порядке. IMAGE страницы не в READY, а также
// с отсутствующим артефактом или не в JPEG/PNG/GIF пропускаются.
func (r *Renderer) Render(ctx context.Context, story *domain.Story, pages []*domain.Page, style Style) (*Result, error) {
	style, err := style.Normalize()
	if err != nil {
		return nil, err
	}
	log := r.logger.With(zap.String("story_id", story.ID.String()))

	pdf := fpdf.New("P", "mm", style.PageSize, "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	pdf.SetCreationDate(r.now())
	pdf.SetTitle(story.Title, true)
	pdf.SetCreator("storybook-server", false)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	fontSize := float64(style.FontSize)
	lineHeight := fontSize * 0.5

	pdf.AddPage()
	pdf.SetFont(style.FontFamily, "B", fontSize*2)
	pdf.Ln(40)
	pdf.MultiCell(0, fontSize, tr(story.Title), "", "C", false)
	if story.Description != "" {
		pdf.Ln(lineHeight * 2)
		pdf.SetFont(style.FontFamily, "I", fontSize)
		pdf.MultiCell(0, lineHeight, tr(story.Description), "", "C", false)
	}

	res := &Result{}
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch page.Kind {
		case domain.PageKindText:
			if page.Text == nil {
				continue
			}
			pdf.AddPage()
			pdf.SetFont(style.FontFamily, "", fontSize)
			pdf.MultiCell(0, lineHeight, tr(page.Text.Text), "", "J", false)
			res.Sections++
		case domain.PageKindImage:
			if page.GenStatus != domain.GenStatusReady || page.ImageArtifact == "" {
				res.SkippedImages++
				continue
			}
			if !r.addImage(ctx, pdf, page, log) {
				res.SkippedImages++
				continue
			}
			res.Sections++
		default:
			log.Warn("Skipping page of unknown kind", zap.String("page_id", page.ID.String()), zap.String("kind", string(page.Kind)))
		}
	}

	if pdf.Err() {
		return nil, fmt.Errorf("failed to render pdf: %w", pdf.Error())
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}
	res.Data = buf.Bytes()
	return res, nil
}

func (r *Renderer) addImage(ctx context.Context, pdf *fpdf.Fpdf, page *domain.Page, log *zap.Logger) bool {
	log = log.With(zap.String("page_id", page.ID.String()), zap.String("artifact", page.ImageArtifact))

	imageType := imageTypeFor(storage.ContentTypeForKey(page.ImageArtifact))
	if imageType == "" {
		log.Warn("Skipping image in unsupported format")
		return false
	}
	data, err := r.images.Read(ctx, page.ImageArtifact)
	if err != nil {
		log.Warn("Skipping unreadable image", zap.Error(err))
		return false
	}

	name := page.ID.String()
	opts := fpdf.ImageOptions{ImageType: imageType}
	info := pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
	if pdf.Err() || info == nil || info.Width() <= 0 {
		log.Warn("Skipping undecodable image", zap.Error(pdf.Error()))
		pdf.ClearError()
		return false
	}

	pageW, pageH := pdf.GetPageSize()
	availW, availH := pageW-2*margin, pageH-2*margin
	w := min(availW, maxImageWidth)
	h := w * info.Height() / info.Width()
	if h > availH {
		h = availH
		w = h * info.Width() / info.Height()
	}

	pdf.AddPage()
	pdf.ImageOptions(name, (pageW-w)/2, margin, w, h, false, opts, 0, "")
	return true
}

func imageTypeFor(contentType string) string {
	switch contentType {
	case "image/png":
		return "PNG"
	case "image/jpeg":
		return "JPG"
	case "image/gif":
		return "GIF"
	default:
		return ""
	}
}
