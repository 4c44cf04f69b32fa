// Package storage хранит бинарные артефакты (изображения страниц,
// экспортированные PDF) под ключами, разделёнными слешем.
package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotExist возвращается, когда по ключу ничего не сохранено.
var ErrNotExist = errors.New("storage: object does not exist")

// Store реализуют FileStore и GCSStore. Save перезаписывает.
type Store interface {
	Save(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

const (
	pagesPrefix   = "storybook/pages"
	exportsPrefix = "storybook/exports"
)

// PageImageKey возвращает новый ключ для одного сгенерированного изображения
// страницы. Ключи не переиспользуются, перегенерированная страница
// указывает на новый объект.
func PageImageKey(pageID uuid.UUID, contentType string) string {
	return pageImageKey(pageID, uuid.New(), contentType)
}

func pageImageKey(pageID, imageID uuid.UUID, contentType string) string {
	return pagesPrefix + "/" + hex(pageID) + "/" + hex(imageID) + ExtensionFor(contentType)
}

func hex(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

// ExportKey возвращает новый ключ для экспортированного PDF.
func ExportKey(id uuid.UUID) string {
	return exportsPrefix + "/" + id.String() + ".pdf"
}

// ExtensionFor сопоставляет тип содержимого изображения расширению файла.
// Для неизвестных типов - .png.
func ExtensionFor(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "application/pdf":
		return ".pdf"
	default:
		return ".png"
	}
}

// ContentTypeForKey - обратное к ExtensionFor.
func ContentTypeForKey(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// sanitizeKey нормализует ключ и не даёт выйти за корень хранилища.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

func joinURL(base, key string) string {
	if base == "" {
		return key
	}
	return strings.TrimRight(base, "/") + "/" + key
}
