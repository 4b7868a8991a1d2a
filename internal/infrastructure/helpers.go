package infrastructure

import (
	"strings"

	"github.com/DRSN-tech/product-matcher/pkg/e"
)

// GetExtensionFromMIME возвращает расширение файла по MIME-типу изображения.
// Параметры типа (; charset=...) игнорируются. Для неподдерживаемых типов
// возвращает e.ErrUnsupportedMediaType.
func GetExtensionFromMIME(mime string) (string, error) {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}

	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return "jpg", nil
	case "image/png":
		return "png", nil
	case "image/webp":
		return "webp", nil
	case "image/gif":
		return "gif", nil
	case "image/bmp", "image/x-ms-bmp":
		return "bmp", nil
	case "image/tiff":
		return "tiff", nil
	default:
		return "bin", e.ErrUnsupportedMediaType
	}
}

// IsImageMIME сообщает, поддерживается ли MIME-тип как изображение.
func IsImageMIME(mime string) bool {
	_, err := GetExtensionFromMIME(mime)
	return err == nil
}
