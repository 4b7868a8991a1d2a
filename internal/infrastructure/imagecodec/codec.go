// Package imagecodec декодирует изображения каталога и вложений и считает перцептивный хэш.
package imagecodec

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/DRSN-tech/product-matcher/pkg/e"
)

const (
	// DefaultMaxPixels - верхняя граница площади изображения (защита от decompression bomb).
	DefaultMaxPixels = 40_000_000
	// DefaultMaxBytes - верхняя граница размера файла.
	DefaultMaxBytes = 25 << 20
)

// Codec реализует usecase.ImageCodec.
type Codec struct {
	maxPixels int
	maxBytes  int
}

func New() *Codec {
	return &Codec{maxPixels: DefaultMaxPixels, maxBytes: DefaultMaxBytes}
}

func NewWithLimits(maxPixels, maxBytes int) *Codec {
	return &Codec{maxPixels: maxPixels, maxBytes: maxBytes}
}

// Decode проверяет заголовок, размеры и декодирует изображение с учётом EXIF-ориентации.
// Все ошибки имеют тип *e.ImageDecodeError.
func (c *Codec) Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", &e.ImageDecodeError{Reason: "empty payload"}
	}
	if c.maxBytes > 0 && len(data) > c.maxBytes {
		return nil, "", &e.ImageDecodeError{Reason: "payload too large"}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", &e.ImageDecodeError{Reason: "unrecognized image", Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", &e.ImageDecodeError{Reason: "zero dimensions"}
	}
	if c.maxPixels > 0 && cfg.Width*cfg.Height > c.maxPixels {
		return nil, "", &e.ImageDecodeError{Reason: "image dimensions too large"}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", &e.ImageDecodeError{Reason: "corrupt " + format, Err: err}
	}

	return img, format, nil
}

// PerceptualHash возвращает pHash изображения в виде строки "p:<hex>".
func (c *Codec) PerceptualHash(img image.Image) (string, error) {
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", err
	}
	return h.ToString(), nil
}
