package domain

import (
	"fmt"
	"time"
)

// Источники каталога
const (
	SourceStorefront = "storefront"
	SourceSitemap    = "sitemap"
)

// Product описывает товар из каталога магазина
type Product struct {
	ID         int64
	ExternalID string // Идентификатор во внешнем каталоге, уникален
	Handle     string
	Title      string
	URL        string // Каноническая ссылка на страницу товара
	Tags       []string
	PriceCents *int64 // Минимальная цена варианта в центах, если известна
	Currency   string
	Source     string
	Images     []ProductImage
	CreatedAt  time.Time
	UpdatedAt  *time.Time
	IsArchived bool
}

func NewProduct(externalID, handle, title, url, source string) *Product {
	return &Product{
		ExternalID: externalID,
		Handle:     handle,
		Title:      title,
		URL:        url,
		Source:     source,
	}
}

// SameAttributes сообщает, совпадают ли поля товара, которые пишет синхронизация.
func (p *Product) SameAttributes(o *Product) bool {
	if p.Handle != o.Handle || p.Title != o.Title || p.URL != o.URL || p.Currency != o.Currency {
		return false
	}
	if (p.PriceCents == nil) != (o.PriceCents == nil) {
		return false
	}
	if p.PriceCents != nil && *p.PriceCents != *o.PriceCents {
		return false
	}
	if len(p.Tags) != len(o.Tags) {
		return false
	}
	for i := range p.Tags {
		if p.Tags[i] != o.Tags[i] {
			return false
		}
	}
	return true
}

// ProductImage - изображение из галереи товара
type ProductImage struct {
	ID                int64
	ProductID         int64
	ProductExternalID string
	Position          int // Позиция в галерее, начиная с 0
	SourceURL         string
	ContentHash       string // sha256 содержимого
	PHash             string // Перцептивный хэш, может быть пустым
	ObjectKey         string // Ключ копии в объектном хранилище
	EmbeddingID       string
	EmbeddedHash      string // content_hash, для которого посчитан эмбеддинг
	EmbeddedModel     string
	EmbedError        string
	CreatedAt         time.Time
	UpdatedAt         *time.Time
}

// Key - стабильный ключ изображения внутри индекса.
func (i *ProductImage) Key() string {
	return ImageKey(i.ProductExternalID, i.Position)
}

func ImageKey(productExternalID string, position int) string {
	return fmt.Sprintf("%s#%03d", productExternalID, position)
}

// SyncReport - итог синхронизации каталога.
type SyncReport struct {
	Inserted int
	Updated  int
	Skipped  int
	Errors   []string
	Source   string
}

// CatalogSnapshot - снимок каталога, сохраняемый в объектное хранилище после синхронизации.
type CatalogSnapshot struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Source      string            `json:"source"`
	Products    []SnapshotProduct `json:"products"`
}

type SnapshotProduct struct {
	ExternalID string          `json:"id"`
	Title      string          `json:"title"`
	URL        string          `json:"url"`
	Tags       []string        `json:"tags,omitempty"`
	Images     []SnapshotImage `json:"images"`
}

type SnapshotImage struct {
	Position    int    `json:"position"`
	URL         string `json:"url"`
	ContentHash string `json:"content_hash"`
}
