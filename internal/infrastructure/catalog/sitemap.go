package catalog

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
)

// SitemapIDPrefix - префикс внешнего идентификатора товаров, найденных через sitemap.
const SitemapIDPrefix = "sitemap:"

const imageNS = "http://www.google.com/schemas/sitemap-image/1.1"

type sitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

type urlSet struct {
	URLs []struct {
		Loc    string `xml:"loc"`
		Images []struct {
			Loc string `xml:"http://www.google.com/schemas/sitemap-image/1.1 loc"`
		} `xml:"http://www.google.com/schemas/sitemap-image/1.1 image"`
	} `xml:"url"`
}

// Fetcher - загрузка документа по URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Sitemap - запасной источник: товары из product-sitemap магазина,
// по одному основному изображению на товар.
type Sitemap struct {
	fetcher Fetcher
	baseURL string
	logger  logger.Logger
}

func NewSitemap(fetcher Fetcher, baseURL string, logger logger.Logger) *Sitemap {
	return &Sitemap{fetcher: fetcher, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

func (s *Sitemap) Name() string { return domain.SourceSitemap }

func (s *Sitemap) FetchProducts(ctx context.Context) ([]domain.Product, error) {
	const op = "Sitemap.FetchProducts"

	if s.baseURL == "" {
		return nil, e.Wrap(op, e.ErrSourceUnavailable)
	}

	raw, err := s.fetcher.Fetch(ctx, s.baseURL+"/sitemap.xml")
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	var idx sitemapIndex
	if err := xml.Unmarshal(raw, &idx); err != nil {
		return nil, e.Wrap(op, fmt.Errorf("parse sitemap index: %w", err))
	}

	var (
		products []domain.Product
		seen     = make(map[string]struct{})
	)
	for _, sm := range idx.Sitemaps {
		loc := strings.TrimSpace(sm.Loc)
		if !strings.Contains(loc, "products") {
			continue
		}

		page, err := s.fetcher.Fetch(ctx, loc)
		if err != nil {
			return products, e.Wrap(op, err)
		}

		var set urlSet
		if err := xml.Unmarshal(page, &set); err != nil {
			return products, e.Wrap(op, fmt.Errorf("parse %s: %w", loc, err))
		}

		for _, u := range set.URLs {
			productURL := strings.TrimSpace(u.Loc)
			handle := handleFromURL(productURL)
			if handle == "" {
				continue
			}
			id := SitemapIDPrefix + handle
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}

			p := domain.NewProduct(id, handle, titleFromHandle(handle), productURL, domain.SourceSitemap)
			for _, img := range u.Images {
				if src := strings.TrimSpace(img.Loc); src != "" {
					p.Images = []domain.ProductImage{{ProductExternalID: id, Position: 0, SourceURL: src}}
					break
				}
			}
			products = append(products, *p)
		}
	}

	s.logger.Infof("sitemap returned %d products", len(products))
	return products, nil
}

// handleFromURL извлекает handle из https://shop/products/<handle>?variant=1.
func handleFromURL(u string) string {
	_, rest, ok := strings.Cut(u, "/products/")
	if !ok {
		return ""
	}
	rest, _, _ = strings.Cut(rest, "?")
	rest, _, _ = strings.Cut(rest, "#")
	return strings.Trim(rest, "/")
}

func titleFromHandle(handle string) string {
	words := strings.FieldsFunc(handle, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
