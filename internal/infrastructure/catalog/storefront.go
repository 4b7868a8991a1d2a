// Package catalog: источники каталога товаров: Storefront GraphQL API и sitemap магазина.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/infrastructure/httpfetch"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	pageSize         = 50
	defaultMaxImages = 20
	tokenHeader      = "X-Shopify-Storefront-Access-Token"
)

const productsQuery = `query GetProducts($cursor: String, $first: Int!, $images: Int!) {
  products(first: $first, after: $cursor) {
    pageInfo { hasNextPage endCursor }
    edges {
      node {
        id
        handle
        title
        onlineStoreUrl
        tags
        priceRange { minVariantPrice { amount currencyCode } }
        images(first: $images) { edges { node { url } } }
      }
    }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type productsResponse struct {
	Data struct {
		Products struct {
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
			Edges []struct {
				Node productNode `json:"node"`
			} `json:"edges"`
		} `json:"products"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type productNode struct {
	ID             string   `json:"id"`
	Handle         string   `json:"handle"`
	Title          string   `json:"title"`
	OnlineStoreURL *string  `json:"onlineStoreUrl"`
	Tags           []string `json:"tags"`
	PriceRange     struct {
		MinVariantPrice struct {
			Amount       string `json:"amount"`
			CurrencyCode string `json:"currencyCode"`
		} `json:"minVariantPrice"`
	} `json:"priceRange"`
	Images struct {
		Edges []struct {
			Node struct {
				URL string `json:"url"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"images"`
}

// Storefront постранично выгружает товары через Storefront GraphQL API.
type Storefront struct {
	fetcher   *httpfetch.Fetcher
	limiter   *rate.Limiter
	baseURL   string
	endpoint  string
	token     string
	maxImages int
	logger    logger.Logger
}

// NewStorefront создаёт источник. baseURL - корень витрины, например https://shop.example.com.
// rps ограничивает частоту запросов страниц.
func NewStorefront(fetcher *httpfetch.Fetcher, baseURL, apiVersion, token string, rps float64, maxImages int, logger logger.Logger) *Storefront {
	baseURL = strings.TrimRight(baseURL, "/")
	if maxImages <= 0 || maxImages > 250 {
		maxImages = defaultMaxImages
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Storefront{
		fetcher:   fetcher,
		limiter:   rate.NewLimiter(limit, 1),
		baseURL:   baseURL,
		endpoint:  fmt.Sprintf("%s/api/%s/graphql.json", baseURL, apiVersion),
		token:     token,
		maxImages: maxImages,
		logger:    logger,
	}
}

func (s *Storefront) Name() string { return domain.SourceStorefront }

// FetchProducts выгружает все страницы. При ошибке на середине возвращает
// уже полученные товары вместе с ошибкой.
func (s *Storefront) FetchProducts(ctx context.Context) ([]domain.Product, error) {
	const op = "Storefront.FetchProducts"

	if s.token == "" {
		return nil, e.Wrap(op, e.ErrSourceUnavailable)
	}

	var (
		products []domain.Product
		cursor   *string
	)
	for page := 1; ; page++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return products, e.Wrap(op, err)
		}

		resp, err := s.fetchPage(ctx, cursor)
		if err != nil {
			return products, e.Wrap(fmt.Sprintf("%s: page %d", op, page), err)
		}

		for _, edge := range resp.Data.Products.Edges {
			products = append(products, s.toProduct(&edge.Node))
		}
		s.logger.Debugf("storefront page %d: %d products", page, len(resp.Data.Products.Edges))

		info := resp.Data.Products.PageInfo
		if !info.HasNextPage || info.EndCursor == "" {
			break
		}
		next := info.EndCursor
		cursor = &next
	}

	s.logger.Infof("storefront returned %d products", len(products))
	return products, nil
}

func (s *Storefront) fetchPage(ctx context.Context, cursor *string) (*productsResponse, error) {
	vars := map[string]any{"first": pageSize, "images": s.maxImages}
	if cursor != nil {
		vars["cursor"] = *cursor
	}
	payload, err := json.Marshal(graphQLRequest{Query: productsQuery, Variables: vars})
	if err != nil {
		return nil, err
	}

	body, _, err := s.fetcher.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(tokenHeader, s.token)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var resp productsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, ge := range resp.Errors {
			msgs = append(msgs, ge.Message)
		}
		return nil, fmt.Errorf("%w: %s", e.ErrGraphQL, strings.Join(msgs, "; "))
	}
	return &resp, nil
}

func (s *Storefront) toProduct(node *productNode) domain.Product {
	url := s.baseURL + "/products/" + node.Handle
	if node.OnlineStoreURL != nil && *node.OnlineStoreURL != "" {
		url = *node.OnlineStoreURL
	}

	p := domain.NewProduct(node.ID, node.Handle, node.Title, url, domain.SourceStorefront)
	p.Tags = node.Tags

	price := node.PriceRange.MinVariantPrice
	if price.Amount != "" {
		cents, err := parsePriceToCents(price.Amount)
		if err != nil {
			s.logger.Warnf("product %s: skip price %q: %v", node.ID, price.Amount, err)
		} else {
			p.PriceCents = &cents
			p.Currency = price.CurrencyCode
		}
	}

	for _, edge := range node.Images.Edges {
		if edge.Node.URL == "" || len(p.Images) >= s.maxImages {
			continue
		}
		p.Images = append(p.Images, domain.ProductImage{
			ProductExternalID: node.ID,
			Position:          len(p.Images),
			SourceURL:         edge.Node.URL,
		})
	}
	return *p
}

// parsePriceToCents переводит "599.99" в 59999. Дробная часть округляется до центов.
func parsePriceToCents(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, e.ErrInvalidPrice
	}
	if d.LessThan(decimal.Zero) {
		return 0, e.ErrInvalidPrice
	}

	maxPrice := decimal.NewFromInt(1_000_000_000)
	if d.GreaterThan(maxPrice) {
		return 0, e.ErrInvalidPrice
	}

	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart(), nil
}
