package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/infrastructure/httpfetch"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFetcher() *httpfetch.Fetcher {
	return httpfetch.New(http.DefaultClient, "catalog", httpfetch.WithBackoff(time.Millisecond, 2*time.Millisecond), httpfetch.WithMaxRetries(1))
}

func storefrontPage(hasNext bool, cursor string, nodes ...map[string]any) map[string]any {
	edges := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		edges = append(edges, map[string]any{"node": n})
	}
	return map[string]any{"data": map[string]any{"products": map[string]any{
		"pageInfo": map[string]any{"hasNextPage": hasNext, "endCursor": cursor},
		"edges":    edges,
	}}}
}

func productJSON(id, handle string, onlineURL any, price string, images ...string) map[string]any {
	imgEdges := make([]map[string]any, 0, len(images))
	for _, u := range images {
		imgEdges = append(imgEdges, map[string]any{"node": map[string]any{"url": u}})
	}
	return map[string]any{
		"id":             id,
		"handle":         handle,
		"title":          handle,
		"onlineStoreUrl": onlineURL,
		"tags":           []string{"wheel"},
		"priceRange":     map[string]any{"minVariantPrice": map[string]any{"amount": price, "currencyCode": "USD"}},
		"images":         map[string]any{"edges": imgEdges},
	}
}

func TestStorefront_Paginates(t *testing.T) {
	var cursors []any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/2024-01/graphql.json", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get(tokenHeader))

		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.EqualValues(t, pageSize, req.Variables["first"])
		cursors = append(cursors, req.Variables["cursor"])

		var page map[string]any
		if req.Variables["cursor"] == nil {
			page = storefrontPage(true, "c1",
				productJSON("gid://shopify/Product/1", "red-rim", "https://shop.test/products/red-rim", "599.99", "https://cdn/1a.jpg", "https://cdn/1b.jpg"))
		} else {
			page = storefrontPage(false, "",
				productJSON("gid://shopify/Product/2", "blue-rim", nil, "10", "https://cdn/2a.jpg"))
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	src := NewStorefront(testFetcher(), srv.URL, "2024-01", "secret", 0, 20, logger.NewNop())
	products, err := src.FetchProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, []any{nil, "c1"}, cursors)

	first := products[0]
	assert.Equal(t, "gid://shopify/Product/1", first.ExternalID)
	assert.Equal(t, "https://shop.test/products/red-rim", first.URL)
	require.NotNil(t, first.PriceCents)
	assert.Equal(t, int64(59999), *first.PriceCents)
	assert.Equal(t, "USD", first.Currency)
	require.Len(t, first.Images, 2)
	assert.Equal(t, 1, first.Images[1].Position)
	assert.Equal(t, "https://cdn/1b.jpg", first.Images[1].SourceURL)

	second := products[1]
	assert.Equal(t, srv.URL+"/products/blue-rim", second.URL)
	assert.Equal(t, int64(1000), *second.PriceCents)
	assert.Equal(t, domain.SourceStorefront, second.Source)
}

func TestStorefront_PartialFailureKeepsProducts(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			_ = json.NewEncoder(w).Encode(storefrontPage(true, "c1", productJSON("gid://1", "a", nil, "1.00")))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewStorefront(testFetcher(), srv.URL, "2024-01", "secret", 0, 20, logger.NewNop())
	products, err := src.FetchProducts(context.Background())
	require.Error(t, err)
	assert.True(t, e.IsUpstream(err))
	assert.Len(t, products, 1)
}

func TestStorefront_GraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"errors":[{"message":"access denied"}]}`)
	}))
	defer srv.Close()

	src := NewStorefront(testFetcher(), srv.URL, "2024-01", "secret", 0, 20, logger.NewNop())
	_, err := src.FetchProducts(context.Background())
	require.ErrorIs(t, err, e.ErrGraphQL)
	assert.Contains(t, err.Error(), "access denied")
}

func TestStorefront_NoToken(t *testing.T) {
	src := NewStorefront(testFetcher(), "https://shop.test", "2024-01", "", 0, 20, logger.NewNop())
	_, err := src.FetchProducts(context.Background())
	assert.ErrorIs(t, err, e.ErrSourceUnavailable)
}

func TestParsePriceToCents(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "599.99", want: 59999},
		{in: "600", want: 60000},
		{in: "0.005", want: 1},
		{in: "-1", wantErr: true},
		{in: "abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parsePriceToCents(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, e.ErrInvalidPrice)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSitemap_ParsesProductSitemaps(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%[1]s/sitemap_products_1.xml</loc></sitemap>
  <sitemap><loc>%[1]s/sitemap_pages_1.xml</loc></sitemap>
</sitemapindex>`, srv.URL)
	})
	mux.HandleFunc("/sitemap_products_1.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9" xmlns:image="http://www.google.com/schemas/sitemap-image/1.1">
  <url><loc>https://shop.test/</loc></url>
  <url>
    <loc>https://shop.test/products/red-rim-17?variant=1</loc>
    <image:image><image:loc>https://cdn/red.jpg</image:loc><image:title>Red</image:title></image:image>
    <image:image><image:loc>https://cdn/red-2.jpg</image:loc></image:image>
  </url>
  <url><loc>https://shop.test/products/bare</loc></url>
  <url><loc>https://shop.test/products/red-rim-17</loc></url>
</urlset>`)
	})
	mux.HandleFunc("/sitemap_pages_1.xml", func(w http.ResponseWriter, r *http.Request) {
		t.Error("non-product sitemap must not be fetched")
	})

	src := NewSitemap(testFetcher(), srv.URL, logger.NewNop())
	products, err := src.FetchProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 2)

	assert.Equal(t, "sitemap:red-rim-17", products[0].ExternalID)
	assert.Equal(t, "Red Rim 17", products[0].Title)
	require.Len(t, products[0].Images, 1)
	assert.Equal(t, "https://cdn/red.jpg", products[0].Images[0].SourceURL)

	assert.Equal(t, "sitemap:bare", products[1].ExternalID)
	assert.Empty(t, products[1].Images)
	assert.Equal(t, domain.SourceSitemap, products[1].Source)
}

type stubSource struct {
	name     string
	products []domain.Product
	err      error
	calls    int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) FetchProducts(context.Context) ([]domain.Product, error) {
	s.calls++
	return s.products, s.err
}

func TestFallback(t *testing.T) {
	one := []domain.Product{{ExternalID: "x"}}

	t.Run("primary succeeds", func(t *testing.T) {
		primary := &stubSource{name: "storefront", products: one}
		secondary := &stubSource{name: "sitemap", products: one}
		f := NewFallback(logger.NewNop(), primary, secondary)

		got, err := f.FetchProducts(context.Background())
		require.NoError(t, err)
		assert.Len(t, got, 1)
		assert.Equal(t, "storefront", f.Name())
		assert.Zero(t, secondary.calls)
	})

	t.Run("primary fails", func(t *testing.T) {
		primary := &stubSource{name: "storefront", err: errors.New("boom")}
		secondary := &stubSource{name: "sitemap", products: one}
		f := NewFallback(logger.NewNop(), primary, secondary)

		got, err := f.FetchProducts(context.Background())
		require.NoError(t, err)
		assert.Len(t, got, 1)
		assert.Equal(t, "sitemap", f.Name())
	})

	t.Run("partial result is kept", func(t *testing.T) {
		partial := errors.New("page 3 failed")
		primary := &stubSource{name: "storefront", products: one, err: partial}
		secondary := &stubSource{name: "sitemap", products: one}
		f := NewFallback(logger.NewNop(), primary, secondary)

		got, err := f.FetchProducts(context.Background())
		assert.ErrorIs(t, err, partial)
		assert.Len(t, got, 1)
		assert.Zero(t, secondary.calls)
	})

	t.Run("all empty", func(t *testing.T) {
		f := NewFallback(logger.NewNop(), &stubSource{name: "storefront"}, &stubSource{name: "sitemap", err: errors.New("down")})

		got, err := f.FetchProducts(context.Background())
		assert.Empty(t, got)
		assert.ErrorIs(t, err, e.ErrEmptyCatalog)
	})
}
