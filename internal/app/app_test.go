package app

import (
	"testing"
	"time"

	config "github.com/DRSN-tech/product-matcher/internal/cfg"
	"github.com/DRSN-tech/product-matcher/internal/infrastructure/catalog"
	"github.com/DRSN-tech/product-matcher/internal/infrastructure/encoder"
	"github.com/DRSN-tech/product-matcher/internal/infrastructure/imagecodec"
	"github.com/DRSN-tech/product-matcher/internal/infrastructure/ticketing"
	"github.com/DRSN-tech/product-matcher/pkg/closer"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testApp(cfg *config.Config) *App {
	return &App{cfg: cfg, logger: logger.NewNop(), closer: closer.NewCloser(time.Second)}
}

func TestNewEncoder_LocalWithCache(t *testing.T) {
	a := testApp(&config.Config{Ml: &config.MLServiceCfg{Backend: "local", CacheSize: 16}})

	enc, err := a.newEncoder(imagecodec.New())
	require.NoError(t, err)

	_, cached := enc.(*encoder.Cached)
	assert.True(t, cached)
	assert.Equal(t, encoder.LocalModelVersion, enc.ModelVersion())
}

func TestNewEncoder_NoCache(t *testing.T) {
	a := testApp(&config.Config{Ml: &config.MLServiceCfg{Backend: "local"}})

	enc, err := a.newEncoder(imagecodec.New())
	require.NoError(t, err)

	_, local := enc.(*encoder.Local)
	assert.True(t, local)
}

func TestNewCatalogSource(t *testing.T) {
	t.Run("store domain required", func(t *testing.T) {
		a := testApp(&config.Config{Catalog: &config.CatalogCfg{}})

		_, err := a.newCatalogSource()
		require.Error(t, err)
		assert.True(t, e.IsConfiguration(err))
	})

	t.Run("storefront with sitemap fallback", func(t *testing.T) {
		a := testApp(&config.Config{Catalog: &config.CatalogCfg{
			StoreDomain:          "shop.example.com",
			StorefrontAPIVersion: "2024-01",
			Timeout:              time.Second,
		}})

		src, err := a.newCatalogSource()
		require.NoError(t, err)
		_, ok := src.(*catalog.Fallback)
		assert.True(t, ok)
	})
}

func TestNewTicketing(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		a := testApp(&config.Config{
			Ticketing: &config.TicketingCfg{Subdomain: "acme"},
			Worker:    &config.WorkerCfg{},
		})

		_, err := a.newTicketing()
		var cfgErr *e.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.ElementsMatch(t, []string{"ZENDESK_EMAIL", "ZENDESK_API_TOKEN"}, cfgErr.Missing)
	})

	t.Run("configured", func(t *testing.T) {
		a := testApp(&config.Config{
			Ticketing: &config.TicketingCfg{Subdomain: "acme", Email: "bot@acme.io", APIToken: "tok", Timeout: time.Second},
			Worker:    &config.WorkerCfg{DownloadTimeout: time.Second},
		})

		tickets, err := a.newTicketing()
		require.NoError(t, err)
		_, ok := tickets.(*ticketing.Zendesk)
		assert.True(t, ok)
	})
}
