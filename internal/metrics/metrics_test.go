package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/usecase"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ usecase.Metrics = (*Metrics)(nil)

func TestObserveQuery(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveQuery(0.02, "ok")
	m.ObserveQuery(0.5, "ok")
	m.ObserveQuery(0.01, "index_not_ready")

	assert.Equal(t, 2, testutil.CollectAndCount(m.QueryDuration))
}

func TestIncAttachment(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncAttachment("predicted")
	m.IncAttachment("predicted")
	m.IncAttachment("skipped")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AttachmentsTotal.WithLabelValues("predicted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttachmentsTotal.WithLabelValues("skipped")))
}

func TestObserveBuild(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveBuild(3, &domain.BuildReport{Embedded: 10, Reused: 4, Failed: 1}, nil)
	m.ObserveBuild(0.1, &domain.BuildReport{NoOp: true}, nil)
	m.ObserveBuild(1, nil, errors.New("boom"))

	assert.Equal(t, 10.0, testutil.ToFloat64(m.BuildImages.WithLabelValues("embedded")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.BuildImages.WithLabelValues("reused")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BuildImages.WithLabelValues("failed")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.BuildDuration))
}

func TestObserveSync(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveSync(&domain.SyncReport{Source: "storefront", Inserted: 5, Updated: 2, Skipped: 1}, nil)
	m.ObserveSync(&domain.SyncReport{Source: "sitemap", Inserted: 1, Errors: []string{"bad price"}}, nil)
	m.ObserveSync(nil, errors.New("unavailable"))

	assert.Equal(t, 5.0, testutil.ToFloat64(m.SyncProductsTotal.WithLabelValues("storefront", "inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncProductsTotal.WithLabelValues("sitemap", "inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncRunsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncRunsTotal.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncRunsTotal.WithLabelValues("error")))
}

func TestSetIndexState(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetIndexState("loading", 0)
	m.SetIndexState("ready", 42)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexState.WithLabelValues("ready")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.IndexState.WithLabelValues("loading")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.IndexEntries))
}

func TestHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetIndexState("ready", 7)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "product_matcher_index_entries 7")
}
