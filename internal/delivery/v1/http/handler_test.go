package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/usecase"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	report *domain.SyncReport
	err    error
	call   jobCall
}

func (f *fakeCatalog) Sync(ctx context.Context) (*domain.SyncReport, error) {
	f.call = newJobCall(ctx)
	return f.report, f.err
}

// jobCall - состояние контекста в момент вызова длительной операции.
type jobCall struct {
	called      bool
	err         error
	hasDeadline bool
}

func newJobCall(ctx context.Context) jobCall {
	_, ok := ctx.Deadline()
	return jobCall{called: true, err: ctx.Err(), hasDeadline: ok}
}

type fakeIndex struct {
	versions  []domain.IndexVersion
	activated int64
	err       error
	call      jobCall
}

func (f *fakeIndex) Build(ctx context.Context) (*domain.BuildReport, error) {
	f.call = newJobCall(ctx)
	return &domain.BuildReport{NoOp: true}, f.err
}

func (f *fakeIndex) Activate(_ context.Context, id int64) (*domain.IndexVersion, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.activated = id
	return &domain.IndexVersion{ID: id, IsActive: true}, nil
}

func (f *fakeIndex) ListVersions(context.Context, int) ([]domain.IndexVersion, error) {
	return f.versions, f.err
}

type fakeMatcher struct {
	gotK    int
	gotData []byte
	res     *domain.MatchResult
	err     error
	health  domain.Health
}

func (f *fakeMatcher) Query(_ context.Context, data []byte, k int) (*domain.MatchResult, error) {
	f.gotK = k
	f.gotData = data
	return f.res, f.err
}

func (f *fakeMatcher) Health() domain.Health { return f.health }

type fakeIngest struct {
	got *usecase.AcceptEventReq
	err error
}

func (f *fakeIngest) Accept(_ context.Context, req *usecase.AcceptEventReq) (*usecase.AcceptEventRes, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &usecase.AcceptEventRes{TicketID: 42, CorrelationID: req.CorrelationID, Queued: true}, nil
}

func (f *fakeIngest) Enqueue(context.Context, int64, string, string) (*usecase.AcceptEventRes, error) {
	return nil, errors.New("not used")
}

type fakeReview struct {
	gotReview *usecase.ReviewReq
	gotLabel  *usecase.LabelReq
	err       error
}

func (f *fakeReview) Review(_ context.Context, req *usecase.ReviewReq) (*domain.Prediction, error) {
	f.gotReview = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Prediction{ID: req.PredictionID, Accepted: &req.Accepted, TopK: []domain.Candidate{}}, nil
}

func (f *fakeReview) Label(_ context.Context, req *usecase.LabelReq) (*domain.TicketImage, error) {
	f.gotLabel = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.TicketImage{AttachmentID: req.AttachmentID, GroundTruthProductID: &req.ProductID}, nil
}

func (f *fakeReview) ListUnreviewed(context.Context, int) ([]domain.Prediction, error) {
	return []domain.Prediction{{ID: 1}, {ID: 2}}, f.err
}

func (f *fakeReview) PredictionsByTicket(_ context.Context, ticketID int64) ([]domain.Prediction, error) {
	return []domain.Prediction{{ID: 7, TicketID: ticketID}}, f.err
}

func (f *fakeReview) PredictionByAttachment(context.Context, int64) (*domain.Prediction, error) {
	return nil, e.Wrap("PredictionRepo.GetByAttachmentID", e.ErrNotFound)
}

type testAPI struct {
	handler http.Handler
	catalog *fakeCatalog
	index   *fakeIndex
	matcher *fakeMatcher
	ingest  *fakeIngest
	review  *fakeReview
}

func newTestAPI() *testAPI {
	api := &testAPI{
		catalog: &fakeCatalog{report: &domain.SyncReport{Source: domain.SourceStorefront, Inserted: 3}},
		index:   &fakeIndex{},
		matcher: &fakeMatcher{res: &domain.MatchResult{}},
		ingest:  &fakeIngest{},
		review:  &fakeReview{},
	}
	mux := chi.NewRouter()
	NewRouter(mux, logger.NewNop()).Init(&Deps{
		Catalog:    api.catalog,
		Index:      api.index,
		Matcher:    api.matcher,
		Ingest:     api.ingest,
		Review:     api.review,
		TopK:       5,
		JobTimeout: time.Minute,
	})
	api.handler = mux
	return api
}

func (a *testAPI) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, url, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, "upload.bin")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestMatch_ReturnsCandidates(t *testing.T) {
	api := newTestAPI()
	api.matcher.res = &domain.MatchResult{
		Candidates:   []domain.Candidate{{ProductID: "p1", URL: "https://shop/p1", Score: 0.9}},
		ModelVersion: "local-colorgrid-16",
		IndexVersion: 3,
	}
	data := pngBytes(t)

	rec := api.do(t, multipartRequest(t, "/api/v1/match?k=2", "image", data))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp MatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, "p1", resp.Candidates[0].ProductID)
	assert.Equal(t, int64(3), resp.IndexVersion)
	assert.Equal(t, 2, api.matcher.gotK)
	assert.Equal(t, data, api.matcher.gotData)
}

func TestMatch_DefaultK(t *testing.T) {
	api := newTestAPI()
	rec := api.do(t, multipartRequest(t, "/api/v1/match", "file", pngBytes(t)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, api.matcher.gotK)
	assert.JSONEq(t, `{"candidates":[],"model_version":"","index_version":0}`, rec.Body.String())
}

func TestMatch_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		req      func(t *testing.T) *http.Request
		queryErr error
		want     int
	}{
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/v1/match", strings.NewReader("{}"))
			},
			want: http.StatusBadRequest,
		},
		{
			name: "no file",
			req:  func(t *testing.T) *http.Request { return multipartRequest(t, "/api/v1/match", "other", pngBytes(t)) },
			want: http.StatusBadRequest,
		},
		{
			name: "not an image",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/api/v1/match", "image", []byte("plain text, not pixels"))
			},
			want: http.StatusUnsupportedMediaType,
		},
		{
			name: "bad k",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/api/v1/match?k=-1", "image", pngBytes(t))
			},
			want: http.StatusBadRequest,
		},
		{
			name:     "undecodable",
			req:      func(t *testing.T) *http.Request { return multipartRequest(t, "/api/v1/match", "image", pngBytes(t)) },
			queryErr: &e.ImageDecodeError{Reason: "truncated"},
			want:     http.StatusUnprocessableEntity,
		},
		{
			name:     "index not ready",
			req:      func(t *testing.T) *http.Request { return multipartRequest(t, "/api/v1/match", "image", pngBytes(t)) },
			queryErr: e.ErrIndexNotReady,
			want:     http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI()
			api.matcher.err = tt.queryErr
			rec := api.do(t, tt.req(t))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Code)
		})
	}
}

func TestWebhook_Accepted(t *testing.T) {
	api := newTestAPI()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/tickets", strings.NewReader(`{"ticket_id":42}`))
	req.Header.Set(SignatureHeader, "sig")
	req.Header.Set(TimestampHeader, "2026-01-01T00:00:00Z")

	rec := api.do(t, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.True(t, resp.Queued)
	assert.Equal(t, int64(42), resp.TicketID)
	assert.NotEmpty(t, resp.CorrelationID)

	require.NotNil(t, api.ingest.got)
	assert.Equal(t, "sig", api.ingest.got.Signature)
	assert.Equal(t, "2026-01-01T00:00:00Z", api.ingest.got.Timestamp)
	assert.Equal(t, `{"ticket_id":42}`, string(api.ingest.got.Body))
}

func TestWebhook_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "bad signature", err: e.Wrap("IngestUseCase.Accept", e.ErrInvalidSignature), want: http.StatusUnauthorized},
		{name: "no ticket id", err: &e.PayloadParseError{Tried: []string{"ticket_id"}}, want: http.StatusBadRequest},
		{name: "db down", err: errors.New("connection refused"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI()
			api.ingest.err = tt.err
			rec := api.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/tickets", strings.NewReader(`{}`)))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestIndexRoutes(t *testing.T) {
	api := newTestAPI()

	rec := api.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/index/versions/9/activate", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(9), api.index.activated)

	rec = api.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/index/versions/abc/activate", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	api.index.err = e.Wrap("IndexVersionRepo.GetByID", e.ErrIndexVersionNotFound)
	rec = api.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/index/versions/10/activate", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	api.index.err = nil
	api.index.versions = []domain.IndexVersion{{ID: 2, IsActive: true}, {ID: 1}}
	rec = api.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/index/versions?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var versions []IndexVersionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &versions))
	assert.Len(t, versions, 2)

	rec = api.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/index/build", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"no_op":true`)
}

func TestCatalogSync(t *testing.T) {
	api := newTestAPI()
	rec := api.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/catalog/sync", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Inserted)
	assert.NotNil(t, resp.Errors)

	api.catalog.err = &e.UpstreamFetchError{Source: "catalog", Err: errors.New("timeout")}
	rec = api.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/catalog/sync", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

// Обрыв соединения клиента не отменяет синхронизацию и сборку.
func TestIndexJobsOutliveClientDisconnect(t *testing.T) {
	api := newTestAPI()

	for _, path := range []string{"/api/v1/catalog/sync", "/api/v1/index/build"} {
		t.Run(path, func(t *testing.T) {
			reqCtx, cancel := context.WithCancel(context.Background())
			cancel()

			req := httptest.NewRequest(http.MethodPost, path, nil).WithContext(reqCtx)
			rec := api.do(t, req)
			require.Equal(t, http.StatusOK, rec.Code)
		})
	}

	for _, call := range []jobCall{api.catalog.call, api.index.call} {
		require.True(t, call.called)
		assert.NoError(t, call.err)
		assert.True(t, call.hasDeadline)
	}
}

func TestReviewRoutes(t *testing.T) {
	api := newTestAPI()

	rec := api.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/predictions/5/review",
		strings.NewReader(`{"accepted":false,"overridden_product_id":"p9"}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, api.review.gotReview)
	assert.Equal(t, int64(5), api.review.gotReview.PredictionID)
	assert.False(t, api.review.gotReview.Accepted)
	assert.Equal(t, "p9", *api.review.gotReview.OverriddenProductID)

	rec = api.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/predictions/5/review", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/predictions/5/review", strings.NewReader(`{"accepted":true,"extra":1}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/ticket-images/77/label",
		strings.NewReader(`{"product_id":"p1","product_url":"https://shop/p1"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(77), api.review.gotLabel.AttachmentID)

	rec = api.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/predictions/unreviewed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var preds []PredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preds))
	assert.Len(t, preds, 2)

	rec = api.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/tickets/31/predictions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ticket_id":31`)

	rec = api.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/attachments/12/prediction", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndPing(t *testing.T) {
	api := newTestAPI()

	rec := api.do(t, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())

	api.matcher.health = domain.Health{State: "unloaded"}
	rec = api.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	api.matcher.health = domain.Health{State: "ready", Ready: true, IndexVersion: 4, Entries: 10}
	rec = api.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"index_version":4`)
}

func TestToHTTPResponse(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: e.ErrMissingFields, want: http.StatusBadRequest},
		{err: fmt.Errorf("wrapped: %w", e.ErrNotFound), want: http.StatusNotFound},
		{err: e.ErrBuildSuperseded, want: http.StatusConflict},
		{err: fmt.Errorf("activate: %w", e.ErrModelVersionMismatch), want: http.StatusConflict},
		{err: e.ErrFileTooLarge, want: http.StatusRequestEntityTooLarge},
		{err: e.ErrNoArtifact, want: http.StatusServiceUnavailable},
		{err: &e.ConfigurationError{Component: "encoder"}, want: http.StatusInternalServerError},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			code, msg := ToHTTPResponse(tt.err)
			assert.Equal(t, tt.want, code)
			assert.NotEmpty(t, msg)
		})
	}
}
