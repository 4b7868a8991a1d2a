package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"image"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/google/uuid"
)

type passTx struct{}

func (passTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// CODEC / ENCODER

type fakeCodec struct{}

func (fakeCodec) Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 || bytes.HasPrefix(data, []byte("corrupt")) {
		return nil, "", &e.ImageDecodeError{Reason: "unknown format"}
	}
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), "png", nil
}

func (fakeCodec) PerceptualHash(image.Image) (string, error) {
	return "p:0000000000000000", nil
}

type fakeEncoder struct {
	model string
	calls atomic.Int32

	mu   sync.Mutex
	hook func(ctx context.Context) error
}

func newFakeEncoder(model string) *fakeEncoder {
	return &fakeEncoder{model: model}
}

func (f *fakeEncoder) setHook(hook func(ctx context.Context) error) {
	f.mu.Lock()
	f.hook = hook
	f.mu.Unlock()
}

func (f *fakeEncoder) ModelVersion() string { return f.model }

func (f *fakeEncoder) VectorizeRequest(ctx context.Context, req *VectorizeReq) ([]VectorizeRes, error) {
	f.calls.Add(1)

	f.mu.Lock()
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}

	out := make([]VectorizeRes, 0, len(req.Images))
	for _, img := range req.Images {
		out = append(out, *NewVectorizeRes(testVector(img.Data), f.model))
	}
	return out, nil
}

// testVector выводит псевдослучайный вектор из содержимого, одинаковые данные дают одинаковый вектор.
func testVector(data []byte) []float32 {
	sum := sha256.Sum256(data)
	v := make([]float32, len(sum))
	for i, b := range sum {
		v[i] = float32(b) - 127.5
	}
	return v
}

// CATALOG

type memProducts struct {
	mu     sync.Mutex
	nextID int64
	items  map[string]*domain.Product
}

func newMemProducts() *memProducts {
	return &memProducts{items: make(map[string]*domain.Product)}
}

func (m *memProducts) Upsert(_ context.Context, p *domain.Product) (*UpsertProductRes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.items[p.ExternalID]; ok {
		same := cur.SameAttributes(p) && !cur.IsArchived
		stored := *p
		stored.ID = cur.ID
		stored.Images = nil
		m.items[p.ExternalID] = &stored
		out := stored
		return NewUpsertProductRes(&out, false, same), nil
	}

	m.nextID++
	stored := *p
	stored.ID = m.nextID
	stored.Images = nil
	m.items[p.ExternalID] = &stored
	out := stored
	return NewUpsertProductRes(&out, true, false), nil
}

func (m *memProducts) ListActive(context.Context) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Product, 0, len(m.items))
	for _, p := range m.items {
		if !p.IsArchived {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func (m *memProducts) ArchiveMissing(_ context.Context, source string, keep []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		kept[k] = struct{}{}
	}
	var n int64
	for id, p := range m.items {
		if _, ok := kept[id]; ok || p.Source != source || p.IsArchived {
			continue
		}
		p.IsArchived = true
		n++
	}
	return n, nil
}

type imageSlot struct {
	productID int64
	position  int
}

type memProductImages struct {
	mu       sync.Mutex
	nextID   int64
	items    map[imageSlot]*domain.ProductImage
	failures map[int64]string
}

func newMemProductImages() *memProductImages {
	return &memProductImages{
		items:    make(map[imageSlot]*domain.ProductImage),
		failures: make(map[int64]string),
	}
}

func (m *memProductImages) Upsert(_ context.Context, img *domain.ProductImage) (*UpsertImageRes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot := imageSlot{img.ProductID, img.Position}
	if cur, ok := m.items[slot]; ok && cur.ContentHash == img.ContentHash {
		cur.SourceURL = img.SourceURL
		if img.ObjectKey != "" {
			cur.ObjectKey = img.ObjectKey
		}
		out := *cur
		return &UpsertImageRes{Image: &out, Changed: false}, nil
	}

	m.nextID++
	stored := *img
	stored.ID = m.nextID
	m.items[slot] = &stored
	out := stored
	return &UpsertImageRes{Image: &out, Changed: true}, nil
}

func (m *memProductImages) DeleteFromPosition(_ context.Context, productID int64, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for slot := range m.items {
		if slot.productID == productID && slot.position >= position {
			delete(m.items, slot)
		}
	}
	return nil
}

func (m *memProductImages) ListForIndex(context.Context) ([]domain.ProductImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.ProductImage, 0, len(m.items))
	for _, img := range m.items {
		out = append(out, *img)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (m *memProductImages) MarkEmbedded(_ context.Context, id int64, embeddingID, contentHash, modelVersion string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, img := range m.items {
		if img.ID == id {
			img.EmbeddingID = embeddingID
			img.EmbeddedHash = contentHash
			img.EmbeddedModel = modelVersion
			img.EmbedError = ""
		}
	}
	delete(m.failures, id)
	return nil
}

func (m *memProductImages) MarkEmbedFailed(_ context.Context, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures[id] = reason
	return nil
}

func (m *memProductImages) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

type memVersions struct {
	mu    sync.Mutex
	items []domain.IndexVersion
}

func (m *memVersions) Create(_ context.Context, v *domain.IndexVersion) (*domain.IndexVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *v
	stored.ID = int64(len(m.items) + 1)
	stored.CreatedAt = time.Now().UTC()
	m.items = append(m.items, stored)
	out := stored
	return &out, nil
}

func (m *memVersions) GetActive(context.Context) (*domain.IndexVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.items {
		if v.IsActive {
			out := v
			return &out, nil
		}
	}
	return nil, e.ErrIndexVersionNotFound
}

func (m *memVersions) GetByID(_ context.Context, id int64) (*domain.IndexVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.items {
		if v.ID == id {
			out := v
			return &out, nil
		}
	}
	return nil, e.ErrIndexVersionNotFound
}

func (m *memVersions) Activate(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := false
	for i := range m.items {
		m.items[i].IsActive = m.items[i].ID == id
		found = found || m.items[i].ID == id
	}
	if !found {
		return e.ErrIndexVersionNotFound
	}
	return nil
}

func (m *memVersions) List(_ context.Context, limit int) ([]domain.IndexVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.IndexVersion, 0, len(m.items))
	for i := len(m.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.items[i])
	}
	return out, nil
}

func (m *memVersions) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

type memObjects struct {
	mu    sync.Mutex
	items map[string][]byte
	gets  atomic.Int32
}

func newMemObjects() *memObjects {
	return &memObjects{items: make(map[string][]byte)}
}

func (m *memObjects) Upload(_ context.Context, img *domain.Image) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[img.ObjectKey] = bytes.Clone(img.Data)
	return img.ObjectKey, nil
}

func (m *memObjects) Get(_ context.Context, key string) ([]byte, error) {
	m.gets.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.items[key]
	if !ok {
		return nil, e.ErrNotFound
	}
	return bytes.Clone(data), nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}

func (m *memObjects) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[key]
	return ok
}

// memImagesInfra пишет объекты в то же хранилище, что и memObjects.
type memImagesInfra struct {
	store *memObjects

	mu      sync.Mutex
	cleaned []string
	err     error
}

func (m *memImagesInfra) UploadImages(ctx context.Context, req *UploadImagesReq) (*UploadImagesRes, error) {
	if m.err != nil {
		return nil, m.err
	}
	keys := make([]string, 0, len(req.Blobs))
	for _, b := range req.Blobs {
		ct := b.ContentType
		if _, err := m.store.Upload(ctx, domain.NewImage(b.Key, "test", b.Key, b.Data, &ct)); err != nil {
			return nil, err
		}
		keys = append(keys, b.Key)
	}
	return NewUploadImagesRes(keys), nil
}

func (m *memImagesInfra) CleanupImages(keys []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		_ = m.store.Delete(context.Background(), k)
		m.cleaned = append(m.cleaned, k)
	}
}

type memEmbeddings struct {
	mu    sync.Mutex
	items map[string]domain.Embedding
	err   error
}

func newMemEmbeddings() *memEmbeddings {
	return &memEmbeddings{items: make(map[string]domain.Embedding)}
}

func (m *memEmbeddings) Upsert(_ context.Context, vectors []domain.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	for _, v := range vectors {
		m.items[v.ID] = v
	}
	return nil
}

func (m *memEmbeddings) Scroll(_ context.Context, modelVersion string) ([]domain.Embedding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Embedding
	for _, v := range m.items {
		if v.Payload["model_version"] == modelVersion {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memEmbeddings) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.items, id)
	}
	return nil
}

type mapFetcher struct {
	mu    sync.Mutex
	data  map[string][]byte
	calls map[string]int
}

func newMapFetcher() *mapFetcher {
	return &mapFetcher{data: make(map[string][]byte), calls: make(map[string]int)}
}

func (f *mapFetcher) put(url string, data []byte) {
	f.mu.Lock()
	f.data[url] = data
	f.mu.Unlock()
}

func (f *mapFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[url]++
	data, ok := f.data[url]
	if !ok {
		return nil, &e.UpstreamFetchError{Source: url, Attempts: 1, Err: errors.New("404 Not Found")}
	}
	return bytes.Clone(data), nil
}

type staticSource struct {
	products []domain.Product
	err      error
}

func (s *staticSource) Name() string { return domain.SourceStorefront }

func (s *staticSource) FetchProducts(context.Context) ([]domain.Product, error) {
	out := make([]domain.Product, len(s.products))
	copy(out, s.products)
	return out, s.err
}

type memMatchCache struct {
	mu    sync.Mutex
	items map[string]*domain.MatchResult
}

func newMemMatchCache() *memMatchCache {
	return &memMatchCache{items: make(map[string]*domain.MatchResult)}
}

func (m *memMatchCache) Get(_ context.Context, key string) (*domain.MatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[key], nil
}

func (m *memMatchCache) Set(_ context.Context, key string, res *domain.MatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = res
	return nil
}

// INGESTION

type memTicketImages struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]*domain.TicketImage
}

func newMemTicketImages() *memTicketImages {
	return &memTicketImages{items: make(map[int64]*domain.TicketImage)}
}

func (m *memTicketImages) Exists(_ context.Context, attachmentID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[attachmentID]
	return ok, nil
}

func (m *memTicketImages) Create(_ context.Context, img *domain.TicketImage) (*domain.TicketImage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.items[img.AttachmentID]; ok {
		out := *cur
		return &out, false, nil
	}
	m.nextID++
	stored := *img
	stored.ID = m.nextID
	stored.CreatedAt = time.Now().UTC()
	m.items[img.AttachmentID] = &stored
	out := stored
	return &out, true, nil
}

func (m *memTicketImages) GetByAttachmentID(_ context.Context, attachmentID int64) (*domain.TicketImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.items[attachmentID]
	if !ok {
		return nil, e.ErrNotFound
	}
	out := *cur
	return &out, nil
}

func (m *memTicketImages) SetGroundTruth(_ context.Context, attachmentID int64, gt domain.GroundTruth) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.items[attachmentID]
	if !ok {
		return e.ErrNotFound
	}
	now := time.Now().UTC()
	cur.GroundTruthProductID = &gt.ProductID
	cur.GroundTruthURL = &gt.ProductURL
	cur.LabelSource = &gt.LabelSource
	cur.LabeledAt = &now
	return nil
}

type memPredictions struct {
	mu     sync.Mutex
	nextID int64
	items  []*domain.Prediction
}

func (m *memPredictions) Create(_ context.Context, p *domain.Prediction) (*domain.Prediction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cur := range m.items {
		if cur.AttachmentID == p.AttachmentID {
			out := *cur
			return &out, false, nil
		}
	}
	m.nextID++
	stored := *p
	stored.ID = m.nextID
	stored.CreatedAt = time.Now().UTC()
	m.items = append(m.items, &stored)
	out := stored
	return &out, true, nil
}

func (m *memPredictions) GetByID(_ context.Context, id int64) (*domain.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cur := range m.items {
		if cur.ID == id {
			out := *cur
			return &out, nil
		}
	}
	return nil, e.ErrNotFound
}

func (m *memPredictions) GetByAttachmentID(_ context.Context, attachmentID int64) (*domain.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cur := range m.items {
		if cur.AttachmentID == attachmentID {
			out := *cur
			return &out, nil
		}
	}
	return nil, e.ErrNotFound
}

func (m *memPredictions) ListByTicketID(_ context.Context, ticketID int64) ([]domain.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Prediction
	for _, cur := range m.items {
		if cur.TicketID == ticketID {
			out = append(out, *cur)
		}
	}
	return out, nil
}

func (m *memPredictions) ListUnreviewed(_ context.Context, limit int) ([]domain.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Prediction
	for _, cur := range m.items {
		if cur.ReviewedAt == nil && len(out) < limit {
			out = append(out, *cur)
		}
	}
	return out, nil
}

func (m *memPredictions) Review(_ context.Context, id int64, review domain.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cur := range m.items {
		if cur.ID == id {
			now := time.Now().UTC()
			cur.Accepted = &review.Accepted
			cur.OverriddenProductID = review.OverriddenProductID
			cur.ReviewedAt = &now
			return nil
		}
	}
	return e.ErrNotFound
}

func (m *memPredictions) countFor(attachmentID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, cur := range m.items {
		if cur.AttachmentID == attachmentID {
			n++
		}
	}
	return n
}

type memOutbox struct {
	mu     sync.Mutex
	events []domain.OutboxEvent
}

func (m *memOutbox) Create(_ context.Context, ev *domain.OutboxEvent) (*domain.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *ev
	stored.ID = int64(len(m.events) + 1)
	stored.CreatedAt = time.Now().UTC()
	m.events = append(m.events, stored)
	out := stored
	return &out, nil
}

func (m *memOutbox) GetAndMarkAsProcessing(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.OutboxEvent
	now := time.Now().UTC()
	for i := range m.events {
		ev := &m.events[i]
		if ev.Status == domain.OutboxStatusPending && !ev.AvailableAt.After(now) && len(out) < limit {
			ev.Status = domain.OutboxStatusProcessing
			out = append(out, *ev)
		}
	}
	return out, nil
}

func (m *memOutbox) MarkAsProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].Status = domain.OutboxStatusProcessed
		}
	}
	return nil
}

func (m *memOutbox) ResetStale(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func (m *memOutbox) all() []domain.OutboxEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.OutboxEvent, len(m.events))
	copy(out, m.events)
	return out
}

type memLocks struct {
	mu    sync.Mutex
	held  map[string]string
	taken atomic.Int32
}

func newMemLocks() *memLocks {
	return &memLocks{held: make(map[string]string)}
}

func (m *memLocks) TryLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[key]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
	m.held[key] = token
	m.taken.Add(1)
	return token, true, nil
}

func (m *memLocks) Unlock(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held[key] == token {
		delete(m.held, key)
	}
	return nil
}

type fakeTicketing struct {
	mu          sync.Mutex
	comments    []domain.Comment
	audits      []domain.Audit
	commentsErr error
	auditsErr   error
	files       map[string][]byte
	downloadErr error
	downloads   atomic.Int32
	notes       []string
	noteErr     error
}

func (f *fakeTicketing) ListComments(context.Context, int64) ([]domain.Comment, error) {
	if f.commentsErr != nil {
		return nil, f.commentsErr
	}
	return f.comments, nil
}

func (f *fakeTicketing) ListAudits(context.Context, int64) ([]domain.Audit, error) {
	if f.auditsErr != nil {
		return nil, f.auditsErr
	}
	return f.audits, nil
}

func (f *fakeTicketing) DownloadAttachment(_ context.Context, url string) ([]byte, error) {
	f.downloads.Add(1)
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	data, ok := f.files[url]
	if !ok {
		return nil, &e.UpstreamFetchError{Source: "ticketing", Attempts: 1, Err: errors.New("404 Not Found")}
	}
	return data, nil
}

func (f *fakeTicketing) AddInternalNote(_ context.Context, _ int64, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.notes = append(f.notes, body)
	return f.noteErr
}

func (f *fakeTicketing) notesTaken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notes...)
}

type fakeMatcher struct {
	calls atomic.Int32
	delay time.Duration
	res   *domain.MatchResult
	err   error
}

func (f *fakeMatcher) Query(ctx context.Context, data []byte, _ int) (*domain.MatchResult, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if _, _, err := (fakeCodec{}).Decode(data); err != nil {
		return nil, err
	}
	return f.res, nil
}

func (f *fakeMatcher) Health() domain.Health {
	return domain.Health{State: StateReady.String(), Ready: true}
}
