package kafka

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/usecase"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOutbox struct {
	mu        sync.Mutex
	pending   []domain.OutboxEvent
	processed []int64
	resets    int
}

func (f *fakeOutbox) Create(context.Context, *domain.OutboxEvent) (*domain.OutboxEvent, error) {
	return nil, errors.New("not used")
}

func (f *fakeOutbox) GetAndMarkAsProcessing(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := min(limit, len(f.pending))
	out := append([]domain.OutboxEvent(nil), f.pending[:n]...)
	f.pending = f.pending[n:]
	return out, nil
}

func (f *fakeOutbox) MarkAsProcessed(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, id)
	return nil
}

func (f *fakeOutbox) ResetStale(context.Context, time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return 0, nil
}

type fakeProducer struct {
	mu     sync.Mutex
	sent   []*usecase.WriteRawMessageReq
	failAt int // 0, не падать; n, падать на n-м сообщении
}

func (f *fakeProducer) WriteRawMessage(_ context.Context, req *usecase.WriteRawMessageReq) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt > 0 && len(f.sent)+1 == f.failAt {
		return errors.New("broker not available")
	}
	f.sent = append(f.sent, req)
	return nil
}

func outboxEvents(n int) []domain.OutboxEvent {
	out := make([]domain.OutboxEvent, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, domain.OutboxEvent{
			ID:       int64(i),
			EventID:  uuid.New(),
			TicketID: int64(1000 + i),
			Payload:  []byte(`{"ticket_id":1}`),
			Status:   domain.OutboxStatusProcessing,
		})
	}
	return out
}

func TestOutboxWorker_DrainPublishesAll(t *testing.T) {
	repo := &fakeOutbox{pending: outboxEvents(7)}
	producer := &fakeProducer{}
	w := NewOutboxWorker(repo, logger.NewNop(), producer, "", 3, time.Minute, time.Minute)

	w.drain(context.Background())

	assert.Len(t, producer.sent, 7)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, repo.processed)
	assert.Equal(t, "1001", producer.sent[0].Key)
}

func TestOutboxWorker_BrokerFailureLeavesEventUnmarked(t *testing.T) {
	repo := &fakeOutbox{pending: outboxEvents(3)}
	producer := &fakeProducer{failAt: 2}
	w := NewOutboxWorker(repo, logger.NewNop(), producer, "", 10, time.Minute, time.Minute)

	w.drain(context.Background())

	assert.Equal(t, []int64{1}, repo.processed)
	assert.Len(t, producer.sent, 1)
}

func TestOutboxWorker_SweepResetsStale(t *testing.T) {
	repo := &fakeOutbox{}
	w := NewOutboxWorker(repo, logger.NewNop(), &fakeProducer{}, "", 0, 0, 0)

	w.sweepStale(context.Background())

	assert.Equal(t, 1, repo.resets)
	assert.Equal(t, defaultBatchSize, w.batchSize)
	assert.Equal(t, defaultStaleAfter, w.staleAfter)
}

func TestOutboxWorker_WakeDoesNotBlock(t *testing.T) {
	w := NewOutboxWorker(&fakeOutbox{}, logger.NewNop(), &fakeProducer{}, "", 1, time.Minute, time.Minute)

	w.wake()
	w.wake()

	assert.Len(t, w.notify, 1)
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []kafka.Message
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.msgs) == 0 {
		f.mu.Unlock()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	f.mu.Unlock()
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error { return nil }

func (f *fakeReader) committedOffsets() map[int][]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int][]int64)
	for _, m := range f.committed {
		out[m.Partition] = append(out[m.Partition], m.Offset)
	}
	return out
}

type flakyHandler struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (h *flakyHandler) HandleEvent(context.Context, []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.failures > 0 {
		h.failures--
		return errors.New("requeue failed")
	}
	return nil
}

func runConsumer(t *testing.T, c *Consumer, done func() bool) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	require.Eventually(t, done, 2*time.Second, 5*time.Millisecond)
	cancel()
	c.Wait()
}

func TestConsumer_CommitsAfterHandling(t *testing.T) {
	reader := &fakeReader{
		msgs: []kafka.Message{{Offset: 10, Value: []byte("a")}, {Offset: 11, Value: []byte("b")}},
	}
	handler := &flakyHandler{failures: 2}
	c := NewConsumer(reader, handler, logger.NewNop(), 1)
	c.retryBase = time.Millisecond
	c.retryMax = 5 * time.Millisecond

	runConsumer(t, c, func() bool { return len(reader.committedOffsets()[0]) == 2 })

	assert.Equal(t, []int64{10, 11}, reader.committedOffsets()[0])
	assert.Equal(t, 4, handler.calls)
}

// sleepyHandler держит каждое событие delay и запоминает пиковое число
// одновременно обрабатываемых событий.
type sleepyHandler struct {
	delay   time.Duration
	current atomic.Int32
	peak    atomic.Int32
}

func (h *sleepyHandler) HandleEvent(ctx context.Context, payload []byte) error {
	n := h.current.Add(1)
	defer h.current.Add(-1)
	for {
		p := h.peak.Load()
		if n <= p || h.peak.CompareAndSwap(p, n) {
			break
		}
	}

	delay := h.delay
	if string(payload) == "fast" {
		delay = 0
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestConsumer_HandlesTicketsConcurrently(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Partition: 0, Offset: 1, Key: []byte("101")},
		{Partition: 1, Offset: 1, Key: []byte("102")},
		{Partition: 2, Offset: 1, Key: []byte("103")},
		{Partition: 0, Offset: 2, Key: []byte("104")},
	}}
	handler := &sleepyHandler{delay: 100 * time.Millisecond}
	c := NewConsumer(reader, handler, logger.NewNop(), 4)

	start := time.Now()
	runConsumer(t, c, func() bool {
		offsets := reader.committedOffsets()
		return len(offsets[0]) > 0 && offsets[0][len(offsets[0])-1] == 2 &&
			len(offsets[1]) == 1 && len(offsets[2]) == 1
	})

	assert.GreaterOrEqual(t, handler.peak.Load(), int32(2))
	assert.Less(t, time.Since(start), 350*time.Millisecond)
}

func TestConsumer_CommitsInPartitionOrder(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Partition: 0, Offset: 1, Value: []byte("slow")},
		{Partition: 0, Offset: 2, Value: []byte("fast")},
	}}
	handler := &sleepyHandler{delay: 50 * time.Millisecond}
	c := NewConsumer(reader, handler, logger.NewNop(), 2)

	runConsumer(t, c, func() bool { return len(reader.committedOffsets()[0]) > 0 })

	// Быстрое сообщение не коммитится раньше медленного предшественника
	assert.Equal(t, []int64{2}, reader.committedOffsets()[0])
}

func TestOffsetTracker_WaitsForGap(t *testing.T) {
	tracker := newOffsetTracker()
	msgs := []kafka.Message{{Offset: 5}, {Offset: 6}, {Offset: 7}}
	for _, m := range msgs {
		tracker.add(m)
	}

	_, ok := tracker.complete(msgs[1])
	assert.False(t, ok)
	_, ok = tracker.complete(msgs[2])
	assert.False(t, ok)

	last, ok := tracker.complete(msgs[0])
	require.True(t, ok)
	assert.Equal(t, int64(7), last.Offset)
	assert.Empty(t, tracker.partitions[0].inFlight)
}

type blockingHandler struct{}

func (blockingHandler) HandleEvent(ctx context.Context, _ []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestConsumer_ShutdownDoesNotCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	reader := &fakeReader{msgs: []kafka.Message{{Offset: 5}}}
	c := NewConsumer(reader, blockingHandler{}, logger.NewNop(), 2)

	c.Start(ctx)
	time.AfterFunc(20*time.Millisecond, cancel)
	c.Wait()

	assert.Empty(t, reader.committedOffsets())
}
