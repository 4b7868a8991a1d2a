package kafka

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/repository/pgdb"
	"github.com/DRSN-tech/product-matcher/internal/usecase"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"github.com/jackc/pgx/v5"
)

const (
	defaultBatchSize  = 10
	defaultSweep      = 15 * time.Second
	defaultStaleAfter = 5 * time.Minute
	waitNotifyTimeout = 30 * time.Second
)

// OutboxWorker переносит события из таблицы outbox в Kafka.
// Будится через LISTEN/NOTIFY, а периодический проход подбирает отложенные
// ретраи (available_at в будущем) и события, зависшие в processing.
type OutboxWorker struct {
	repo       usecase.OutboxRepository
	logger     logger.Logger
	producer   usecase.MessageProducer
	stop       chan struct{}
	notify     chan struct{}
	wg         sync.WaitGroup
	dbConnStr  string
	batchSize  int
	sweep      time.Duration
	staleAfter time.Duration
}

func NewOutboxWorker(
	repo usecase.OutboxRepository,
	logger logger.Logger,
	producer usecase.MessageProducer,
	dbConnStr string,
	batchSize int,
	sweep, staleAfter time.Duration,
) *OutboxWorker {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if sweep <= 0 {
		sweep = defaultSweep
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &OutboxWorker{
		repo:       repo,
		logger:     logger,
		producer:   producer,
		stop:       make(chan struct{}),
		notify:     make(chan struct{}, 1),
		dbConnStr:  dbConnStr,
		batchSize:  batchSize,
		sweep:      sweep,
		staleAfter: staleAfter,
	}
}

func (w *OutboxWorker) Start(ctx context.Context) {
	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()

	// Запускаем слушатель уведомлений
	go func() {
		defer w.wg.Done()
		w.listenOutboxNotifications(ctx)
	}()
}

func (w *OutboxWorker) Stop() {
	close(w.stop)
	w.wg.Wait()
}

func (w *OutboxWorker) run(ctx context.Context) {
	// Обрабатываем "остатки" при старте
	w.logger.Infof("Draining pending outbox events on startup...")
	w.drain(ctx)

	ticker := time.NewTicker(w.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Infof("Outbox worker stopped by context cancellation")
			return
		case <-w.stop:
			return
		case <-w.notify:
			w.drain(ctx)
		case <-ticker.C:
			w.sweepStale(ctx)
			w.drain(ctx)
		}
	}
}

// wake будит основной цикл, не блокируясь, если он уже разбужен.
func (w *OutboxWorker) wake() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *OutboxWorker) listenOutboxNotifications(ctx context.Context) {
	var conn *pgx.Conn

	connect := func() error {
		var err error
		conn, err = pgx.Connect(ctx, w.dbConnStr)
		if err != nil {
			return e.Wrap("failed to connect for LISTEN", err)
		}

		if _, err = conn.Exec(ctx, "LISTEN "+pgdb.OutboxChannel); err != nil {
			_ = conn.Close(ctx)
			conn = nil
			return e.Wrap("failed to LISTEN", err)
		}

		w.logger.Infof("Subscribed to '%s' channel", pgdb.OutboxChannel)
		return nil
	}

	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
		}

		if conn == nil {
			if err := connect(); err != nil {
				// Без LISTEN события всё равно подберёт периодический проход
				w.logger.Warnf("LISTEN connect failed: %v", err)
				if !w.pause(ctx, 5*time.Second) {
					return
				}
				continue
			}
		}

		waitCtx, cancel := context.WithTimeout(ctx, waitNotifyTimeout)
		notif, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.Warnf("Connection lost: %v. Reconnecting...", err)
			_ = conn.Close(ctx)
			conn = nil
			if !w.pause(ctx, 2*time.Second) {
				return
			}
			continue
		}

		if notif != nil && notif.Channel == pgdb.OutboxChannel {
			w.logger.Debugf("Received outbox notification")
			w.wake()
		}
	}
}

// pause ждёт d; false, если воркер останавливается.
func (w *OutboxWorker) pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-w.stop:
		return false
	}
}

func (w *OutboxWorker) drain(ctx context.Context) {
	for {
		hasMore, err := w.processBatch(ctx)
		if err != nil {
			w.logger.Warnf("Batch processing failed: %v", err)
			return
		}
		if !hasMore {
			return
		}
	}
}

func (w *OutboxWorker) sweepStale(ctx context.Context) {
	n, err := w.repo.ResetStale(ctx, w.staleAfter)
	if err != nil {
		w.logger.Warnf("reset stale outbox events failed: %v", err)
		return
	}
	if n > 0 {
		w.logger.Warnf("returned %d stale outbox event(s) to pending", n)
	}
}

// processBatch отправляет одну пачку. hasMore = false, если пачка неполная
// или брокер недоступен; неотправленные события вернёт sweepStale.
func (w *OutboxWorker) processBatch(ctx context.Context) (bool, error) {
	events, err := w.repo.GetAndMarkAsProcessing(ctx, w.batchSize)
	if err != nil {
		return false, err
	}

	if len(events) == 0 {
		return false, nil
	}

	for _, event := range events {
		if err := w.processEvent(ctx, &event); err != nil {
			w.logger.Warnf("publish outbox event %s failed: %v", event.EventID, err)
			return false, nil
		}
		if err := w.repo.MarkAsProcessed(ctx, event.ID); err != nil {
			w.logger.Warnf("mark processed failed: %v", err)
		}
	}

	return len(events) == w.batchSize, nil
}

func (w *OutboxWorker) processEvent(ctx context.Context, event *domain.OutboxEvent) error {
	return w.producer.WriteRawMessage(ctx, usecase.NewWriteRawMessageReq(strconv.FormatInt(event.TicketID, 10), event.Payload))
}
