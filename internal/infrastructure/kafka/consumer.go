package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/cfg"
	"github.com/DRSN-tech/product-matcher/pkg/jitter"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

const defaultConsumerConcurrency = 8

// EventHandler обрабатывает одно сообщение. Ошибка означает, что смещение
// коммитить нельзя.
type EventHandler interface {
	HandleEvent(ctx context.Context, payload []byte) error
}

// MessageReader - подмножество *kafka.Reader, нужное консьюмеру.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer читает события тикетов из группы консьюмеров и обрабатывает до
// concurrency сообщений одновременно. Смещение коммитится только после
// успешной обработки всех предыдущих сообщений партиции (at-least-once).
type Consumer struct {
	reader      MessageReader
	handler     EventHandler
	logger      logger.Logger
	concurrency int
	retryBase   time.Duration
	retryMax    time.Duration
	wg          sync.WaitGroup

	commitMu sync.Mutex
	offsets  *offsetTracker
}

func NewReader(cfg *cfg.KafkaCfg) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
}

func NewConsumer(reader MessageReader, handler EventHandler, logger logger.Logger, concurrency int) *Consumer {
	if concurrency <= 0 {
		concurrency = defaultConsumerConcurrency
	}
	return &Consumer{
		reader:      reader,
		handler:     handler,
		logger:      logger,
		concurrency: concurrency,
		retryBase:   time.Second,
		retryMax:    time.Minute,
		offsets:     newOffsetTracker(),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Run(ctx)
	}()
}

// Wait ждёт завершения цикла чтения и всех обработчиков после отмены контекста.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Run читает сообщения до отмены ctx. Возвращается, когда все запущенные
// обработчики завершились.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Infof("Ticket event consumer started, concurrency=%d", c.concurrency)
	defer c.logger.Infof("Ticket event consumer stopped")

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	defer func() { _ = g.Wait() }()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Warnf("kafka fetch failed: %v", err)
			if jitter.Sleep(ctx, c.retryBase) != nil {
				return
			}
			continue
		}

		c.commitMu.Lock()
		c.offsets.add(msg)
		c.commitMu.Unlock()

		// Блокируется, пока заняты все слоты
		g.Go(func() error {
			if c.handle(ctx, msg) {
				c.ack(ctx, msg)
			}
			return nil
		})
	}
}

// ack отмечает сообщение обработанным и коммитит самое старшее смещение
// партиции, до которого обработано всё.
func (c *Consumer) ack(ctx context.Context, msg kafka.Message) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	ready, ok := c.offsets.complete(msg)
	if !ok {
		return
	}
	if err := c.reader.CommitMessages(ctx, ready); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Warnf("kafka commit failed partition=%d offset=%d: %v", ready.Partition, ready.Offset, err)
	}
}

// handle повторяет обработку сообщения, пока она не завершится успешно.
// Смещение не двигается, так что сообщение не теряется. false означает остановку.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) bool {
	for attempt := 0; ; attempt++ {
		err := c.handler.HandleEvent(ctx, msg.Value)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		delay := jitter.ExponentialBackoff(c.retryBase, c.retryMax, attempt, jitter.DefaultJitter)
		c.logger.Warnf("event handling failed partition=%d offset=%d, retry in %v: %v",
			msg.Partition, msg.Offset, delay, err)
		if jitter.Sleep(ctx, delay) != nil {
			return false
		}
	}
}

// offsetTracker хранит смещения, выданные обработчикам, в порядке чтения
// по каждой партиции.
type offsetTracker struct {
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	inFlight []int64
	done     map[int64]kafka.Message
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[int]*partitionOffsets)}
}

func (t *offsetTracker) add(msg kafka.Message) {
	p, ok := t.partitions[msg.Partition]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]kafka.Message)}
		t.partitions[msg.Partition] = p
	}
	p.inFlight = append(p.inFlight, msg.Offset)
}

// complete возвращает последнее сообщение непрерывного обработанного
// префикса партиции. false, если префикс не сдвинулся.
func (t *offsetTracker) complete(msg kafka.Message) (kafka.Message, bool) {
	p, ok := t.partitions[msg.Partition]
	if !ok {
		return kafka.Message{}, false
	}
	p.done[msg.Offset] = msg

	var (
		last  kafka.Message
		moved bool
	)
	for len(p.inFlight) > 0 {
		m, finished := p.done[p.inFlight[0]]
		if !finished {
			break
		}
		delete(p.done, p.inFlight[0])
		p.inFlight = p.inFlight[1:]
		last, moved = m, true
	}
	return last, moved
}
