package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/jitter"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// WriteBackPrefix - начало внутренней заметки с найденным товаром.
const WriteBackPrefix = "[Auto] Matched product: "

// Исходы обработки вложения
const (
	AttachmentProcessed = "processed"
	AttachmentDuplicate = "duplicate"
	AttachmentInFlight  = "in_flight"
	AttachmentDecode    = "decode_error"
	AttachmentFailed    = "failed"
)

type WorkerOptions struct {
	TopK                int
	Concurrency         int
	MaxAttempts         int
	RetryBase           time.Duration
	RetryMax            time.Duration
	LockTTL             time.Duration
	DownloadTimeout     time.Duration
	ProcessingTimeout   time.Duration
	WriteBackEnabled    bool
	WriteBackConfidence float64
	Bucket              string
}

// IngestionWorker обрабатывает события тикетов: находит новые изображения,
// сопоставляет их с каталогом и сохраняет предсказания.
type IngestionWorker struct {
	ticketing    TicketingInfra
	matcher      MatcherUC
	ticketImages TicketImageRepository
	predictions  PredictionRepository
	outbox       OutboxRepository
	locks        LockRepository
	staging      ImagesInfra
	tx           TxManager
	metrics      Metrics
	logger       logger.Logger
	opts         WorkerOptions
}

func NewIngestionWorker(
	ticketing TicketingInfra,
	matcher MatcherUC,
	ticketImages TicketImageRepository,
	predictions PredictionRepository,
	outbox OutboxRepository,
	locks LockRepository,
	staging ImagesInfra,
	tx TxManager,
	metrics Metrics,
	logger logger.Logger,
	opts WorkerOptions,
) *IngestionWorker {
	if metrics == nil {
		metrics = NopMetrics()
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 30 * time.Second
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 30 * time.Minute
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 30 * time.Second
	}
	if opts.ProcessingTimeout <= 0 {
		opts.ProcessingTimeout = 5 * time.Minute
	}
	return &IngestionWorker{
		ticketing:    ticketing,
		matcher:      matcher,
		ticketImages: ticketImages,
		predictions:  predictions,
		outbox:       outbox,
		locks:        locks,
		staging:      staging,
		tx:           tx,
		metrics:      metrics,
		logger:       logger,
		opts:         opts,
	}
}

// HandleEvent обрабатывает сообщение из очереди. Временная ошибка ставит
// событие обратно в outbox с задержкой; после MaxAttempts событие
// сохраняется со статусом failed. Возвращает ошибку, только если исход
// не удалось записать, тогда сообщение будет доставлено повторно.
func (w *IngestionWorker) HandleEvent(ctx context.Context, payload []byte) error {
	const op = "IngestionWorker.HandleEvent"

	var ev domain.TicketEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.TicketID <= 0 {
		w.logger.Warnf("dropping malformed ticket event: %v", errors.Join(e.ErrMissingFields, err))
		return nil
	}

	log := w.logger.With("ticket_id", ev.TicketID, "correlation_id", ev.CorrelationID, "attempt", ev.Attempt)

	procCtx, cancel := context.WithTimeout(ctx, w.opts.ProcessingTimeout)
	res, err := w.ProcessTicket(procCtx, ev.TicketID, ev.CorrelationID)
	cancel()
	if err == nil {
		log.Infof("ticket processed: found=%d processed=%d skipped=%d undecodable=%d",
			res.Found, res.Processed, res.Skipped, res.Undecodable)
		return nil
	}

	if ctx.Err() != nil {
		// Остановка приложения: смещение не коммитится, событие придёт снова
		return e.Wrap(op, ctx.Err())
	}

	next := ev
	next.EventID = uuid.New()
	next.Attempt = ev.Attempt + 1
	next.Source = EnqueueSourceRetry
	reason := err.Error()

	status := domain.OutboxStatusPending
	availableAt := time.Now().UTC().Add(jitter.ExponentialBackoff(w.opts.RetryBase, w.opts.RetryMax, ev.Attempt, jitter.DefaultJitter))
	if next.Attempt >= w.opts.MaxAttempts || e.IsConfiguration(err) || e.IsPayloadParse(err) {
		status = domain.OutboxStatusFailed
		log.Errorf(err, "ticket processing failed permanently after %d attempt(s)", next.Attempt)
	} else {
		log.Warnf("ticket processing failed, retry at %s: %v", availableAt.Format(time.RFC3339), err)
	}

	body, mErr := json.Marshal(&next)
	if mErr != nil {
		return e.Wrap(op, mErr)
	}

	if rErr := w.tx.WithinTx(ctx, func(ctx context.Context) error {
		_, err := w.outbox.Create(ctx, newOutboxEvent(&next, body, status, availableAt, &reason))
		return err
	}); rErr != nil {
		return e.Wrap(op, rErr)
	}

	return nil
}

// ProcessTicket обрабатывает все новые изображения тикета.
// Уже обработанные вложения пропускаются. Ошибки декодирования не считаются
// ошибкой тикета, такое вложение сохраняется без предсказания; любая другая ошибка вложения возвращается, чтобы тикет
// был обработан повторно.
func (w *IngestionWorker) ProcessTicket(ctx context.Context, ticketID int64, correlationID string) (*ProcessTicketRes, error) {
	const op = "IngestionWorker.ProcessTicket"

	log := w.logger.With("ticket_id", ticketID, "correlation_id", correlationID)

	comments, err := w.ticketing.ListComments(ctx, ticketID)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	audits, err := w.ticketing.ListAudits(ctx, ticketID)
	if err != nil {
		log.Warnf("ticket audits unavailable, continuing with comments only: %v", err)
		audits = nil
	}

	attachments := ExtractImageAttachments(ticketID, comments, audits)
	res := &ProcessTicketRes{TicketID: ticketID, Found: len(attachments)}

	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Concurrency)
	for _, att := range attachments {
		g.Go(func() error {
			pred, outcome, err := w.processAttachment(gctx, log, att)
			w.metrics.IncAttachment(outcome)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case AttachmentProcessed:
				res.Processed++
				if pred != nil {
					res.Predictions = append(res.Predictions, *pred)
				}
			case AttachmentDuplicate, AttachmentInFlight:
				res.Skipped++
			case AttachmentDecode:
				res.Undecodable++
			default:
				res.Failed++
				errs = append(errs, fmt.Errorf("attachment %d: %w", att.ID, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return res, e.Wrap(op, errors.Join(errs...))
	}
	return res, nil
}

func (w *IngestionWorker) processAttachment(ctx context.Context, log logger.Logger, att domain.Attachment) (*domain.Prediction, string, error) {
	const op = "IngestionWorker.processAttachment"

	log = log.With("attachment_id", att.ID, "source", att.Source)

	exists, err := w.ticketImages.Exists(ctx, att.ID)
	if err != nil {
		return nil, AttachmentFailed, e.Wrap(op, err)
	}
	if exists {
		return nil, AttachmentDuplicate, nil
	}

	lockKey := "attachment:" + strconv.FormatInt(att.ID, 10)
	token, ok, err := w.locks.TryLock(ctx, lockKey, w.opts.LockTTL)
	if err != nil {
		return nil, AttachmentFailed, e.Wrap(op, err)
	}
	if !ok {
		log.Debugf("attachment is being processed elsewhere")
		return nil, AttachmentInFlight, nil
	}
	defer func() {
		if err := w.locks.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			log.Warnf("unlock failed: %v", err)
		}
	}()

	// Повторная проверка под блокировкой
	if exists, err := w.ticketImages.Exists(ctx, att.ID); err != nil {
		return nil, AttachmentFailed, e.Wrap(op, err)
	} else if exists {
		return nil, AttachmentDuplicate, nil
	}

	dlCtx, cancel := context.WithTimeout(ctx, w.opts.DownloadTimeout)
	data, err := w.ticketing.DownloadAttachment(dlCtx, att.ContentURL)
	cancel()
	if err != nil {
		return nil, AttachmentFailed, e.Wrap(op, err)
	}

	sum := sha256.Sum256(data)
	contentHash := hex.EncodeToString(sum[:])

	// Временная копия живёт только на время обработки
	staged := w.stage(ctx, log, att, contentHash, data)
	defer w.staging.CleanupImages(staged)

	img := &domain.TicketImage{
		AttachmentID: att.ID,
		TicketID:     att.TicketID,
		CommentID:    att.CommentID,
		ContentURL:   att.ContentURL,
		ContentHash:  contentHash,
		Source:       att.Source,
	}

	match, err := w.matcher.Query(ctx, data, w.opts.TopK)
	if err != nil {
		if e.IsImageDecode(err) {
			if rErr := w.recordUndecodable(ctx, img, err); rErr != nil {
				return nil, AttachmentFailed, e.Wrap(op, rErr)
			}
			log.Warnf("attachment skipped: %v", err)
			return nil, AttachmentDecode, nil
		}
		return nil, AttachmentFailed, e.Wrap(op, err)
	}

	var (
		pred    *domain.Prediction
		created bool
	)
	err = w.tx.WithinTx(ctx, func(ctx context.Context) error {
		stored, _, err := w.ticketImages.Create(ctx, img)
		if err != nil {
			return err
		}

		p := domain.NewPrediction(stored, match)
		p.TicketImageID = stored.ID
		pred, created, err = w.predictions.Create(ctx, p)
		return err
	})
	if err != nil {
		return nil, AttachmentFailed, e.Wrap(op, err)
	}

	if !created {
		return pred, AttachmentDuplicate, nil
	}

	top, _ := match.Top()
	log.Infof("prediction stored: product=%s confidence=%.3f model=%s index=%d",
		top.ProductID, top.Score, match.ModelVersion, match.IndexVersion)

	w.writeBack(ctx, log, att.TicketID, match)
	return pred, AttachmentProcessed, nil
}

// recordUndecodable сохраняет вложение без предсказания, чтобы следующие
// события тикета не скачивали его снова.
func (w *IngestionWorker) recordUndecodable(ctx context.Context, img *domain.TicketImage, decodeErr error) error {
	const op = "IngestionWorker.recordUndecodable"

	reason := decodeErr.Error()
	img.DecodeError = &reason
	if err := w.tx.WithinTx(ctx, func(ctx context.Context) error {
		_, _, err := w.ticketImages.Create(ctx, img)
		return err
	}); err != nil {
		return e.Wrap(op, err)
	}
	return nil
}

func (w *IngestionWorker) stage(ctx context.Context, log logger.Logger, att domain.Attachment, contentHash string, data []byte) []string {
	key := fmt.Sprintf("staging/%d/%d-%s", att.TicketID, att.ID, contentHash[:16])
	res, err := w.staging.UploadImages(ctx, NewUploadImagesReq(UploadBlob{
		Key:         key,
		Data:        data,
		ContentType: http.DetectContentType(data),
	}))
	if err != nil {
		log.Warnf("staging copy not stored: %v", err)
		return nil
	}
	return res.ImagesKeys
}

// writeBack оставляет внутреннюю заметку в тикете. Ошибка только логируется.
func (w *IngestionWorker) writeBack(ctx context.Context, log logger.Logger, ticketID int64, match *domain.MatchResult) {
	if !w.opts.WriteBackEnabled {
		return
	}
	top, ok := match.Top()
	if !ok || top.Score < w.opts.WriteBackConfidence {
		return
	}

	if err := w.ticketing.AddInternalNote(ctx, ticketID, WriteBackPrefix+top.URL); err != nil {
		log.Warnf("%v: %v", e.ErrWriteBack, err)
	}
}
