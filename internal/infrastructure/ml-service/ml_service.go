package ml_service

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/usecase"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/jitter"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// VectorizeMethod - полное имя RPC удалённого энкодера.
// Запрос и ответ передаются как google.protobuf.Struct:
// {image_data: base64, content_hash} -> {vector: [float], model_version}.
const VectorizeMethod = "/ml.MachineLearningService/VectorizeImage"

// Invoker - унарный вызов gRPC, его реализует *grpc.ClientConn.
type Invoker interface {
	Invoke(ctx context.Context, method string, args any, reply any, opts ...grpc.CallOption) error
}

// MLService клиент для взаимодействия с внешним ML-сервисом
type MLService struct {
	client        Invoker
	modelVersion  string
	maxConcurrent int
	maxRetries    int
	timeout       time.Duration
	logger        logger.Logger
}

func NewMLService(client Invoker, modelVersion string, maxConcurrent, maxRetries int, timeout time.Duration, logger logger.Logger) *MLService {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &MLService{
		client:        client,
		modelVersion:  modelVersion,
		maxConcurrent: maxConcurrent,
		maxRetries:    maxRetries,
		timeout:       timeout,
		logger:        logger,
	}
}

// ModelVersion возвращает версию модели, с которой сервис сконфигурирован.
func (m *MLService) ModelVersion() string { return m.modelVersion }

// VectorizeRequest выполняет векторизацию изображений с retry-логикой и экспоненциальной задержкой
func (m *MLService) VectorizeRequest(ctx context.Context, req *usecase.VectorizeReq) ([]usecase.VectorizeRes, error) {
	const (
		op         = "MLService.VectorizeRequest"
		baseJitter = 500 * time.Millisecond
		maxJitter  = 10 * time.Second
	)

	var lastErr error
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		vectors, err := m.vectorizeBatch(ctx, req)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		if !retryable(err) || attempt == m.maxRetries-1 {
			break
		}

		sleepTime := jitter.ExponentialBackoff(baseJitter, maxJitter, attempt, jitter.DefaultJitter)
		m.logger.Warnf("vectorization failed, retrying in %v (attempt %d): %v", sleepTime, attempt+1, err)
		if err := jitter.Sleep(ctx, sleepTime); err != nil {
			return nil, e.Wrap(op, err)
		}
	}

	if e.IsImageDecode(lastErr) || e.IsConfiguration(lastErr) {
		return nil, e.Wrap(op, lastErr)
	}
	return nil, e.Wrap(op, &e.UpstreamFetchError{Source: "encoder", Attempts: m.maxRetries, Err: lastErr})
}

// vectorizeBatch отправляет изображения параллельно с ограничением конкурентности.
// Результаты идут в порядке запроса.
func (m *MLService) vectorizeBatch(ctx context.Context, req *usecase.VectorizeReq) ([]usecase.VectorizeRes, error) {
	out := make([]usecase.VectorizeRes, len(req.Images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxConcurrent)
	for i, image := range req.Images {
		g.Go(func() error {
			res, err := m.vectorizeOne(gctx, image)
			if err != nil {
				return err
			}
			out[i] = *res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MLService) vectorizeOne(ctx context.Context, image usecase.EncodeImage) (*usecase.VectorizeRes, error) {
	if len(image.Data) == 0 {
		return nil, &e.ImageDecodeError{Reason: "empty payload"}
	}

	args, err := structpb.NewStruct(map[string]any{
		"image_data":   base64.StdEncoding.EncodeToString(image.Data),
		"content_hash": image.ContentHash,
	})
	if err != nil {
		return nil, err
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	reply := &structpb.Struct{}
	if err := m.client.Invoke(ctx, VectorizeMethod, args, reply); err != nil {
		if status.Code(err) == codes.InvalidArgument {
			return nil, &e.ImageDecodeError{Reason: "rejected by encoder", Err: err}
		}
		return nil, err
	}

	fields := reply.GetFields()
	model := fields["model_version"].GetStringValue()
	if m.modelVersion != "" && model != m.modelVersion {
		return nil, fmt.Errorf("%w: encoder returned %q, configured %q", e.ErrModelVersionMismatch, model, m.modelVersion)
	}

	values := fields["vector"].GetListValue().GetValues()
	if len(values) == 0 {
		return nil, e.ErrVectorEmbeddingEmpty
	}
	vector := make([]float32, len(values))
	for i, v := range values {
		vector[i] = float32(v.GetNumberValue())
	}

	return usecase.NewVectorizeRes(vector, model), nil
}

// retryable - временные ошибки транспорта. Ошибки данных и конфигурации не повторяются.
func retryable(err error) bool {
	if e.IsImageDecode(err) || e.IsConfiguration(err) {
		return false
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unimplemented, codes.PermissionDenied, codes.Unauthenticated, codes.Canceled:
		return false
	}
	return true
}
