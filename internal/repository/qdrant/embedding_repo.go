package qdrant

import (
	"context"

	"github.com/DRSN-tech/product-matcher/internal/cfg"
	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/jimlawless/whereami"
	"github.com/qdrant/go-client/qdrant"
)

const scrollPageSize = 256

// EmbeddingRepo репозиторий для работы с embedding-векторами изображений каталога в Qdrant
type EmbeddingRepo struct {
	client *qdrant.Client
	cfg    *cfg.QdrantCfg
}

func NewEmbeddingRepo(client *qdrant.Client, cfg *cfg.QdrantCfg) *EmbeddingRepo {
	return &EmbeddingRepo{
		client: client,
		cfg:    cfg,
	}
}

// Upsert сохраняет или обновляет embedding-векторы в коллекции Qdrant.
func (q *EmbeddingRepo) Upsert(ctx context.Context, vectors []domain.Embedding) error {
	if len(vectors) == 0 {
		return nil
	}

	reqVectors := make([]*qdrant.PointStruct, 0, len(vectors))
	for _, vector := range vectors {
		payload, err := qdrant.TryValueMap(vector.Payload)
		if err != nil {
			return e.Wrap(whereami.WhereAmI(), err)
		}

		reqVectors = append(reqVectors, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(vector.ID),
			Vectors: qdrant.NewVectors(vector.Vector...),
			Payload: payload,
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.QdrantCollectionName,
		Wait:           qdrant.PtrOf(true),
		Points:         reqVectors,
	})
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// Scroll выгружает все векторы указанной версии модели вместе с payload.
// Используется при полной пересборке индекса без повторного кодирования.
func (q *EmbeddingRepo) Scroll(ctx context.Context, modelVersion string) ([]domain.Embedding, error) {
	var (
		result []domain.Embedding
		offset *qdrant.PointId
	)

	for {
		resp, err := q.client.GetPointsClient().Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.cfg.QdrantCollectionName,
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{qdrant.NewMatch("model_version", modelVersion)},
			},
			Offset:      offset,
			Limit:       qdrant.PtrOf(uint32(scrollPageSize)),
			WithPayload: qdrant.NewWithPayload(true),
			WithVectors: qdrant.NewWithVectors(true),
		})
		if err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		for _, p := range resp.GetResult() {
			vec := p.GetVectors().GetVector().GetData()
			if len(vec) == 0 {
				continue
			}
			result = append(result, domain.Embedding{
				ID:      p.GetId().GetUuid(),
				Vector:  vec,
				Payload: payloadFromValues(p.GetPayload()),
			})
		}

		offset = resp.GetNextPageOffset()
		if offset == nil {
			return result, nil
		}
	}
}

// Delete удаляет точки по идентификаторам.
func (q *EmbeddingRepo) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.QdrantCollectionName,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// payloadFromValues переводит payload Qdrant обратно в domain.Payload.
// Нужны только строковые и целые поля.
func payloadFromValues(values map[string]*qdrant.Value) domain.Payload {
	out := make(domain.Payload, len(values))
	for k, v := range values {
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[k] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = kind.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = kind.BoolValue
		}
	}
	return out
}
