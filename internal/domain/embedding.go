package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payload описывает дополнительную информацию вектора
type Payload map[string]any

// Embedding представляет эмбеддинг одного изображения каталога
type Embedding struct {
	ID      string
	Vector  []float32
	Payload Payload
}

func NewEmbedding(id string, vector []float32, payload Payload) *Embedding {
	return &Embedding{
		ID:      id,
		Vector:  vector,
		Payload: payload,
	}
}

func NewPayload(productExternalID, imageKey, contentHash, modelVersion string) Payload {
	return Payload{
		"product_id":    productExternalID,
		"image_key":     imageKey,
		"content_hash":  contentHash,
		"created_at":    time.Now().UTC().UnixNano(),
		"model_version": modelVersion,
	}
}

// embeddingNamespace - пространство имён UUIDv5 для идентификаторов точек.
var embeddingNamespace = uuid.MustParse("6f1b9f5e-7c1e-4d0a-9a43-2f0b2d7c5a11")

// EmbeddingID детерминированно выводит идентификатор точки из ключа изображения и модели,
// так что повторная запись перезаписывает ту же точку.
func EmbeddingID(imageKey, modelVersion string) string {
	return uuid.NewSHA1(embeddingNamespace, []byte(modelVersion+"|"+imageKey)).String()
}
