package encoder

import (
	"context"

	"github.com/DRSN-tech/product-matcher/internal/usecase"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jimlawless/whereami"
)

// Cached кэширует векторы по хэшу содержимого. Ключ включает версию модели,
// так что смена модели не отдаёт устаревшие векторы.
type Cached struct {
	next  usecase.EncoderInfra
	cache *lru.Cache[string, []float32]
}

func NewCached(next usecase.EncoderInfra, size int) (*Cached, error) {
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	return &Cached{next: next, cache: cache}, nil
}

func (c *Cached) ModelVersion() string { return c.next.ModelVersion() }

// VectorizeRequest отдаёт закэшированные векторы, остальные кодирует одним запросом.
// Изображения без ContentHash не кэшируются.
func (c *Cached) VectorizeRequest(ctx context.Context, req *usecase.VectorizeReq) ([]usecase.VectorizeRes, error) {
	model := c.next.ModelVersion()
	out := make([]usecase.VectorizeRes, len(req.Images))

	var (
		missIdx []int
		miss    []usecase.EncodeImage
	)
	for i, img := range req.Images {
		if img.ContentHash != "" {
			if vec, ok := c.cache.Get(cacheKey(model, img.ContentHash)); ok {
				out[i] = *usecase.NewVectorizeRes(vec, model)
				continue
			}
		}
		missIdx = append(missIdx, i)
		miss = append(miss, img)
	}

	if len(miss) == 0 {
		return out, nil
	}

	res, err := c.next.VectorizeRequest(ctx, usecase.NewVectorizeReq(miss...))
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	if len(res) != len(miss) {
		return nil, e.Wrap(whereami.WhereAmI(), e.ErrEmptyVectors)
	}

	for j, r := range res {
		i := missIdx[j]
		out[i] = r
		if hash := req.Images[i].ContentHash; hash != "" && len(r.Vector) > 0 {
			c.cache.Add(cacheKey(r.ModelVersion, hash), r.Vector)
		}
	}

	return out, nil
}

func cacheKey(model, hash string) string {
	return model + "|" + hash
}
