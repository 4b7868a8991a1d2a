// Package encoder содержит встроенный энкодер изображений и кэш эмбеддингов.
package encoder

import (
	"context"
	"image"

	"github.com/DRSN-tech/product-matcher/internal/index"
	"github.com/DRSN-tech/product-matcher/internal/usecase"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/disintegration/imaging"
	"github.com/jimlawless/whereami"
)

const (
	// LocalModelVersion - идентификатор встроенной модели.
	LocalModelVersion = "local-colorgrid-16"
	localGrid         = 16
	// LocalDim - размерность векторов встроенной модели.
	LocalDim = localGrid * localGrid * 3
)

// Local - детерминированный энкодер без внешних зависимостей: изображение
// сжимается до сетки 16x16, цвета центрируются по среднему канала и нормируются.
// Подходит для разработки и тестов; в проде используется удалённая модель.
type Local struct {
	codec usecase.ImageCodec
}

func NewLocal(codec usecase.ImageCodec) *Local {
	return &Local{codec: codec}
}

func (l *Local) ModelVersion() string { return LocalModelVersion }

func (l *Local) VectorizeRequest(ctx context.Context, req *usecase.VectorizeReq) ([]usecase.VectorizeRes, error) {
	out := make([]usecase.VectorizeRes, 0, len(req.Images))
	for _, img := range req.Images {
		if err := ctx.Err(); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		decoded := img.Img
		if decoded == nil {
			var err error
			if decoded, _, err = l.codec.Decode(img.Data); err != nil {
				return nil, e.Wrap(whereami.WhereAmI(), err)
			}
		}

		out = append(out, *usecase.NewVectorizeRes(colorGrid(decoded), LocalModelVersion))
	}

	return out, nil
}

func colorGrid(img image.Image) []float32 {
	thumb := imaging.Resize(img, localGrid, localGrid, imaging.Box)

	vec := make([]float32, LocalDim)
	var mean [3]float64
	for i := 0; i < localGrid*localGrid; i++ {
		for ch := 0; ch < 3; ch++ {
			v := float64(thumb.Pix[i*4+ch]) / 255
			vec[i*3+ch] = float32(v)
			mean[ch] += v
		}
	}
	for ch := range mean {
		mean[ch] /= localGrid * localGrid
	}

	centered := make([]float32, LocalDim)
	var energy float64
	for i := range vec {
		c := vec[i] - float32(mean[i%3])
		centered[i] = c
		energy += float64(c) * float64(c)
	}

	// Однотонное изображение: структура нулевая, остаётся только цвет
	if energy < 1e-9 {
		return index.Normalize(vec)
	}
	return index.Normalize(centered)
}
