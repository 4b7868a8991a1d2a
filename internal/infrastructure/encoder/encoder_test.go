package encoder

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"sync/atomic"
	"testing"

	"github.com/DRSN-tech/product-matcher/internal/index"
	"github.com/DRSN-tech/product-matcher/internal/infrastructure/imagecodec"
	"github.com/DRSN-tech/product-matcher/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func split(left, right color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	draw.Draw(img, image.Rect(0, 0, 32, 64), &image.Uniform{C: left}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(32, 0, 64, 64), &image.Uniform{C: right}, image.Point{}, draw.Src)
	return img
}

func encode(t *testing.T, enc usecase.EncoderInfra, img image.Image) []float32 {
	t.Helper()
	res, err := enc.VectorizeRequest(context.Background(), usecase.NewVectorizeReq(usecase.EncodeImage{Img: img}))
	require.NoError(t, err)
	require.Len(t, res, 1)
	return res[0].Vector
}

func TestLocal_SimilarImagesScoreHigher(t *testing.T) {
	enc := NewLocal(imagecodec.New())

	red := color.RGBA{R: 220, A: 255}
	blue := color.RGBA{B: 220, A: 255}

	a := encode(t, enc, split(red, blue))
	b := encode(t, enc, split(color.RGBA{R: 200, G: 10, A: 255}, color.RGBA{B: 200, G: 10, A: 255}))
	c := encode(t, enc, split(blue, red))

	assert.Len(t, a, LocalDim)
	assert.InDelta(t, 1.0, index.Dot(a, a), 1e-4)
	assert.Greater(t, index.Dot(a, b), index.Dot(a, c))
	assert.Greater(t, index.Dot(a, b), float32(0.9))
}

func TestLocal_SolidImageIsNotZero(t *testing.T) {
	enc := NewLocal(imagecodec.New())

	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{G: 255, A: 255}}, image.Point{}, draw.Src)

	v := encode(t, enc, img)
	assert.InDelta(t, 1.0, index.Dot(v, v), 1e-4)
	assert.Equal(t, LocalModelVersion, enc.ModelVersion())
}

func TestLocal_DecodesRawData(t *testing.T) {
	enc := NewLocal(imagecodec.New())

	_, err := enc.VectorizeRequest(context.Background(), usecase.NewVectorizeReq(usecase.EncodeImage{Data: []byte("garbage")}))
	require.Error(t, err)
}

type countingEncoder struct {
	calls  atomic.Int32
	images atomic.Int32
}

func (c *countingEncoder) ModelVersion() string { return "m1" }

func (c *countingEncoder) VectorizeRequest(_ context.Context, req *usecase.VectorizeReq) ([]usecase.VectorizeRes, error) {
	c.calls.Add(1)
	out := make([]usecase.VectorizeRes, 0, len(req.Images))
	for _, img := range req.Images {
		c.images.Add(1)
		out = append(out, usecase.VectorizeRes{Vector: []float32{float32(len(img.ContentHash)), 1}, ModelVersion: "m1"})
	}
	return out, nil
}

func TestCached_HitsSkipInnerEncoder(t *testing.T) {
	inner := &countingEncoder{}
	enc, err := NewCached(inner, 16)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := enc.VectorizeRequest(ctx, usecase.NewVectorizeReq(
		usecase.EncodeImage{ContentHash: "aa"},
		usecase.EncodeImage{ContentHash: "bbbb"},
	))
	require.NoError(t, err)

	second, err := enc.VectorizeRequest(ctx, usecase.NewVectorizeReq(
		usecase.EncodeImage{ContentHash: "bbbb"},
		usecase.EncodeImage{ContentHash: "cccccc"},
		usecase.EncodeImage{ContentHash: "aa"},
	))
	require.NoError(t, err)

	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, int32(3), inner.images.Load())
	assert.Equal(t, first[1].Vector, second[0].Vector)
	assert.Equal(t, first[0].Vector, second[2].Vector)
	assert.Equal(t, float32(6), second[1].Vector[0])
	assert.Equal(t, "m1", enc.ModelVersion())
}

func TestCached_NoHashIsNotCached(t *testing.T) {
	inner := &countingEncoder{}
	enc, err := NewCached(inner, 4)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := enc.VectorizeRequest(context.Background(), usecase.NewVectorizeReq(usecase.EncodeImage{}))
		require.NoError(t, err)
	}

	assert.Equal(t, int32(2), inner.calls.Load())
}
