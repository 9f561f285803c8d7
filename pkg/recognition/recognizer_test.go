package recognition

import (
	"image"
	"image/color"
	"math"
	"testing"

	pigo "github.com/esimov/pigo/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Embedding
		expected float64
	}{
		{"identical", Embedding{0.6, 0.8, 0}, Embedding{0.6, 0.8, 0}, 1.0},
		{"orthogonal", Embedding{1, 0, 0}, Embedding{0, 1, 0}, 0.0},
		{"opposite", Embedding{1, 2, 3}, Embedding{-1, -2, -3}, -1.0},
		{"magnitude independent", Embedding{1, 1}, Embedding{5, 5}, 1.0},
		{"zero vector", Embedding{0, 0, 0}, Embedding{1, 2, 3}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, err := CosineSimilarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, score, 1e-6)
		})
	}
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity(Embedding{1, 2}, Embedding{1, 2, 3})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestCosineSimilarity_FullLength(t *testing.T) {
	probe := make(Embedding, DefaultDim)
	for i := range probe {
		probe[i] = float32(math.Sin(float64(i)))
	}
	probe = Normalize(probe)

	score, err := CosineSimilarity(probe, probe)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-6)
}

func TestAverageEmbeddings(t *testing.T) {
	embeddings := []Embedding{
		{1, 2, 3},
		{3, 4, 5},
		{5, 0, -2},
	}

	avg, err := AverageEmbeddings(embeddings)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{3, 2, 2}, []float32(avg), 1e-6)
}

func TestAverageEmbeddings_OrderInvariant(t *testing.T) {
	a := Embedding{0.1, 0.7, -0.3}
	b := Embedding{0.9, -0.2, 0.4}
	c := Embedding{-0.5, 0.3, 0.8}

	first, err := AverageEmbeddings([]Embedding{a, b, c})
	require.NoError(t, err)
	second, err := AverageEmbeddings([]Embedding{c, a, b})
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float32(first), []float32(second), 1e-7)
}

func TestAverageEmbeddings_Errors(t *testing.T) {
	_, err := AverageEmbeddings(nil)
	assert.Error(t, err)

	_, err = AverageEmbeddings([]Embedding{{1, 2}, {1, 2, 3}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestNormalize(t *testing.T) {
	n := Normalize(Embedding{3, 4})
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, []float32(n), 1e-6)

	zero := Embedding{0, 0}
	assert.Equal(t, zero, Normalize(zero))
}

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestResize(t *testing.T) {
	img := solidImage(640, 480, color.RGBA{R: 200, A: 255})

	resized := Resize(img, 112)
	assert.Equal(t, image.Rect(0, 0, 112, 112), resized.Bounds())

	r, _, _, _ := resized.At(56, 56).RGBA()
	assert.InDelta(t, 200, float64(r>>8), 1)
}

func TestCrop(t *testing.T) {
	img := solidImage(100, 80, color.White)

	tests := []struct {
		name   string
		box    image.Rectangle
		wantOK bool
		want   image.Rectangle
	}{
		{"inside", image.Rect(10, 10, 50, 40), true, image.Rect(0, 0, 40, 30)},
		{"clipped to bounds", image.Rect(80, 60, 150, 120), true, image.Rect(0, 0, 20, 20)},
		{"zero width", image.Rect(10, 10, 10, 40), false, image.Rectangle{}},
		{"zero height", image.Rect(10, 10, 50, 10), false, image.Rectangle{}},
		{"inverted", image.Rectangle{Min: image.Pt(50, 40), Max: image.Pt(10, 10)}, false, image.Rectangle{}},
		{"outside", image.Rect(200, 200, 250, 250), false, image.Rectangle{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crop, ok := Crop(img, tt.box)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, crop.Bounds())
			} else {
				assert.Nil(t, crop)
			}
		})
	}
}

func TestCropAndResize(t *testing.T) {
	img := solidImage(100, 100, color.White)

	face, ok := CropAndResize(img, image.Rect(0, 0, 30, 60), 112)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 112, 112), face.Bounds())

	_, ok = CropAndResize(img, image.Rect(5, 5, 5, 5), 112)
	assert.False(t, ok)
}

func TestLargest(t *testing.T) {
	boxes := []image.Rectangle{
		image.Rect(0, 0, 10, 10),
		image.Rect(0, 0, 30, 20),
		image.Rect(0, 0, 20, 20),
	}
	assert.Equal(t, 1, Largest(boxes))
	assert.Equal(t, -1, Largest(nil))
}

func TestDetectionsToRects(t *testing.T) {
	dets := []pigo.Detection{
		{Row: 100, Col: 100, Scale: 40, Q: 9.5},
		{Row: 50, Col: 60, Scale: 20, Q: 3.0},
	}

	rects := detectionsToRects(dets, 7, image.Point{})
	require.Len(t, rects, 1)
	assert.Equal(t, image.Rect(80, 80, 120, 120), rects[0])

	assert.Len(t, detectionsToRects(dets, 0, image.Point{}), 2)
}

func TestDetectionsToRects_SubImageOrigin(t *testing.T) {
	dets := []pigo.Detection{{Row: 100, Col: 100, Scale: 40, Q: 9.5}}

	frame := image.NewRGBA(image.Rect(0, 0, 300, 300))
	sub := frame.SubImage(image.Rect(10, 10, 250, 250))

	rects := detectionsToRects(dets, 0, sub.Bounds().Min)
	require.Len(t, rects, 1)
	assert.Equal(t, image.Rect(90, 90, 130, 130), rects[0])
	assert.True(t, rects[0].In(sub.Bounds()))
}

func TestNewPigoDetector_MissingCascade(t *testing.T) {
	_, err := NewPigoDetector("/nonexistent/facefinder", DefaultPigoParams())
	assert.Error(t, err)
}
