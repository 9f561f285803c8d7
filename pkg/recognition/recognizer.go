// Package recognition defines face embeddings, the capability interfaces of the
// pretrained models, and the vector math used for enrollment and matching.
package recognition

import (
	"errors"
	"image"
	"math"
)

// DefaultDim is the embedding length of the default (ArcFace) provider.
const DefaultDim = 512

// Embedding is a fixed-length face descriptor produced by an EmbeddingProvider.
type Embedding []float32

// ErrNoFaceDetected is returned when no face is found in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// ErrDimensionMismatch is returned when two embeddings have different lengths.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ErrEmptyImage is returned for images with zero width or height.
var ErrEmptyImage = errors.New("empty image")

// EmbeddingProvider maps a face image to a normalized embedding.
// When several faces are present one is selected; when none is found Embed
// returns ErrNoFaceDetected.
type EmbeddingProvider interface {
	Embed(img image.Image) (Embedding, error)
	Name() string
	Dim() int
}

// FaceDetector returns bounding boxes of faces scoring at least confidence.
type FaceDetector interface {
	Detect(img image.Image, confidence float64) ([]image.Rectangle, error)
}

// CosineSimilarity returns dot(a, b) / (|a| * |b|).
// Zero-magnitude inputs yield 0. The result is clamped to [-1, 1].
func CosineSimilarity(a, b Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(-1, math.Min(1, similarity)), nil
}

// AverageEmbeddings computes the element-wise arithmetic mean of embeddings.
// Sums are accumulated in float64 so the result does not depend on order
// beyond float rounding.
func AverageEmbeddings(embeddings []Embedding) (Embedding, error) {
	if len(embeddings) == 0 {
		return nil, errors.New("no embeddings to average")
	}

	dim := len(embeddings[0])
	sums := make([]float64, dim)
	for _, emb := range embeddings {
		if len(emb) != dim {
			return nil, ErrDimensionMismatch
		}
		for i, v := range emb {
			sums[i] += float64(v)
		}
	}

	count := float64(len(embeddings))
	avg := make(Embedding, dim)
	for i, s := range sums {
		avg[i] = float32(s / count)
	}
	return avg, nil
}

// Normalize returns a unit-length copy of emb. Zero vectors are returned as is.
func Normalize(emb Embedding) Embedding {
	var norm float64
	for _, v := range emb {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)

	if norm == 0 {
		return emb
	}

	normalized := make(Embedding, len(emb))
	for i, v := range emb {
		normalized[i] = float32(float64(v) / norm)
	}
	return normalized
}
