package vision

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/MrCodeEU/facescan/pkg/acceleration"
	"github.com/MrCodeEU/facescan/pkg/logging"
	"github.com/MrCodeEU/facescan/pkg/recognition"
	"gocv.io/x/gocv"
)

// ArcFaceConfig holds configuration for the ArcFace model.
type ArcFaceConfig struct {
	ModelPath string
	InputSize int
	Backend   acceleration.Backend

	// Detector locates the face in enrollment photos. When nil the whole
	// image is treated as the face.
	Detector   recognition.FaceDetector
	Confidence float64
}

// ArcFace is an EmbeddingProvider producing 512-d ArcFace embeddings.
type ArcFace struct {
	net        gocv.Net
	inputSize  image.Point
	detector   recognition.FaceDetector
	confidence float64
	mu         sync.Mutex
}

// NewArcFace loads the ONNX model at cfg.ModelPath.
func NewArcFace(cfg ArcFaceConfig) (*ArcFace, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("arcface model not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNet(cfg.ModelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("%w: failed to load ArcFace model from %s", recognition.ErrModelNotLoaded, cfg.ModelPath)
	}

	backend, target := netPreferences(cfg.Backend)
	if err := net.SetPreferableBackend(backend); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set DNN backend: %w", err)
	}
	if err := net.SetPreferableTarget(target); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set DNN target: %w", err)
	}

	size := cfg.InputSize
	if size <= 0 {
		size = 112
	}

	logging.Component("vision").WithFields(logging.Fields{
		"model":   cfg.ModelPath,
		"backend": cfg.Backend,
		"input":   size,
	}).Debug("ArcFace model loaded")

	return &ArcFace{
		net:        net,
		inputSize:  image.Pt(size, size),
		detector:   cfg.Detector,
		confidence: cfg.Confidence,
	}, nil
}

// Name implements recognition.EmbeddingProvider.
func (a *ArcFace) Name() string { return "arcface" }

// Dim implements recognition.EmbeddingProvider.
func (a *ArcFace) Dim() int { return recognition.DefaultDim }

// Embed locates the largest face (when a detector is configured) and returns
// its L2-normalized embedding.
func (a *ArcFace) Embed(img image.Image) (recognition.Embedding, error) {
	if img.Bounds().Empty() {
		return nil, recognition.ErrEmptyImage
	}

	face := img
	if a.detector != nil {
		boxes, err := a.detector.Detect(img, a.confidence)
		if err != nil {
			return nil, fmt.Errorf("face detection failed: %w", err)
		}
		i := recognition.Largest(boxes)
		if i < 0 {
			return nil, recognition.ErrNoFaceDetected
		}
		crop, ok := recognition.Crop(img, boxes[i])
		if !ok {
			return nil, recognition.ErrNoFaceDetected
		}
		face = crop
	}

	return a.forward(face)
}

// Crops returns a provider sharing this model that treats every input as an
// already cropped face. Used for faces extracted from video frames.
func (a *ArcFace) Crops() recognition.EmbeddingProvider {
	return cropProvider{a}
}

type cropProvider struct{ a *ArcFace }

func (c cropProvider) Name() string { return c.a.Name() }
func (c cropProvider) Dim() int     { return c.a.Dim() }

func (c cropProvider) Embed(img image.Image) (recognition.Embedding, error) {
	if img.Bounds().Empty() {
		return nil, recognition.ErrEmptyImage
	}
	return c.a.forward(img)
}

func (a *ArcFace) forward(face image.Image) (recognition.Embedding, error) {
	mat, err := gocv.ImageToMatRGB(face)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()

	// ArcFace expects [1, 3, 112, 112] scaled to [-1, 1]
	blob := gocv.BlobFromImage(mat, 1.0/127.5, a.inputSize, gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.net.SetInput(blob, "")
	output := a.net.Forward("")
	defer output.Close()

	n := output.Total()
	if n == 0 {
		return nil, fmt.Errorf("arcface produced an empty output")
	}

	emb := make(recognition.Embedding, n)
	for i := 0; i < n; i++ {
		emb[i] = output.GetFloatAt(0, i)
	}
	return recognition.Normalize(emb), nil
}

// Close releases the network.
func (a *ArcFace) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.net.Close()
}
