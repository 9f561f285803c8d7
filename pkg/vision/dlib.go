package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/MrCodeEU/facescan/pkg/logging"
	"github.com/MrCodeEU/facescan/pkg/recognition"
)

// DlibDim is the length of dlib face descriptors.
const DlibDim = 128

// FaceEngine is the subset of *face.Recognizer used by DlibProvider.
type FaceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	Close()
}

// DlibProvider is an EmbeddingProvider backed by dlib through go-face.
type DlibProvider struct {
	engine    FaceEngine
	factory   func(modelPath string) (FaceEngine, error)
	modelPath string
	loaded    bool
	mu        sync.RWMutex
}

// NewDlibProvider creates a provider. Call LoadModels before Embed.
func NewDlibProvider() *DlibProvider {
	return &DlibProvider{
		factory: func(modelPath string) (FaceEngine, error) {
			rec, err := face.NewRecognizer(modelPath)
			if err != nil {
				return nil, err
			}
			return rec, nil
		},
	}
}

// LoadModels loads the dlib models from modelPath. The directory must contain
// shape_predictor_5_face_landmarks.dat, dlib_face_recognition_resnet_model_v1.dat
// and mmod_human_face_detector.dat.
func (r *DlibProvider) LoadModels(modelPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return nil
	}

	logging.Infof("Loading dlib models from: %s", modelPath)

	engine, err := r.factory(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	r.engine = engine
	r.modelPath = modelPath
	r.loaded = true
	return nil
}

// IsLoaded returns true if models are loaded.
func (r *DlibProvider) IsLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Close releases the recognizer resources.
func (r *DlibProvider) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine != nil {
		r.engine.Close()
		r.engine = nil
	}
	r.loaded = false
	return nil
}

// Name implements recognition.EmbeddingProvider.
func (r *DlibProvider) Name() string { return "dlib" }

// Dim implements recognition.EmbeddingProvider.
func (r *DlibProvider) Dim() int { return DlibDim }

// Embed returns the normalized descriptor of the first face go-face finds.
func (r *DlibProvider) Embed(img image.Image) (recognition.Embedding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.loaded {
		return nil, recognition.ErrModelNotLoaded
	}
	if img.Bounds().Empty() {
		return nil, recognition.ErrEmptyImage
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	faces, err := r.engine.Recognize(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}
	if len(faces) == 0 {
		return nil, recognition.ErrNoFaceDetected
	}
	if len(faces) > 1 {
		logging.Debugf("Detected %d faces, using the first", len(faces))
	}

	desc := faces[0].Descriptor
	emb := make(recognition.Embedding, len(desc))
	copy(emb, desc[:])
	return recognition.Normalize(emb), nil
}
