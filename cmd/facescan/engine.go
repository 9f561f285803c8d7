package main

import (
	"fmt"
	"io"

	"github.com/MrCodeEU/facescan/pkg/acceleration"
	"github.com/MrCodeEU/facescan/pkg/config"
	"github.com/MrCodeEU/facescan/pkg/logging"
	"github.com/MrCodeEU/facescan/pkg/recognition"
	"github.com/MrCodeEU/facescan/pkg/vision"
)

// engine bundles the loaded models.
type engine struct {
	// photos embeds whole photos, locating the face first.
	photos recognition.EmbeddingProvider
	// crops embeds faces already cropped from video frames.
	crops    recognition.EmbeddingProvider
	detector recognition.FaceDetector
	backend  acceleration.Backend
	closers  []io.Closer
}

func modelFiles(c *config.Config) acceleration.ModelFiles {
	return acceleration.ModelFiles{
		acceleration.ModelArcFace: c.Recognition.ArcFaceModel,
		acceleration.ModelYuNet:   c.Recognition.YuNetModel,
		acceleration.ModelPigo:    c.Recognition.PigoCascade,
	}
}

func requiredModels(c *config.Config) []acceleration.Model {
	return acceleration.Select(
		acceleration.Catalog(modelFiles(c)),
		acceleration.Required(c.Recognition.Provider, c.Recognition.Detector),
	)
}

// newEngine loads the provider and detector named in the configuration.
func newEngine(c *config.Config) (*engine, error) {
	if err := acceleration.VerifyModels(c.Recognition.ModelPath, requiredModels(c)); err != nil {
		return nil, err
	}

	preferred, err := acceleration.ParseBackend(c.Acceleration.Backend)
	if err != nil {
		return nil, err
	}
	manager := acceleration.NewManager()
	if err := manager.Initialize(acceleration.Config{
		PreferredBackend: preferred,
		FallbackToCPU:    c.Acceleration.FallbackToCPU,
	}); err != nil {
		return nil, err
	}

	e := &engine{backend: manager.GetActiveBackend()}

	switch c.Recognition.Detector {
	case "yunet":
		yunet, err := vision.NewYuNet(c.ModelFile(c.Recognition.YuNetModel), e.backend)
		if err != nil {
			return nil, err
		}
		e.detector = yunet
		e.closers = append(e.closers, yunet)
	case "pigo":
		params := recognition.DefaultPigoParams()
		params.QualityScale = c.Recognition.PigoQualityScale
		pigoDetector, err := recognition.NewPigoDetector(c.ModelFile(c.Recognition.PigoCascade), params)
		if err != nil {
			return nil, err
		}
		e.detector = pigoDetector
	default:
		return nil, fmt.Errorf("unknown detector: %s", c.Recognition.Detector)
	}

	switch c.Recognition.Provider {
	case "arcface":
		arcface, err := vision.NewArcFace(vision.ArcFaceConfig{
			ModelPath:  c.ModelFile(c.Recognition.ArcFaceModel),
			InputSize:  c.Video.FaceSize,
			Backend:    e.backend,
			Detector:   e.detector,
			Confidence: c.Video.DetectionConfidence,
		})
		if err != nil {
			e.Close()
			return nil, err
		}
		e.photos = arcface
		e.crops = arcface.Crops()
		e.closers = append(e.closers, arcface)
	case "dlib":
		dlib := vision.NewDlibProvider()
		if err := dlib.LoadModels(c.Recognition.ModelPath); err != nil {
			e.Close()
			return nil, err
		}
		e.photos = dlib
		e.crops = dlib
		e.closers = append(e.closers, dlib)
	default:
		e.Close()
		return nil, fmt.Errorf("unknown provider: %s", c.Recognition.Provider)
	}

	logging.Component("engine").WithFields(logging.Fields{
		"provider": c.Recognition.Provider,
		"detector": c.Recognition.Detector,
		"backend":  e.backend,
	}).Debug("Models loaded")

	return e, nil
}

// Close releases all model handles.
func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			logging.WithError(err).Warn("Failed to release model")
		}
	}
	e.closers = nil
}
