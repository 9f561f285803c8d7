package acceleration

import (
	"fmt"
	"os"
	"path/filepath"
)

// Compression is the encoding of a downloadable model file.
type Compression string

const (
	CompressionNone  Compression = ""
	CompressionBzip2 Compression = "bzip2"
)

// Model describes one pretrained model file.
type Model struct {
	Name        string // key used by providers and detectors
	File        string // file name inside the model directory
	URL         string
	Compression Compression
	Purpose     string
}

// Model names.
const (
	ModelArcFace        = "arcface"
	ModelYuNet          = "yunet"
	ModelPigo           = "pigo"
	ModelDlibShape      = "dlib_shape"
	ModelDlibRecognizer = "dlib_recognizer"
	ModelDlibDetector   = "dlib_detector"
)

// ModelFiles maps model names to file names, so configured file names can
// override the catalog defaults.
type ModelFiles map[string]string

// Catalog returns every model facescan knows how to use. files overrides the
// default file names.
func Catalog(files ModelFiles) []Model {
	models := []Model{
		{
			Name:    ModelArcFace,
			File:    "arcfaceresnet100-8.onnx",
			URL:     "https://github.com/onnx/models/raw/main/validated/vision/body_analysis/arcface/model/arcfaceresnet100-8.onnx",
			Purpose: "512-d face embeddings (OpenCV DNN)",
		},
		{
			Name:    ModelYuNet,
			File:    "face_detection_yunet_2023mar.onnx",
			URL:     "https://github.com/opencv/opencv_zoo/raw/main/models/face_detection_yunet/face_detection_yunet_2023mar.onnx",
			Purpose: "face detection (OpenCV FaceDetectorYN)",
		},
		{
			Name:    ModelPigo,
			File:    "facefinder",
			URL:     "https://github.com/esimov/pigo/raw/master/cascade/facefinder",
			Purpose: "pure-Go face detection cascade",
		},
		{
			Name:        ModelDlibShape,
			File:        "shape_predictor_5_face_landmarks.dat",
			URL:         "http://dlib.net/files/shape_predictor_5_face_landmarks.dat.bz2",
			Compression: CompressionBzip2,
			Purpose:     "dlib face alignment",
		},
		{
			Name:        ModelDlibRecognizer,
			File:        "dlib_face_recognition_resnet_model_v1.dat",
			URL:         "http://dlib.net/files/dlib_face_recognition_resnet_model_v1.dat.bz2",
			Compression: CompressionBzip2,
			Purpose:     "128-d face embeddings (dlib)",
		},
		{
			Name:        ModelDlibDetector,
			File:        "mmod_human_face_detector.dat",
			URL:         "http://dlib.net/files/mmod_human_face_detector.dat.bz2",
			Compression: CompressionBzip2,
			Purpose:     "dlib CNN face detection",
		},
	}

	for i := range models {
		if f, ok := files[models[i].Name]; ok && f != "" {
			models[i].File = f
		}
	}
	return models
}

// Required returns the model names needed by a provider/detector pair.
func Required(provider, detector string) []string {
	var names []string
	switch provider {
	case "arcface":
		names = append(names, ModelArcFace)
	case "dlib":
		names = append(names, ModelDlibShape, ModelDlibRecognizer, ModelDlibDetector)
	}
	switch detector {
	case "yunet":
		names = append(names, ModelYuNet)
	case "pigo":
		names = append(names, ModelPigo)
	}
	return names
}

// Select returns the catalog entries with the given names, in catalog order.
func Select(models []Model, names []string) []Model {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var out []Model
	for _, m := range models {
		if want[m.Name] {
			out = append(out, m)
		}
	}
	return out
}

// ModelInfo reports the state of a model file on disk.
type ModelInfo struct {
	Model
	Path    string
	Present bool
	Size    int64
}

// Inspect stats every model inside dir. Absolute file names are used as is.
func Inspect(dir string, models []Model) []ModelInfo {
	infos := make([]ModelInfo, 0, len(models))
	for _, m := range models {
		info := ModelInfo{Model: m, Path: modelPath(dir, m.File)}
		if st, err := os.Stat(info.Path); err == nil && !st.IsDir() {
			info.Present = true
			info.Size = st.Size()
		}
		infos = append(infos, info)
	}
	return infos
}

// VerifyModels checks that all models exist in dir.
func VerifyModels(dir string, models []Model) error {
	for _, info := range Inspect(dir, models) {
		if !info.Present {
			return fmt.Errorf("required model not found: %s (run 'facescan download-models' to download)", info.Path)
		}
	}
	return nil
}

func modelPath(dir, file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(dir, file)
}
