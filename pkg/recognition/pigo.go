package recognition

import (
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"
)

// PigoParams holds Pigo face detector parameters.
type PigoParams struct {
	MinSize      int     // Minimum face size
	MaxSize      int     // Maximum face size
	ShiftFactor  float64 // Shift factor
	ScaleFactor  float64 // Scale factor
	IoUThreshold float64 // Overlap for clustering detections
	// QualityScale maps a [0,1] confidence onto pigo's unbounded quality
	// score: a detection passes when Q >= confidence*QualityScale.
	QualityScale float64
}

// DefaultPigoParams returns parameters suited to video frames.
func DefaultPigoParams() PigoParams {
	return PigoParams{
		MinSize:      40,
		MaxSize:      1000,
		ShiftFactor:  0.1,
		ScaleFactor:  1.1,
		IoUThreshold: 0.2,
		QualityScale: 10,
	}
}

// PigoDetector is a pure-Go FaceDetector backed by a pigo cascade.
type PigoDetector struct {
	classifier *pigo.Pigo
	params     PigoParams
}

// NewPigoDetector loads the cascade file at cascadePath.
func NewPigoDetector(cascadePath string, params PigoParams) (*PigoDetector, error) {
	cascade, err := os.ReadFile(cascadePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read pigo cascade file: %w", err)
	}

	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack pigo cascade: %w", err)
	}

	return &PigoDetector{classifier: classifier, params: params}, nil
}

// Detect runs the cascade over a grayscale copy of img. Boxes are in img's
// coordinate space.
func (d *PigoDetector) Detect(img image.Image, confidence float64) ([]image.Rectangle, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, ErrEmptyImage
	}
	origin := bounds.Min
	if origin != (image.Point{}) {
		img, _ = Crop(img, bounds)
		bounds = img.Bounds()
	}

	cols, rows := bounds.Dx(), bounds.Dy()
	cParams := pigo.CascadeParams{
		MinSize:     d.params.MinSize,
		MaxSize:     d.params.MaxSize,
		ShiftFactor: d.params.ShiftFactor,
		ScaleFactor: d.params.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(img),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := d.classifier.RunCascade(cParams, 0.0)
	dets = d.classifier.ClusterDetections(dets, d.params.IoUThreshold)

	return detectionsToRects(dets, float32(confidence*d.params.QualityScale), origin), nil
}

// detectionsToRects converts centre/scale detections into boxes, keeping
// those with quality of at least minQ and shifting them by origin.
func detectionsToRects(dets []pigo.Detection, minQ float32, origin image.Point) []image.Rectangle {
	faces := make([]image.Rectangle, 0, len(dets))
	for _, det := range dets {
		if det.Q < minQ {
			continue
		}
		x := det.Col - det.Scale/2
		y := det.Row - det.Scale/2
		faces = append(faces, image.Rect(x, y, x+det.Scale, y+det.Scale).Add(origin))
	}
	return faces
}
