package vision

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/MrCodeEU/facescan/pkg/acceleration"
	"github.com/MrCodeEU/facescan/pkg/recognition"
	"gocv.io/x/gocv"
)

// YuNet output row layout: x, y, w, h, 5 landmark pairs, score.
const (
	yunetCols     = 15
	yunetScoreCol = 14
)

// YuNet is a FaceDetector backed by OpenCV's FaceDetectorYN.
type YuNet struct {
	det gocv.FaceDetectorYN
	mu  sync.Mutex
}

// NewYuNet loads the YuNet ONNX model at modelPath.
func NewYuNet(modelPath string, backend acceleration.Backend) (*YuNet, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("yunet model not found: %s", modelPath)
	}

	b, t := netPreferences(backend)
	det := gocv.NewFaceDetectorYNWithParams(modelPath, "", image.Pt(320, 320), 0.5, 0.3, 5000, int(b), int(t))
	return &YuNet{det: det}, nil
}

// Detect implements recognition.FaceDetector.
func (y *YuNet) Detect(img image.Image, confidence float64) ([]image.Rectangle, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, recognition.ErrEmptyImage
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()

	faces := gocv.NewMat()
	defer faces.Close()

	y.mu.Lock()
	y.det.SetInputSize(image.Pt(mat.Cols(), mat.Rows()))
	y.det.SetScoreThreshold(float32(confidence))
	y.det.Detect(mat, &faces)
	y.mu.Unlock()

	if faces.Empty() || faces.Cols() < yunetCols {
		return nil, nil
	}

	rows := make([][]float32, faces.Rows())
	for r := range rows {
		row := make([]float32, yunetCols)
		for c := range row {
			row[c] = faces.GetFloatAt(r, c)
		}
		rows[r] = row
	}
	return yunetRowsToRects(rows, float32(confidence), bounds.Min), nil
}

// yunetRowsToRects converts detector rows into boxes in image coordinates.
func yunetRowsToRects(rows [][]float32, minScore float32, origin image.Point) []image.Rectangle {
	boxes := make([]image.Rectangle, 0, len(rows))
	for _, row := range rows {
		if len(row) < yunetCols || row[yunetScoreCol] < minScore {
			continue
		}
		x, y := int(row[0]), int(row[1])
		w, h := int(row[2]), int(row[3])
		boxes = append(boxes, image.Rect(x, y, x+w, y+h).Add(origin))
	}
	return boxes
}

// Close releases the detector.
func (y *YuNet) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.det.Close()
	return nil
}
