// Package vision wraps the pretrained models: OpenCV DNN (ArcFace embeddings,
// YuNet detection, video decoding) and dlib through go-face.
package vision

import (
	"github.com/MrCodeEU/facescan/pkg/acceleration"
	"gocv.io/x/gocv"
)

// netPreferences maps an acceleration backend onto OpenCV DNN settings.
func netPreferences(b acceleration.Backend) (gocv.NetBackendType, gocv.NetTargetType) {
	switch b {
	case acceleration.BackendCUDA:
		return gocv.NetBackendCUDA, gocv.NetTargetCUDA
	case acceleration.BackendOpenVINO:
		return gocv.NetBackendOpenVINO, gocv.NetTargetCPU
	case acceleration.BackendOpenCL:
		// NetTargetFP32 is OpenCV's OpenCL target
		return gocv.NetBackendDefault, gocv.NetTargetFP32
	default:
		return gocv.NetBackendDefault, gocv.NetTargetCPU
	}
}
