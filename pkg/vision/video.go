package vision

import (
	"fmt"
	"image"
	"io"

	"github.com/MrCodeEU/facescan/pkg/video"
	"gocv.io/x/gocv"
)

// FileSource decodes a video file with OpenCV.
type FileSource struct {
	vc    *gocv.VideoCapture
	frame gocv.Mat
	fps   float64
	count int
}

// OpenVideo implements video.Opener.
func OpenVideo(path string) (video.Source, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("failed to open video %s", path)
	}

	return &FileSource{
		vc:    vc,
		frame: gocv.NewMat(),
		fps:   vc.Get(gocv.VideoCaptureFPS),
		count: int(vc.Get(gocv.VideoCaptureFrameCount)),
	}, nil
}

// FPS returns the container frame rate; 0 when unknown.
func (s *FileSource) FPS() float64 { return s.fps }

// FrameCount returns the container frame count; it may be an estimate.
func (s *FileSource) FrameCount() int { return s.count }

// Read decodes the next frame. OpenCV does not tell end of stream apart from
// a decoding failure, so both end the video with io.EOF.
func (s *FileSource) Read() (image.Image, error) {
	if ok := s.vc.Read(&s.frame); !ok || s.frame.Empty() {
		return nil, io.EOF
	}
	img, err := s.frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	return img, nil
}

// Close releases the capture and the frame buffer.
func (s *FileSource) Close() error {
	s.frame.Close()
	return s.vc.Close()
}

var _ video.Opener = OpenVideo
