// Package video samples frames from a video file at a fixed time interval and
// yields the detected faces as cropped, resized images.
package video

import (
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"time"

	"github.com/MrCodeEU/facescan/pkg/logging"
	"github.com/MrCodeEU/facescan/pkg/recognition"
	"github.com/sirupsen/logrus"
)

// Source is a sequential reader of decoded video frames.
// Read returns io.EOF after the last frame.
type Source interface {
	FPS() float64
	FrameCount() int
	Read() (image.Image, error)
	Close() error
}

// Opener opens the video at path.
type Opener func(path string) (Source, error)

// Options controls frame sampling and face extraction.
type Options struct {
	// SampleInterval is the video time between two sampled frames.
	SampleInterval time.Duration
	// Confidence is the minimum detector score for a face.
	Confidence float64
	// FaceSize is the side length yielded faces are resized to.
	FaceSize int
}

// DefaultOptions samples one frame every 5 seconds at confidence 0.7.
func DefaultOptions() Options {
	return Options{
		SampleInterval: 5 * time.Second,
		Confidence:     0.7,
		FaceSize:       112,
	}
}

// Interval returns the number of frames between samples for the given frame
// rate. Unknown, zero or negative frame rates sample every frame.
func Interval(every time.Duration, fps float64) int {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return 1
	}
	n := math.Round(every.Seconds() * fps)
	if n < 1 {
		return 1
	}
	return int(n)
}

// Face is one detected face in a sampled frame.
type Face struct {
	Frame     int
	Timestamp time.Duration
	Box       image.Rectangle
	Image     image.Image
}

// Stats are the counters of a FaceStream.
type Stats struct {
	Opened        bool
	FPS           float64
	FrameCount    int
	Interval      int
	FramesRead    int
	FramesSampled int
	Faces         int
}

// ExpectedSamples estimates the number of sampled frames from the frame count
// reported by the container. It returns 0 when the count is unknown.
func (s Stats) ExpectedSamples() int {
	if s.FrameCount <= 0 || s.Interval <= 0 {
		return 0
	}
	return (s.FrameCount + s.Interval - 1) / s.Interval
}

// Scanner turns video files into FaceStreams.
type Scanner struct {
	open     Opener
	detector recognition.FaceDetector
	opts     Options
	log      *logrus.Entry

	// Progress, if set, is called after each sampled frame.
	Progress func(stats Stats)
}

// NewScanner creates a Scanner.
func NewScanner(open Opener, detector recognition.FaceDetector, opts Options) *Scanner {
	return &Scanner{
		open:     open,
		detector: detector,
		opts:     opts,
		log:      logging.Component("video"),
	}
}

// Scan opens path and returns a stream of its faces. When the video cannot be
// opened the failure is logged and the stream is empty.
func (s *Scanner) Scan(path string) *FaceStream {
	stream := &FaceStream{
		scanner: s,
		log:     s.log.WithField("video", path),
	}

	src, err := s.open(path)
	if err != nil {
		stream.log.WithError(err).Error("Failed to open video")
		stream.closed = true
		return stream
	}

	fps := src.FPS()
	stream.src = src
	stream.stats = Stats{
		Opened:     true,
		FPS:        fps,
		FrameCount: src.FrameCount(),
		Interval:   Interval(s.opts.SampleInterval, fps),
	}

	stream.log.WithFields(logging.Fields{
		"fps":      fps,
		"frames":   stream.stats.FrameCount,
		"interval": stream.stats.Interval,
	}).Debug("Video opened")

	return stream
}

// FaceStream is a finite, ordered sequence of faces. It is not restartable.
//
//	for stream.Next() {
//		face := stream.Face()
//	}
//	if err := stream.Err(); err != nil { ... }
type FaceStream struct {
	scanner *Scanner
	src     Source
	log     *logrus.Entry

	next    int
	pending []Face
	current Face
	stats   Stats
	err     error
	closed  bool
}

// Next advances to the next face. It returns false when the video is
// exhausted, a read error occurred or the stream was closed.
func (fs *FaceStream) Next() bool {
	for {
		if len(fs.pending) > 0 {
			fs.current = fs.pending[0]
			fs.pending = fs.pending[1:]
			fs.stats.Faces++
			return true
		}
		if fs.closed {
			return false
		}

		frame, err := fs.src.Read()
		if errors.Is(err, io.EOF) {
			fs.finish(nil)
			return false
		}
		if err != nil {
			fs.finish(fmt.Errorf("failed to read frame %d: %w", fs.next, err))
			return false
		}

		index := fs.next
		fs.next++
		fs.stats.FramesRead++

		if index%fs.stats.Interval != 0 {
			continue
		}

		fs.stats.FramesSampled++
		fs.pending = fs.extract(index, frame)
		if fs.scanner.Progress != nil {
			fs.scanner.Progress(fs.stats)
		}
	}
}

// finish closes the stream once reading stops. A close failure becomes the
// stream error unless a read error already ended it.
func (fs *FaceStream) finish(readErr error) {
	fs.err = readErr
	if err := fs.Close(); err != nil {
		if fs.err == nil {
			fs.err = err
			return
		}
		fs.log.WithError(err).Warn("Failed to close video after read error")
	}
}

func (fs *FaceStream) extract(index int, frame image.Image) []Face {
	opts := fs.scanner.opts
	log := fs.log.WithField("frame", index)

	boxes, err := fs.scanner.detector.Detect(frame, opts.Confidence)
	if err != nil {
		log.WithError(err).Warn("Face detection failed")
		return nil
	}

	ts := fs.timestamp(index)
	faces := make([]Face, 0, len(boxes))
	for _, box := range boxes {
		img, ok := recognition.CropAndResize(frame, box, opts.FaceSize)
		if !ok {
			log.WithField("box", box).Debug("Skipping empty face crop")
			continue
		}
		faces = append(faces, Face{
			Frame:     index,
			Timestamp: ts,
			Box:       box.Intersect(frame.Bounds()),
			Image:     img,
		})
	}

	if len(faces) > 0 {
		log.WithField("faces", len(faces)).Debug("Faces detected")
	}
	return faces
}

func (fs *FaceStream) timestamp(index int) time.Duration {
	fps := fs.stats.FPS
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return 0
	}
	return time.Duration(float64(index) / fps * float64(time.Second))
}

// Face returns the face Next advanced to.
func (fs *FaceStream) Face() Face {
	return fs.current
}

// Err returns the read or close error that ended the stream, if any.
func (fs *FaceStream) Err() error {
	return fs.err
}

// Stats returns the current counters.
func (fs *FaceStream) Stats() Stats {
	return fs.stats
}

// Close releases the video source. It is safe to call more than once.
// Faces already detected in the current frame are discarded.
func (fs *FaceStream) Close() error {
	fs.pending = nil
	fs.closed = true
	if fs.src == nil {
		return nil
	}

	src := fs.src
	fs.src = nil
	if err := src.Close(); err != nil {
		return fmt.Errorf("failed to close video: %w", err)
	}
	return nil
}
