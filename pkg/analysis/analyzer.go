// Package analysis runs the video recognition pipeline: sample frames, detect
// faces, embed them and match them against the face database.
package analysis

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/MrCodeEU/facescan/pkg/logging"
	"github.com/MrCodeEU/facescan/pkg/matcher"
	"github.com/MrCodeEU/facescan/pkg/recognition"
	"github.com/MrCodeEU/facescan/pkg/storage"
	"github.com/MrCodeEU/facescan/pkg/video"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrVideoNotFound is returned when the video file does not exist.
var ErrVideoNotFound = errors.New("video not found")

// ErrEmptyDatabase is returned when there are no enrolled persons.
var ErrEmptyDatabase = errors.New("face database is empty, enroll known faces first")

// Database is the read side of the face store.
type Database interface {
	matcher.Store
	IsEmpty() (bool, error)
}

// Sighting is the first recognition of an identifier in a video.
type Sighting struct {
	Identifier string
	Score      float64
	Frame      int
	Timestamp  time.Duration
	Count      int // all matches of the identifier in the video
}

// Report summarises one analysis run.
type Report struct {
	RunID         string
	VideoPath     string
	FramesRead    int
	FramesSampled int
	FacesDetected int
	FacesEmbedded int
	FacesUnknown  int
	EmbedFailures int
	Sightings     []Sighting // sorted by identifier
	Duration      time.Duration
}

// Identifiers returns the recognised identifiers, sorted.
func (r *Report) Identifiers() []string {
	ids := make([]string, len(r.Sightings))
	for i, s := range r.Sightings {
		ids[i] = s.Identifier
	}
	return ids
}

// Analyzer composes a video scanner, an embedding provider and the database.
type Analyzer struct {
	scanner   *video.Scanner
	provider  recognition.EmbeddingProvider
	db        Database
	threshold float64
	log       *logrus.Entry
}

// New creates an Analyzer.
func New(scanner *video.Scanner, provider recognition.EmbeddingProvider, db Database, threshold float64) *Analyzer {
	return &Analyzer{
		scanner:   scanner,
		provider:  provider,
		db:        db,
		threshold: threshold,
		log:       logging.Component("analysis"),
	}
}

// Check reports ErrVideoNotFound or ErrEmptyDatabase before any model work
// is done for videoPath.
func Check(videoPath string, db Database) error {
	if _, err := os.Stat(videoPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrVideoNotFound, videoPath)
		}
		return fmt.Errorf("failed to access video: %w", err)
	}

	empty, err := db.IsEmpty()
	if err != nil {
		return fmt.Errorf("failed to read face database: %w", err)
	}
	if empty {
		return ErrEmptyDatabase
	}
	return nil
}

// Run analyses the video at videoPath. onNew, if not nil, is called the first
// time each identifier is recognised.
func (a *Analyzer) Run(videoPath string, onNew func(Sighting)) (*Report, error) {
	start := time.Now()

	if err := Check(videoPath, a.db); err != nil {
		return nil, err
	}

	gallery, err := matcher.LoadGallery(a.db, a.threshold)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     uuid.New().String(),
		VideoPath: videoPath,
	}
	log := a.log.WithFields(logging.Fields{
		"run_id": report.RunID,
		"video":  videoPath,
	})
	log.WithField("persons", gallery.Len()).Info("Starting video analysis")

	stream := a.scanner.Scan(videoPath)
	defer stream.Close()

	seen := make(map[string]*Sighting)
	for stream.Next() {
		face := stream.Face()
		report.FacesDetected++

		emb, err := a.provider.Embed(face.Image)
		if err != nil {
			report.EmbedFailures++
			log.WithError(err).WithField("frame", face.Frame).Debug("Could not embed face")
			continue
		}
		report.FacesEmbedded++

		result := gallery.Match(emb)
		if !result.Matched() {
			report.FacesUnknown++
			continue
		}

		if s, ok := seen[result.Identifier]; ok {
			s.Count++
			log.WithFields(logging.Fields{
				"identifier": result.Identifier,
				"score":      result.Score,
				"frame":      face.Frame,
			}).Debug("Recognised again")
			continue
		}

		s := &Sighting{
			Identifier: result.Identifier,
			Score:      result.Score,
			Frame:      face.Frame,
			Timestamp:  face.Timestamp,
			Count:      1,
		}
		seen[result.Identifier] = s
		log.WithFields(logging.Fields{
			"identifier": s.Identifier,
			"score":      s.Score,
			"frame":      s.Frame,
		}).Debug("Recognised")
		if onNew != nil {
			onNew(*s)
		}
	}

	stats := stream.Stats()
	report.FramesRead = stats.FramesRead
	report.FramesSampled = stats.FramesSampled

	report.Sightings = make([]Sighting, 0, len(seen))
	for _, s := range seen {
		report.Sightings = append(report.Sightings, *s)
	}
	sort.Slice(report.Sightings, func(i, j int) bool {
		return report.Sightings[i].Identifier < report.Sightings[j].Identifier
	})
	report.Duration = time.Since(start)

	if err := stream.Err(); err != nil {
		return report, err
	}

	log.WithFields(logging.Fields{
		"frames_sampled": report.FramesSampled,
		"faces":          report.FacesDetected,
		"recognised":     len(report.Sightings),
		"duration":       report.Duration,
	}).Info("Video analysis complete")

	return report, nil
}

var _ Database = (*storage.FileStorage)(nil)
