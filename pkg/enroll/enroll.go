// Package enroll builds the face database from a directory of reference photos.
package enroll

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MrCodeEU/facescan/pkg/logging"
	"github.com/MrCodeEU/facescan/pkg/recognition"
	"github.com/MrCodeEU/facescan/pkg/storage"
	"github.com/sirupsen/logrus"
)

// ErrNoKnownFaces is returned when the known-faces root is missing or has no
// person folders.
var ErrNoKnownFaces = errors.New("no known faces found")

// ErrNoValidImages is returned when a person folder yields no embedding.
var ErrNoValidImages = errors.New("no valid face images")

// DefaultImageSize is the side length images are resized to before embedding.
const DefaultImageSize = 112

// Store is the write side of the face database.
type Store interface {
	SavePerson(record storage.PersonRecord) error
}

// PersonResult describes the enrolment of one person folder.
type PersonResult struct {
	Identifier string
	Dir        string
	Images     int
	Embedded   int
	Failed     []string // images skipped: unreadable, faceless or provider errors
	Written    bool
}

// Summary is the outcome of BuildAll.
type Summary struct {
	Persons []PersonResult
	Written int
	Skipped int
}

// Identifiers returns the identifiers that were written to the database.
func (s *Summary) Identifiers() []string {
	ids := make([]string, 0, s.Written)
	for _, p := range s.Persons {
		if p.Written {
			ids = append(ids, p.Identifier)
		}
	}
	return ids
}

// Builder turns person folders into averaged embeddings.
type Builder struct {
	provider  recognition.EmbeddingProvider
	store     Store
	imageSize int
	log       *logrus.Entry

	// OnImage, if set, is called after every image has been processed.
	OnImage func(identifier, path string)
}

// NewBuilder creates a Builder. imageSize <= 0 disables resizing.
func NewBuilder(provider recognition.EmbeddingProvider, store Store, imageSize int) *Builder {
	return &Builder{
		provider:  provider,
		store:     store,
		imageSize: imageSize,
		log:       logging.Component("enroll"),
	}
}

// BuildAll enrolls every immediate subdirectory of root, in sorted order.
// Persons without a single usable image are skipped and reported; they
// leave no file behind. A folder whose identifier was already written by an
// earlier folder is skipped as well.
func (b *Builder) BuildAll(root string) (*Summary, error) {
	dirs, err := PersonDirs(root)
	if err != nil {
		return nil, err
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("%w: %s has no person folders", ErrNoKnownFaces, root)
	}

	summary := &Summary{}
	written := make(map[string]string) // identifier -> folder it was built from
	for _, dir := range dirs {
		identifier := NormalizeName(filepath.Base(dir))
		if identifier == "" {
			b.log.WithField("dir", dir).Warn("Folder name yields an empty identifier, skipping")
			summary.Skipped++
			continue
		}
		if first, ok := written[identifier]; ok {
			b.log.WithFields(logging.Fields{
				"identifier": identifier,
				"dir":        dir,
				"enrolled":   first,
			}).Warn("Folder name collides with an enrolled person, skipping")
			summary.Skipped++
			summary.Persons = append(summary.Persons, PersonResult{Identifier: identifier, Dir: dir})
			continue
		}
		result, err := b.BuildPerson(identifier, dir)
		switch {
		case errors.Is(err, ErrNoValidImages):
			summary.Skipped++
		case err != nil:
			return summary, err
		default:
			summary.Written++
			written[identifier] = dir
		}
		summary.Persons = append(summary.Persons, *result)
	}

	b.log.WithFields(logging.Fields{
		"written": summary.Written,
		"skipped": summary.Skipped,
	}).Info("Face database rebuilt")

	return summary, nil
}

// BuildPerson enrolls the images in dir under identifier. It returns
// ErrNoValidImages, together with the partial result, when no image
// produced an embedding.
func (b *Builder) BuildPerson(identifier, dir string) (*PersonResult, error) {
	result := &PersonResult{Identifier: identifier, Dir: dir}
	log := b.log.WithField("identifier", identifier)

	images, err := ListImages(dir)
	if err != nil {
		return result, err
	}
	result.Images = len(images)

	var embeddings []recognition.Embedding
	for _, path := range images {
		emb, err := b.embedFile(path)
		if b.OnImage != nil {
			b.OnImage(identifier, path)
		}
		if err != nil {
			if errors.Is(err, recognition.ErrNoFaceDetected) {
				log.WithField("image", path).Warn("No face detected, skipping image")
			} else {
				log.WithError(err).WithField("image", path).Warn("Skipping image")
			}
			result.Failed = append(result.Failed, path)
			continue
		}
		embeddings = append(embeddings, emb)
	}
	result.Embedded = len(embeddings)

	if len(embeddings) == 0 {
		log.WithField("images", result.Images).Warn("No valid face images, person not enrolled")
		return result, fmt.Errorf("%w for %s", ErrNoValidImages, identifier)
	}

	mean, err := recognition.AverageEmbeddings(embeddings)
	if err != nil {
		return result, fmt.Errorf("failed to average embeddings for %s: %w", identifier, err)
	}

	record := storage.PersonRecord{
		Identifier: identifier,
		Vector:     mean,
		Samples:    len(embeddings),
		Provider:   b.provider.Name(),
		SourceDir:  dir,
		EnrolledAt: time.Now(),
	}
	if err := b.store.SavePerson(record); err != nil {
		return result, fmt.Errorf("failed to save %s: %w", identifier, err)
	}
	result.Written = true

	log.WithFields(logging.Fields{
		"samples": result.Embedded,
		"images":  result.Images,
	}).Info("Enrolled person")

	return result, nil
}

func (b *Builder) embedFile(path string) (recognition.Embedding, error) {
	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	if b.imageSize > 0 {
		img = recognition.Resize(img, b.imageSize)
	}
	return b.provider.Embed(img)
}

// PersonDirs returns the immediate subdirectories of root, sorted.
// A missing root is reported as ErrNoKnownFaces.
func PersonDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrNoKnownFaces, root)
		}
		return nil, fmt.Errorf("failed to read known faces directory: %w", err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			dirs = append(dirs, filepath.Join(root, entry.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// IsImageFile reports whether path has a supported image extension.
func IsImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// ListImages returns the supported image files directly inside dir, sorted.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var images []string
	for _, entry := range entries {
		if entry.IsDir() || !IsImageFile(entry.Name()) {
			continue
		}
		images = append(images, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(images)
	return images, nil
}

// LoadImage decodes a JPEG or PNG file.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
