// Package matcher finds the enrolled person closest to a probe embedding.
package matcher

import (
	"fmt"

	"github.com/MrCodeEU/facescan/pkg/logging"
	"github.com/MrCodeEU/facescan/pkg/recognition"
	"github.com/MrCodeEU/facescan/pkg/storage"
)

// Unknown is the identifier reported when no stored person is close enough.
const Unknown = "unknown"

// NoScore is reported for an empty database. It is below any cosine similarity.
const NoScore = -1.0

// DefaultThreshold is the minimum similarity for a positive match.
const DefaultThreshold = 0.5

// Result is the outcome of matching one probe.
type Result struct {
	Identifier string
	Score      float64
}

// Matched reports whether the result names an enrolled person.
func (r Result) Matched() bool {
	return r.Identifier != Unknown
}

// Store is the read side of the face database.
type Store interface {
	LoadAll() ([]storage.PersonRecord, error)
}

// Matcher compares probes against every record in a Store.
// Each call to Match reads the database again.
type Matcher struct {
	store     Store
	threshold float64
}

// New creates a Matcher. Use DefaultThreshold unless a caller needs another.
func New(store Store, threshold float64) *Matcher {
	return &Matcher{store: store, threshold: threshold}
}

// Threshold returns the configured similarity threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Match loads the database and returns the best match for probe.
func (m *Matcher) Match(probe recognition.Embedding) (Result, error) {
	gallery, err := LoadGallery(m.store, m.threshold)
	if err != nil {
		return Result{}, err
	}
	return gallery.Match(probe), nil
}

// Gallery is an in-memory snapshot of the database.
type Gallery struct {
	records   []storage.PersonRecord
	threshold float64
}

// LoadGallery reads every record once. Records are sorted by identifier.
func LoadGallery(store Store, threshold float64) (*Gallery, error) {
	records, err := store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load face database: %w", err)
	}
	return NewGallery(records, threshold), nil
}

// NewGallery wraps already loaded records. The caller keeps them sorted if a
// deterministic tie-break is required.
func NewGallery(records []storage.PersonRecord, threshold float64) *Gallery {
	return &Gallery{records: records, threshold: threshold}
}

// Len returns the number of enrolled persons.
func (g *Gallery) Len() int {
	return len(g.records)
}

// Match scans all records for the highest cosine similarity. The first record
// reaching the maximum wins. Below threshold the best score is still reported
// with the Unknown identifier.
func (g *Gallery) Match(probe recognition.Embedding) Result {
	best := Result{Identifier: Unknown, Score: NoScore}
	if len(g.records) == 0 {
		return best
	}

	log := logging.Component("matcher")
	for _, record := range g.records {
		score, err := recognition.CosineSimilarity(probe, record.Vector)
		if err != nil {
			log.WithFields(logging.Fields{
				"identifier": record.Identifier,
				"stored_dim": record.Dim(),
				"probe_dim":  len(probe),
			}).Warn("Skipping stored embedding with mismatched dimension")
			continue
		}
		if score > best.Score {
			best = Result{Identifier: record.Identifier, Score: score}
		}
	}

	if best.Score >= g.threshold {
		return best
	}
	return Result{Identifier: Unknown, Score: best.Score}
}
