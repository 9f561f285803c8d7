// Package storage keeps the face database: one vector file per enrolled person.
// Records are JSON, optionally encrypted at rest using NaCl secretbox.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MrCodeEU/facescan/pkg/logging"
	"github.com/MrCodeEU/facescan/pkg/recognition"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32

	plainExt     = ".json"
	encryptedExt = ".enc"
)

// PersonRecord is the stored, averaged embedding of one person.
type PersonRecord struct {
	Identifier string                `json:"identifier"`
	Vector     recognition.Embedding `json:"vector"`
	Samples    int                   `json:"samples"`
	Provider   string                `json:"provider,omitempty"`
	SourceDir  string                `json:"source_dir,omitempty"`
	EnrolledAt time.Time             `json:"enrolled_at"`
}

// Dim returns the length of the stored vector.
func (r PersonRecord) Dim() int {
	return len(r.Vector)
}

// ErrPersonNotFound is returned when no record exists for an identifier.
var ErrPersonNotFound = errors.New("person not found")

// ErrInvalidIdentifier is returned for identifiers that cannot be file names.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// FileStorage stores person records as files in a database directory.
// The directory is created lazily on the first write, so reading from a
// missing database never creates it.
type FileStorage struct {
	dir               string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// NewFileStorage creates a new FileStorage rooted at dir.
func NewFileStorage(dir string, encryptionEnabled bool) (*FileStorage, error) {
	fs := &FileStorage{
		dir:               dir,
		encryptionEnabled: encryptionEnabled,
	}

	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		fs.encryptionKey = key
	}

	return fs, nil
}

// Dir returns the database directory.
func (fs *FileStorage) Dir() string {
	return fs.dir
}

// deriveKey derives an encryption key from machine-specific information.
// This ties the encrypted data to this specific machine.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte

	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}

	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}

	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("facescan-v1-salt")

	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])

	return key, nil
}

func (fs *FileStorage) ext() string {
	if fs.encryptionEnabled {
		return encryptedExt
	}
	return plainExt
}

// PathFor returns the file path of an identifier's record.
func (fs *FileStorage) PathFor(identifier string) string {
	return filepath.Join(fs.dir, identifier+fs.ext())
}

func validIdentifier(identifier string) bool {
	return identifier != "" && identifier != "." && identifier != ".." &&
		!strings.ContainsAny(identifier, `/\`)
}

// SavePerson writes a record, overwriting any previous file for the identifier.
func (fs *FileStorage) SavePerson(record PersonRecord) error {
	if !validIdentifier(record.Identifier) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, record.Identifier)
	}

	if err := os.MkdirAll(fs.dir, 0700); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal person record: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt person record: %w", err)
		}
	}

	path := fs.PathFor(record.Identifier)
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write person record: %w", err)
	}

	logging.Debugf("Saved embedding for %s to %s", record.Identifier, path)
	return nil
}

// writeFileAtomic writes data next to path and renames it into place, so a
// reader sees either the old record or the new one.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// LoadPerson loads a single record.
func (fs *FileStorage) LoadPerson(identifier string) (*PersonRecord, error) {
	if !validIdentifier(identifier) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIdentifier, identifier)
	}

	data, err := os.ReadFile(fs.PathFor(identifier))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPersonNotFound
		}
		return nil, fmt.Errorf("failed to read person record: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt person record: %w", err)
		}
	}

	var record PersonRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal person record: %w", err)
	}
	if record.Identifier == "" {
		record.Identifier = identifier
	}

	return &record, nil
}

// LoadAll loads every record, sorted by identifier.
// A missing database directory yields no records and no error.
func (fs *FileStorage) LoadAll() ([]PersonRecord, error) {
	ids, err := fs.ListPersons()
	if err != nil {
		return nil, err
	}

	records := make([]PersonRecord, 0, len(ids))
	for _, id := range ids {
		record, err := fs.LoadPerson(id)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", id, err)
		}
		records = append(records, *record)
	}
	return records, nil
}

// DeletePerson removes a record.
func (fs *FileStorage) DeletePerson(identifier string) error {
	if !validIdentifier(identifier) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, identifier)
	}

	if err := os.Remove(fs.PathFor(identifier)); err != nil {
		if os.IsNotExist(err) {
			return ErrPersonNotFound
		}
		return fmt.Errorf("failed to delete person record: %w", err)
	}

	logging.Infof("Deleted embedding for: %s", identifier)
	return nil
}

// ListPersons returns the identifiers of all stored records, sorted.
// Files with other extensions are ignored.
func (fs *FileStorage) ListPersons() ([]string, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list database: %w", err)
	}

	ext := fs.ext()
	ids := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ext) && len(name) > len(ext) {
			ids = append(ids, strings.TrimSuffix(name, ext))
		}
	}

	sort.Strings(ids)
	return ids, nil
}

// IsEmpty reports whether the database is absent or holds no records.
func (fs *FileStorage) IsEmpty() (bool, error) {
	ids, err := fs.ListPersons()
	if err != nil {
		return false, err
	}
	return len(ids) == 0, nil
}

// PersonExists checks if a record exists for the identifier.
func (fs *FileStorage) PersonExists(identifier string) bool {
	_, err := os.Stat(fs.PathFor(identifier))
	return err == nil
}

// Prune deletes every record whose identifier is not in keep and returns the
// removed identifiers.
func (fs *FileStorage) Prune(keep []string) ([]string, error) {
	ids, err := fs.ListPersons()
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(keep))
	for _, id := range keep {
		wanted[id] = true
	}

	var removed []string
	for _, id := range ids {
		if wanted[id] {
			continue
		}
		if err := fs.DeletePerson(id); err != nil {
			return removed, err
		}
		removed = append(removed, id)
	}
	return removed, nil
}

// encrypt encrypts data using NaCl secretbox.
func (fs *FileStorage) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &fs.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (fs *FileStorage) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &fs.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}

	return plaintext, nil
}
