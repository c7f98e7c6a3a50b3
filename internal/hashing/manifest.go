package hashing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestFilename is the durable hash index kept alongside the sidecars.
const ManifestFilename = ".meme-hashes.json"

// manifestSchemaVersion tags the manifest format for forward compatibility.
const manifestSchemaVersion = "2.0"

// ManifestEntry records the fingerprints of one previously seen image.
type ManifestEntry struct {
	ContentHash    string    `json:"contentHash"`
	PerceptualHash string    `json:"phash,omitempty"`
	Filename       string    `json:"filename"`
	Size           int64     `json:"size,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
}

// Manifest is the durable form of the dedup index, keyed by content hash.
// It is read once before a batch fans out and written once after the batch
// joins; workers never touch it concurrently.
type Manifest struct {
	SchemaVersion string                   `json:"schemaVersion"`
	Entries       map[string]ManifestEntry `json:"entries"`
}

// NewManifest returns an empty manifest at the current schema version.
func NewManifest() *Manifest {
	return &Manifest{
		SchemaVersion: manifestSchemaVersion,
		Entries:       make(map[string]ManifestEntry),
	}
}

// Add records an image's fingerprints, first-seen wins.
func (m *Manifest) Add(entry ManifestEntry) {
	if entry.ContentHash == "" {
		return
	}
	if _, exists := m.Entries[entry.ContentHash]; exists {
		return
	}
	m.Entries[entry.ContentHash] = entry
}

// Remove drops the entry for a content hash, if present.
func (m *Manifest) Remove(contentHash string) {
	delete(m.Entries, contentHash)
}

// Len returns the number of recorded images.
func (m *Manifest) Len() int {
	return len(m.Entries)
}

// LoadManifest reads the manifest from a directory.
//
// A missing or corrupt manifest is treated as empty, never as a fatal
// error: losing the cache only costs re-hashing, while failing the batch
// would cost the user their run.
func LoadManifest(dir string) *Manifest {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return NewManifest()
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return NewManifest()
	}
	if m.Entries == nil {
		m.Entries = make(map[string]ManifestEntry)
	}
	m.SchemaVersion = manifestSchemaVersion
	return &m
}

// SaveManifest writes the manifest into a directory, replacing any previous
// version atomically (write to temp file, then rename).
func SaveManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	target := filepath.Join(dir, ManifestFilename)
	tmp, err := os.CreateTemp(dir, ManifestFilename+".tmp*")
	if err != nil {
		return fmt.Errorf("creating manifest temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing manifest temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing manifest: %w", err)
	}
	return nil
}
