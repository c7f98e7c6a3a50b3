package hashing

import (
	"os"
	"path/filepath"
	"time"
)

// Index is the in-memory dedup lookup structure for one batch.
//
// Exact lookups go through the content-hash map. Near-duplicate lookups are
// an exhaustive pairwise scan over every indexed perceptual hash, with no
// spatial index. That is a deliberate scaling limit: batches are hundreds
// of images, not millions, and a linear scan at that size is far cheaper
// than the API calls it saves.
type Index struct {
	byContent map[string]string // content hash -> first-seen identifier
	perceptual []indexedHash
}

type indexedHash struct {
	token string
	id    string
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{byContent: make(map[string]string)}
}

// IndexFromManifest seeds an index with every entry of a loaded manifest.
func IndexFromManifest(m *Manifest) *Index {
	idx := NewIndex()
	for hash, entry := range m.Entries {
		idx.Add(entry.Filename, hash, entry.PerceptualHash)
	}
	return idx
}

// Add records an image's fingerprints. First-seen wins for content hashes.
func (x *Index) Add(id, contentHash, perceptualHash string) {
	if contentHash != "" {
		if _, exists := x.byContent[contentHash]; !exists {
			x.byContent[contentHash] = id
		}
	}
	if perceptualHash != "" {
		x.perceptual = append(x.perceptual, indexedHash{token: perceptualHash, id: id})
	}
}

// LookupExact returns the identifier first recorded for a content hash.
func (x *Index) LookupExact(contentHash string) (string, bool) {
	id, ok := x.byContent[contentHash]
	return id, ok
}

// FindSimilar returns every indexed identifier whose perceptual hash is
// within threshold Hamming distance of the given token. An empty token
// matches nothing.
func (x *Index) FindSimilar(perceptualHash string, threshold int) []Match {
	if perceptualHash == "" {
		return nil
	}
	var matches []Match
	for _, entry := range x.perceptual {
		if d := HammingDistance(perceptualHash, entry.token); d <= threshold {
			matches = append(matches, Match{ID: entry.id, Distance: d})
		}
	}
	return matches
}

// Len returns the number of distinct content hashes indexed.
func (x *Index) Len() int {
	return len(x.byContent)
}

// Match is one near-duplicate hit from the index.
type Match struct {
	ID       string
	Distance int
}

// DuplicatePair maps a rejected image to the retained original.
type DuplicatePair struct {
	Duplicate string
	Original  string
}

// NearDuplicate is a DuplicatePair with the perceptual distance attached.
type NearDuplicate struct {
	Duplicate string
	Original  string
	Distance  int
}

// DedupOptions configures a deduplication pass.
type DedupOptions struct {
	DetectNear bool // Enable perceptual near-duplicate detection
	Threshold  int  // Max Hamming distance to call two images near-duplicates
	Verbose    bool
}

// DefaultThreshold is the near-duplicate Hamming cutoff out of 256 bits.
const DefaultThreshold = 10

// DedupResult partitions a candidate list into unique images and rejected
// duplicates.
type DedupResult struct {
	Unique          []string
	ExactDuplicates []DuplicatePair
	NearDuplicates  []NearDuplicate
}

// Deduplicate filters a candidate image list against the index, updating
// both the index and the manifest with every image that survives.
//
// An image is excluded when its content hash exactly matches an indexed
// entry, or, with near-duplicate detection on, when its perceptual hash
// falls within the threshold of any indexed entry. Every image that is not
// excluded gains a manifest entry.
//
// This runs on the coordinator's goroutine before fan-out; neither the
// index nor the manifest is ever mutated concurrently with workers.
func Deduplicate(images []string, idx *Index, manifest *Manifest, opts DedupOptions) *DedupResult {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}

	result := &DedupResult{}
	for _, path := range images {
		contentHash, perceptualHash, err := ComputeHashes(path)
		if err != nil {
			// Unreadable file: let the annotation attempt surface the
			// real error instead of silently dropping the image here.
			result.Unique = append(result.Unique, path)
			continue
		}

		if original, ok := idx.LookupExact(contentHash); ok && !isSelf(original, path) {
			result.ExactDuplicates = append(result.ExactDuplicates, DuplicatePair{
				Duplicate: path,
				Original:  original,
			})
			continue
		}

		if opts.DetectNear {
			if best, ok := bestMatch(idx.FindSimilar(perceptualHash, opts.Threshold), path); ok {
				result.NearDuplicates = append(result.NearDuplicates, NearDuplicate{
					Duplicate: path,
					Original:  best.ID,
					Distance:  best.Distance,
				})
				continue
			}
		}

		idx.Add(path, contentHash, perceptualHash)
		manifest.Add(ManifestEntry{
			ContentHash:    contentHash,
			PerceptualHash: perceptualHash,
			Filename:       filepath.Base(path),
			Size:           fileSize(path),
			CreatedAt:      time.Now().UTC(),
		})
		result.Unique = append(result.Unique, path)
	}
	return result
}

// isSelf reports whether an index hit is the image's own prior record.
//
// The manifest is a hash cache, not a processing log: an image recorded on
// an earlier run but never annotated (failed, interrupted) must not be
// excluded as a duplicate of itself, or a rerun could never retry it.
// Manifest-seeded entries are identified by base filename, in-batch entries
// by full path.
func isSelf(id, path string) bool {
	return id == path || id == filepath.Base(path)
}

// bestMatch picks the closest non-self match, if any.
func bestMatch(matches []Match, path string) (Match, bool) {
	var best Match
	found := false
	for _, m := range matches {
		if isSelf(m.ID, path) {
			continue
		}
		if !found || m.Distance < best.Distance {
			best = m
			found = true
		}
	}
	return best, found
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
