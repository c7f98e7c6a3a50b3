// Package hashing provides content and perceptual image hashing plus the
// duplicate-detection index built on top of them.
//
// Content hashes (SHA-256 over raw bytes) catch byte-identical copies.
// Perceptual hashes catch re-encoded, resized, or lightly edited copies:
// the image is reduced to a small grayscale grid and adjacent-pixel
// luminance comparisons produce a fixed 256-bit fingerprint. Two images are
// near-duplicates when the Hamming distance between their fingerprints is
// within a configurable threshold.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/bits"
	"os"

	"github.com/disintegration/imaging"

	// Extra decoders for formats imaging does not register itself.
	_ "golang.org/x/image/webp"
)

// phashGridSize is the edge length of the luminance grid. A 16x16 grid of
// row-wise adjacent comparisons (from a 17-wide downsample) yields 256 bits.
const phashGridSize = 16

// ContentHash computes the SHA-256 of the file's raw bytes, streaming in
// fixed-size chunks so memory stays bounded regardless of file size.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, 8192)); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// PerceptualHash computes a 256-bit difference hash of the image, returned
// as a 64-character hex token.
//
// Images that cannot be decoded yield an empty token rather than an error:
// such images still participate in exact-match deduplication, they just
// can't be matched perceptually.
func PerceptualHash(path string) string {
	img, err := imaging.Open(path)
	if err != nil {
		return ""
	}

	// One extra column so each of the 16 rows yields 16 comparisons
	small := imaging.Grayscale(imaging.Resize(img, phashGridSize+1, phashGridSize, imaging.Lanczos))

	var digest [phashGridSize * phashGridSize / 8]byte
	bit := 0
	for y := 0; y < phashGridSize; y++ {
		for x := 0; x < phashGridSize; x++ {
			left := small.NRGBAAt(x, y).R
			right := small.NRGBAAt(x+1, y).R
			if right > left {
				digest[bit/8] |= 1 << uint(7-bit%8)
			}
			bit++
		}
	}
	return hex.EncodeToString(digest[:])
}

// ComputeHashes returns both fingerprints for an image. The content hash is
// mandatory; a failed perceptual hash degrades to the empty token.
func ComputeHashes(path string) (contentHash, perceptualHash string, err error) {
	contentHash, err = ContentHash(path)
	if err != nil {
		return "", "", err
	}
	return contentHash, PerceptualHash(path), nil
}

// HammingDistance counts differing bits between two equal-length hex hash
// tokens. Mismatched or undecodable tokens count as maximally distant so
// they never register as similar.
func HammingDistance(a, b string) int {
	maxDistance := len(a) * 4
	if len(a) != len(b) || len(a) == 0 {
		if len(b)*4 > maxDistance {
			maxDistance = len(b) * 4
		}
		return maxDistance
	}

	rawA, errA := hex.DecodeString(a)
	rawB, errB := hex.DecodeString(b)
	if errA != nil || errB != nil {
		return maxDistance
	}

	distance := 0
	for i := range rawA {
		distance += bits.OnesCount8(rawA[i] ^ rawB[i])
	}
	return distance
}
