package hashing

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeGradientPNG writes a horizontal gradient test image. direction +1
// brightens left to right, -1 the reverse.
func writeGradientPNG(t *testing.T, path string, w, h, direction int) {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x * 255 / (w - 1))
			if direction < 0 {
				v = 255 - v
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func writeCheckerPNG(t *testing.T, path string, w, h, cell int) {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestContentHashIgnoresFilename(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "completely-different-name.png")
	writeGradientPNG(t, a, 64, 64, 1)

	data, err := os.ReadFile(a)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(b, data, 0o644))

	hashA, err := ContentHash(a)
	require.NoError(t, err)
	hashB, err := ContentHash(b)
	require.NoError(t, err)

	assert.Equal(t, hashA, hashB)
	assert.Len(t, hashA, 64) // hex SHA-256
}

func TestContentHashDiffersForDifferentContent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	writeGradientPNG(t, a, 64, 64, 1)
	writeGradientPNG(t, b, 64, 64, -1)

	hashA, err := ContentHash(a)
	require.NoError(t, err)
	hashB, err := ContentHash(b)
	require.NoError(t, err)

	assert.NotEqual(t, hashA, hashB)
}

func TestContentHashMissingFile(t *testing.T) {
	_, err := ContentHash(filepath.Join(t.TempDir(), "nope.png"))
	require.Error(t, err)
}

func TestPerceptualHashSurvivesResize(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "big.png")
	small := filepath.Join(dir, "small.png")
	writeGradientPNG(t, big, 200, 100, 1)
	writeGradientPNG(t, small, 100, 50, 1)

	hashBig := PerceptualHash(big)
	hashSmall := PerceptualHash(small)
	require.Len(t, hashBig, 64) // 256 bits as hex
	require.Len(t, hashSmall, 64)

	assert.LessOrEqual(t, HammingDistance(hashBig, hashSmall), DefaultThreshold)
}

func TestPerceptualHashSeparatesDistinctImages(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	writeGradientPNG(t, a, 100, 100, 1)
	writeGradientPNG(t, b, 100, 100, -1)

	// Opposite gradients flip every comparison bit
	assert.Greater(t, HammingDistance(PerceptualHash(a), PerceptualHash(b)), 200)
}

func TestPerceptualHashUndecodableIsEmpty(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "junk.png")
	require.NoError(t, os.WriteFile(junk, []byte("not an image at all"), 0o644))

	assert.Empty(t, PerceptualHash(junk))
}

func TestHammingDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected int
	}{
		{name: "identical", a: "deadbeef", b: "deadbeef", expected: 0},
		{name: "one byte fully flipped", a: "ff", b: "00", expected: 8},
		{name: "single bit", a: "01", b: "00", expected: 1},
		{name: "length mismatch is max", a: "ffff", b: "ff", expected: 16},
		{name: "invalid hex is max", a: "zz", b: "ff", expected: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HammingDistance(tt.a, tt.b))
		})
	}
}

func TestThresholdBoundary(t *testing.T) {
	zeros := strings.Repeat("0", 64)
	// 8 bits differ: within the default threshold of 10
	near := strings.Repeat("0", 62) + "ff"
	// 12 bits differ: outside it
	far := strings.Repeat("0", 61) + "fff"

	assert.Equal(t, 8, HammingDistance(zeros, near))
	assert.Equal(t, 12, HammingDistance(zeros, far))

	idx := NewIndex()
	idx.Add("original.png", "hash-1", zeros)

	assert.Len(t, idx.FindSimilar(near, DefaultThreshold), 1)
	assert.Empty(t, idx.FindSimilar(far, DefaultThreshold))
}

func TestIndexFirstSeenWins(t *testing.T) {
	idx := NewIndex()
	idx.Add("first.png", "hash-1", "")
	idx.Add("second.png", "hash-1", "")

	id, ok := idx.LookupExact("hash-1")
	require.True(t, ok)
	assert.Equal(t, "first.png", id)
}

func TestIndexEmptyPerceptualTokenMatchesNothing(t *testing.T) {
	idx := NewIndex()
	idx.Add("a.png", "hash-1", strings.Repeat("0", 64))

	assert.Empty(t, idx.FindSimilar("", 256))
}
