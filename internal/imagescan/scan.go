// Package imagescan discovers annotatable images in a folder.
package imagescan

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/h2non/filetype"
)

// supportedExtensions is the candidate allowlist. A file must both carry
// one of these extensions and sniff as an image to enter a batch; a
// renamed text file with a .png extension is rejected by its magic bytes.
var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
	".bmp":  true,
	".tiff": true,
	".tif":  true,
	".heic": true,
	".heif": true,
}

// SupportedExtensions returns the sorted extension allowlist for help text.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(supportedExtensions))
	for ext := range supportedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// IsSupportedImage reports whether a file looks like an image we can send
// for annotation.
func IsSupportedImage(path string) bool {
	if !supportedExtensions[strings.ToLower(filepath.Ext(path))] {
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	// filetype needs at most 261 bytes to identify a format
	head := make([]byte, 261)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return false
	}

	kind, err := filetype.Match(head[:n])
	if err != nil || kind == filetype.Unknown {
		return false
	}
	return strings.HasPrefix(kind.MIME.Value, "image/")
}

// ListImages returns every supported image directly inside folder, sorted
// by name. Subdirectories are not descended into.
func ListImages(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("reading folder %s: %w", folder, err)
	}

	var images []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(folder, entry.Name())
		if IsSupportedImage(path) {
			images = append(images, path)
		}
	}
	sort.Strings(images)
	return images, nil
}
