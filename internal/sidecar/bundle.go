package sidecar

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// BundleExtension is appended to the folder name for ZIP bundles.
const BundleExtension = ".meme.zip"

// Bundle packs every image that has a sidecar, together with the sidecar,
// into a flat ZIP archive the mobile app can import. Returns the number of
// images bundled.
//
// Images without sidecars are silently left out: a bundle of half-annotated
// images is still useful, and the caller reports the counts.
func Bundle(zipPath string, images []string, outputDir string) (int, error) {
	f, err := os.Create(zipPath)
	if err != nil {
		return 0, fmt.Errorf("creating bundle %s: %w", zipPath, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	bundled := 0
	for _, imagePath := range images {
		sidecarPath := Path(imagePath, outputDir)
		if _, err := os.Stat(sidecarPath); err != nil {
			continue
		}
		if err := addFile(zw, imagePath, filepath.Base(imagePath)); err != nil {
			zw.Close()
			return bundled, err
		}
		if err := addFile(zw, sidecarPath, filepath.Base(sidecarPath)); err != nil {
			zw.Close()
			return bundled, err
		}
		bundled++
	}

	if err := zw.Close(); err != nil {
		return bundled, fmt.Errorf("finalizing bundle: %w", err)
	}
	return bundled, nil
}

func addFile(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s for bundling: %w", path, err)
	}
	defer src.Close()

	dst, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("adding %s to bundle: %w", name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("bundling %s: %w", name, err)
	}
	return nil
}
