// Package sidecar writes and inspects the per-image JSON metadata files
// that accompany annotated images.
package sidecar

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/riposte-app/riposte-cli/internal/types"
)

// SchemaVersion tags every sidecar so consumers can evolve the format.
const SchemaVersion = "1.3"

// Metadata is the sidecar document written next to each annotated image.
type Metadata struct {
	SchemaVersion   string                        `json:"schemaVersion"`
	Emojis          []string                      `json:"emojis"`
	CreatedAt       time.Time                     `json:"createdAt"`
	AppVersion      string                        `json:"appVersion,omitempty"`
	Title           string                        `json:"title,omitempty"`
	Description     string                        `json:"description,omitempty"`
	Tags            []string                      `json:"tags,omitempty"`
	SearchPhrases   []string                      `json:"searchPhrases,omitempty"`
	PrimaryLanguage string                        `json:"primaryLanguage,omitempty"`
	Localizations   map[string]types.Localization `json:"localizations,omitempty"`
	ContentHash     string                        `json:"contentHash,omitempty"`
	BasedOn         string                        `json:"basedOn,omitempty"`
}

// BuildOptions carries the batch-level fields stamped into every sidecar.
type BuildOptions struct {
	PrimaryLanguage string
	ContentHash     string
	AppVersion      string
}

// Build assembles sidecar metadata from an annotation.
func Build(annotation *types.Annotation, opts BuildOptions) *Metadata {
	return &Metadata{
		SchemaVersion:   SchemaVersion,
		Emojis:          annotation.Emojis,
		CreatedAt:       time.Now().UTC(),
		AppVersion:      opts.AppVersion,
		Title:           annotation.Title,
		Description:     annotation.Description,
		Tags:            annotation.Tags,
		SearchPhrases:   annotation.SearchPhrases,
		PrimaryLanguage: opts.PrimaryLanguage,
		Localizations:   annotation.Localizations,
		ContentHash:     opts.ContentHash,
		BasedOn:         annotation.BasedOn,
	}
}

// Path returns the sidecar location for an image. Sidecars live in
// outputDir when set, otherwise next to the image.
func Path(imagePath, outputDir string) string {
	if outputDir == "" {
		outputDir = filepath.Dir(imagePath)
	}
	return filepath.Join(outputDir, filepath.Base(imagePath)+".json")
}

// Exists reports whether an image already has a sidecar. Its presence is
// what incremental runs use to skip already-annotated images.
func Exists(imagePath, outputDir string) bool {
	_, err := os.Stat(Path(imagePath, outputDir))
	return err == nil
}

// Write persists sidecar metadata for an image and returns the sidecar path.
func Write(imagePath string, meta *Metadata, outputDir string) (string, error) {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding sidecar: %w", err)
	}

	path := Path(imagePath, outputDir)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing sidecar %s: %w", path, err)
	}
	return path, nil
}

// Read loads an existing sidecar document.
func Read(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sidecar %s: %w", path, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing sidecar %s: %w", path, err)
	}
	return &meta, nil
}

// FilterByMode partitions images according to the processing mode.
//
// Force mode processes everything, regenerating existing sidecars. The
// default (and the explicit --continue flag) skips images whose sidecar
// already exists; overwriting user data is opt-in, never the default.
func FilterByMode(images []string, outputDir string, force bool) (toProcess []string, skipped int) {
	if force {
		return images, 0
	}
	for _, img := range images {
		if Exists(img, outputDir) {
			skipped++
		} else {
			toProcess = append(toProcess, img)
		}
	}
	return toProcess, skipped
}
