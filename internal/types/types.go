// Package types defines the shared data model for the annotation pipeline.
package types

import (
	"fmt"
	"time"
)

// ItemStatus represents the terminal (or pending) state of a work item.
type ItemStatus string

const (
	StatusPending   ItemStatus = "pending"
	StatusSucceeded ItemStatus = "succeeded"
	StatusFailed    ItemStatus = "failed"
	StatusCancelled ItemStatus = "cancelled"
)

// IsValid checks if the status value is valid
func (s ItemStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the item has reached a final state.
func (s ItemStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// WorkItem tracks one image through the batch pipeline.
//
// A WorkItem is owned exclusively by the goroutine running its retry loop;
// it is never shared between workers. Attempts and LastErr are mutated only
// by that owner, so no locking is needed.
type WorkItem struct {
	Path        string     // Absolute or batch-relative path to the image
	Attempts    int        // Number of attempts made so far
	Status      ItemStatus // Current state; starts as StatusPending
	LastErr     error      // Last error observed, retained for reporting
	SidecarPath string     // Path of the written sidecar on success
}

// NewWorkItem creates a pending work item for an image path.
func NewWorkItem(path string) *WorkItem {
	return &WorkItem{Path: path, Status: StatusPending}
}

// Annotation is the structured result returned by the AI for one image.
//
// Field names mirror the sidecar schema: camelCase JSON keys, with the
// localizations map keyed by BCP 47 language code.
type Annotation struct {
	Emojis        []string                `json:"emojis"`
	Title         string                  `json:"title,omitempty"`
	Description   string                  `json:"description,omitempty"`
	Tags          []string                `json:"tags,omitempty"`
	SearchPhrases []string                `json:"searchPhrases,omitempty"`
	BasedOn       string                  `json:"basedOn,omitempty"`
	Localizations map[string]Localization `json:"localizations,omitempty"`
}

// Localization holds translated annotation fields for one additional language.
type Localization struct {
	Title         string   `json:"title,omitempty"`
	Description   string   `json:"description,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	SearchPhrases []string `json:"searchPhrases,omitempty"`
}

// Validate checks that the annotation carries the minimum required content.
func (a *Annotation) Validate() error {
	if len(a.Emojis) == 0 {
		return fmt.Errorf("annotation missing required 'emojis' field")
	}
	return nil
}

// BatchSummary aggregates the outcome of one batch run.
//
// Succeeded + Failed + NotStarted always equals the number of items that
// entered the batch, so a rerun with --continue can target exactly the
// unfinished set.
type BatchSummary struct {
	RunID       string        // Unique ID for this batch invocation
	Succeeded   []*WorkItem   // Items with written sidecars
	Failed      []*WorkItem   // Items that exhausted retries or hit item-level errors
	NotStarted  []*WorkItem   // Items cancelled before their first attempt
	Interrupted bool          // True if the batch was cut short by a cancellation signal
	AuthFailure error         // Non-nil if the batch aborted on an authentication error
	Elapsed     time.Duration // Wall-clock duration of the batch
}

// Total returns the number of items that entered the batch.
func (b *BatchSummary) Total() int {
	return len(b.Succeeded) + len(b.Failed) + len(b.NotStarted)
}
