package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/riposte-app/riposte-cli/internal/hashing"
	"github.com/riposte-app/riposte-cli/internal/imagescan"
	"github.com/riposte-app/riposte-cli/internal/sidecar"
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe <folder>",
	Short: "Find and remove duplicate images in a folder",
	Long: `Scan a folder for exact and near-duplicate images without calling the API.

Exact duplicates are byte-identical files; near-duplicates are visually
similar within the perceptual-hash threshold (resized or re-encoded copies
of the same meme). The first-seen copy of each group is kept.

Deletion asks for confirmation unless --yes is given. Sidecars of deleted
images are removed along with them.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		folder := args[0]
		threshold, _ := cmd.Flags().GetInt("similarity-threshold")
		noNear, _ := cmd.Flags().GetBool("no-near")
		outputDir, _ := cmd.Flags().GetString("output")
		deleteFiles, _ := cmd.Flags().GetBool("delete")
		yes, _ := cmd.Flags().GetBool("yes")

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		images, err := imagescan.ListImages(folder)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Scanning %d image(s) for duplicates...\n", cyan("→"), len(images))

		// A fresh index so the scan reflects only what is on disk now
		idx := hashing.NewIndex()
		manifest := hashing.NewManifest()
		result := hashing.Deduplicate(images, idx, manifest, hashing.DedupOptions{
			DetectNear: !noNear,
			Threshold:  threshold,
		})

		if len(result.ExactDuplicates) == 0 && len(result.NearDuplicates) == 0 {
			fmt.Printf("%s No duplicates found.\n", green("✓"))
			return
		}

		var doomed []string
		for _, dup := range result.ExactDuplicates {
			fmt.Printf("%s %s is an exact copy of %s\n",
				yellow("⚠"), filepath.Base(dup.Duplicate), filepath.Base(dup.Original))
			doomed = append(doomed, dup.Duplicate)
		}
		for _, near := range result.NearDuplicates {
			fmt.Printf("%s %s looks like %s (distance %d)\n",
				yellow("⚠"), filepath.Base(near.Duplicate), filepath.Base(near.Original), near.Distance)
			doomed = append(doomed, near.Duplicate)
		}
		fmt.Printf("\n%d duplicate(s) found, %d unique image(s) kept.\n", len(doomed), len(result.Unique))

		if !deleteFiles {
			fmt.Printf("Run again with --delete to remove them.\n")
			return
		}

		if !yes && !confirmDeletion(len(doomed)) {
			fmt.Printf("Aborted, nothing deleted.\n")
			return
		}

		removed := 0
		for _, path := range doomed {
			if err := os.Remove(path); err != nil {
				fmt.Fprintf(os.Stderr, "%s Could not delete %s: %v\n", red("✗"), path, err)
				continue
			}
			// Drop the orphaned sidecar too, if one exists
			_ = os.Remove(sidecar.Path(path, outputDir))
			removed++
		}
		fmt.Printf("%s Deleted %d duplicate(s).\n", green("✓"), removed)

		// Refresh the manifest so future runs index only surviving files
		if err := hashing.SaveManifest(folder, manifest); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not save hash manifest: %v\n", err)
		}
	},
}

// confirmDeletion prompts for an explicit yes before destroying files.
func confirmDeletion(count int) bool {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("Delete %d file(s)? [y/N] ", count),
		InterruptPrompt: "^C",
	})
	if err != nil {
		return false
	}
	defer rl.Close()

	line, err := rl.Readline()
	if err != nil {
		if err == readline.ErrInterrupt || err == io.EOF {
			return false
		}
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func init() {
	dedupeCmd.Flags().Int("similarity-threshold", hashing.DefaultThreshold, "Max Hamming distance for near-duplicates (out of 256)")
	dedupeCmd.Flags().Bool("no-near", false, "Only detect byte-identical duplicates")
	dedupeCmd.Flags().StringP("output", "o", "", "Directory holding the sidecars, if not next to the images")
	dedupeCmd.Flags().Bool("delete", false, "Delete the duplicate files (keeps the first-seen copy)")
	dedupeCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(dedupeCmd)
}
