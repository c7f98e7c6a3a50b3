package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/riposte-app/riposte-cli/internal/ai"
	"github.com/riposte-app/riposte-cli/internal/annotate"
	"github.com/riposte-app/riposte-cli/internal/config"
	"github.com/riposte-app/riposte-cli/internal/hashing"
	"github.com/riposte-app/riposte-cli/internal/imagescan"
	"github.com/riposte-app/riposte-cli/internal/limiter"
	"github.com/riposte-app/riposte-cli/internal/sidecar"
	"github.com/riposte-app/riposte-cli/internal/types"
)

var annotateCmd = &cobra.Command{
	Use:   "annotate <folder>",
	Short: "Annotate every image in a folder",
	Long: `Annotate every supported image in a folder with AI-generated metadata.

The default run is incremental: images that already have a sidecar are
skipped, and exact or near-duplicate images are filtered out before any API
call is made. Use --force to regenerate everything.

Interrupting with Ctrl+C is safe: requests already in flight finish and
their sidecars are written; everything else is left for the next run.

Exit codes:
  0 - All images annotated (or nothing to do)
  1 - Some images failed or the run was interrupted
  2 - Authentication failure (no image can succeed)`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		folder := args[0]

		outputDir, _ := cmd.Flags().GetString("output")
		model, _ := cmd.Flags().GetString("model")
		languages, _ := cmd.Flags().GetStringSlice("languages")
		force, _ := cmd.Flags().GetBool("force")
		continueRun, _ := cmd.Flags().GetBool("continue")
		addNew, _ := cmd.Flags().GetBool("add-new")
		noDedup, _ := cmd.Flags().GetBool("no-dedup")
		threshold, _ := cmd.Flags().GetInt("similarity-threshold")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		verbose, _ := cmd.Flags().GetBool("verbose")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		zipBundle, _ := cmd.Flags().GetBool("zip")

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		if force && (continueRun || addNew) {
			fmt.Fprintf(os.Stderr, "Error: --force conflicts with --continue/--add-new\n")
			os.Exit(1)
		}

		if verbose {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			})))
		}

		// Config file fills in anything not set on the command line
		cfg, err := config.LoadDefault()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !cmd.Flags().Changed("model") && cfg.Model != "" {
			model = cfg.Model
		}
		if !cmd.Flags().Changed("languages") && len(cfg.Languages) > 0 {
			languages = cfg.Languages
		}
		if !cmd.Flags().Changed("concurrency") && cfg.Concurrency > 0 {
			concurrency = cfg.Concurrency
		}
		if !cmd.Flags().Changed("similarity-threshold") && cfg.SimilarityThreshold > 0 {
			threshold = cfg.SimilarityThreshold
		}
		timeout, err := cfg.ParseRequestTimeout()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if concurrency < 1 || concurrency > 10 {
			fmt.Fprintf(os.Stderr, "Error: --concurrency must be between 1 and 10\n")
			os.Exit(1)
		}
		if model == "" {
			model = ai.GetDefaultModel()
		}
		primaryLanguage := "en"
		if len(languages) > 0 {
			primaryLanguage = languages[0]
		}

		images, err := imagescan.ListImages(folder)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(images) == 0 {
			fmt.Printf("No supported images found in %s\n", folder)
			return
		}
		fmt.Printf("%s Found %d image(s) in %s\n", cyan("→"), len(images), folder)

		toProcess, skipped := sidecar.FilterByMode(images, outputDir, force)
		if skipped > 0 {
			fmt.Printf("%s Skipping %d already-annotated image(s)\n", cyan("→"), skipped)
		}

		// Duplicate filtering happens before any API traffic
		manifest := hashing.NewManifest()
		if !noDedup {
			manifest = hashing.LoadManifest(folder)
			idx := hashing.IndexFromManifest(manifest)
			result := hashing.Deduplicate(toProcess, idx, manifest, hashing.DedupOptions{
				DetectNear: true,
				Threshold:  threshold,
				Verbose:    verbose,
			})
			for _, dup := range result.ExactDuplicates {
				fmt.Printf("%s Duplicate of %s: %s\n", yellow("⚠"), filepath.Base(dup.Original), filepath.Base(dup.Duplicate))
			}
			for _, near := range result.NearDuplicates {
				fmt.Printf("%s Near-duplicate of %s (distance %d): %s\n",
					yellow("⚠"), filepath.Base(near.Original), near.Distance, filepath.Base(near.Duplicate))
			}
			toProcess = result.Unique
			if !dryRun {
				if err := hashing.SaveManifest(folder, manifest); err != nil {
					fmt.Fprintf(os.Stderr, "warning: could not save hash manifest: %v\n", err)
				}
			}
		}

		if len(toProcess) == 0 {
			fmt.Printf("%s Nothing to annotate.\n", green("✓"))
			// A bundle of previously annotated images is still a bundle
			if zipBundle && !dryRun {
				reportBundle(folder, outputDir, images, green, red)
			}
			return
		}

		if dryRun {
			fmt.Printf("\nWould annotate %d image(s) with %s:\n", len(toProcess), model)
			for _, img := range toProcess {
				fmt.Printf("  • %s\n", filepath.Base(img))
			}
			return
		}

		client, err := ai.NewClient(ai.ClientConfig{
			Model:     model,
			Languages: languages,
			Timeout:   timeout,
			Verbose:   verbose,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", red("✗"), err)
			fmt.Fprintf(os.Stderr, "  Set ANTHROPIC_API_KEY in your environment or a .env file.\n")
			os.Exit(1)
		}

		// Ctrl+C cancels pending work; in-flight requests finish first
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			<-sigCh
			fmt.Fprintf(os.Stderr, "\n%s Interrupted - letting in-flight requests finish...\n", yellow("⚠"))
			cancel()
		}()

		cl := limiter.NewConcurrencyLimiter(limiter.ConcurrencyConfig{
			MaxConcurrency: concurrency,
		})

		fmt.Printf("%s Annotating %d image(s) with %s (up to %d in parallel)\n\n",
			cyan("→"), len(toProcess), model, concurrency)

		done := 0
		total := len(toProcess)
		runner := annotate.NewRunner(client, cl, annotate.Options{
			OutputDir:       outputDir,
			PrimaryLanguage: primaryLanguage,
			AppVersion:      "riposte-cli-" + version,
			OnItemDone: func(item *types.WorkItem, _ time.Duration) {
				done++
				switch item.Status {
				case types.StatusSucceeded:
					fmt.Printf("[%d/%d] %s %s\n", done, total, green("✓"), filepath.Base(item.Path))
				case types.StatusFailed:
					fmt.Printf("[%d/%d] %s %s: %v\n", done, total, red("✗"), filepath.Base(item.Path), item.LastErr)
				default:
					fmt.Printf("[%d/%d] %s %s (cancelled)\n", done, total, yellow("⚠"), filepath.Base(item.Path))
				}
			},
			OnBackoff: func(item *types.WorkItem, kind ai.ErrorKind, wait time.Duration) {
				if verbose {
					fmt.Printf("        %s %s: %s, retrying in %s\n",
						yellow("⚠"), filepath.Base(item.Path), kind, wait.Round(time.Millisecond))
				}
			},
		})

		summary := runner.Run(ctx, toProcess)

		fmt.Printf("\n%s Annotated %d/%d image(s) in %s\n",
			green("✓"), len(summary.Succeeded), summary.Total(), summary.Elapsed.Round(time.Second))
		if len(summary.Failed) > 0 {
			fmt.Printf("%s %d image(s) failed:\n", red("✗"), len(summary.Failed))
			for _, item := range summary.Failed {
				fmt.Printf("  • %s: %v\n", filepath.Base(item.Path), item.LastErr)
			}
		}
		if len(summary.NotStarted) > 0 {
			fmt.Printf("%s %d image(s) not started - rerun to pick them up\n", yellow("⚠"), len(summary.NotStarted))
		}

		// Bundle whatever carries a sidecar, this run's output or an
		// earlier run's; partial batches still produce a usable archive.
		if zipBundle {
			reportBundle(folder, outputDir, images, green, red)
		}

		if summary.AuthFailure != nil {
			fmt.Fprintf(os.Stderr, "\n%s Authentication failed: %v\n", red("✗"), summary.AuthFailure)
			fmt.Fprintf(os.Stderr, "  Check your ANTHROPIC_API_KEY.\n")
			os.Exit(2)
		}
		if len(summary.Failed) > 0 || summary.Interrupted {
			os.Exit(1)
		}
	},
}

func init() {
	annotateCmd.Flags().StringP("output", "o", "", "Write sidecars to this directory instead of next to the images")
	annotateCmd.Flags().StringP("model", "m", "", "Claude model to use (default: "+ai.ModelDefault+")")
	annotateCmd.Flags().StringSliceP("languages", "l", []string{"en"}, "Annotation languages, primary first (e.g. cs,en)")
	annotateCmd.Flags().BoolP("force", "f", false, "Regenerate sidecars that already exist")
	annotateCmd.Flags().Bool("continue", false, "Skip images that already have sidecars (the default, made explicit)")
	annotateCmd.Flags().Bool("add-new", false, "Alias for --continue")
	annotateCmd.Flags().Bool("no-dedup", false, "Skip duplicate detection")
	annotateCmd.Flags().Int("similarity-threshold", hashing.DefaultThreshold, "Max Hamming distance for near-duplicates (out of 256)")
	annotateCmd.Flags().Bool("dry-run", false, "Show what would be annotated without calling the API")
	annotateCmd.Flags().BoolP("verbose", "v", false, "Show retries, backoff waits, and raw responses")
	annotateCmd.Flags().IntP("concurrency", "j", 4, "Maximum parallel API requests (1-10)")
	annotateCmd.Flags().Bool("zip", false, "Bundle annotated images and sidecars into a ZIP for import")
	rootCmd.AddCommand(annotateCmd)
}

// bundleFolder packs every annotated image in the folder into a ZIP placed
// next to the folder and named after it, so sibling folders each get a
// distinct archive. Returns the bundle path and the image count.
func bundleFolder(folder, outputDir string, images []string) (string, int, error) {
	absFolder, err := filepath.Abs(folder)
	if err != nil {
		absFolder = folder
	}
	zipPath := filepath.Join(filepath.Dir(absFolder), filepath.Base(absFolder)+sidecar.BundleExtension)
	bundled, err := sidecar.Bundle(zipPath, images, outputDir)
	return zipPath, bundled, err
}

func reportBundle(folder, outputDir string, images []string, green, red func(a ...interface{}) string) {
	zipPath, bundled, err := bundleFolder(folder, outputDir, images)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s Bundle failed: %v\n", red("✗"), err)
		return
	}
	fmt.Printf("%s Bundled %d annotated image(s) into %s\n", green("✓"), bundled, zipPath)
}
