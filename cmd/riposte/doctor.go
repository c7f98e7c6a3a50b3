package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/riposte-app/riposte-cli/internal/ai"
	"github.com/riposte-app/riposte-cli/internal/config"
	"github.com/riposte-app/riposte-cli/internal/hashing"
	"github.com/riposte-app/riposte-cli/internal/imagescan"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor [folder]",
	Short: "Check riposte configuration and environment health",
	Long: `Run health checks to diagnose common configuration and environment issues.

This command checks for:
- ANTHROPIC_API_KEY availability
- Config file validity
- Model selection and overrides
- Folder contents and hash manifest (when a folder is given)

Exit codes:
  0 - All checks passed
  1 - One or more checks failed
  2 - Critical failures that prevent riposte from running`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		fmt.Printf("Running riposte health checks...\n\n")

		var failures []string
		var warnings []string
		var criticalFailures []string

		// Check 1: API key
		fmt.Printf("%s API key\n", cyan("→"))
		if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey == "" {
			criticalFailures = append(criticalFailures, "ANTHROPIC_API_KEY not set")
			fmt.Printf("  %s ANTHROPIC_API_KEY not set\n", red("✗"))
			fmt.Printf("    Export it or put it in a .env file next to the binary\n")
		} else {
			fmt.Printf("  %s ANTHROPIC_API_KEY is set\n", green("✓"))
			if verbose && len(apiKey) > 14 {
				fmt.Printf("    Key: %s...%s\n", apiKey[:10], apiKey[len(apiKey)-4:])
			}
		}

		// Check 2: Config file
		fmt.Printf("%s Config file\n", cyan("→"))
		if path, err := config.DefaultPath(); err != nil {
			warnings = append(warnings, fmt.Sprintf("Cannot resolve config path: %v", err))
			fmt.Printf("  %s Cannot resolve config path\n", yellow("⚠"))
		} else if _, statErr := os.Stat(path); statErr != nil {
			fmt.Printf("  %s No config file (defaults apply): %s\n", green("✓"), path)
		} else if cfg, loadErr := config.Load(path); loadErr != nil {
			failures = append(failures, fmt.Sprintf("Config file is invalid: %v", loadErr))
			fmt.Printf("  %s Config file is invalid\n", red("✗"))
			if verbose {
				fmt.Printf("    Error: %v\n", loadErr)
			}
		} else {
			fmt.Printf("  %s Config loaded: %s\n", green("✓"), path)
			if _, err := cfg.ParseRequestTimeout(); err != nil {
				failures = append(failures, err.Error())
				fmt.Printf("  %s %v\n", red("✗"), err)
			}
			if cfg.Concurrency < 0 || cfg.Concurrency > 10 {
				failures = append(failures, fmt.Sprintf("Config concurrency out of range: %d", cfg.Concurrency))
				fmt.Printf("  %s Concurrency out of range (1-10): %d\n", red("✗"), cfg.Concurrency)
			}
		}

		// Check 3: Model selection
		fmt.Printf("%s Model\n", cyan("→"))
		model := ai.GetDefaultModel()
		if override := os.Getenv("RIPOSTE_MODEL"); override != "" {
			fmt.Printf("  %s Using RIPOSTE_MODEL override: %s\n", green("✓"), model)
		} else {
			fmt.Printf("  %s Using default model: %s\n", green("✓"), model)
		}

		// Check 4: Folder contents (optional)
		if len(args) == 1 {
			folder := args[0]
			fmt.Printf("%s Folder %s\n", cyan("→"), folder)
			images, err := imagescan.ListImages(folder)
			if err != nil {
				criticalFailures = append(criticalFailures, fmt.Sprintf("Cannot read folder: %v", err))
				fmt.Printf("  %s Cannot read folder\n", red("✗"))
				if verbose {
					fmt.Printf("    Error: %v\n", err)
				}
			} else {
				fmt.Printf("  %s %d supported image(s) found\n", green("✓"), len(images))
				if len(images) == 0 {
					warnings = append(warnings, "Folder contains no supported images")
					fmt.Printf("  %s Supported extensions: %s\n", yellow("⚠"),
						strings.Join(imagescan.SupportedExtensions(), " "))
				}

				manifest := hashing.LoadManifest(folder)
				if manifest.Len() == 0 {
					fmt.Printf("  %s No hash manifest yet (created on first annotate run)\n", green("✓"))
				} else {
					fmt.Printf("  %s Hash manifest has %d entry(ies)\n", green("✓"), manifest.Len())
				}

				// Sidecars are written into the folder, so it must be writable
				if probe, err := os.CreateTemp(folder, ".riposte-doctor-*"); err != nil {
					failures = append(failures, fmt.Sprintf("Folder is not writable: %v", err))
					fmt.Printf("  %s Folder is not writable\n", red("✗"))
				} else {
					probe.Close()
					os.Remove(probe.Name())
					fmt.Printf("  %s Folder is writable\n", green("✓"))
				}
			}
		}

		// Summary
		fmt.Printf("\n%s\n", strings.Repeat("─", 60))

		totalIssues := len(criticalFailures) + len(failures) + len(warnings)
		if totalIssues == 0 {
			fmt.Printf("%s All checks passed! riposte is ready to run.\n", green("✓"))
			return
		}

		if len(criticalFailures) > 0 {
			fmt.Printf("\n%s Critical failures (%d):\n", red("✗"), len(criticalFailures))
			for _, failure := range criticalFailures {
				fmt.Printf("  • %s\n", failure)
			}
		}
		if len(failures) > 0 {
			fmt.Printf("\n%s Failures (%d):\n", red("✗"), len(failures))
			for _, failure := range failures {
				fmt.Printf("  • %s\n", failure)
			}
		}
		if len(warnings) > 0 {
			fmt.Printf("\n%s Warnings (%d):\n", yellow("⚠"), len(warnings))
			for _, warning := range warnings {
				fmt.Printf("  • %s\n", warning)
			}
		}

		if len(criticalFailures) > 0 {
			fmt.Printf("\n%s riposte cannot run until critical issues are resolved.\n", red("✗"))
			os.Exit(2)
		}
		if len(failures) > 0 {
			fmt.Printf("\n%s riposte may not work correctly. Please address the failures above.\n", yellow("⚠"))
			os.Exit(1)
		}
		fmt.Printf("\n%s riposte should work, but some warnings were detected.\n", green("✓"))
	},
}

func init() {
	doctorCmd.Flags().BoolP("verbose", "v", false, "Show detailed diagnostic information")
	rootCmd.AddCommand(doctorCmd)
}
