package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "0.4.0"

var rootCmd = &cobra.Command{
	Use:   "riposte",
	Short: "Batch-annotate meme folders with AI-generated metadata",
	Long: `Riposte annotates folders of meme images using the Anthropic API.

Each image gains a JSON sidecar with emojis, a title, a description, tags,
and search phrases, optionally localized into multiple languages. Duplicates
are detected up front so no API call is wasted on an image already seen.`,
	Version: version,
}

func main() {
	// Lets a .env file supply ANTHROPIC_API_KEY during development
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
