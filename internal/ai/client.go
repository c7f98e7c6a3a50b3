// Package ai implements the remote annotation client and the tagged error
// classification the retry loop dispatches on.
package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/h2non/filetype"

	"github.com/riposte-app/riposte-cli/internal/types"
)

const (
	// ModelDefault is the standard annotation model.
	ModelDefault = "claude-sonnet-4-5-20250929"

	// ModelFast is the cheaper model for large batches where per-image
	// quality matters less than throughput.
	ModelFast = "claude-3-5-haiku-20241022"
)

// GetDefaultModel returns the annotation model, honoring the
// RIPOSTE_MODEL environment override.
func GetDefaultModel() string {
	if model := os.Getenv("RIPOSTE_MODEL"); model != "" {
		return model
	}
	return ModelDefault
}

// Analyzer is the remote inference contract the batch runner retries
// against. Implementations must return either a valid annotation or an
// error classified via Classify.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, path string) (*types.Annotation, error)
}

// ClientConfig holds annotation client configuration.
type ClientConfig struct {
	APIKey    string        // If empty, reads ANTHROPIC_API_KEY
	Model     string        // Model to use (default: ModelDefault)
	Languages []string      // BCP 47 codes; first is primary (default: ["en"])
	Timeout   time.Duration // Per-request timeout (default: 120s)
	MaxTokens int64         // Response token budget (default: 2048)
	Verbose   bool
}

// Client analyzes images through the Anthropic Messages API.
type Client struct {
	client    *anthropic.Client
	model     string
	system    string
	timeout   time.Duration
	maxTokens int64
	verbose   bool
}

// Compile-time check that Client implements Analyzer
var _ Analyzer = (*Client)(nil)

// NewClient creates an annotation client.
func NewClient(cfg ClientConfig) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &Client{
		client:    &client,
		model:     model,
		system:    SystemPrompt(cfg.Languages),
		timeout:   timeout,
		maxTokens: maxTokens,
		verbose:   cfg.Verbose,
	}, nil
}

// Model returns the model identifier requests are sent with.
func (c *Client) Model() string {
	return c.model
}

// AnalyzeImage sends one image for annotation and parses the response.
//
// Every failure comes back either as the caller's context error or as a
// tagged *APIError, so the retry loop never has to inspect raw SDK errors.
func (c *Client) AnalyzeImage(ctx context.Context, path string) (*types.Annotation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &APIError{Kind: KindOther, Message: fmt.Sprintf("reading image: %v", err), Err: err}
	}

	mediaType := sniffMediaType(data)
	encoded := base64.StdEncoding.EncodeToString(data)

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: c.system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mediaType, encoded),
				anthropic.NewTextBlock(userPrompt),
			),
		},
	})
	if err != nil {
		// The parent context's cancellation must not look like a
		// per-attempt timeout.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Classify(err)
	}

	var responseText string
	for _, block := range resp.Content {
		if block.Type == "text" {
			responseText += block.Text
		}
	}
	if c.verbose {
		fmt.Printf("  [debug] %s response: %s\n", c.model, truncate(responseText, 300))
	}

	return ParseAnnotation(responseText)
}

// sniffMediaType detects the image MIME type from magic bytes, falling back
// to JPEG, which the API treats leniently.
func sniffMediaType(data []byte) string {
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	return "image/jpeg"
}
