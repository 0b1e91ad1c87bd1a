package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/genai"

	"bouquet-visualizer/modules/common/vertexai"
)

// Backend selects the Google endpoint family.
type Backend string

const (
	BackendGeminiAPI Backend = "gemini"
	BackendVertexAI  Backend = "vertex"
)

// Options - settings for a Gemini image client
type Options struct {
	Backend  Backend
	Model    string
	APIKey   string
	Project  string
	Location string
	// Vertex service-account credentials; both empty means ADC
	CredentialsJSON string
	CredentialsPath string
	AspectRatio     string
	Retry           RetryPolicy
	Logger          *slog.Logger
}

// ErrNoImage - the response carried no inline image data
var ErrNoImage = errors.New("no image data in response")

// Client generates bouquet images through google.golang.org/genai.
type Client struct {
	models contentGenerator
	opts   Options
	logger *slog.Logger
}

// Load creates the client and confirms the model exists, so a bad key or model
// name surfaces at load time rather than on the first order.
func Load(ctx context.Context, opts Options) (*Client, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("gemini: model name is required")
	}

	cc := &genai.ClientConfig{}
	switch opts.Backend {
	case BackendGeminiAPI, "":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("gemini: GEMINI_API_KEY is required")
		}
		cc.APIKey = opts.APIKey
		cc.Backend = genai.BackendGeminiAPI
	case BackendVertexAI:
		if opts.Project == "" {
			return nil, fmt.Errorf("gemini: GOOGLE_CLOUD_PROJECT is required for vertex")
		}
		creds, err := vertexai.Credentials(opts.CredentialsJSON, opts.CredentialsPath, loggerOrDiscard(opts.Logger))
		if err != nil {
			return nil, err
		}
		cc.Project = opts.Project
		cc.Location = opts.Location
		cc.Credentials = creds
		cc.Backend = genai.BackendVertexAI
	default:
		return nil, fmt.Errorf("gemini: unknown backend %q", opts.Backend)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	if _, err := client.Models.Get(ctx, opts.Model, nil); err != nil {
		return nil, fmt.Errorf("gemini: model %s not reachable: %w", opts.Model, err)
	}

	return newClient(client.Models, opts), nil
}

func newClient(models contentGenerator, opts Options) *Client {
	if opts.AspectRatio == "" {
		opts.AspectRatio = "1:1"
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy
	}
	logger := loggerOrDiscard(opts.Logger)
	return &Client{models: models, opts: opts, logger: logger.With("backend", string(opts.Backend), "model", opts.Model)}
}

// GenerateImage - single-shot text-to-image call
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	content := &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{genai.NewPartFromText(prompt)},
	}

	result, err := GenerateContentWithRetry(
		ctx,
		c.models,
		c.opts.Model,
		[]*genai.Content{content},
		&genai.GenerateContentConfig{
			ResponseModalities: []string{string(genai.ModalityImage)},
			ImageConfig: &genai.ImageConfig{
				AspectRatio: c.opts.AspectRatio,
			},
		},
		c.opts.Retry,
		c.logger,
	)
	if err != nil {
		return nil, fmt.Errorf("gemini call failed: %w", err)
	}

	data, err := extractImage(result)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("received image", "bytes", len(data))
	return data, nil
}

// extractImage - first inline image part across all candidates
func extractImage(result *genai.GenerateContentResponse) ([]byte, error) {
	if result == nil || len(result.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}
	for _, candidate := range result.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, nil
			}
		}
	}
	return nil, ErrNoImage
}

func loggerOrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}
