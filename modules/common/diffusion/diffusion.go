package diffusion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxImageBytes caps what we read from the inference server.
const maxImageBytes = 32 << 20

// Options - sampling settings sent with every request
// Defaults match a single-step SDXS-512 pipeline.
type Options struct {
	BaseURL       string
	Width         int
	Height        int
	Steps         int
	GuidanceScale float64
	HTTPClient    *http.Client
}

// Client talks to a local text-to-image inference server over HTTP.
type Client struct {
	opts Options
	http *http.Client
}

// Load checks the server's health endpoint and returns a ready client.
func Load(ctx context.Context, opts Options) (*Client, error) {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("diffusion: base URL is required")
	}
	if opts.Width == 0 {
		opts.Width = 512
	}
	if opts.Height == 0 {
		opts.Height = 512
	}
	if opts.Steps == 0 {
		opts.Steps = 1
	}
	if opts.GuidanceScale == 0 {
		opts.GuidanceScale = 1.0
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	c := &Client{opts: opts, http: hc}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.BaseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("diffusion: failed to create health request: %w", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("diffusion: server unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("diffusion: health check returned %d - %s", resp.StatusCode, string(body))
	}
	return c, nil
}

type generateRequest struct {
	Prompt        string  `json:"prompt"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	Steps         int     `json:"steps"`
	GuidanceScale float64 `json:"guidance_scale"`
}

// GenerateImage - POST /generate
// The server may answer with raw image bytes or JSON {"image": "<base64 or data URL>"}.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	body, err := json.Marshal(generateRequest{
		Prompt:        prompt,
		Width:         c.opts.Width,
		Height:        c.opts.Height,
		Steps:         c.opts.Steps,
		GuidanceScale: c.opts.GuidanceScale,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png, application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d - %s", resp.StatusCode, truncate(payload, 256))
	}

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return payload, nil
	}

	var out struct {
		Image string `json:"image"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	return decodeImageField(out.Image)
}

// decodeImageField accepts bare base64 or a data URL.
func decodeImageField(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, fmt.Errorf("malformed data URL")
		}
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}
	return data, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
