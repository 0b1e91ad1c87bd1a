package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bouquet-visualizer/modules/common/clock"
	"bouquet-visualizer/modules/common/model"
)

// SupabaseOptions - Supabase Storage settings
type SupabaseOptions struct {
	URL        string
	ServiceKey string
	Bucket     string
	// PublicBaseURL overrides the public object prefix; defaults to <URL>/storage/v1/object/public/<bucket>/.
	PublicBaseURL string
	Encoding      Encoding
	HTTPClient    *http.Client
	Clock         clock.Clock
	Logger        *slog.Logger
}

// SupabaseStore uploads images to a Supabase Storage bucket through its REST API.
type SupabaseStore struct {
	opts   SupabaseOptions
	http   *http.Client
	clock  clock.Clock
	logger *slog.Logger
}

// NewSupabaseStore - store backed by Supabase Storage
func NewSupabaseStore(opts SupabaseOptions) (*SupabaseStore, error) {
	opts.URL = strings.TrimRight(opts.URL, "/")
	if opts.URL == "" || opts.ServiceKey == "" {
		return nil, fmt.Errorf("supabase storage: URL and service key are required")
	}
	if opts.Bucket == "" {
		opts.Bucket = "visualizations"
	}
	if opts.PublicBaseURL == "" {
		opts.PublicBaseURL = fmt.Sprintf("%s/storage/v1/object/public/%s/", opts.URL, opts.Bucket)
	}
	if !strings.HasSuffix(opts.PublicBaseURL, "/") {
		opts.PublicBaseURL += "/"
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SupabaseStore{opts: opts, http: hc, clock: clk, logger: logger}, nil
}

// Save - upload to orders/<order>/<order>-<unixnano>-<hash>.<ext>
// Uploads never upsert, so an existing object is never replaced.
func (s *SupabaseStore) Save(ctx context.Context, orderID string, data []byte) (model.StoredImage, error) {
	fail := func(op string, err error) (model.StoredImage, error) {
		return model.StoredImage{}, &model.StorageError{OrderID: orderID, Op: op, Err: err}
	}

	out, contentType, err := s.opts.Encoding.encode(data)
	if err != nil {
		return fail("encode", err)
	}

	segment := SanitizeOrderID(orderID)
	unique := strconv.FormatInt(s.clock.Now().UnixNano(), 10)
	objectPath := fmt.Sprintf("orders/%s/%s", segment, objectName(segment, unique, out, contentType))

	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.opts.URL, s.opts.Bucket, objectPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(out))
	if err != nil {
		return fail("request", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.opts.ServiceKey)
	req.Header.Set("apikey", s.opts.ServiceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")

	resp, err := s.http.Do(req)
	if err != nil {
		return fail("upload", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fail("upload", fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}

	url := s.opts.PublicBaseURL + objectPath
	s.logger.Info("image uploaded", "order_id", orderID, "path", objectPath, "bytes", len(out))
	return model.StoredImage{
		Ref:         url,
		URL:         url,
		ContentType: contentType,
		Size:        len(out),
	}, nil
}
