package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"bouquet-visualizer/modules/common/model"
)

// maxSaveAttempts bounds the search for a free sequence number.
const maxSaveAttempts = 1000

// LocalOptions - filesystem store settings
type LocalOptions struct {
	Dir string
	// PublicBaseURL prefixes image URLs; images are served under /images/.
	PublicBaseURL string
	Encoding      Encoding
	Logger        *slog.Logger
}

// LocalStore keeps images under Dir/<order>/<order>-<seq>-<hash>.<ext>.
// Files are never overwritten.
type LocalStore struct {
	dir     string
	baseURL string
	enc     Encoding
	logger  *slog.Logger
}

// NewLocalStore - the directory is created lazily on first save
func NewLocalStore(opts LocalOptions) *LocalStore {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LocalStore{
		dir:     opts.Dir,
		baseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		enc:     opts.Encoding,
		logger:  logger,
	}
}

// Save - persist one image; errors are *model.StorageError
func (s *LocalStore) Save(ctx context.Context, orderID string, data []byte) (model.StoredImage, error) {
	fail := func(op string, err error) (model.StoredImage, error) {
		return model.StoredImage{}, &model.StorageError{OrderID: orderID, Op: op, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail("save", err)
	}

	out, contentType, err := s.enc.encode(data)
	if err != nil {
		return fail("encode", err)
	}

	segment := SanitizeOrderID(orderID)
	orderDir := filepath.Join(s.dir, segment)
	if err := os.MkdirAll(orderDir, 0o755); err != nil {
		return fail("mkdir", err)
	}

	tmp, err := os.CreateTemp(orderDir, ".upload-*")
	if err != nil {
		return fail("create", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		return fail("close", err)
	}

	seq, err := nextSequence(orderDir)
	if err != nil {
		return fail("list", err)
	}
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		name := objectName(segment, fmt.Sprintf("%06d", seq+attempt), out, contentType)
		// Link fails instead of replacing an existing file.
		err := os.Link(tmpName, filepath.Join(orderDir, name))
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return fail("link", err)
		}

		ref := path.Join(segment, name)
		s.logger.Info("image stored", "order_id", orderID, "ref", ref, "bytes", len(out))
		return model.StoredImage{
			Ref:         ref,
			URL:         s.URL(ref),
			ContentType: contentType,
			Size:        len(out),
		}, nil
	}
	return fail("name", fmt.Errorf("no free name after %d attempts", maxSaveAttempts))
}

// nextSequence - one past the number of images already stored for the order
func nextSequence(orderDir string) (int, error) {
	entries, err := os.ReadDir(orderDir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			n++
		}
	}
	return n + 1, nil
}

// URL - public address of a stored image
func (s *LocalStore) URL(ref string) string {
	return s.baseURL + "/images/" + ref
}

// Open - bytes of a stored image
func (s *LocalStore) Open(ref string) ([]byte, error) {
	p, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, model.ErrNotFound
	}
	return data, err
}

// resolve maps a ref onto a file inside the store, rejecting traversal.
func (s *LocalStore) resolve(ref string) (string, error) {
	clean := path.Clean("/" + strings.TrimPrefix(ref, "/"))
	parts := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || strings.HasPrefix(parts[1], ".") || clean != "/"+strings.TrimPrefix(ref, "/") {
		return "", fmt.Errorf("invalid image ref %q", ref)
	}
	return filepath.Join(s.dir, parts[0], parts[1]), nil
}
