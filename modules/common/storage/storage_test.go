package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"bouquet-visualizer/modules/common/clock"
	"bouquet-visualizer/modules/common/config"
	"bouquet-visualizer/modules/common/model"
	"bouquet-visualizer/modules/common/utils"
)

func samplePNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 3))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestLocalSaveAndOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "visualizations")
	store := NewLocalStore(LocalOptions{Dir: dir, PublicBaseURL: "https://shop.example/"})
	data := samplePNG(t)

	img, err := store.Save(context.Background(), "o1", data)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(img.Ref, "o1/o1-000001-") || !strings.HasSuffix(img.Ref, ".png") {
		t.Errorf("ref = %q", img.Ref)
	}
	if img.URL != "https://shop.example/images/"+img.Ref {
		t.Errorf("url = %q", img.URL)
	}
	if img.ContentType != utils.ContentTypePNG || img.Size != len(data) {
		t.Errorf("image = %+v", img)
	}

	got, err := store.Open(img.Ref)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("stored bytes differ")
	}
}

func TestLocalSaveNeverOverwrites(t *testing.T) {
	store := NewLocalStore(LocalOptions{Dir: t.TempDir()})
	data := samplePNG(t)

	const n = 20
	refs := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			img, err := store.Save(context.Background(), "o1", data)
			if err != nil {
				t.Errorf("Save: %v", err)
				return
			}
			refs <- img.Ref
		}()
	}
	wg.Wait()
	close(refs)

	seen := map[string]bool{}
	for ref := range refs {
		if seen[ref] {
			t.Errorf("duplicate ref %q", ref)
		}
		seen[ref] = true
	}
	if len(seen) != n {
		t.Errorf("got %d distinct refs, want %d", len(seen), n)
	}
}

func TestLocalSaveIdempotentDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "o1"), 0o755); err != nil {
		t.Fatal(err)
	}
	store := NewLocalStore(LocalOptions{Dir: dir})
	if _, err := store.Save(context.Background(), "o1", samplePNG(t)); err != nil {
		t.Fatalf("Save into existing dir: %v", err)
	}
}

func TestLocalSaveFailureIsStorageError(t *testing.T) {
	// a regular file where the images directory should be
	blocker := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewLocalStore(LocalOptions{Dir: blocker})

	_, err := store.Save(context.Background(), "o1", samplePNG(t))
	var serr *model.StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if serr.OrderID != "o1" {
		t.Errorf("order id = %q", serr.OrderID)
	}

	if _, err := store.Save(context.Background(), "o1", nil); !errors.As(err, &serr) {
		t.Errorf("empty data: expected StorageError, got %v", err)
	}
}

func TestLocalSaveWebP(t *testing.T) {
	store := NewLocalStore(LocalOptions{Dir: t.TempDir(), Encoding: Encoding{Format: config.FormatWebP, Quality: 80}})
	img, err := store.Save(context.Background(), "o1", samplePNG(t))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if img.ContentType != utils.ContentTypeWebP || !strings.HasSuffix(img.Ref, ".webp") {
		t.Errorf("image = %+v", img)
	}
}

func TestLocalOpenRejectsTraversal(t *testing.T) {
	store := NewLocalStore(LocalOptions{Dir: t.TempDir()})
	for _, ref := range []string{"../etc/passwd", "o1/../../x", "o1", "o1/.upload-1", "a/b/c"} {
		if _, err := store.Open(ref); err == nil || errors.Is(err, model.ErrNotFound) {
			t.Errorf("Open(%q) = %v, want rejection", ref, err)
		}
	}
	if _, err := store.Open("o1/missing.png"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing file: %v", err)
	}
}

func TestSanitizeOrderID(t *testing.T) {
	tests := map[string]string{
		"ORD-2025-ab12cd34": "ORD-2025-ab12cd34",
		"../../etc":         ".._.._etc",
		"a b/c":             "a_b_c",
		"":                  "_",
		"..":                "_..",
	}
	for in, want := range tests {
		if got := SanitizeOrderID(in); got != want {
			t.Errorf("SanitizeOrderID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSupabaseSave(t *testing.T) {
	var gotPath, gotAuth, gotUpsert, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotUpsert = r.Header.Get("x-upsert")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"Key":"ok"}`))
	}))
	defer srv.Close()

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	store, err := NewSupabaseStore(SupabaseOptions{
		URL:        srv.URL,
		ServiceKey: "service-key",
		Bucket:     "bouquets",
		Clock:      clock.NewFixed(now),
	})
	if err != nil {
		t.Fatalf("NewSupabaseStore: %v", err)
	}

	data := samplePNG(t)
	img, err := store.Save(context.Background(), "o1", data)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	if !strings.HasPrefix(gotPath, "/storage/v1/object/bouquets/orders/o1/o1-") {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer service-key" || gotUpsert != "false" || gotType != "image/png" {
		t.Errorf("headers auth=%q upsert=%q type=%q", gotAuth, gotUpsert, gotType)
	}
	if !bytes.Equal(gotBody, data) {
		t.Error("uploaded body differs")
	}
	wantPrefix := srv.URL + "/storage/v1/object/public/bouquets/orders/o1/"
	if !strings.HasPrefix(img.Ref, wantPrefix) || img.URL != img.Ref {
		t.Errorf("image = %+v", img)
	}
}

func TestSupabaseSaveFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Duplicate"}`, http.StatusConflict)
	}))
	defer srv.Close()

	store, err := NewSupabaseStore(SupabaseOptions{URL: srv.URL, ServiceKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.Save(context.Background(), "o1", samplePNG(t))
	var serr *model.StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if serr.Op != "upload" {
		t.Errorf("op = %q", serr.Op)
	}
}

func TestNewSupabaseStoreRequiresCredentials(t *testing.T) {
	if _, err := NewSupabaseStore(SupabaseOptions{URL: "https://x.supabase.co"}); err == nil {
		t.Error("expected error without service key")
	}
}
