package walker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldvault/vaultengine/internal/filter"
	"github.com/coldvault/vaultengine/internal/metacache"
	"github.com/coldvault/vaultengine/internal/objclient"
	"github.com/coldvault/vaultengine/internal/vconfig"
)

// fakeObjectServer is a minimal in-memory content-addressed object store
// backing the HEAD/GET/POST contract objclient.Client drives, so the
// walker's own output can be read back and decoded in assertions.
type fakeObjectServer struct {
	mu        sync.Mutex
	objects   map[string][]byte
	history   []string
	headCount int
	postCount int
}

func newFakeObjectServer() *fakeObjectServer {
	return &fakeObjectServer{objects: map[string][]byte{}}
}

func (s *fakeObjectServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/object/", func(w http.ResponseWriter, r *http.Request) {
		hex := r.URL.Path[len("/object/"):]

		s.mu.Lock()
		defer s.mu.Unlock()

		switch r.Method {
		case http.MethodHead:
			s.headCount++

			if _, ok := s.objects[hex]; ok {
				w.WriteHeader(http.StatusNoContent)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodPost:
			s.postCount++

			body, _ := io.ReadAll(r.Body)
			s.objects[hex] = body
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			if b, ok := s.objects[hex]; ok {
				w.Write(b) //nolint:errcheck
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		}
	})

	mux.HandleFunc("/devices/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.history = append(s.history, r.URL.Path)
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})

	return mux
}

func newTestWalker(t *testing.T, srvURL, root string) (*Walker, *metacache.Store) {
	t.Helper()

	cache, err := metacache.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() }) //nolint:errcheck

	client, err := objclient.New(objclient.Options{BaseURL: srvURL})
	require.NoError(t, err)

	filt := filter.New(vconfig.Filter{})

	return New(root, cache, client, filt, 3), cache
}

func TestWalkEmptyDirectoryProducesEmptyRootObject(t *testing.T) {
	srv := httptest.NewServer(newFakeObjectServer().handler())
	defer srv.Close()

	root := t.TempDir()

	w, _ := newTestWalker(t, srv.URL, root)

	res, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.RootHash, 1)
	assert.Equal(t, int64(0), res.FilesWalked)
}

func TestWalkSingleSmallFile(t *testing.T) {
	fake := newFakeObjectServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello, world"), 0o644))

	w, _ := newTestWalker(t, srv.URL, root)

	res, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.FilesWalked)
	assert.True(t, res.BytesUploaded >= int64(len("hello, world")))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.NotEmpty(t, fake.objects)
}

func TestWalkNestedDirectories(t *testing.T) {
	srv := httptest.NewServer(newFakeObjectServer().handler())
	defer srv.Close()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "leaf.txt"), []byte("leaf"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("top"), 0o644))

	w, _ := newTestWalker(t, srv.URL, root)

	res, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.FilesWalked)
	assert.NotZero(t, res.TreeSize)
}

func TestWalkUnchangedRerunUploadsNothingNew(t *testing.T) {
	fake := newFakeObjectServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("content"), 0o644))

	cache, err := metacache.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer cache.Close() //nolint:errcheck

	client, err := objclient.New(objclient.Options{BaseURL: srv.URL})
	require.NoError(t, err)

	filt := filter.New(vconfig.Filter{})

	first := New(root, cache, client, filt, 2)
	res1, err := first.Run(context.Background())
	require.NoError(t, err)

	objectCountAfterFirst := len(fake.objects)

	second := New(root, cache, client, filt, 2)
	res2, err := second.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, cmp.Equal(res1.RootHash, res2.RootHash), "unchanged tree must hash identically across runs")
	assert.Equal(t, objectCountAfterFirst, len(fake.objects), "second run should not upload any new object")
}

func TestWalkUnchangedRerunSkipsDirectoryObjectRoundTrip(t *testing.T) {
	fake := newFakeObjectServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "leaf.txt"), []byte("leaf"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("top"), 0o644))

	cache, err := metacache.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer cache.Close() //nolint:errcheck

	client, err := objclient.New(objclient.Options{BaseURL: srv.URL})
	require.NoError(t, err)

	filt := filter.New(vconfig.Filter{})

	first := New(root, cache, client, filt, 2)
	_, err = first.Run(context.Background())
	require.NoError(t, err)

	fake.mu.Lock()
	fake.headCount = 0
	fake.postCount = 0
	fake.mu.Unlock()

	second := New(root, cache, client, filt, 2)
	res2, err := second.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), res2.FilesWalked, "cache shortcut should resolve sub/ without re-uploading its file")

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 0, fake.headCount, "unchanged directory objects must issue zero HEAD requests")
	assert.Equal(t, 0, fake.postCount, "unchanged directory objects must issue zero POST requests")
}

func TestWalkCancellationStopsRun(t *testing.T) {
	srv := httptest.NewServer(newFakeObjectServer().handler())
	defer srv.Close()

	root := t.TempDir()

	dir := root
	for i := 0; i < 40; i++ {
		dir = filepath.Join(dir, "d")
		require.NoError(t, os.Mkdir(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("data"), 0o644))
	}

	w, _ := newTestWalker(t, srv.URL, root)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Millisecond)
	defer cancel()

	done := make(chan struct{})

	go func() {
		_, _ = w.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("walker did not honor context cancellation within 5s")
	}
}
