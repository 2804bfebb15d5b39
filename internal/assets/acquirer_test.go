package assets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	collyfetcher "github.com/JakeFAU/catalog-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-harvester/internal/storage/local"
)

type catalogServer struct {
	*httptest.Server
	hits atomic.Int64
}

func newCatalogServer(t *testing.T) *catalogServer {
	t.Helper()
	cs := &catalogServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>home</html>"))
	})
	mux.HandleFunc("/shots/239.jpg", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff, 0xe0, 0x01, 0x02})
	})
	mux.HandleFunc("/shots/slow.jpg", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write([]byte("slow cover"))
	})
	mux.HandleFunc("/shots/gone.jpg", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/txt.php", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") == "7" {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Текст книги " + r.URL.Query().Get("id")))
	})
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			cs.hits.Add(1)
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func newTestAcquirer(t *testing.T, srv *catalogServer) (*Acquirer, string) {
	t.Helper()
	root := t.TempDir()
	store, err := local.New(local.Config{BaseDir: root})
	require.NoError(t, err)
	acq, err := New(Config{BaseURL: srv.URL}, collyfetcher.New(collyfetcher.Config{}, nil), store, nil)
	require.NoError(t, err)
	return acq, root
}

func TestNewValidates(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	fetcher := collyfetcher.New(collyfetcher.Config{}, nil)

	_, err = New(Config{BaseURL: "https://catalog.test/"}, nil, store, nil)
	assert.ErrorContains(t, err, "fetcher")
	_, err = New(Config{BaseURL: "https://catalog.test/"}, fetcher, nil, nil)
	assert.ErrorContains(t, err, "store")
	_, err = New(Config{}, fetcher, store, nil)
	assert.ErrorContains(t, err, "base url")
}

func TestAcquireBinaryIsIdempotent(t *testing.T) {
	srv := newCatalogServer(t)
	acq, root := newTestAcquirer(t, srv)
	ctx := context.Background()
	imagesDir := filepath.Join(root, "images")

	first, err := acq.AcquireBinary(ctx, srv.URL+"/shots/239.jpg", imagesDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(imagesDir, "239.jpg"), first)
	assert.EqualValues(t, 1, srv.hits.Load())
	// #nosec G304 -- test reads from the controlled temp directory.
	firstBytes, err := os.ReadFile(first)
	require.NoError(t, err)

	second, err := acq.AcquireBinary(ctx, srv.URL+"/shots/239.jpg", imagesDir)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, srv.hits.Load(), "second call must not touch the network")
	// #nosec G304 -- test reads from the controlled temp directory.
	secondBytes, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, firstBytes, secondBytes)
}

func TestAcquireDocumentIsIdempotent(t *testing.T) {
	srv := newCatalogServer(t)
	acq, root := newTestAcquirer(t, srv)
	ctx := context.Background()
	booksDir := filepath.Join(root, "books")

	first, err := acq.AcquireDocument(ctx, "3", booksDir, "Дюна")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(booksDir, "3. Дюна.txt"), first)
	// #nosec G304 -- test reads from the controlled temp directory.
	content, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "Текст книги 3", string(content))

	second, err := acq.AcquireDocument(ctx, "3", booksDir, "Дюна")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, srv.hits.Load())
}

func TestAcquireDocumentRedirectIsNotFound(t *testing.T) {
	srv := newCatalogServer(t)
	acq, root := newTestAcquirer(t, srv)
	booksDir := filepath.Join(root, "books")

	_, err := acq.AcquireDocument(context.Background(), "7", booksDir, "Пропавшая")
	var notFound *crawler.ItemNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "7", notFound.ItemID)

	entries, readErr := os.ReadDir(booksDir)
	if readErr == nil {
		assert.Empty(t, entries)
	} else {
		assert.True(t, os.IsNotExist(readErr))
	}
}

func TestAcquireBinaryNetworkError(t *testing.T) {
	srv := newCatalogServer(t)
	acq, root := newTestAcquirer(t, srv)
	imagesDir := filepath.Join(root, "images")

	_, err := acq.AcquireBinary(context.Background(), srv.URL+"/shots/gone.jpg", imagesDir)
	var netErr *crawler.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusNotFound, netErr.StatusCode)
	assert.NoFileExists(t, filepath.Join(imagesDir, "gone.jpg"))
}

func TestAcquireConcurrentCallsShareOneFetch(t *testing.T) {
	srv := newCatalogServer(t)
	acq, root := newTestAcquirer(t, srv)
	imagesDir := filepath.Join(root, "images")

	const callers = 8
	paths := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = acq.AcquireBinary(context.Background(), srv.URL+"/shots/slow.jpg", imagesDir)
		}(i)
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, filepath.Join(imagesDir, "slow.jpg"), paths[i])
	}
	assert.EqualValues(t, 1, srv.hits.Load())
}

func TestAcquireOutsideStoreIsStorageError(t *testing.T) {
	srv := newCatalogServer(t)
	acq, _ := newTestAcquirer(t, srv)

	_, err := acq.AcquireBinary(context.Background(), srv.URL+"/shots/239.jpg", t.TempDir())
	var storageErr *crawler.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, crawler.SkipNone, crawler.Classify(err))
	assert.EqualValues(t, 0, srv.hits.Load())
}
