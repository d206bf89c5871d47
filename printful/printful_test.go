package printful

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngImage(t *testing.T, w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func fakePrintful(t *testing.T, mockups *int32) *httptest.Server {
	mock := pngImage(t, 1000, 800)
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/store/products", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"code":200,"result":[{"id":7}]}`)
	})
	mux.HandleFunc("/store/products/7", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"code":200,"result":{
			"sync_product":{"id":7,"external_id":"ext-7","name":"Tee","thumbnail_url":"%[1]s/thumb.png"},
			"sync_variants":[{"id":70,"name":"Tee / M","sku":"TEE-M","retail_price":"19.99",
				"files":[{"type":"default","preview_url":"%[1]s/print.png"},{"type":"preview","preview_url":"%[1]s/mockup.png"}]}]}}`, srv.URL)
	})
	mux.HandleFunc("/mockup.png", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(mockups, 1)
		w.Write(mock)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Products(t *testing.T) {
	var n int32
	srv := fakePrintful(t, &n)
	client := NewClient(srv.URL, 100, nil)

	products, err := client.Products(context.Background(), "secret")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "ext-7", products[0].ExternalID)
	require.Len(t, products[0].Variants, 1)
	assert.Equal(t, int64(1999), products[0].Variants[0].Price)
	assert.Equal(t, srv.URL+"/mockup.png", products[0].Variants[0].Mockup)
}

func TestClient_RateLimited(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 100, nil, WithRetry(2, time.Millisecond)).Products(context.Background(), "secret")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestClient_RetriesAfterRateLimit(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"code":200,"result":[]}`)
	}))
	defer srv.Close()

	products, err := NewClient(srv.URL, 100, nil, WithRetry(2, time.Millisecond)).Products(context.Background(), "secret")
	require.NoError(t, err)
	assert.Empty(t, products)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestClient_DownloadMissingMockup(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	dir := t.TempDir()

	products := []Product{{ID: 1, Variants: []Variant{{ID: 10, Mockup: srv.URL + "/gone.png"}}}}
	_, err := NewClient(srv.URL, 100, nil).DownloadMockups(context.Background(), dir, products, false)
	assert.ErrorContains(t, err, "status 404")
	entries, _ := os.ReadDir(filepath.Join(dir, "mockups"))
	assert.Empty(t, entries)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"code":401,"result":"","error":{"message":"bad key"}}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 100, nil).Products(context.Background(), "secret")
	assert.ErrorContains(t, err, "bad key")
}

func TestWriteProducts(t *testing.T) {
	dir := t.TempDir()
	products := []Product{{ID: 1, Name: "Tee"}}

	changed, err := WriteProducts(dir, products)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = WriteProducts(dir, products)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = os.Stat(filepath.Join(dir, ProductsFile))
	assert.NoError(t, err)
}

func TestDownloadAndResize(t *testing.T) {
	var n int32
	srv := fakePrintful(t, &n)
	client := NewClient(srv.URL, 100, nil)
	dir := t.TempDir()

	products, err := client.Products(context.Background(), "secret")
	require.NoError(t, err)
	paths, err := client.DownloadMockups(context.Background(), dir, products, true)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&n))

	// smart fetch skips existing files
	_, err = client.DownloadMockups(context.Background(), dir, products, true)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&n))

	require.NoError(t, ResizeMockups(paths, 540))
	f, err := os.Open(ResizedPath(paths[0], 540))
	require.NoError(t, err)
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 540, cfg.Width)
	assert.Equal(t, 432, cfg.Height)
}
