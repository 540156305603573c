package imagery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const fallback = "https://example.test/fallback.png"

func newProvider(t *testing.T, h http.HandlerFunc, timeout time.Duration) *Unsplash {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewUnsplash("key-123", timeout, fallback, zaptest.NewLogger(t), WithBaseURL(srv.URL))
}

func TestUnsplash_ObjectResponse(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/photos/random", r.URL.Path)
		assert.Equal(t, "puzzle", r.URL.Query().Get("query"))
		assert.Equal(t, "squarish", r.URL.Query().Get("orientation"))
		assert.Equal(t, "Client-ID key-123", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"urls":{"regular":"https://img.test/a.jpg"}}`))
	}, time.Second)

	assert.Equal(t, "https://img.test/a.jpg", p.ThemedImageURL(context.Background(), "puzzle"))
}

func TestUnsplash_ArrayResponse(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"urls":{"regular":"https://img.test/b.jpg"}}]`))
	}, time.Second)

	assert.Equal(t, "https://img.test/b.jpg", p.ThemedImageURL(context.Background(), "puzzle"))
}

func TestUnsplash_FallsBack(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"errors":["OAuth error"]}`, http.StatusUnauthorized)
			},
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>`))
			},
		},
		{
			name: "missing url",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"urls":{}}`))
			},
		},
		{
			name: "empty array",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`[]`))
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newProvider(t, tc.handler, time.Second)
			assert.Equal(t, fallback, p.ThemedImageURL(context.Background(), "puzzle"))
		})
	}
}

func TestUnsplash_TimeoutFallsBack(t *testing.T) {
	release := make(chan struct{})
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)
	defer close(release)

	start := time.Now()
	got := p.ThemedImageURL(context.Background(), "puzzle")
	require.Equal(t, fallback, got)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestUnsplash_UnreachableFallsBack(t *testing.T) {
	p := NewUnsplash("k", time.Second, "", zaptest.NewLogger(t), WithBaseURL("http://127.0.0.1:1"))
	assert.Equal(t, DefaultFallbackURL, p.ThemedImageURL(context.Background(), "puzzle"))
}

func TestStatic(t *testing.T) {
	assert.Equal(t, "u", Static("u").ThemedImageURL(context.Background(), "anything"))
}
