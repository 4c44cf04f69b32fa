package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func newTestClient(t *testing.T, handler http.HandlerFunc, token string) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(HTTPConfig{URL: srv.URL, Token: token, Timeout: 2 * time.Second}, nil)
}

func TestHTTPClient_Success(t *testing.T) {
	var got inferenceRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "image/*", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngHeader)
	}, "secret")

	img, err := client.Generate(context.Background(), Request{Prompt: "a red fox", NegativePrompt: "blurry", Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, pngHeader, img.Data)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, "a red fox", got.Inputs)
	require.NotNil(t, got.Parameters)
	assert.Equal(t, "blurry", got.Parameters.NegativePrompt)
	assert.EqualValues(t, 7, got.Parameters.Seed)
}

func TestHTTPClient_MissingToken(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls++ }, "")

	_, err := client.Generate(context.Background(), Request{Prompt: "x"})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.False(t, IsRetryable(err))
	assert.Zero(t, calls, "no network call without a token")
}

func TestHTTPClient_ProviderErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantStatus  int
		wantDetail  string
	}{
		{
			name:        "json error body",
			status:      http.StatusServiceUnavailable,
			contentType: "application/json",
			body:        `{"error": "Model is loading", "estimated_time": 20}`,
			wantStatus:  http.StatusServiceUnavailable,
			wantDetail:  `{"error":"Model is loading","estimated_time":20}`,
		},
		{
			name:        "text error body",
			status:      http.StatusBadRequest,
			contentType: "text/plain",
			body:        "bad prompt",
			wantStatus:  http.StatusBadRequest,
			wantDetail:  "bad prompt",
		},
		{
			name:        "ok but not an image",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"warning":"queued"}`,
			wantStatus:  http.StatusOK,
			wantDetail:  `{"warning":"queued"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, "secret")

			_, err := client.Generate(context.Background(), Request{Prompt: "x"})
			var provErr *ProviderError
			require.ErrorAs(t, err, &provErr)
			assert.Equal(t, tt.wantStatus, provErr.Status)
			assert.Equal(t, tt.wantDetail, provErr.Detail)
			assert.True(t, IsRetryable(err))
		})
	}
}

func TestHTTPClient_DetailTruncated(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("e", 2000)))
	}, "secret")

	_, err := client.Generate(context.Background(), Request{Prompt: "x"})
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Len(t, provErr.Detail, MaxDetailLength)
}

func TestHTTPClient_OversizedImage(t *testing.T) {
	body := append(append([]byte{}, pngHeader...), make([]byte, 64)...)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}, "secret")

	client.maxBytes = int64(len(body))
	img, err := client.Generate(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, body, img.Data)

	client.maxBytes = int64(len(body)) - 1
	_, err = client.Generate(context.Background(), Request{Prompt: "x"})
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusOK, provErr.Status)
	assert.Equal(t, fmt.Sprintf("image exceeds %d bytes", len(body)-1), provErr.Detail)
	assert.True(t, IsRetryable(err))
}

func TestHTTPClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	client := NewHTTPClient(HTTPConfig{URL: srv.URL, Token: "secret", Timeout: 50 * time.Millisecond}, nil)

	_, err := client.Generate(context.Background(), Request{Prompt: "x"})
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout)
	assert.True(t, IsRetryable(err))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "жё", Truncate("жёлтый", 2))
	assert.Equal(t, "abc", Truncate("abc", 0))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(&ConfigurationError{Provider: "p", Reason: "r"}))
	assert.True(t, IsRetryable(&ProviderError{Provider: "p", Status: 500}))
	assert.True(t, IsRetryable(&NetworkError{Provider: "p", Err: errors.New("reset")}))
	assert.True(t, IsRetryable(errors.New("unknown")))
}

func TestNew_SelectsProvider(t *testing.T) {
	c, err := New(context.Background(), Options{Provider: "openai"}, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, c.Name())

	c, err = New(context.Background(), Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderHuggingFace, c.Name())

	c, err = New(context.Background(), Options{Provider: "gemini"}, nil)
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), Request{Prompt: "x"})
	assert.True(t, IsConfiguration(err))

	_, err = New(context.Background(), Options{Provider: "midjourney"}, nil)
	assert.Error(t, err)
}
