package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func newGeminiTestClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewGeminiClient(context.Background(), GeminiConfig{APIKey: "k", BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	return client
}

func writePredictions(w http.ResponseWriter, predictions ...map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"predictions": predictions})
}

func TestGeminiClient_Generate(t *testing.T) {
	client := newGeminiTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, defaultImagenModel+":predict"), r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, fmt.Sprint(body["instances"]), "a fox")
		writePredictions(w, map[string]any{
			"bytesBase64Encoded": base64.StdEncoding.EncodeToString(pngHeader),
			"mimeType":           "image/png",
		})
	})

	img, err := client.Generate(context.Background(), Request{Prompt: "a fox"})
	require.NoError(t, err)
	assert.Equal(t, pngHeader, img.Data)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, defaultImagenModel, img.Model)
}

func TestGeminiClient_FilteredImage(t *testing.T) {
	tests := []struct {
		name       string
		prediction []map[string]any
		wantDetail string
	}{
		{
			name:       "rai reason",
			prediction: []map[string]any{{"raiFilteredReason": "blocked by safety filter"}},
			wantDetail: "blocked by safety filter",
		},
		{
			name:       "no reason",
			prediction: []map[string]any{{"mimeType": "image/png"}},
			wantDetail: "image was filtered",
		},
		{
			name:       "no predictions",
			wantDetail: "response contained no images",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newGeminiTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writePredictions(w, tt.prediction...)
			})

			_, err := client.Generate(context.Background(), Request{Prompt: "a fox"})
			var provErr *ProviderError
			require.ErrorAs(t, err, &provErr)
			assert.Equal(t, http.StatusOK, provErr.Status)
			assert.Equal(t, tt.wantDetail, provErr.Detail)
			assert.False(t, IsConfiguration(err))
		})
	}
}

func TestGeminiClient_APIError(t *testing.T) {
	client := newGeminiTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"bad prompt","status":"INVALID_ARGUMENT"}}`))
	})

	_, err := client.Generate(context.Background(), Request{Prompt: "a fox"})
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusBadRequest, provErr.Status)
	assert.Equal(t, "bad prompt", provErr.Detail)
}

func TestGeminiClient_Classify(t *testing.T) {
	c := &GeminiClient{}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{
			name:       "value",
			err:        fmt.Errorf("generate: %w", genai.APIError{Code: 429, Message: "quota exceeded"}),
			wantStatus: 429,
			wantDetail: "quota exceeded",
		},
		{
			name:       "pointer",
			err:        &genai.APIError{Code: 503, Message: "overloaded"},
			wantStatus: 503,
			wantDetail: "overloaded",
		},
		{
			name:       "long message",
			err:        genai.APIError{Code: 500, Message: strings.Repeat("x", MaxDetailLength+50)},
			wantStatus: 500,
			wantDetail: strings.Repeat("x", MaxDetailLength),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var provErr *ProviderError
			require.ErrorAs(t, c.classify(tt.err), &provErr)
			assert.Equal(t, ProviderGemini, provErr.Provider)
			assert.Equal(t, tt.wantStatus, provErr.Status)
			assert.Equal(t, tt.wantDetail, provErr.Detail)
		})
	}

	t.Run("transport", func(t *testing.T) {
		err := c.classify(errors.New("connection reset"))
		var netErr *NetworkError
		require.ErrorAs(t, err, &netErr)
		assert.Equal(t, ProviderGemini, netErr.Provider)
		assert.True(t, IsRetryable(err))
	})
}

func TestGeminiClient_MissingKey(t *testing.T) {
	client, err := NewGeminiClient(context.Background(), GeminiConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, client.Name())

	_, err = client.Generate(context.Background(), Request{Prompt: "a fox"})
	assert.True(t, IsConfiguration(err))
}
