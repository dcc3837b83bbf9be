package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyload/skyload-api/internal/config"
)

func newTestClient(endpoint string) *Client {
	return NewClient(config.LLMConfig{
		Endpoint:       endpoint,
		RequestTimeout: 5 * time.Second,
	}, zerolog.Nop())
}

func TestGenerateSendsPromptAndBudget(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/predict", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(generateResponse{Response: "  print(1)\n"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	out, err := c.Generate(context.Background(), "write a script", "you are an expert", 3000)

	require.NoError(t, err)
	assert.Equal(t, "print(1)", out)
	assert.Equal(t, 3000, got.MaxTokens)
	assert.Contains(t, got.Prompt, "you are an expert")
	assert.Contains(t, got.Prompt, "write a script")
}

func TestGenerateSurfacesServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(generateResponse{Error: "model overloaded"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Generate(context.Background(), "prompt", "", 100)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestGenerateHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Generate(context.Background(), "prompt", "", 100)

	assert.Error(t, err)
}

func TestGenerateWithoutEndpoint(t *testing.T) {
	c := newTestClient("")

	_, err := c.Generate(context.Background(), "prompt", "", 100)

	assert.Error(t, err)
}
