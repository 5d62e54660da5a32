package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"retrieval-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaEmbedder_Encode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embeddinggemma", req.Model)
		assert.Equal(t, []string{"hello", "world"}, req.Input)

		json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		})
	}))
	defer server.Close()

	embedder := NewOllamaEmbedder(server.URL, "embeddinggemma", 10*time.Second, nil)

	embeddings, err := embedder.Encode(context.Background(), []string{"hello", "world"})
	require.NoError(t, err)
	require.Len(t, embeddings, 2)
	assert.Equal(t, []float32{0.1, 0.2}, embeddings[0])
	assert.Equal(t, "embeddinggemma", embedder.Version())
}

func TestOllamaEmbedder_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0.1}}})
	}))
	defer server.Close()

	embedder := NewOllamaEmbedder(server.URL, "embeddinggemma", 10*time.Second, nil)

	_, err := embedder.Encode(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestOllamaEmbedder_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	embedder := NewOllamaEmbedder(server.URL, "missing", 10*time.Second, nil)

	_, err := embedder.Encode(context.Background(), []string{"a"})
	assert.Error(t, err)
}

func TestOllamaGenerator_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gemma3:4b", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, 0.7, req.Options["temperature"])
		assert.Equal(t, float64(128), req.Options["num_predict"])

		var resp chatResponse
		resp.Message.Content = "  generated text \n"
		resp.Done = true
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	generator := NewOllamaGenerator(server.URL, 10*time.Second, nil)

	text, err := generator.Generate(context.Background(), "prompt", domain.GenerateOptions{
		Model:       "gemma3:4b",
		Temperature: 0.7,
		MaxTokens:   128,
	})
	require.NoError(t, err)
	assert.Equal(t, "generated text", text)
}

func TestOllamaGenerator_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	generator := NewOllamaGenerator(server.URL, 10*time.Second, nil)

	_, err := generator.Generate(context.Background(), "prompt", domain.GenerateOptions{Model: "m"})
	assert.Error(t, err)
}
