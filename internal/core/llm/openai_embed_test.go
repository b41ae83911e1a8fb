package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIEmbedder(t *testing.T) {
	t.Run("Should call the embeddings endpoint and order by index", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/embeddings", r.URL.Path)
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, string(DefaultOpenAIModel), body["model"])
			assert.Equal(t, []any{"first", "second"}, body["input"])

			writeJSON(w, http.StatusOK, map[string]any{
				"object": "list",
				"model":  string(DefaultOpenAIModel),
				"data": []map[string]any{
					{"object": "embedding", "index": 1, "embedding": []float32{0, 2}},
					{"object": "embedding", "index": 0, "embedding": []float32{1, 0}},
				},
			})
		}))
		defer srv.Close()

		emb, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
		require.NoError(t, err)

		vecs, err := emb.Embed(context.Background(), []string{"first", "second"})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{1, 0}, {0, 2}}, vecs)
	})

	t.Run("Should fail on a short response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]any{}})
		}))
		defer srv.Close()

		emb, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
		require.NoError(t, err)

		_, err = emb.Embed(context.Background(), []string{"first"})
		assert.Error(t, err)
	})

	t.Run("Should require an API key", func(t *testing.T) {
		_, err := NewOpenAIEmbedder(OpenAIConfig{})
		assert.Error(t, err)
	})
}
