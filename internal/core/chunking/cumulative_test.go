package chunking

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Contexta/internal/core"
	"github.com/markdave123-py/Contexta/internal/core/coretest"
)

func cumCfg(mode UpdateMode) CumulativeConfig {
	return CumulativeConfig{SimilarityThreshold: 0.5, EncodeBatchSize: 16, Update: mode}
}

func TestCumulativeChunker(t *testing.T) {
	ctx := context.Background()
	text := "Cats purr. The cat naps. Rocket launch soon. The rocket flies."

	for _, mode := range []UpdateMode{UpdateReembed, UpdateMean} {
		t.Run("Should flush on a topic change with "+string(mode)+" updates", func(t *testing.T) {
			c, err := NewCumulativeChunker(cumCfg(mode), topicEmbedder(), nil, nil)
			require.NoError(t, err)

			chunks, err := c.Chunk(ctx, "doc", text)
			require.NoError(t, err)
			require.Len(t, chunks, 2)
			assert.Equal(t, "Cats purr. The cat naps. ", chunks[0].Text)
			assert.Equal(t, "Rocket launch soon. The rocket flies.", chunks[1].Text)
			assertReconstructs(t, text, chunks)
		})
	}

	t.Run("Should re-embed the buffer after every append by default", func(t *testing.T) {
		emb := topicEmbedder()
		c, err := NewCumulativeChunker(cumCfg(""), emb, nil, nil)
		require.NoError(t, err)

		_, err = c.Chunk(ctx, "doc", text)
		require.NoError(t, err)
		// one sentence encoding call plus one per appended sentence
		assert.Equal(t, 3, emb.Calls())
	})

	t.Run("Should make no extra calls with mean updates", func(t *testing.T) {
		emb := topicEmbedder()
		c, err := NewCumulativeChunker(cumCfg(UpdateMean), emb, nil, nil)
		require.NoError(t, err)

		_, err = c.Chunk(ctx, "doc", text)
		require.NoError(t, err)
		assert.Equal(t, 1, emb.Calls())
	})

	t.Run("Should never shrink the chunk when more similar sentences are appended", func(t *testing.T) {
		c, err := NewCumulativeChunker(cumCfg(UpdateReembed), topicEmbedder(), nil, nil)
		require.NoError(t, err)

		prev := 0
		for k := 1; k <= 6; k++ {
			doc := strings.Repeat("The cat purrs. ", k) + "Rocket launch soon."
			chunks, err := c.Chunk(ctx, "doc", doc)
			require.NoError(t, err)
			require.Len(t, chunks, 2)

			got := strings.Count(chunks[0].Text, "The cat purrs.")
			assert.GreaterOrEqual(t, got, prev)
			assert.Equal(t, k, got)
			prev = got
		}
	})

	t.Run("Should flush before exceeding the maximum chunk length", func(t *testing.T) {
		cfg := cumCfg(UpdateMean)
		cfg.MaxChunkLength = 30
		c, err := NewCumulativeChunker(cfg, topicEmbedder(), nil, nil)
		require.NoError(t, err)

		doc := strings.Repeat("The cat purrs. ", 6)
		chunks, err := c.Chunk(ctx, "doc", doc)
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		for _, ch := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 30)
		}
		assertReconstructs(t, doc, chunks)
	})

	t.Run("Should surface a failed re-embedding", func(t *testing.T) {
		emb := &coretest.FailingEmbedder{Inner: topicEmbedder(), FailOn: "Cats purr. The cat naps."}
		c, err := NewCumulativeChunker(cumCfg(UpdateReembed), emb, nil, nil)
		require.NoError(t, err)

		_, err = c.Chunk(ctx, "doc", text)
		var embErr *core.EmbeddingError
		require.True(t, errors.As(err, &embErr))
		assert.Equal(t, -1, embErr.Batch)
	})

	t.Run("Should refuse empty text", func(t *testing.T) {
		c, err := NewCumulativeChunker(cumCfg(""), topicEmbedder(), nil, nil)
		require.NoError(t, err)
		_, err = c.Chunk(ctx, "doc", "")
		assert.ErrorIs(t, err, ErrEmptyText)
	})
}

func TestCumulativeConfigValidate(t *testing.T) {
	var cfgErr *core.ConfigError
	assert.True(t, errors.As(CumulativeConfig{SimilarityThreshold: 2, EncodeBatchSize: 1}.Validate(), &cfgErr))
	assert.True(t, errors.As(CumulativeConfig{SimilarityThreshold: -0.5, EncodeBatchSize: 1}.Validate(), &cfgErr))
	assert.NoError(t, CumulativeConfig{SimilarityThreshold: 0, EncodeBatchSize: 1}.Validate())
	assert.True(t, errors.As(CumulativeConfig{EncodeBatchSize: 1, Update: "median"}.Validate(), &cfgErr))
	assert.True(t, errors.As(CumulativeConfig{SimilarityThreshold: 0.5}.Validate(), &cfgErr))
	assert.NoError(t, CumulativeConfig{SimilarityThreshold: 0.5, EncodeBatchSize: 1}.Validate())
}
