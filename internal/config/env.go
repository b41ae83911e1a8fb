package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/markdave123-py/Contexta/internal/core/chunking"
	"github.com/markdave123-py/Contexta/internal/core/ingestion_engine"
)

// Embedder backends selectable with EMBED_BACKEND.
const (
	BackendGemini    = "gemini"
	BackendOpenAI    = "openai"
	BackendInference = "inference"
)

type Config struct {
	DatabaseURL  string
	SslCertPath  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	S3Endpoint   string

	EmbedBackend        string
	AIAPIKey            string
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	EmbedModel          string
	EmbedDim            int
	InferenceURL        string
	InferenceToken      string
	InferenceTimeout    time.Duration
	InferenceMaxContext int

	Port        string
	LogLevel    string
	ServiceName string

	// SourceRoot confines local file sources named over HTTP; empty allows
	// object storage sources only.
	SourceRoot   string
	APIJWTSecret string

	ChunkSize            int
	ChunkOverlap         float64
	ChunkUnit            string
	TokenEncoding        string
	Chunker              string
	BatchSize            int
	BufferSize           int
	LateChunking         bool
	LateChunkingFallback string
	EncodeBatchSize      int
	StatWindow           int
	StatDeviation        float64
	MaxChunkLength       int
	MinChunkLength       int
	CumulativeThreshold  float64
	CumulativeUpdate     string
	EmbedMaxRetries      int
	EmbedRetryBackoff    time.Duration
	MaxConcurrentDocs    int
	SentenceCacheSize    int

	// Warnings lists values that could not be parsed and fell back to defaults.
	Warnings []string
}

// LoadConfig loads .env (when present) and the environment into a Config.
// Pipeline tunables default to ingestion_engine.DefaultIngestConfig.
func LoadConfig() *Config {
	_ = godotenv.Load()

	d := ingestion_engine.DefaultIngestConfig()
	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		SslCertPath:  getEnv("SSL_CERT_PATH", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "contexta-docs"),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),

		EmbedBackend:   getEnv("EMBED_BACKEND", BackendGemini),
		AIAPIKey:       getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		EmbedModel:     getEnv("EMBED_MODEL", ""),
		InferenceURL:   getEnv("INFERENCE_URL", ""),
		InferenceToken: getEnv("INFERENCE_TOKEN", ""),

		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		ServiceName: getEnv("SERVICE_NAME", "contexta"),

		SourceRoot:   getEnv("SOURCE_ROOT", ""),
		APIJWTSecret: getEnv("API_JWT_SECRET", ""),

		ChunkUnit:            getEnv("CHUNK_UNIT", string(d.SizeUnit)),
		TokenEncoding:        getEnv("TOKEN_ENCODING", d.TokenEncoding),
		Chunker:              getEnv("CHUNKER", string(d.Chunker)),
		LateChunkingFallback: getEnv("LATE_CHUNKING_FALLBACK", string(d.LateFallback)),
		CumulativeUpdate:     getEnv("CUMULATIVE_UPDATE", string(d.Cumulative.Update)),
	}

	cfg.EmbedDim = cfg.getEnvInt("EMBED_DIM", 0)
	cfg.InferenceTimeout = cfg.getEnvDuration("INFERENCE_TIMEOUT", 60*time.Second)
	cfg.InferenceMaxContext = cfg.getEnvInt("INFERENCE_MAX_CONTEXT", 0)

	cfg.ChunkSize = cfg.getEnvInt("CHUNK_SIZE", d.ChunkSize)
	cfg.ChunkOverlap = cfg.getEnvFloat("CHUNK_OVERLAP", d.Overlap)
	cfg.BatchSize = cfg.getEnvInt("BATCH_SIZE", d.BatchSize)
	cfg.BufferSize = cfg.getEnvInt("BUFFER_SIZE", d.BufferSize)
	cfg.LateChunking = cfg.getEnvBool("LATE_CHUNKING", d.LateChunking)
	cfg.EncodeBatchSize = cfg.getEnvInt("ENCODE_BATCH_SIZE", d.EncodeBatchSize)
	cfg.StatWindow = cfg.getEnvInt("STAT_WINDOW", d.Statistical.Window)
	cfg.StatDeviation = cfg.getEnvFloat("STAT_DEVIATION", d.Statistical.DeviationMultiplier)
	cfg.MaxChunkLength = cfg.getEnvInt("MAX_CHUNK_LENGTH", d.Statistical.MaxChunkLength)
	cfg.MinChunkLength = cfg.getEnvInt("MIN_CHUNK_LENGTH", d.Statistical.MinChunkLength)
	cfg.CumulativeThreshold = cfg.getEnvFloat("CUMULATIVE_THRESHOLD", d.Cumulative.SimilarityThreshold)
	cfg.EmbedMaxRetries = cfg.getEnvInt("EMBED_MAX_RETRIES", d.MaxRetries)
	cfg.EmbedRetryBackoff = cfg.getEnvDuration("EMBED_RETRY_BACKOFF", d.RetryBackoff)
	cfg.MaxConcurrentDocs = cfg.getEnvInt("MAX_CONCURRENT_DOCS", d.MaxConcurrentDocuments)
	cfg.SentenceCacheSize = cfg.getEnvInt("SENTENCE_CACHE_SIZE", d.SentenceCacheSize)

	return cfg
}

// IngestConfig maps the pipeline tunables onto an ingestion_engine.IngestConfig.
// The result is not validated here; NewPipeline does that.
func (c *Config) IngestConfig() ingestion_engine.IngestConfig {
	ic := ingestion_engine.DefaultIngestConfig()
	ic.ChunkSize = c.ChunkSize
	ic.Overlap = c.ChunkOverlap
	ic.SizeUnit = ingestion_engine.SizeUnit(c.ChunkUnit)
	ic.TokenEncoding = c.TokenEncoding
	ic.Chunker = chunking.Kind(c.Chunker)
	ic.BatchSize = c.BatchSize
	ic.BufferSize = c.BufferSize
	ic.LateChunking = c.LateChunking
	ic.LateFallback = ingestion_engine.LateFallback(c.LateChunkingFallback)
	ic.EncodeBatchSize = c.EncodeBatchSize
	ic.Statistical.Window = c.StatWindow
	ic.Statistical.DeviationMultiplier = c.StatDeviation
	ic.Statistical.MaxChunkLength = c.MaxChunkLength
	ic.Statistical.MinChunkLength = c.MinChunkLength
	ic.Cumulative.SimilarityThreshold = c.CumulativeThreshold
	ic.Cumulative.MaxChunkLength = c.MaxChunkLength
	ic.Cumulative.Update = chunking.UpdateMode(c.CumulativeUpdate)
	ic.MaxRetries = c.EmbedMaxRetries
	ic.RetryBackoff = c.EmbedRetryBackoff
	ic.MaxConcurrentDocuments = c.MaxConcurrentDocs
	ic.SentenceCacheSize = c.SentenceCacheSize
	return ic
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func (c *Config) warn(key, v, kind string, def any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q not %s, using default %v", key, v, kind, def))
}

func (c *Config) getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.warn(key, v, "an int", def)
		return def
	}
	return n
}

func (c *Config) getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		c.warn(key, v, "a float", def)
		return def
	}
	return f
}

func (c *Config) getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		c.warn(key, v, "a bool", def)
		return def
	}
	return b
}

func (c *Config) getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		c.warn(key, v, "a duration", def)
		return def
	}
	return d
}
