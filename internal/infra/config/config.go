package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// TechniqueConfig tunes one query-analysis generation call.
type TechniqueConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type Config struct {
	Env  string
	Port string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	OllamaURL      string
	OllamaTimeout  int
	EmbeddingModel string

	OpenAIAPIKey  string
	OpenAIBaseURL string

	RerankerURL     string
	RerankerModel   string
	RerankerTimeout int

	Reformulate TechniqueConfig
	Rewrite     TechniqueConfig
	Hyde        TechniqueConfig
	Decompose   TechniqueConfig

	RetrievalTopK        int
	SearchLimit          int
	SufficiencyThreshold float64
	MaxIterations        int
	MinContexts          int

	RerankScoreThreshold float64
	RerankFallbackTopN   int

	SummaryBoost  float64
	QuestionBoost float64

	CacheSimilarity float64
	CacheTTLSeconds int

	RateLimitRPS   float64
	RateLimitBurst int

	OTelEnabled  bool
	OTelEndpoint string
	ServiceName  string
}

func Load() *Config {
	return &Config{
		Env:  getEnv("ENV", "development"),
		Port: getEnv("PORT", "9020"),

		DBHost:     getEnv("DB_HOST", "retrieval-db"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "retrieval_user"),
		DBPassword: getSecret("DB_PASSWORD", "DB_PASSWORD_FILE", "retrieval_password"),
		DBName:     getEnv("DB_NAME", "retrieval_db"),

		OllamaURL:      getEnv("OLLAMA_URL", "http://ollama:11434"),
		OllamaTimeout:  getEnvInt("OLLAMA_TIMEOUT_SECONDS", 60),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "embeddinggemma"),

		OpenAIAPIKey:  getSecret("OPENAI_API_KEY", "OPENAI_API_KEY_FILE", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		RerankerURL:     getEnv("RERANKER_URL", "http://reranker:8002"),
		RerankerModel:   getEnv("RERANKER_MODEL", "bge-reranker-v2-m3"),
		RerankerTimeout: getEnvInt("RERANKER_TIMEOUT_SECONDS", 30),

		Reformulate: loadTechnique("QUERY_REFORMULATE", 0.7, 256, 20),
		Rewrite:     loadTechnique("QUERY_REWRITE", 0.3, 128, 15),
		Hyde:        loadTechnique("QUERY_HYDE", 0.7, 384, 25),
		Decompose:   loadTechnique("QUERY_DECOMPOSE", 0.2, 256, 20),

		RetrievalTopK:        getEnvInt("RETRIEVAL_TOP_K", 5),
		SearchLimit:          getEnvInt("SEARCH_LIMIT", 20),
		SufficiencyThreshold: getEnvFloat("SUFFICIENCY_THRESHOLD", 0.6),
		MaxIterations:        getEnvInt("MAX_ITERATIONS", 2),
		MinContexts:          getEnvInt("MIN_CONTEXTS", 3),

		RerankScoreThreshold: getEnvFloat("RERANK_SCORE_THRESHOLD", 0.3),
		RerankFallbackTopN:   getEnvInt("RERANK_FALLBACK_TOP_N", 3),

		SummaryBoost:  getEnvFloat("SUMMARY_BOOST", 1.05),
		QuestionBoost: getEnvFloat("QUESTION_BOOST", 1.10),

		CacheSimilarity: getEnvFloat("CACHE_SIMILARITY", 0.95),
		CacheTTLSeconds: getEnvInt("CACHE_TTL", 3600),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 20),

		OTelEnabled:  getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://otel-collector:4318"),
		ServiceName:  getEnv("SERVICE_NAME", "retrieval-service"),
	}
}

func loadTechnique(prefix string, temperature float64, maxTokens, timeoutSeconds int) TechniqueConfig {
	return TechniqueConfig{
		Model:       getEnv(prefix+"_MODEL", "gemma3:4b"),
		Temperature: getEnvFloat(prefix+"_TEMPERATURE", temperature),
		MaxTokens:   getEnvInt(prefix+"_MAX_TOKENS", maxTokens),
		Timeout:     time.Duration(getEnvInt(prefix+"_TIMEOUT_SECONDS", timeoutSeconds)) * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getSecret(envKey, fileEnvKey, fallback string) string {
	if value, ok := os.LookupEnv(envKey); ok {
		return value
	}
	if filePath, ok := os.LookupEnv(fileEnvKey); ok {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// DSN renders the Postgres connection string.
func (c *Config) DSN() string {
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort + "/" + c.DBName + "?sslmode=disable"
}
