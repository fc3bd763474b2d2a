package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/cue/internal/constants"
	"gopkg.in/yaml.v3"
)

//go:embed relations.yaml
var relationsYAML []byte

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Qdrant      QdrantConfig
	Embedding   EmbeddingConfig
	Recognition RecognitionConfig
	LLM         LLMConfig
	OpenAI      OpenAIConfig
	Gemini      GeminiConfig
	Ollama      OllamaConfig
	LlamaCpp    LlamaCppConfig
	Speech      SpeechConfig
	Session     SessionConfig
	Relations   RelationsConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	CaregiverToken string // bearer token for /caregiver routes; empty disables the check
	ThumbnailDir   string // directory for 200px face thumbnails
	AllowedOrigins []string // extra CORS origins; loopback origins are always allowed
}

type DatabaseConfig struct {
	Backend       string // "postgres" or "local"
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist face HNSW index (optional, if empty index is rebuilt on startup)
	DataDir       string // badger + chromem directory for the local backend (empty = in-memory)
}

type QdrantConfig struct {
	Host       string // empty disables qdrant
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

type EmbeddingConfig struct {
	URL string // face embedding server, defaults to http://localhost:5000
	Dim int    // defaults to 512
}

type RecognitionConfig struct {
	Threshold   float64 // minimum cosine similarity for a match
	SearchLimit int     // candidates fetched per frame
	// RequireAgreement only accepts a confirmed match when every frame agrees.
	RequireAgreement bool
}

// LLMConfig selects the text provider: openai, gemini, ollama or llamacpp.
type LLMConfig struct {
	Provider string
}

type OpenAIConfig struct {
	Token string
}

type GeminiConfig struct {
	APIKey string
}

type OllamaConfig struct {
	URL   string // defaults to http://localhost:11434
	Model string // defaults to llama3.2:3b
}

type LlamaCppConfig struct {
	URL   string // defaults to http://localhost:8080
	Model string
}

type SpeechConfig struct {
	Voice string // TTS voice, defaults to "alloy"
}

// SessionConfig holds the client-side presence and capture timing.
type SessionConfig struct {
	ServerURL        string
	ListenAddr       string
	Language         string
	StableFrames     int
	CaptureCount     int
	CaptureInterval  time.Duration
	LostFrames       int
	Smoothing        float64
	CueDelay         time.Duration
	ResolveTimeout   time.Duration
	RecordingEnabled bool
	CueEnabled       bool
}

type RelationsConfig struct {
	Languages map[string]LanguageInfo     `yaml:"languages"`
	Relations map[string]map[string]string `yaml:"relations"`
}

type LanguageInfo struct {
	Name   string `yaml:"name"`
	Native string `yaml:"native"`
	Locale string `yaml:"locale"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a positive float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envMillis reads a duration given in milliseconds.
func envMillis(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Millisecond
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for v := range strings.SplitSeq(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var relations RelationsConfig
	if err := yaml.Unmarshal(relationsYAML, &relations); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded relations.yaml: " + err.Error())
	}

	return &Config{
		Server: ServerConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8000),
			CaregiverToken: os.Getenv("CAREGIVER_TOKEN"),
			ThumbnailDir:   envString("THUMBNAIL_DIR", "data/faces"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Backend:       envString("DATABASE_BACKEND", "postgres"),
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
			DataDir:       os.Getenv("DATA_DIR"),
		},
		Qdrant: QdrantConfig{
			Host:       os.Getenv("QDRANT_HOST"),
			Port:       envInt("QDRANT_PORT", 6334),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     envBool("QDRANT_TLS", false),
			Collection: envString("QDRANT_COLLECTION", "faces"),
		},
		Embedding: EmbeddingConfig{
			URL: envString("EMBEDDING_URL", "http://localhost:5000"),
			Dim: envInt("EMBEDDING_DIM", constants.FaceEmbeddingDim),
		},
		Recognition: RecognitionConfig{
			Threshold:        envFloat("FACE_SIMILARITY_THRESHOLD", constants.DefaultSimilarityThreshold),
			SearchLimit:      envInt("FACE_SEARCH_LIMIT", constants.DefaultSearchLimit),
			RequireAgreement: envBool("FACE_REQUIRE_AGREEMENT", false),
		},
		LLM: LLMConfig{
			Provider: envString("LLM_PROVIDER", "openai"),
		},
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
		},
		Ollama: OllamaConfig{
			URL:   os.Getenv("OLLAMA_URL"),
			Model: os.Getenv("OLLAMA_MODEL"),
		},
		LlamaCpp: LlamaCppConfig{
			URL:   os.Getenv("LLAMACPP_URL"),
			Model: os.Getenv("LLAMACPP_MODEL"),
		},
		Speech: SpeechConfig{
			Voice: envString("TTS_VOICE", "alloy"),
		},
		Session: SessionConfig{
			ServerURL:        envString("CUE_SERVER_URL", "http://localhost:8000"),
			ListenAddr:       envString("CUE_LISTEN_ADDR", "127.0.0.1:8090"),
			Language:         envString("CUE_LANGUAGE", "en"),
			StableFrames:     envInt("FACE_STABLE_FRAMES", constants.FaceStableFrames),
			CaptureCount:     envInt("CAPTURE_FRAME_COUNT", constants.CaptureFrameCount),
			CaptureInterval:  envMillis("CAPTURE_INTERVAL_MS", constants.CaptureInterval),
			LostFrames:       envInt("FACE_LOST_FRAMES", constants.FaceLostFrames),
			Smoothing:        envFloat("POSITION_SMOOTHING", constants.PositionSmoothing),
			CueDelay:         envMillis("CUE_DELAY_MS", constants.CueDelay),
			ResolveTimeout:   envMillis("RESOLVE_TIMEOUT_MS", constants.ResolveTimeout),
			RecordingEnabled: envBool("PASSIVE_RECORDING", true),
			CueEnabled:       envBool("AUDIO_CUES", true),
		},
		Relations: relations,
	}
}

// TranslateRelation returns the relation in the given language. Unknown
// relations are returned unchanged; unknown languages fall back to English.
func (r *RelationsConfig) TranslateRelation(relation, lang string) string {
	key := strings.ToLower(strings.TrimSpace(relation))
	translations, ok := r.Relations[key]
	if !ok {
		return relation
	}
	if t, ok := translations[lang]; ok {
		return t
	}
	if t, ok := translations["en"]; ok {
		return t
	}
	return relation
}

// IsSupportedLanguage reports whether lang has an entry in the dictionary.
func (r *RelationsConfig) IsSupportedLanguage(lang string) bool {
	_, ok := r.Languages[lang]
	return ok
}
