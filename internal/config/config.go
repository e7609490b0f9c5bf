package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr       string
	LogLevel       string
	RequestTimeout time.Duration
	TurnTimeout    time.Duration

	CompletionProvider string
	OpenAI             OpenAIConfig
	Gemini             GeminiConfig

	Conversation ConversationConfig
	Session      SessionConfig
	Persona      PersonaConfig
	Speech       SpeechConfig
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// ConversationConfig выбор и параметры хранилища диалогов.
type ConversationConfig struct {
	Backend         string
	FilePath        string
	SQLitePath      string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
}

type SessionConfig struct {
	StoreType    string
	StorePath    string
	TTL          time.Duration
	CookieName   string
	CookieSecure bool
}

type PersonaConfig struct {
	Template       string
	DefaultExhibit string
}

type SpeechConfig struct {
	Enabled bool
	APIKey  string
	BaseURL string
	VoiceID string
}

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	BackendMemory  = "memory"
	BackendFile    = "file"
	BackendSQLite  = "sqlite"
	BackendMongo   = "mongo"
	BackendSession = "session"
)

func Load() (Config, error) {
	var cfg Config

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":4000")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	reqTimeout, err := parseDuration(getEnv("HTTP_CLIENT_TIMEOUT", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse HTTP_CLIENT_TIMEOUT: %w", err)
	}
	cfg.RequestTimeout = reqTimeout

	turnTimeout, err := parseDuration(getEnv("TURN_TIMEOUT", "60s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse TURN_TIMEOUT: %w", err)
	}
	cfg.TurnTimeout = turnTimeout

	cfg.CompletionProvider = strings.ToLower(getEnv("COMPLETION_PROVIDER", ProviderOpenAI))
	switch cfg.CompletionProvider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return Config{}, fmt.Errorf("unknown COMPLETION_PROVIDER %q", cfg.CompletionProvider)
	}

	cfg.OpenAI = OpenAIConfig{
		APIKey:  getEnv("OPENAI_API_KEY", ""),
		BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		Model:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
	}
	cfg.Gemini = GeminiConfig{
		APIKey:  getEnv("GEMINI_API_KEY", ""),
		BaseURL: getEnv("GEMINI_BASE_URL", ""),
		Model:   getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
	}

	cfg.Conversation = ConversationConfig{
		Backend:         strings.ToLower(getEnv("CONVERSATION_BACKEND", BackendMemory)),
		FilePath:        getEnv("CONVERSATION_FILE_PATH", "data/conversations.json"),
		SQLitePath:      getEnv("SQLITE_PATH", "data/conversations.db"),
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:   getEnv("MONGO_DATABASE", "museumguide"),
		MongoCollection: getEnv("MONGO_COLLECTION", "conversations"),
	}
	switch cfg.Conversation.Backend {
	case BackendMemory, BackendFile, BackendSQLite, BackendMongo, BackendSession:
	default:
		return Config{}, fmt.Errorf("unknown CONVERSATION_BACKEND %q", cfg.Conversation.Backend)
	}

	sessionTTL, err := parseDuration(getEnv("SESSION_TTL", "2h"))
	if err != nil {
		return Config{}, fmt.Errorf("parse SESSION_TTL: %w", err)
	}
	cookieSecure, err := parseBoolDefault(getEnv("SESSION_COOKIE_SECURE", ""), true)
	if err != nil {
		return Config{}, fmt.Errorf("parse SESSION_COOKIE_SECURE: %w", err)
	}
	cfg.Session = SessionConfig{
		StoreType:    strings.ToLower(getEnv("SESSION_STORE", "memory")),
		StorePath:    getEnv("SESSION_STORE_PATH", "data/sessions.json"),
		TTL:          sessionTTL,
		CookieName:   getEnv("SESSION_COOKIE_NAME", "guide_sid"),
		CookieSecure: cookieSecure,
	}

	cfg.Persona = PersonaConfig{
		Template:       getEnv("PERSONA_TEMPLATE", ""),
		DefaultExhibit: getEnv("DEFAULT_EXHIBIT", "Newton"),
	}

	speechEnabled, err := parseBoolDefault(getEnv("SPEECH_ENABLED", ""), false)
	if err != nil {
		return Config{}, fmt.Errorf("parse SPEECH_ENABLED: %w", err)
	}
	cfg.Speech = SpeechConfig{
		Enabled: speechEnabled,
		APIKey:  getEnv("ELEVENLABS_API_KEY", ""),
		BaseURL: getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		VoiceID: getEnv("ELEVENLABS_VOICE_ID", "CwhRBWXzGAHq8TQ4Fs17"),
	}
	if cfg.Speech.Enabled && cfg.Speech.APIKey == "" {
		return Config{}, fmt.Errorf("SPEECH_ENABLED requires ELEVENLABS_API_KEY")
	}

	return cfg, nil
}

// Model модель выбранного провайдера.
func (c Config) Model() string {
	if c.CompletionProvider == ProviderGemini {
		return c.Gemini.Model
	}
	return c.OpenAI.Model
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("duration is empty")
	}
	return time.ParseDuration(value)
}

func getEnv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

// parseBoolDefault parses optional boolean with default value.
func parseBoolDefault(value string, def bool) (bool, error) {
	if value == "" {
		return def, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, err
	}
	return parsed, nil
}
