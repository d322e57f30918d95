package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ContextPolicyUnbounded = "unbounded"
	ContextPolicyWindow    = "window"
	ContextPolicyTokens    = "tokens"
)

type Config struct {
	ServerPort string
	Chat       ChatConfig
	Lookup     LookupConfig
	Context    ContextConfig
	Session    SessionConfig
	Logging    LoggingConfig
}

// ChatConfig points at an OpenAI compatible chat completion endpoint.
type ChatConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	// APIKey is an optional default credential for sessions that do not supply one.
	APIKey string
}

type LookupConfig struct {
	BaseURL string
	Timeout time.Duration
}

type ContextConfig struct {
	Policy    string
	MaxTurns  int
	MaxTokens int
}

type SessionConfig struct {
	Secret         string
	TTL            time.Duration
	UploadMaxBytes int64
}

type LoggingConfig struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
	Output       string
}

func LoadConfig() (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	cfg := &Config{
		ServerPort: envOrDefault("PORT", "8080"),
		Chat: ChatConfig{
			BaseURL: strings.TrimRight(envOrDefault("CHAT_API_BASE", "https://api.groq.com/openai/v1"), "/"),
			Model:   envOrDefault("CHAT_MODEL", "llama3-70b-8192"),
			Timeout: parseDuration(envOrDefault("CHAT_TIMEOUT", "60s"), time.Minute),
			APIKey:  strings.TrimSpace(os.Getenv("CHAT_API_KEY")),
		},
		Lookup: LookupConfig{
			BaseURL: strings.TrimRight(envOrDefault("LOOKUP_API_BASE", "https://api.duckduckgo.com"), "/"),
			Timeout: parseDuration(envOrDefault("LOOKUP_TIMEOUT", "10s"), 10*time.Second),
		},
		Context: ContextConfig{
			Policy:    strings.ToLower(envOrDefault("CONTEXT_POLICY", ContextPolicyUnbounded)),
			MaxTurns:  parseInt(envOrDefault("CONTEXT_MAX_TURNS", "20"), 20),
			MaxTokens: parseInt(envOrDefault("CONTEXT_MAX_TOKENS", "6000"), 6000),
		},
		Session: SessionConfig{
			Secret:         envOrDefault("SESSION_SECRET", "dev-secret"),
			TTL:            parseDuration(envOrDefault("SESSION_TTL", "2h"), 2*time.Hour),
			UploadMaxBytes: int64(parseInt(envOrDefault("UPLOAD_MAX_BYTES", "33554432"), 32<<20)),
		},
		Logging: LoggingConfig{
			Level:        strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
			Encoding:     strings.ToLower(envOrDefault("LOG_ENCODING", "console")),
			Development:  parseBool(envOrDefault("LOG_DEVELOPMENT", "false"), false),
			EnableCaller: parseBool(envOrDefault("LOG_CALLER", "false"), false),
			ServiceName:  envOrDefault("SERVICE_NAME", "docchat"),
			Output:       envOrDefault("LOG_OUTPUT", "stdout"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the values that cannot be defaulted silently.
func (c *Config) Validate() error {
	if c.ServerPort == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.Chat.BaseURL == "" {
		return errors.New("CHAT_API_BASE cannot be empty")
	}
	if c.Chat.Model == "" {
		return errors.New("CHAT_MODEL cannot be empty")
	}

	switch c.Context.Policy {
	case ContextPolicyUnbounded:
	case ContextPolicyWindow:
		if c.Context.MaxTurns <= 0 {
			return errors.New("CONTEXT_MAX_TURNS must be > 0")
		}
	case ContextPolicyTokens:
		if c.Context.MaxTokens <= 0 {
			return errors.New("CONTEXT_MAX_TOKENS must be > 0")
		}
	default:
		return fmt.Errorf("unknown CONTEXT_POLICY %q", c.Context.Policy)
	}

	if strings.TrimSpace(c.Session.Secret) == "" {
		return errors.New("SESSION_SECRET cannot be empty")
	}
	if c.Session.UploadMaxBytes <= 0 {
		return errors.New("UPLOAD_MAX_BYTES must be > 0")
	}

	return nil
}

func loadEnvFiles() error {
	if err := godotenv.Load(); err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			// ignore a missing .env so that environment variables can be supplied externally
			return nil
		}

		return err
	}

	return nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseInt(value string, fallback int) int {
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return i
}

func parseBool(value string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}
