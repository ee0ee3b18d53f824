package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates the settings of every binary in the module.
type Config struct {
	Server   ServerConfig
	Widget   ServerConfig
	Upstream UpstreamConfig
	AI       AIConfig
	Emulator EmulatorConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig("PORT", "8080")
	if err != nil {
		return nil, err
	}

	widget, err := loadServerConfig("WIDGET_PORT", "8090")
	if err != nil {
		return nil, err
	}

	upstream, err := loadUpstreamConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	emulator, err := loadEmulatorConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{Server: server, Widget: widget, Upstream: upstream, AI: ai, Emulator: emulator}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no binary can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Upstream.PrimaryURL == "" {
		errs = append(errs, errors.New("CHAT_PRIMARY_URL is required"))
	} else if err := validateBaseURL("CHAT_PRIMARY_URL", c.Upstream.PrimaryURL); err != nil {
		errs = append(errs, err)
	}
	if c.Upstream.SecondaryURL != "" {
		if err := validateBaseURL("CHAT_SECONDARY_URL", c.Upstream.SecondaryURL); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Upstream.HistoryLimit < 1 {
		errs = append(errs, fmt.Errorf("CHAT_HISTORY_LIMIT must be positive, got %d", c.Upstream.HistoryLimit))
	}
	if c.Upstream.TopK < 1 {
		errs = append(errs, fmt.Errorf("CHAT_TOP_K must be positive, got %d", c.Upstream.TopK))
	}
	if c.Upstream.StreamTimeout < 0 || c.Upstream.FeedbackTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.Emulator.TokenDelay < 0 {
		errs = append(errs, errors.New("EMULATOR_TOKEN_DELAY must not be negative"))
	}
	if c.Emulator.RateLimit <= 0 || c.Emulator.RateBurst < 1 {
		errs = append(errs, errors.New("EMULATOR_RATE_LIMIT and EMULATOR_RATE_BURST must be positive"))
	}
	return errors.Join(errs...)
}

// ServerConfig describes a listening HTTP server.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

func loadServerConfig(key, defaultPort string) (ServerConfig, error) {
	port := getEnvOrDefault(key, defaultPort)
	origins := parseListEnv("CORS_ALLOWED_ORIGINS", []string{"*"})

	if strings.Contains(port, ":") {
		// ":8080" and "127.0.0.1:8080" are accepted as-is.
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid %s value: %q", key, port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// UpstreamConfig describes the chat service the widget talks to.
type UpstreamConfig struct {
	PrimaryURL      string
	SecondaryURL    string
	ChatPath        string
	FeedbackPath    string
	APIVersion      string
	TopK            int
	HistoryLimit    int
	StreamTimeout   time.Duration
	FeedbackTimeout time.Duration
}

func loadUpstreamConfig() (UpstreamConfig, error) {
	topK, err := parseIntEnv("CHAT_TOP_K", 6)
	if err != nil {
		return UpstreamConfig{}, err
	}

	history, err := parseIntEnv("CHAT_HISTORY_LIMIT", 8)
	if err != nil {
		return UpstreamConfig{}, err
	}

	streamTimeout, err := parseDurationEnv("CHAT_STREAM_TIMEOUT", 90*time.Second)
	if err != nil {
		return UpstreamConfig{}, err
	}

	feedbackTimeout, err := parseDurationEnv("CHAT_FEEDBACK_TIMEOUT", 10*time.Second)
	if err != nil {
		return UpstreamConfig{}, err
	}

	return UpstreamConfig{
		PrimaryURL:      getEnvOrDefault("CHAT_PRIMARY_URL", "http://localhost:8080"),
		SecondaryURL:    strings.TrimSpace(os.Getenv("CHAT_SECONDARY_URL")),
		ChatPath:        getEnvOrDefault("CHAT_PATH", "/api/chat"),
		FeedbackPath:    getEnvOrDefault("CHAT_FEEDBACK_PATH", "/api/chat/feedback"),
		APIVersion:      getEnvOrDefault("CHAT_API_VERSION", "v1"),
		TopK:            topK,
		HistoryLimit:    history,
		StreamTimeout:   streamTimeout,
		FeedbackTimeout: feedbackTimeout,
	}, nil
}

// AIConfig describes the Ark model backing the emulator.
type AIConfig struct {
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
}

// Enabled reports whether the required credentials were provided.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel creates a model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, errors.New("ark credentials or model missing: provide ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
	}, nil
}

// EmulatorConfig tunes the local chat API emulator.
type EmulatorConfig struct {
	TokenDelay     time.Duration
	RateLimit      float64
	RateBurst      int
	FeedbackDBPath string
}

func loadEmulatorConfig() (EmulatorConfig, error) {
	delay, err := parseDurationEnv("EMULATOR_TOKEN_DELAY", 30*time.Millisecond)
	if err != nil {
		return EmulatorConfig{}, err
	}

	limit := 1.0
	if override, err := parseOptionalFloatEnv("EMULATOR_RATE_LIMIT"); err != nil {
		return EmulatorConfig{}, err
	} else if override != nil {
		limit = *override
	}

	burst, err := parseIntEnv("EMULATOR_RATE_BURST", 5)
	if err != nil {
		return EmulatorConfig{}, err
	}

	return EmulatorConfig{
		TokenDelay:     delay,
		RateLimit:      limit,
		RateBurst:      burst,
		FeedbackDBPath: getEnvOrDefault("FEEDBACK_DB_PATH", "feedback.db"),
	}, nil
}

func validateBaseURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid %s value %q: absolute URL required", key, raw)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseListEnv(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
