package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

const DefaultLanguage = "english"

type Config struct {
	Addr string

	// Admin REST surface auth.
	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// Student identity tokens presented on the live endpoint.
	JWTSecret       string
	JWTIssuer       string
	RevokedTokenIDs map[string]struct{}

	// Remote model services.
	GeminiAPIKey string
	LiveModel    string
	TextModel    string

	// Optional collaborators.
	DatabaseURL   string
	TopicsBaseURL string
	TopicsAPIKey  string
	PromptsFile   string

	// Languages the examiner persona supports.
	Languages map[string]struct{}

	// CORS (empty => disabled).
	CORSAllowedOrigins map[string]struct{}

	// Live WebSocket mode (/v1/viva).
	LiveMaxAudioFrameBytes  int
	LiveMaxJSONMessageBytes int64
	LiveHandshakeTimeout    time.Duration
	LiveWSPingInterval      time.Duration
	LiveWSWriteTimeout      time.Duration
	LiveWSReadTimeout       time.Duration

	// Budget for the end-of-session evaluation call during teardown.
	EvaluationTimeout time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("VIVA_ADDR", ":8080"),
		AuthMode:                AuthMode(envOr("VIVA_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:                 make(map[string]struct{}),
		JWTSecret:               strings.TrimSpace(os.Getenv("VIVA_JWT_SECRET")),
		JWTIssuer:               envOr("VIVA_JWT_ISSUER", ""),
		RevokedTokenIDs:         make(map[string]struct{}),
		GeminiAPIKey:            strings.TrimSpace(os.Getenv("VIVA_GEMINI_API_KEY")),
		LiveModel:               envOr("VIVA_LIVE_MODEL", "gemini-2.0-flash-live-001"),
		TextModel:               envOr("VIVA_TEXT_MODEL", "gemini-2.0-flash"),
		DatabaseURL:             strings.TrimSpace(os.Getenv("VIVA_DATABASE_URL")),
		TopicsBaseURL:           envOr("VIVA_TOPICS_BASE_URL", ""),
		TopicsAPIKey:            strings.TrimSpace(os.Getenv("VIVA_TOPICS_API_KEY")),
		PromptsFile:             envOr("VIVA_PROMPTS_FILE", ""),
		Languages:               make(map[string]struct{}),
		CORSAllowedOrigins:      make(map[string]struct{}),
		LiveMaxAudioFrameBytes:  envIntOr("VIVA_LIVE_MAX_AUDIO_FRAME_BYTES", 32*1024),
		LiveMaxJSONMessageBytes: envInt64Or("VIVA_LIVE_MAX_JSON_MESSAGE_BYTES", 128*1024),
		LiveHandshakeTimeout:    envDurationOr("VIVA_LIVE_HANDSHAKE_TIMEOUT", 10*time.Second),
		LiveWSPingInterval:      envDurationOr("VIVA_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:      envDurationOr("VIVA_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveWSReadTimeout:       envDurationOr("VIVA_LIVE_WS_READ_TIMEOUT", 0),
		EvaluationTimeout:       envDurationOr("VIVA_EVALUATION_TIMEOUT", 30*time.Second),
		ReadHeaderTimeout:       envDurationOr("VIVA_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:             envDurationOr("VIVA_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:     envDurationOr("VIVA_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("VIVA_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("VIVA_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, jti := range splitCSV(os.Getenv("VIVA_JWT_REVOKED")) {
		cfg.RevokedTokenIDs[jti] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("VIVA_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	languages := splitCSV(os.Getenv("VIVA_LANGUAGES"))
	if len(languages) == 0 {
		languages = []string{"english", "hindi", "spanish", "french"}
	}
	for _, lang := range languages {
		cfg.Languages[strings.ToLower(lang)] = struct{}{}
	}
	if _, ok := cfg.Languages[DefaultLanguage]; !ok {
		return Config{}, fmt.Errorf("VIVA_LANGUAGES must include %q", DefaultLanguage)
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("VIVA_API_KEYS must be set when VIVA_AUTH_MODE=required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("VIVA_JWT_SECRET must be set")
	}
	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("VIVA_GEMINI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.LiveModel) == "" {
		return Config{}, fmt.Errorf("VIVA_LIVE_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.TextModel) == "" {
		return Config{}, fmt.Errorf("VIVA_TEXT_MODEL must not be empty")
	}
	if cfg.LiveMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("VIVA_LIVE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VIVA_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("VIVA_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VIVA_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VIVA_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSReadTimeout < 0 {
		return Config{}, fmt.Errorf("VIVA_LIVE_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.EvaluationTimeout <= 0 {
		return Config{}, fmt.Errorf("VIVA_EVALUATION_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VIVA_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VIVA_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VIVA_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// LanguageSupported reports whether the examiner can run in lang.
func (c Config) LanguageSupported(lang string) bool {
	_, ok := c.Languages[strings.ToLower(strings.TrimSpace(lang))]
	return ok
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
