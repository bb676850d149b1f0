package config

import (
	"strings"
	"testing"
	"time"
)

func setBaseline(t *testing.T) {
	t.Helper()
	t.Setenv("VIVA_JWT_SECRET", "secret")
	t.Setenv("VIVA_GEMINI_API_KEY", "key")
	t.Setenv("VIVA_API_KEYS", "admin-key")
}

func TestLoadFromEnvDefaults(t *testing.T) {
	setBaseline(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr=%q, want :8080", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeRequired {
		t.Fatalf("AuthMode=%q, want required", cfg.AuthMode)
	}
	if cfg.LiveModel == "" || cfg.TextModel == "" {
		t.Fatalf("model defaults missing: live=%q text=%q", cfg.LiveModel, cfg.TextModel)
	}
	if cfg.LiveMaxAudioFrameBytes != 32*1024 {
		t.Fatalf("LiveMaxAudioFrameBytes=%d, want 32768", cfg.LiveMaxAudioFrameBytes)
	}
	if cfg.EvaluationTimeout != 30*time.Second {
		t.Fatalf("EvaluationTimeout=%v, want 30s", cfg.EvaluationTimeout)
	}
	for _, lang := range []string{"english", "hindi", "spanish", "french"} {
		if !cfg.LanguageSupported(lang) {
			t.Fatalf("default languages missing %q", lang)
		}
	}
}

func TestLoadFromEnvRequiresSecrets(t *testing.T) {
	cases := []struct {
		name  string
		unset string
		want  string
	}{
		{"jwt secret", "VIVA_JWT_SECRET", "VIVA_JWT_SECRET"},
		{"gemini key", "VIVA_GEMINI_API_KEY", "VIVA_GEMINI_API_KEY"},
		{"api keys", "VIVA_API_KEYS", "VIVA_API_KEYS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setBaseline(t)
			t.Setenv(tc.unset, "")

			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("LoadFromEnv accepted missing %s", tc.unset)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestLoadFromEnvAPIKeysOptionalWhenAuthDisabled(t *testing.T) {
	setBaseline(t)
	t.Setenv("VIVA_API_KEYS", "")
	t.Setenv("VIVA_AUTH_MODE", "disabled")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}
	if cfg.AuthMode != AuthModeDisabled {
		t.Fatalf("AuthMode=%q, want disabled", cfg.AuthMode)
	}
}

func TestLoadFromEnvParsesCSVLists(t *testing.T) {
	setBaseline(t)
	t.Setenv("VIVA_API_KEYS", "k1, k2 ,,k3")
	t.Setenv("VIVA_JWT_REVOKED", "jti_1,jti_2")
	t.Setenv("VIVA_CORS_ORIGINS", "https://app.example.com")
	t.Setenv("VIVA_LANGUAGES", "English, Hindi")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}
	if len(cfg.APIKeys) != 3 {
		t.Fatalf("len(APIKeys)=%d, want 3", len(cfg.APIKeys))
	}
	if _, ok := cfg.RevokedTokenIDs["jti_2"]; !ok {
		t.Fatalf("revoked ids missing jti_2: %v", cfg.RevokedTokenIDs)
	}
	if _, ok := cfg.CORSAllowedOrigins["https://app.example.com"]; !ok {
		t.Fatalf("cors origins not parsed: %v", cfg.CORSAllowedOrigins)
	}
	if !cfg.LanguageSupported("HINDI") || !cfg.LanguageSupported("english") {
		t.Fatalf("languages not lowercased: %v", cfg.Languages)
	}
	if cfg.LanguageSupported("spanish") {
		t.Fatalf("spanish supported despite explicit VIVA_LANGUAGES")
	}
}

func TestLoadFromEnvRejectsLanguagesWithoutEnglish(t *testing.T) {
	setBaseline(t)
	t.Setenv("VIVA_LANGUAGES", "hindi,french")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("LoadFromEnv accepted language set without english")
	}
}

func TestLoadFromEnvRejectsInvalidAuthMode(t *testing.T) {
	setBaseline(t)
	t.Setenv("VIVA_AUTH_MODE", "sometimes")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("LoadFromEnv accepted invalid auth mode")
	}
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	setBaseline(t)
	t.Setenv("VIVA_LIVE_MAX_AUDIO_FRAME_BYTES", "not-a-number")
	t.Setenv("VIVA_EVALUATION_TIMEOUT", "soon")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}
	if cfg.LiveMaxAudioFrameBytes != 32*1024 {
		t.Fatalf("LiveMaxAudioFrameBytes=%d, want default", cfg.LiveMaxAudioFrameBytes)
	}
	if cfg.EvaluationTimeout != 30*time.Second {
		t.Fatalf("EvaluationTimeout=%v, want default", cfg.EvaluationTimeout)
	}
}
