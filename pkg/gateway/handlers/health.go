package handlers

import (
	"net/http"

	"github.com/studyloop/viva/pkg/gateway/config"
	"github.com/studyloop/viva/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		AuthMode string   `json:"auth_mode"`
		Draining bool     `json:"draining"`
		Issues   []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.JWTSecret == "" {
		issues = append(issues, "jwt secret not configured")
	}
	if h.Config.GeminiAPIKey == "" {
		issues = append(issues, "gemini api key not configured")
	}
	if h.Config.LiveMaxAudioFrameBytes <= 0 {
		issues = append(issues, "live max audio frame bytes must be > 0")
	}
	if h.Config.EvaluationTimeout <= 0 {
		issues = append(issues, "evaluation timeout must be > 0")
	}

	draining := h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "gateway is draining")
	}

	resp := readyResp{
		OK:       len(issues) == 0,
		AuthMode: string(h.Config.AuthMode),
		Draining: draining,
		Issues:   issues,
	}
	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
