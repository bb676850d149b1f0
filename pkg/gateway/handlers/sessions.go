package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/studyloop/viva/pkg/core"
	"github.com/studyloop/viva/pkg/exam"
	"github.com/studyloop/viva/pkg/gateway/config"
	"github.com/studyloop/viva/pkg/topics"
)

const maxAdminBodyBytes = 64 * 1024

// TopicResolver resolves a learning-path step into an examination topic.
type TopicResolver interface {
	Topic(ctx context.Context, stepID string) (topics.Topic, error)
}

// SessionsHandler serves the administrative session endpoints.
type SessionsHandler struct {
	Config  config.Config
	Manager *exam.Manager
	Topics  TopicResolver
	Logger  *slog.Logger
}

type startRequest struct {
	SessionID string `json:"session_id"`
	StudentID string `json:"student_id"`
	Topic     string `json:"topic"`
	StepID    string `json:"step_id"`
	Language  string `json:"language"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Topic     string `json:"topic"`
	Language  string `json:"language"`
}

// Start registers a session ahead of the websocket connection so admins can
// pre-provision exams. Starting an existing id returns its current state.
func (h SessionsHandler) Start(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBodyBytes)

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, r, core.NewInvalidRequestError("invalid request body"))
		return
	}

	studentID := strings.TrimSpace(req.StudentID)
	if studentID == "" {
		writeErrorJSON(w, r, core.NewInvalidRequestErrorWithParam("student_id is required", "student_id"))
		return
	}

	language := strings.ToLower(strings.TrimSpace(req.Language))
	if language == "" {
		language = config.DefaultLanguage
	}
	if !h.Config.LanguageSupported(language) {
		writeErrorJSON(w, r, core.NewInvalidRequestErrorWithParam("unsupported language: "+language, "language"))
		return
	}

	topic := strings.TrimSpace(req.Topic)
	if topic == "" && strings.TrimSpace(req.StepID) != "" && h.Topics != nil {
		resolved, err := h.Topics.Topic(r.Context(), strings.TrimSpace(req.StepID))
		if err != nil {
			writeErrorJSON(w, r, err)
			return
		}
		topic = resolved.Topic
	}
	if topic == "" {
		topic = defaultTopic
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = "viva_" + uuid.NewString()
	}

	entry, created := h.Manager.Registry().Create(sessionID, studentID, topic, language)
	sess := entry.Session()
	if created && h.Logger != nil {
		h.Logger.Info("session registered",
			"session_id", sess.SessionID, "student_id", studentID,
			"topic", sess.Topic, "language", sess.Language)
	}

	writeJSON(w, http.StatusOK, startResponse{
		SessionID: sess.SessionID,
		Status:    string(sess.Status()),
		Topic:     sess.Topic,
		Language:  sess.Language,
	})
}

// End finishes a session and returns its evaluation. Repeating the call
// returns the stored result.
func (h SessionsHandler) End(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("id"))
	if sessionID == "" {
		writeErrorJSON(w, r, core.NewInvalidRequestErrorWithParam("session id is required", "id"))
		return
	}

	timeout := h.Config.EvaluationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	result, err := h.Manager.End(ctx, sessionID)
	if err != nil {
		writeErrorJSON(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type statusResponse struct {
	SessionID    string     `json:"session_id"`
	Status       string     `json:"status"`
	MessageCount int        `json:"message_count"`
	Topic        string     `json:"topic"`
	Language     string     `json:"language"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Score        *int       `json:"score,omitempty"`
	Feedback     string     `json:"feedback,omitempty"`
}

// Get reports a session's current state, live or completed.
func (h SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("id"))
	snap, ok := h.Manager.StatusSnapshot(sessionID)
	if !ok {
		writeErrorJSON(w, r, core.NewNotFoundError("session not found: "+sessionID))
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		SessionID:    snap.SessionID,
		Status:       string(snap.Status),
		MessageCount: len(snap.Turns),
		Topic:        snap.Topic,
		Language:     snap.Language,
		StartedAt:    snap.StartedAt,
		EndedAt:      snap.EndedAt,
		Score:        snap.Score,
		Feedback:     snap.Feedback,
	})
}

type textRequest struct {
	Text string `json:"text"`
}

type textResponse struct {
	SessionID     string `json:"session_id"`
	AgentResponse string `json:"agent_response"`
}

// Text runs one text-only exchange on a session with no live bridge. It is
// the HTTP twin of the websocket fallback path.
func (h SessionsHandler) Text(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("id"))

	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBodyBytes)
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, r, core.NewInvalidRequestError("invalid request body"))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeErrorJSON(w, r, core.NewInvalidRequestErrorWithParam("text is required", "text"))
		return
	}

	if entry, ok := h.Manager.Registry().Get(sessionID); ok && entry.Bridge() != nil {
		writeErrorJSON(w, r, core.NewInvalidRequestErrorWithParam("session has a live audio connection", "id"))
		return
	}

	reply, err := h.Manager.FallbackReply(r.Context(), sessionID, req.Text)
	if err != nil {
		writeErrorJSON(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, textResponse{SessionID: sessionID, AgentResponse: reply})
}
