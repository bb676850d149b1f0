package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/studyloop/viva/pkg/bridge"
	"github.com/studyloop/viva/pkg/core"
	"github.com/studyloop/viva/pkg/exam"
	"github.com/studyloop/viva/pkg/gateway/auth"
	"github.com/studyloop/viva/pkg/gateway/config"
	"github.com/studyloop/viva/pkg/gateway/lifecycle"
	"github.com/studyloop/viva/pkg/gateway/live/protocol"
	"github.com/studyloop/viva/pkg/gateway/live/session"
	"github.com/studyloop/viva/pkg/gateway/mw"
)

const defaultTopic = "General Knowledge"

// LiveHandler handles /v1/viva websocket sessions.
type LiveHandler struct {
	Config    config.Config
	Verifier  *auth.Verifier
	Connector bridge.Connector
	Manager   *exam.Manager
	Persona   exam.PersonaFunc
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		reqID, _ := mw.RequestIDFrom(r.Context())
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed", RequestID: reqID}, http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle.IsDraining() {
		reqID, _ := mw.RequestIDFrom(r.Context())
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrOverloaded, Message: "gateway is draining", Code: "draining", RequestID: reqID}, 529)
		return
	}

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reqID := requestIDFromContext(r)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxJSONMessageBytes)
	}

	query := r.URL.Query()

	// Students connect with their own identity token; rejections close the
	// socket before any session state exists.
	token := strings.TrimSpace(query.Get("token"))
	studentID, err := h.Verifier.Verify(token)
	if err != nil {
		logger.Warn("live connection rejected", "request_id", reqID, "error", err)
		writeWSError(conn, err.Error(), websocket.ClosePolicyViolation)
		return
	}

	language := strings.ToLower(strings.TrimSpace(query.Get("language")))
	if language == "" {
		language = config.DefaultLanguage
	}
	if !h.Config.LanguageSupported(language) {
		writeWSError(conn, "unsupported language: "+language, websocket.ClosePolicyViolation)
		return
	}

	topic := strings.TrimSpace(query.Get("topic"))
	if topic == "" {
		topic = defaultTopic
	}

	sessionID := strings.TrimSpace(query.Get("session_id"))
	if sessionID == "" {
		sessionID = "viva_" + uuid.NewString()
	}

	entry, created := h.Manager.Registry().Create(sessionID, studentID, topic, language)
	sess := entry.Session()
	logger = logger.With("session_id", sess.SessionID, "student_id", studentID)
	if created {
		logger.Info("session registered", "topic", sess.Topic, "language", sess.Language)
	} else {
		logger.Info("session resumed", "topic", sess.Topic, "language", sess.Language)
	}

	// Connect the dialogue bridge with its own deadline; the request context
	// ends with the handshake, not with the session.
	var bridgeConn bridge.Conn
	if h.Connector != nil {
		connectCtx, cancelConnect := context.WithTimeout(context.Background(), h.Config.LiveHandshakeTimeout)
		bridgeConn, err = h.Connector.Connect(connectCtx, bridge.ConnectParams{
			SessionID:    sess.SessionID,
			Topic:        sess.Topic,
			Language:     sess.Language,
			SystemPrompt: h.Persona(sess.Topic, sess.Language),
		})
		cancelConnect()
		if err != nil {
			logger.Warn("bridge connect failed, continuing text-only", "error", err)
			bridgeConn = nil
		} else {
			entry.SetBridge(bridgeConn)
		}
	} else {
		logger.Warn("no bridge connector configured, continuing text-only")
	}

	if err := conn.WriteJSON(protocol.SessionReady(sess.SessionID)); err != nil {
		h.Manager.Registry().Remove(sess.SessionID)
		return
	}
	sess.Begin()

	s := session.New(session.Dependencies{
		WS:      conn,
		Entry:   entry,
		Bridge:  bridgeConn,
		Manager: h.Manager,
		Logger:  logger,
		Config: session.Config{
			MaxAudioFrameBytes: h.Config.LiveMaxAudioFrameBytes,
			PingInterval:       h.Config.LiveWSPingInterval,
			WriteTimeout:       h.Config.LiveWSWriteTimeout,
			ReadTimeout:        h.Config.LiveWSReadTimeout,
			EvaluationTimeout:  h.Config.EvaluationTimeout,
		},
	})
	start := time.Now()
	s.Run()
	logger.Info("live connection closed", "duration", time.Since(start).Round(time.Millisecond).String())
}
