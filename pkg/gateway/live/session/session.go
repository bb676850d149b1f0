// Package session runs one live viva connection: the client receive loop,
// the two relay tasks draining the session's audio and transcript channels,
// and the bridge receive pump. Teardown always ends the session exactly
// once, scoring it even on abnormal disconnect.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/studyloop/viva/pkg/bridge"
	"github.com/studyloop/viva/pkg/exam"
	"github.com/studyloop/viva/pkg/gateway/live/protocol"
)

type Config struct {
	MaxAudioFrameBytes int
	PingInterval       time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	EvaluationTimeout  time.Duration
}

type Dependencies struct {
	WS      wsConn
	Entry   *exam.Entry
	Bridge  bridge.Conn // nil when the session runs on the fallback path
	Manager *exam.Manager
	Logger  *slog.Logger
	Config  Config
}

type LiveSession struct {
	cfg     Config
	ws      wsConn
	entry   *exam.Entry
	bridge  bridge.Conn
	manager *exam.Manager
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	outbound chan outboundFrame
	muted    atomic.Bool

	teardownOnce sync.Once
}

func New(deps Dependencies) *LiveSession {
	cfg := deps.Config
	if cfg.MaxAudioFrameBytes <= 0 {
		cfg.MaxAudioFrameBytes = 32 * 1024
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.EvaluationTimeout <= 0 {
		cfg.EvaluationTimeout = 30 * time.Second
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", deps.Entry.Session().SessionID)

	ctx, cancel := context.WithCancel(context.Background())
	return &LiveSession{
		cfg:      cfg,
		ws:       deps.WS,
		entry:    deps.Entry,
		bridge:   deps.Bridge,
		manager:  deps.Manager,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		outbound: make(chan outboundFrame, 64),
	}
}

// Run drives the session until the client disconnects, a task fails, or the
// session is cancelled. It blocks the caller (the HTTP handler goroutine).
func (s *LiveSession) Run() {
	defer s.teardown()

	s.entry.SetHandle(s.cancel, s.warn)

	go func() {
		_ = s.writeLoop()
	}()

	if s.bridge != nil {
		go func() {
			err := bridge.Pump(s.ctx, s.logger, s.bridge, bridge.Sinks{
				Audio:       s.entry.Audio(),
				Transcripts: s.entry.Transcripts(),
				Append: func(turn exam.Turn) {
					s.entry.Session().Append(turn)
				},
			})
			if err != nil {
				s.logger.Warn("bridge receive loop failed", "error", err)
			}
			// A dead receive loop ends the session the same way a
			// disconnect would.
			s.cancel()
		}()
	}

	go s.relayAudio()
	go s.relayTranscripts()

	s.readLoop()
}

// Cancel aborts the session's tasks. Teardown still runs via Run.
func (s *LiveSession) Cancel() { s.cancel() }

func (s *LiveSession) readLoop() {
	for {
		if s.cfg.ReadTimeout > 0 {
			_ = s.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		messageType, data, err := s.ws.ReadMessage()
		if err != nil {
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.forwardAudio(data)
		case websocket.TextMessage:
			s.handleControlFrame(data)
		}

		if s.ctx.Err() != nil {
			return
		}
	}
}

func (s *LiveSession) handleControlFrame(data []byte) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		// Malformed frames are dropped; the session continues.
		s.logger.Warn("malformed client frame", "error", err)
		return
	}

	switch m := msg.(type) {
	case protocol.ClientAudioChunk:
		pcm, err := base64.StdEncoding.DecodeString(m.Audio)
		if err != nil {
			s.logger.Warn("malformed client frame", "error", err, "param", "audio")
			return
		}
		s.forwardAudio(pcm)
	case protocol.ClientText:
		s.handleText(m.Text)
	case protocol.ClientControl:
		s.muted.Store(m.Control == protocol.ControlMute)
		s.logger.Info("control acknowledged", "control", m.Control)
	}
}

func (s *LiveSession) forwardAudio(pcm []byte) {
	if len(pcm) == 0 || s.muted.Load() {
		return
	}
	if len(pcm) > s.cfg.MaxAudioFrameBytes {
		s.logger.Warn("dropping oversize audio frame", "bytes", len(pcm))
		return
	}
	if s.bridge == nil {
		// Text-only session; audio input has nowhere to go.
		return
	}
	if err := s.bridge.SendAudio(s.ctx, pcm); err != nil {
		s.logger.Warn("forwarding audio to bridge failed", "error", err)
		s.cancel()
	}
}

func (s *LiveSession) handleText(text string) {
	sess := s.entry.Session()

	if s.bridge == nil {
		// Fallback path: one examiner reply per student input, no audio.
		reply, err := s.manager.FallbackReply(s.ctx, sess.SessionID, text)
		if err != nil {
			s.logger.Warn("fallback reply failed", "error", err)
			s.send(protocol.ServerErrorEnvelope{Error: "examiner is temporarily unavailable"})
			return
		}
		_ = reply // delivered through the transcript relay
		return
	}

	turn := exam.Turn{Sender: exam.SenderStudent, Text: text, Timestamp: time.Now()}
	sess.Append(turn)
	s.entry.PushTranscript(turn)

	if err := s.bridge.SendText(s.ctx, text, true); err != nil {
		s.logger.Warn("forwarding text to bridge failed", "error", err)
		s.cancel()
	}
}

func (s *LiveSession) relayAudio() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.entry.Audio():
			s.send(protocol.ServerAudioResponse{
				Type:       "audio_response",
				Audio:      base64.StdEncoding.EncodeToString(frame.PCM),
				SampleRate: frame.SampleRateHz,
			})
		}
	}
}

func (s *LiveSession) relayTranscripts() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case turn := <-s.entry.Transcripts():
			sender := protocol.SenderStudent
			if turn.Sender == exam.SenderExaminer {
				sender = protocol.SenderAgent
			}
			s.send(protocol.Transcription(sender, turn.Text, turn.Timestamp))
		}
	}
}

// send queues one JSON frame for the writer, giving up on cancellation so
// relay tasks never block past teardown.
func (s *LiveSession) send(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("marshal outbound frame", "error", err)
		return
	}
	select {
	case s.outbound <- outboundFrame{payload: payload}:
	case <-s.ctx.Done():
	}
}

func (s *LiveSession) warn(code, message string) error {
	payload, err := json.Marshal(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
	if err != nil {
		return err
	}
	select {
	case s.outbound <- outboundFrame{payload: payload}:
		return nil
	default:
		return nil
	}
}

// teardown cancels the relay tasks and the bridge pump, then ends the
// session so evaluation and registry cleanup run exactly once.
func (s *LiveSession) teardown() {
	s.teardownOnce.Do(func() {
		s.cancel()
		if s.bridge != nil {
			// Unblocks a pump parked in Receive. Idempotent.
			_ = s.bridge.Close()
		}

		sessionID := s.entry.Session().SessionID
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.EvaluationTimeout)
		defer cancel()
		if _, err := s.manager.End(ctx, sessionID); err != nil {
			s.logger.Error("session end failed", "error", err)
		}
	})
}
