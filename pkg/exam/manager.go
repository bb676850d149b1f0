package exam

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/studyloop/viva/pkg/core"
)

// Evaluator scores a finished exam from its transcript.
type Evaluator interface {
	Evaluate(ctx context.Context, topic, language string, transcript []Turn) (Evaluation, error)
}

// TextModel is the single request/response text-generation contract used by
// the fallback path.
type TextModel interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Archiver persists completed sessions for external collaborators.
type Archiver interface {
	SaveCompleted(ctx context.Context, snap Snapshot) error
}

// PersonaFunc builds the examiner system instruction for a topic/language.
type PersonaFunc func(topic, language string) string

// EndResult is what session end reports to administrative callers.
type EndResult struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
	Summary  string `json:"summary"`
}

const unavailableFeedback = "evaluation unavailable"

// Manager orchestrates session start, the fallback text exchange, and the
// end/evaluation step. Completed sessions stay queryable after their
// registry entry is gone so a repeated end call returns the stored result.
type Manager struct {
	registry  *Registry
	evaluator Evaluator
	textModel TextModel
	persona   PersonaFunc
	archive   Archiver
	logger    *slog.Logger

	mu        sync.Mutex
	completed map[string]Snapshot
}

type ManagerDeps struct {
	Registry  *Registry
	Evaluator Evaluator
	TextModel TextModel
	Persona   PersonaFunc
	Archive   Archiver
	Logger    *slog.Logger
}

func NewManager(deps ManagerDeps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	persona := deps.Persona
	if persona == nil {
		persona = func(topic, language string) string {
			return fmt.Sprintf("You are an oral examiner assessing the topic %q in %s.", topic, language)
		}
	}
	return &Manager{
		registry:  deps.Registry,
		evaluator: deps.Evaluator,
		textModel: deps.TextModel,
		persona:   persona,
		archive:   deps.Archive,
		logger:    logger,
		completed: make(map[string]Snapshot),
	}
}

func (m *Manager) Registry() *Registry { return m.registry }

// End finishes a session: render the transcript, score it, mark the session
// COMPLETED and retire all runtime state. Idempotent; scoring failure never
// prevents closure.
func (m *Manager) End(ctx context.Context, sessionID string) (EndResult, error) {
	entry, ok := m.registry.Get(sessionID)
	if !ok {
		if snap, done := m.completedSnapshot(sessionID); done {
			return endResultFrom(snap), nil
		}
		return EndResult{}, core.NewNotFoundError("session not found: " + sessionID)
	}

	entry.endMu.Lock()
	defer entry.endMu.Unlock()

	s := entry.Session()
	if ev, done := s.Result(); done {
		return m.resultFor(s, ev), nil
	}

	s.Begin()

	ev, err := m.evaluator.Evaluate(ctx, s.Topic, s.Language, s.Transcript())
	if err != nil {
		m.logger.Warn("evaluation failed, closing session with default result",
			"session_id", sessionID, "error", err)
		ev = Evaluation{Score: 0, Feedback: unavailableFeedback}
	}
	if ev.Score < 0 {
		ev.Score = 0
	}
	if ev.Score > 100 {
		ev.Score = 100
	}

	s.Complete(ev, time.Now())
	snap := s.Snapshot()

	m.mu.Lock()
	m.completed[sessionID] = snap
	m.mu.Unlock()

	if m.archive != nil {
		if err := m.archive.SaveCompleted(ctx, snap); err != nil {
			m.logger.Warn("failed to archive completed session",
				"session_id", sessionID, "error", err)
		}
	}

	m.registry.Remove(sessionID)

	m.logger.Info("session completed",
		"session_id", sessionID, "score", ev.Score, "turns", len(snap.Turns))
	return m.resultFor(s, ev), nil
}

// FallbackReply runs one text-only exchange: append the student utterance,
// ask the text model for the next examiner turn, append and return it. Both
// turns are offered to the transcript relay so a connected client sees them.
func (m *Manager) FallbackReply(ctx context.Context, sessionID, text string) (string, error) {
	entry, ok := m.registry.Get(sessionID)
	if !ok {
		return "", core.NewNotFoundError("session not found: " + sessionID)
	}

	s := entry.Session()
	s.Begin()

	studentTurn := Turn{Sender: SenderStudent, Text: text, Timestamp: time.Now()}
	s.Append(studentTurn)
	entry.PushTranscript(studentTurn)

	system := m.persona(s.Topic, s.Language)
	prompt := RenderTranscript(s.Transcript()) + "Examiner:"
	reply, err := m.textModel.Generate(ctx, system, prompt)
	if err != nil {
		return "", core.NewAPIError(fmt.Sprintf("examiner reply: %v", err))
	}

	examinerTurn := Turn{Sender: SenderExaminer, Text: reply, Timestamp: time.Now()}
	s.Append(examinerTurn)
	entry.PushTranscript(examinerTurn)
	return reply, nil
}

// StatusSnapshot reports a session's persisted fields, looking first at live
// entries and then at retired, completed sessions.
func (m *Manager) StatusSnapshot(sessionID string) (Snapshot, bool) {
	if entry, ok := m.registry.Get(sessionID); ok {
		return entry.Session().Snapshot(), true
	}
	return m.completedSnapshot(sessionID)
}

func (m *Manager) completedSnapshot(sessionID string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.completed[sessionID]
	return snap, ok
}

func (m *Manager) resultFor(s *Session, ev Evaluation) EndResult {
	return EndResult{
		Score:    ev.Score,
		Feedback: ev.Feedback,
		Summary:  fmt.Sprintf("oral examination on %q completed with score %d/100", s.Topic, ev.Score),
	}
}

func endResultFrom(snap Snapshot) EndResult {
	score := 0
	if snap.Score != nil {
		score = *snap.Score
	}
	return EndResult{
		Score:    score,
		Feedback: snap.Feedback,
		Summary:  fmt.Sprintf("oral examination on %q completed with score %d/100", snap.Topic, score),
	}
}
