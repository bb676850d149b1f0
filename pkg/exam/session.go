package exam

import (
	"sync"
	"time"
)

// Status is the lifecycle state of a viva session. Transitions are
// monotonic: NOT_STARTED -> IN_PROGRESS -> COMPLETED, never backward.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// Sender attributes a transcript turn to one side of the exam.
type Sender string

const (
	SenderStudent  Sender = "student"
	SenderExaminer Sender = "examiner"
)

// Turn is one utterance in the conversation history.
type Turn struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Evaluation is the scored outcome of a completed session.
type Evaluation struct {
	Score               int      `json:"score"`
	Feedback            string   `json:"feedback"`
	Strengths           []string `json:"strengths,omitempty"`
	AreasForImprovement []string `json:"areas_for_improvement,omitempty"`
}

// Session is one exam attempt. The conversation history is append-only and
// is the sole source of truth for evaluation. All mutators hold the session
// lock; snapshots are copies so callers never observe partial appends.
type Session struct {
	SessionID string
	StudentID string
	Topic     string
	Language  string

	mu        sync.Mutex
	status    Status
	startedAt time.Time
	endedAt   *time.Time
	score     *int
	feedback  string
	turns     []Turn
}

// Snapshot is a point-in-time copy of a session's persisted fields.
type Snapshot struct {
	SessionID string     `json:"session_id"`
	StudentID string     `json:"student_id"`
	Topic     string     `json:"topic"`
	Language  string     `json:"language"`
	Status    Status     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Score     *int       `json:"score,omitempty"`
	Feedback  string     `json:"feedback,omitempty"`
	Turns     []Turn     `json:"conversation_history"`
}

func newSession(sessionID, studentID, topic, language string, now time.Time) *Session {
	return &Session{
		SessionID: sessionID,
		StudentID: studentID,
		Topic:     topic,
		Language:  language,
		status:    StatusNotStarted,
		startedAt: now,
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Begin moves the session into IN_PROGRESS. It is a no-op once the session
// has advanced past NOT_STARTED.
func (s *Session) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusNotStarted {
		s.status = StatusInProgress
	}
}

// Complete records the evaluation outcome and moves the session to
// COMPLETED. It returns false without mutating anything if the session is
// already completed, preserving the first recorded result.
func (s *Session) Complete(ev Evaluation, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusCompleted {
		return false
	}
	score := ev.Score
	s.status = StatusCompleted
	s.score = &score
	s.feedback = ev.Feedback
	s.endedAt = &at
	return true
}

// Result returns the stored evaluation once the session is COMPLETED.
func (s *Session) Result() (Evaluation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusCompleted || s.score == nil {
		return Evaluation{}, false
	}
	return Evaluation{Score: *s.score, Feedback: s.feedback}, true
}

// Append adds one turn to the conversation history.
func (s *Session) Append(turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	s.turns = append(s.turns, turn)
}

// Transcript returns a copy of the conversation history in append order.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// TurnCount reports the number of recorded turns.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Snapshot copies all persisted fields, including the transcript.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := make([]Turn, len(s.turns))
	copy(turns, s.turns)
	snap := Snapshot{
		SessionID: s.SessionID,
		StudentID: s.StudentID,
		Topic:     s.Topic,
		Language:  s.Language,
		Status:    s.status,
		StartedAt: s.startedAt,
		Feedback:  s.feedback,
		Turns:     turns,
	}
	if s.endedAt != nil {
		ended := *s.endedAt
		snap.EndedAt = &ended
	}
	if s.score != nil {
		score := *s.score
		snap.Score = &score
	}
	return snap
}
