package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/studyloop/viva/pkg/bridge"
	"github.com/studyloop/viva/pkg/exam"
	"github.com/studyloop/viva/pkg/gateway/auth"
	"github.com/studyloop/viva/pkg/gateway/config"
	"github.com/studyloop/viva/pkg/gateway/lifecycle"
)

const liveTestSecret = "live-test-secret"

// fakeLiveConn is a scripted dialogue-bridge connection: every text or audio
// input produces the events the script returns.
type fakeLiveConn struct {
	mu        sync.Mutex
	events    chan bridge.RawEvent
	closeOnce sync.Once
	sentTexts []string
	sentAudio [][]byte

	onText  func(text string) []bridge.RawEvent
	onAudio func(pcm []byte) []bridge.RawEvent
}

func newFakeLiveConn() *fakeLiveConn {
	return &fakeLiveConn{events: make(chan bridge.RawEvent, 32)}
}

func (c *fakeLiveConn) SendAudio(ctx context.Context, pcm []byte) error {
	c.mu.Lock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	c.sentAudio = append(c.sentAudio, buf)
	onAudio := c.onAudio
	c.mu.Unlock()
	if onAudio != nil {
		for _, ev := range onAudio(pcm) {
			c.events <- ev
		}
	}
	return nil
}

func (c *fakeLiveConn) SendText(ctx context.Context, text string, endOfTurn bool) error {
	c.mu.Lock()
	c.sentTexts = append(c.sentTexts, text)
	onText := c.onText
	c.mu.Unlock()
	if onText != nil {
		for _, ev := range onText(text) {
			c.events <- ev
		}
	}
	return nil
}

func (c *fakeLiveConn) Receive() (bridge.RawEvent, error) {
	ev, ok := <-c.events
	if !ok {
		return bridge.RawEvent{}, io.EOF
	}
	return ev, nil
}

func (c *fakeLiveConn) Close() error {
	c.closeOnce.Do(func() { close(c.events) })
	return nil
}

func (c *fakeLiveConn) textCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sentTexts)
}

func (c *fakeLiveConn) audioCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sentAudio)
}

type fakeConnector struct {
	conn   *fakeLiveConn
	err    error
	params atomic.Pointer[bridge.ConnectParams]
}

func (f *fakeConnector) Connect(ctx context.Context, params bridge.ConnectParams) (bridge.Conn, error) {
	p := params
	f.params.Store(&p)
	if f.err != nil {
		return nil, f.err
	}
	return f.conn, nil
}

type liveEvaluator struct {
	calls  atomic.Int64
	result exam.Evaluation
}

func (e *liveEvaluator) Evaluate(ctx context.Context, topic, language string, transcript []exam.Turn) (exam.Evaluation, error) {
	e.calls.Add(1)
	return e.result, nil
}

type liveTextModel struct {
	reply string
}

func (m *liveTextModel) Generate(ctx context.Context, system, prompt string) (string, error) {
	return m.reply, nil
}

func liveTestConfig() config.Config {
	return config.Config{
		AuthMode:                config.AuthModeDisabled,
		JWTSecret:               liveTestSecret,
		Languages:               map[string]struct{}{"english": {}, "hindi": {}},
		LiveMaxAudioFrameBytes:  32 * 1024,
		LiveMaxJSONMessageBytes: 128 * 1024,
		LiveHandshakeTimeout:    2 * time.Second,
		LiveWSPingInterval:      20 * time.Second,
		LiveWSWriteTimeout:      2 * time.Second,
		EvaluationTimeout:       2 * time.Second,
	}
}

type liveFixture struct {
	manager   *exam.Manager
	evaluator *liveEvaluator
	server    *httptest.Server
}

func newLiveFixture(t *testing.T, connector bridge.Connector, textModel exam.TextModel) *liveFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	evaluator := &liveEvaluator{result: exam.Evaluation{Score: 87, Feedback: "strong grasp of the topic"}}
	manager := exam.NewManager(exam.ManagerDeps{
		Registry:  exam.NewRegistry(),
		Evaluator: evaluator,
		TextModel: textModel,
		Logger:    logger,
	})

	cfg := liveTestConfig()
	mux := http.NewServeMux()
	mux.Handle("/v1/viva", LiveHandler{
		Config:    cfg,
		Verifier:  auth.NewVerifier(liveTestSecret, "", nil),
		Connector: connector,
		Manager:   manager,
		Persona:   bridge.DefaultCatalog().SystemPrompt,
		Logger:    logger,
		Lifecycle: &lifecycle.Lifecycle{},
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return &liveFixture{manager: manager, evaluator: evaluator, server: ts}
}

func (f *liveFixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/viva?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", query, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func studentToken(t *testing.T, studentID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": studentID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(liveTestSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

// collectFrames reads until pred returns true, returning every frame seen.
func collectFrames(t *testing.T, conn *websocket.Conn, pred func(map[string]any) bool) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for i := 0; i < 20; i++ {
		frame := readFrame(t, conn)
		frames = append(frames, frame)
		if pred(frame) {
			return frames
		}
	}
	t.Fatalf("predicate never satisfied; frames=%v", frames)
	return nil
}

func waitForStatus(t *testing.T, m *exam.Manager, sessionID string, want exam.Status) exam.Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := m.StatusSnapshot(sessionID); ok && snap.Status == want {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	snap, ok := m.StatusSnapshot(sessionID)
	t.Fatalf("session %s never reached %s (snapshot=%+v ok=%v)", sessionID, want, snap, ok)
	return exam.Snapshot{}
}

func TestLiveSessionFullExamScenario(t *testing.T) {
	t.Parallel()

	conn := newFakeLiveConn()
	conn.onText = func(text string) []bridge.RawEvent {
		return []bridge.RawEvent{
			{OutputTranscript: "Correct. Now solve 2x + 3 = 7."},
			{Audio: []byte{0x01, 0x02, 0x03, 0x04}, SampleRateHz: 24000},
		}
	}
	connector := &fakeConnector{conn: conn}
	fx := newLiveFixture(t, connector, nil)

	ws := fx.dial(t, "token="+studentToken(t, "student_7")+"&session_id=viva_exam&topic=Linear+Equations&language=english")

	ready := readFrame(t, ws)
	if ready["type"] != "session_ready" || ready["session_id"] != "viva_exam" {
		t.Fatalf("first frame=%v, want session_ready", ready)
	}

	params := connector.params.Load()
	if params == nil || !strings.Contains(params.SystemPrompt, `"Linear Equations"`) {
		t.Fatalf("bridge system prompt missing topic: %+v", params)
	}

	if err := ws.WriteJSON(map[string]string{"type": "text", "text": "A linear equation has degree one."}); err != nil {
		t.Fatalf("write text frame: %v", err)
	}

	var sawStudent, sawExaminer, sawAudio bool
	collectFrames(t, ws, func(frame map[string]any) bool {
		switch frame["type"] {
		case "transcription":
			switch frame["sender"] {
			case "student":
				sawStudent = true
			case "agent":
				sawExaminer = true
			}
		case "audio_response":
			sawAudio = true
			audio, _ := frame["audio"].(string)
			decoded, err := base64.StdEncoding.DecodeString(audio)
			if err != nil || len(decoded) != 4 {
				t.Fatalf("audio_response payload=%q err=%v", audio, err)
			}
			if rate, _ := frame["sample_rate"].(float64); int(rate) != 24000 {
				t.Fatalf("sample_rate=%v, want 24000", frame["sample_rate"])
			}
		}
		return sawStudent && sawExaminer && sawAudio
	})

	// Raw binary frames reach the bridge untouched.
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{9, 9, 9}); err != nil {
		t.Fatalf("write binary frame: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for conn.audioCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conn.audioCount() != 1 {
		t.Fatalf("bridge received %d audio frames, want 1", conn.audioCount())
	}

	// Disconnect ends and scores the session exactly once.
	ws.Close()
	snap := waitForStatus(t, fx.manager, "viva_exam", exam.StatusCompleted)
	if snap.Score == nil || *snap.Score != 87 {
		t.Fatalf("score=%v, want 87", snap.Score)
	}
	if got := fx.evaluator.calls.Load(); got != 1 {
		t.Fatalf("evaluator called %d times, want 1", got)
	}
	if len(snap.Turns) < 2 {
		t.Fatalf("transcript has %d turns, want student + examiner", len(snap.Turns))
	}
}

func TestLiveSessionMalformedFramesAreDropped(t *testing.T) {
	t.Parallel()

	conn := newFakeLiveConn()
	connector := &fakeConnector{conn: conn}
	fx := newLiveFixture(t, connector, nil)

	ws := fx.dial(t, "token="+studentToken(t, "student_7")+"&session_id=viva_mal&topic=Algebra")
	readFrame(t, ws) // session_ready

	malformed := []string{
		"not-json",
		`{"type":"subscribe"}`,
		`{"type":"audio_chunk","audio":"%%%not-base64%%%"}`,
		`{"type":"control","control":"pause"}`,
	}
	for _, frame := range malformed {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("write %q: %v", frame, err)
		}
	}

	// The session survives: a well-formed frame after the garbage still works.
	if err := ws.WriteJSON(map[string]string{"type": "text", "text": "still here"}); err != nil {
		t.Fatalf("write text frame: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for conn.textCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conn.textCount() != 1 {
		t.Fatalf("bridge received %d texts, want only the well-formed one", conn.textCount())
	}

	snap, ok := fx.manager.StatusSnapshot("viva_mal")
	if !ok || snap.Status != exam.StatusInProgress {
		t.Fatalf("snapshot=%+v ok=%v, want IN_PROGRESS", snap, ok)
	}
}

func TestLiveSessionRejectsBadToken(t *testing.T) {
	t.Parallel()

	fx := newLiveFixture(t, &fakeConnector{conn: newFakeLiveConn()}, nil)
	ws := fx.dial(t, "token=garbage&session_id=viva_denied")

	frame := readFrame(t, ws)
	if _, ok := frame["error"]; !ok {
		t.Fatalf("frame=%v, want error envelope", frame)
	}

	// The close that follows must be a policy violation, and no session state
	// may exist afterwards.
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatalf("expected close after error envelope")
	} else if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("close err=%v, want policy violation", err)
	}
	if _, ok := fx.manager.StatusSnapshot("viva_denied"); ok {
		t.Fatalf("session created despite rejected token")
	}
}

func TestLiveSessionFallsBackWhenBridgeUnavailable(t *testing.T) {
	t.Parallel()

	connector := &fakeConnector{err: errors.New("upstream handshake refused")}
	fx := newLiveFixture(t, connector, &liveTextModel{reply: "Good. What is the slope of y = 2x?"})

	ws := fx.dial(t, "token="+studentToken(t, "student_7")+"&session_id=viva_fb&topic=Linear+Equations")
	ready := readFrame(t, ws)
	if ready["type"] != "session_ready" {
		t.Fatalf("first frame=%v, want session_ready despite bridge failure", ready)
	}

	if err := ws.WriteJSON(map[string]string{"type": "text", "text": "Lines and slopes."}); err != nil {
		t.Fatalf("write text frame: %v", err)
	}

	var sawStudent, sawExaminer bool
	frames := collectFrames(t, ws, func(frame map[string]any) bool {
		if frame["type"] == "transcription" {
			switch frame["sender"] {
			case "student":
				sawStudent = true
			case "agent":
				sawExaminer = true
				if frame["text"] != "Good. What is the slope of y = 2x?" {
					t.Fatalf("examiner text=%v", frame["text"])
				}
			}
		}
		if frame["type"] == "audio_response" {
			t.Fatalf("fallback session produced audio")
		}
		return sawStudent && sawExaminer
	})
	_ = frames

	ws.Close()
	waitForStatus(t, fx.manager, "viva_fb", exam.StatusCompleted)
}

func TestLiveEndpointRefusedWhileDraining(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)

	handler := LiveHandler{
		Config:    liveTestConfig(),
		Verifier:  auth.NewVerifier(liveTestSecret, "", nil),
		Connector: &fakeConnector{conn: newFakeLiveConn()},
		Manager:   exam.NewManager(exam.ManagerDeps{Registry: exam.NewRegistry(), Logger: logger}),
		Persona:   bridge.DefaultCatalog().SystemPrompt,
		Logger:    logger,
		Lifecycle: lc,
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/viva", nil))
	if rec.Code != 529 {
		t.Fatalf("status=%d, want 529 while draining", rec.Code)
	}
}

func TestLiveSessionMuteSuppressesAudioForwarding(t *testing.T) {
	t.Parallel()

	conn := newFakeLiveConn()
	fx := newLiveFixture(t, &fakeConnector{conn: conn}, nil)

	ws := fx.dial(t, "token="+studentToken(t, "student_7")+"&session_id=viva_mute")
	readFrame(t, ws) // session_ready

	if err := ws.WriteJSON(map[string]string{"type": "control", "control": "mute"}); err != nil {
		t.Fatalf("write mute: %v", err)
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := ws.WriteJSON(map[string]string{"type": "control", "control": "unmute"}); err != nil {
		t.Fatalf("write unmute: %v", err)
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{4, 5, 6}); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for conn.audioCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Give the muted frame a moment to show up if it incorrectly passed.
	time.Sleep(50 * time.Millisecond)
	if got := conn.audioCount(); got != 1 {
		t.Fatalf("bridge received %d audio frames, want 1 (muted frame dropped)", got)
	}
	conn.mu.Lock()
	first := conn.sentAudio[0][0]
	conn.mu.Unlock()
	if first != 4 {
		t.Fatalf("forwarded frame starts with %d, want the post-unmute frame", first)
	}
}
