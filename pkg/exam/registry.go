package exam

import (
	"context"
	"sync"
	"time"
)

// BridgeConn is the narrow view of a live dialogue-bridge connection the
// registry needs: forwarding input and releasing the remote session.
// Close must be idempotent.
type BridgeConn interface {
	SendAudio(ctx context.Context, pcm []byte) error
	SendText(ctx context.Context, text string, endOfTurn bool) error
	Close() error
}

// AudioFrame is one chunk of examiner audio on its way to the client.
type AudioFrame struct {
	PCM          []byte
	SampleRateHz int
}

// Entry holds one session together with all of its runtime state: the
// bridge handle, the two relay channels, and the cancel/warn hooks of the
// connection that owns it. Teardown is a single removal of the entry.
type Entry struct {
	session *Session

	audioCh      chan AudioFrame
	transcriptCh chan Turn

	mu     sync.Mutex
	bridge BridgeConn
	cancel func()
	warn   func(code, message string) error

	// endMu serializes End for this session so evaluation runs once.
	endMu sync.Mutex

	removeOnce sync.Once
}

func (e *Entry) Session() *Session { return e.session }

// Audio is the session's audio relay channel.
func (e *Entry) Audio() chan AudioFrame { return e.audioCh }

// Transcripts is the session's transcript relay channel.
func (e *Entry) Transcripts() chan Turn { return e.transcriptCh }

func (e *Entry) SetBridge(b BridgeConn) {
	e.mu.Lock()
	e.bridge = b
	e.mu.Unlock()
}

func (e *Entry) Bridge() BridgeConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bridge
}

// SetHandle installs the owning connection's cancel and warn hooks.
func (e *Entry) SetHandle(cancel func(), warn func(code, message string) error) {
	e.mu.Lock()
	e.cancel = cancel
	e.warn = warn
	e.mu.Unlock()
}

// PushTranscript offers a turn to the transcript channel without blocking.
// It reports false when no relay is draining the channel fast enough.
func (e *Entry) PushTranscript(turn Turn) bool {
	select {
	case e.transcriptCh <- turn:
		return true
	default:
		return false
	}
}

// release closes the bridge and cancels the owning connection's tasks.
// Safe to call multiple times; the bridge contract makes Close idempotent.
func (e *Entry) release() {
	e.mu.Lock()
	bridge := e.bridge
	cancel := e.cancel
	e.mu.Unlock()

	if bridge != nil {
		_ = bridge.Close()
	}
	if cancel != nil {
		cancel()
	}
}

// Registry is the process-wide table of live sessions. Operations on
// different sessions never contend beyond the map access itself.
type Registry struct {
	audioQueueLen      int
	transcriptQueueLen int

	mu      sync.Mutex
	entries map[string]*Entry
	wg      sync.WaitGroup
}

func NewRegistry() *Registry {
	return &Registry{
		audioQueueLen:      256,
		transcriptQueueLen: 64,
		entries:            make(map[string]*Entry),
	}
}

// Create registers a session. Creating an id that already exists returns
// the existing entry, which lets a client reconnect before the server has
// noticed the drop.
func (r *Registry) Create(sessionID, studentID, topic, language string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[sessionID]; ok {
		return existing, false
	}

	entry := &Entry{
		session:      newSession(sessionID, studentID, topic, language, time.Now()),
		audioCh:      make(chan AudioFrame, r.audioQueueLen),
		transcriptCh: make(chan Turn, r.transcriptQueueLen),
	}
	r.entries[sessionID] = entry
	r.wg.Add(1)
	return entry, true
}

func (r *Registry) Get(sessionID string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[sessionID]
	return entry, ok
}

// Remove deletes the entry and releases its runtime state. Removing an
// unknown or already-removed id is a no-op.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	entry, ok := r.entries[sessionID]
	if ok {
		delete(r.entries, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	entry.removeOnce.Do(func() {
		entry.release()
		r.wg.Done()
	})
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// WarnAll notifies every live session, best effort. Used when draining.
func (r *Registry) WarnAll(code, message string) (sent int) {
	var warns []func(code, message string) error
	r.mu.Lock()
	for _, entry := range r.entries {
		entry.mu.Lock()
		if entry.warn != nil {
			warns = append(warns, entry.warn)
		}
		entry.mu.Unlock()
	}
	r.mu.Unlock()

	for _, warn := range warns {
		_ = warn(code, message)
		sent++
	}
	return sent
}

// CancelAll cancels every live session's task group.
func (r *Registry) CancelAll() (canceled int) {
	var cancels []func()
	r.mu.Lock()
	for _, entry := range r.entries {
		entry.mu.Lock()
		if entry.cancel != nil {
			cancels = append(cancels, entry.cancel)
		}
		entry.mu.Unlock()
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every entry has been removed or ctx expires.
func (r *Registry) Wait(ctx context.Context) bool {
	if ctx == nil {
		r.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
