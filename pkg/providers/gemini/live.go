package gemini

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/studyloop/viva/pkg/bridge"
)

// liveConn wraps one *genai.Session as a bridge.Conn.
type liveConn struct {
	session *genai.Session

	closeOnce sync.Once
	closeErr  error
}

func newLiveConn(session *genai.Session) *liveConn {
	return &liveConn{session: session}
}

func (c *liveConn) SendAudio(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mime := fmt.Sprintf("audio/pcm;rate=%d", bridge.DefaultInputSampleRateHz)
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: pcm, MIMEType: mime},
	})
}

func (c *liveConn) SendText(ctx context.Context, text string, endOfTurn bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.session.SendClientContent(genai.LiveClientContentInput{
		Turns:        []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		TurnComplete: &endOfTurn,
	})
}

func (c *liveConn) Receive() (bridge.RawEvent, error) {
	msg, err := c.session.Receive()
	if err != nil {
		return bridge.RawEvent{}, err
	}
	return rawEventFrom(msg), nil
}

// Close is idempotent; repeated calls return the first result and never
// fail on an already-closed session.
func (c *liveConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}

// rawEventFrom flattens one server message into the engine's polymorphic
// event shape. Classification happens downstream; this only extracts fields.
func rawEventFrom(msg *genai.LiveServerMessage) bridge.RawEvent {
	var ev bridge.RawEvent
	if msg == nil {
		return ev
	}

	if msg.UsageMetadata != nil {
		ev.UsageTokens = msg.UsageMetadata.TotalTokenCount
	}

	sc := msg.ServerContent
	if sc == nil {
		return ev
	}

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				ev.Audio = append(ev.Audio, part.InlineData.Data...)
				if rate := sampleRateFromMIME(part.InlineData.MIMEType); rate > 0 {
					ev.SampleRateHz = rate
				}
			}
			if part.Text != "" {
				ev.Text += part.Text
			}
		}
	}
	if sc.OutputTranscription != nil {
		ev.OutputTranscript = sc.OutputTranscription.Text
	}
	if sc.InputTranscription != nil {
		ev.InputTranscript = sc.InputTranscription.Text
	}
	ev.TurnComplete = sc.TurnComplete
	ev.Interrupted = sc.Interrupted
	return ev
}

// sampleRateFromMIME parses rates like "audio/pcm;rate=24000".
func sampleRateFromMIME(mime string) int {
	for _, param := range strings.Split(mime, ";") {
		param = strings.TrimSpace(param)
		if value, ok := strings.CutPrefix(param, "rate="); ok {
			rate, err := strconv.Atoi(value)
			if err != nil {
				return 0
			}
			return rate
		}
	}
	return 0
}
