package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/studyloop/viva/pkg/exam"
)

// Sinks receive the classified output of one session's receive loop.
type Sinks struct {
	Audio       chan<- exam.AudioFrame
	Transcripts chan<- exam.Turn

	// Append is the single writer path into the session's conversation
	// history for model-produced transcript fragments.
	Append func(exam.Turn)
}

// Pump is the long-lived receive loop for one bridge connection. It reads
// until the connection closes or ctx is cancelled, classifies every event,
// and routes audio and transcript fragments to the session's relay
// channels. Channel sends are guarded by ctx so teardown of the relays can
// never leave the pump blocked on a full queue.
func Pump(ctx context.Context, logger *slog.Logger, conn Conn, sinks Sinks) error {
	if logger == nil {
		logger = slog.Default()
	}

	for {
		ev, err := conn.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		e := Classify(ev)
		switch e.Kind {
		case KindAudio:
			frame := exam.AudioFrame{PCM: e.Audio, SampleRateHz: e.SampleRateHz}
			select {
			case sinks.Audio <- frame:
			case <-ctx.Done():
				return nil
			}
		case KindTranscript:
			turn := exam.Turn{Sender: e.Sender, Text: e.Text, Timestamp: time.Now()}
			if sinks.Append != nil {
				sinks.Append(turn)
			}
			select {
			case sinks.Transcripts <- turn:
			case <-ctx.Done():
				return nil
			}
		default:
			if ev.UsageTokens > 0 {
				// Metadata-only event: nothing decodable, but the model
				// reports produced tokens. Dropped, not treated as a defect.
				logger.Warn("discarding payload-free model event", "usage_tokens", ev.UsageTokens)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}
