package bridge

import (
	"github.com/studyloop/viva/pkg/exam"
)

// RawEvent is one message from the remote conversational model. The model's
// wire format is polymorphic: any combination of the payload fields may be
// set, including none of them.
type RawEvent struct {
	// Audio is raw PCM from the examiner voice, if any.
	Audio        []byte
	SampleRateHz int

	// OutputTranscript is transcribed examiner speech.
	OutputTranscript string
	// InputTranscript is transcribed student speech.
	InputTranscript string
	// Text is an examiner text part delivered without audio.
	Text string

	TurnComplete bool
	Interrupted  bool

	// UsageTokens carries bookkeeping metadata when present.
	UsageTokens int32
}

// EventKind tags the classified shape of a RawEvent.
type EventKind int

const (
	KindEmpty EventKind = iota
	KindAudio
	KindTranscript
)

// Event is the tagged union a RawEvent collapses into.
type Event struct {
	Kind         EventKind
	Audio        []byte
	SampleRateHz int
	Sender       exam.Sender
	Text         string
}

// Classify maps a raw event to exactly one Event. Precedence is fixed:
// an audio payload wins, then transcript text, then the event is Empty and
// discarded. Exactly one classification per event, so a message carrying
// both audio and text never emits twice.
func Classify(ev RawEvent) Event {
	if len(ev.Audio) > 0 {
		rate := ev.SampleRateHz
		if rate <= 0 {
			rate = DefaultOutputSampleRateHz
		}
		return Event{Kind: KindAudio, Audio: ev.Audio, SampleRateHz: rate}
	}
	if ev.OutputTranscript != "" {
		return Event{Kind: KindTranscript, Sender: exam.SenderExaminer, Text: ev.OutputTranscript}
	}
	if ev.Text != "" {
		return Event{Kind: KindTranscript, Sender: exam.SenderExaminer, Text: ev.Text}
	}
	if ev.InputTranscript != "" {
		return Event{Kind: KindTranscript, Sender: exam.SenderStudent, Text: ev.InputTranscript}
	}
	return Event{Kind: KindEmpty}
}

const (
	// DefaultInputSampleRateHz is the PCM rate the model expects from clients.
	DefaultInputSampleRateHz = 16000
	// DefaultOutputSampleRateHz is the PCM rate the model produces.
	DefaultOutputSampleRateHz = 24000
)
