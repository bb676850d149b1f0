// Package protocol defines the client-facing frame types of the live viva
// endpoint and the strict decoding of inbound control frames.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	ControlMute   = "mute"
	ControlUnmute = "unmute"

	SenderStudent = "student"
	SenderAgent   = "agent"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// ClientAudioChunk carries base64-encoded student audio. Binary websocket
// frames carry the same payload without the JSON envelope.
type ClientAudioChunk struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// ClientText is a typed student utterance, used on the fallback path and by
// clients without a microphone.
type ClientText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ClientControl adjusts local session behavior; it is acknowledged locally
// and never forwarded to the remote model.
type ClientControl struct {
	Type    string `json:"type"`
	Control string `json:"control"`
}

// DecodeClientMessage parses one JSON control frame. Unknown types and
// missing fields are decode errors; callers log them and drop the frame
// without ending the session.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "audio_chunk":
		var msg ClientAudioChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_chunk frame", "")
		}
		if strings.TrimSpace(msg.Audio) == "" {
			return nil, badRequest("audio_chunk.audio is required", "audio")
		}
		return msg, nil
	case "text":
		var msg ClientText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text frame", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("text.text is required", "text")
		}
		return msg, nil
	case "control":
		var msg ClientControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control frame", "")
		}
		control := strings.TrimSpace(msg.Control)
		switch control {
		case ControlMute, ControlUnmute:
		case "":
			return nil, badRequest("control.control is required", "control")
		default:
			return nil, unsupported("unsupported control operation", "control")
		}
		msg.Control = control
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// ServerSessionReady tells the client the session is accepted and relaying.
type ServerSessionReady struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

func SessionReady(sessionID string) ServerSessionReady {
	return ServerSessionReady{Type: "session_ready", SessionID: sessionID}
}

// ServerTranscription is one transcript fragment attributed to either party.
type ServerTranscription struct {
	Type      string `json:"type"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

func Transcription(sender, text string, at time.Time) ServerTranscription {
	return ServerTranscription{
		Type:      "transcription",
		Sender:    sender,
		Text:      text,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
}

// ServerAudioResponse is one chunk of examiner audio.
type ServerAudioResponse struct {
	Type       string `json:"type"`
	Audio      string `json:"audio"`
	SampleRate int    `json:"sample_rate"`
}

// ServerWarning is advisory; clients may surface it but the session
// continues until the server closes it.
type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerErrorEnvelope reports a failure to the client. AgentResponse is set
// when a fallback exchange still produced a usable examiner reply.
type ServerErrorEnvelope struct {
	Error         string `json:"error"`
	AgentResponse string `json:"agent_response,omitempty"`
}
