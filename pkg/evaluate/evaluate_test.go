package evaluate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/studyloop/viva/pkg/core"
	"github.com/studyloop/viva/pkg/exam"
)

type fakeJSONModel struct {
	response string
	err      error
	prompt   string
	system   string
}

func (m *fakeJSONModel) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	m.system = system
	m.prompt = prompt
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func newTestEngine(t *testing.T, model TextModel) *Engine {
	t.Helper()
	engine, err := New(model, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return engine
}

func sampleTranscript() []exam.Turn {
	return []exam.Turn{
		{Sender: exam.SenderExaminer, Text: "What is a linear equation?"},
		{Sender: exam.SenderStudent, Text: "An equation whose highest power is one."},
	}
}

func TestEvaluateParsesConformingResult(t *testing.T) {
	t.Parallel()

	model := &fakeJSONModel{response: `{"score": 85, "feedback": "Clear and correct.", "strengths": ["definitions"], "areas_for_improvement": ["worked examples"]}`}
	engine := newTestEngine(t, model)

	result, err := engine.Evaluate(context.Background(), "Linear Equations", "english", sampleTranscript())
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if result.Score != 85 {
		t.Fatalf("score=%d, want 85", result.Score)
	}
	if result.Feedback != "Clear and correct." {
		t.Fatalf("feedback=%q", result.Feedback)
	}
	if len(result.Strengths) != 1 || len(result.AreasForImprovement) != 1 {
		t.Fatalf("lists not decoded: %+v", result)
	}

	if !strings.Contains(model.prompt, "Topic: Linear Equations") {
		t.Fatalf("prompt missing topic: %q", model.prompt)
	}
	if !strings.Contains(model.prompt, "Student: An equation whose highest power is one.") {
		t.Fatalf("prompt missing rendered transcript: %q", model.prompt)
	}
}

func TestEvaluateUnwrapsCodeFences(t *testing.T) {
	t.Parallel()

	model := &fakeJSONModel{response: "```json\n{\"score\": 60, \"feedback\": \"Adequate.\"}\n```"}
	engine := newTestEngine(t, model)

	result, err := engine.Evaluate(context.Background(), "Optics", "english", sampleTranscript())
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if result.Score != 60 {
		t.Fatalf("score=%d, want 60", result.Score)
	}
}

func TestEvaluateRejectsNonConformingOutput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		response string
	}{
		{"prose", "The student did quite well overall."},
		{"missing feedback", `{"score": 50}`},
		{"score out of range", `{"score": 150, "feedback": "great"}`},
		{"score not integer", `{"score": 72.5, "feedback": "great"}`},
		{"empty feedback", `{"score": 50, "feedback": ""}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			engine := newTestEngine(t, &fakeJSONModel{response: tc.response})
			_, err := engine.Evaluate(context.Background(), "Algebra", "english", sampleTranscript())
			if err == nil {
				t.Fatalf("Evaluate accepted %q", tc.response)
			}
			var coreErr *core.Error
			if !errors.As(err, &coreErr) || coreErr.Type != core.ErrEvaluation {
				t.Fatalf("err=%v, want evaluation error type", err)
			}
		})
	}
}

func TestEvaluateWrapsModelFailure(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, &fakeJSONModel{err: errors.New("deadline exceeded")})
	_, err := engine.Evaluate(context.Background(), "Algebra", "english", nil)
	if err == nil {
		t.Fatalf("expected error when model call fails")
	}
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrEvaluation {
		t.Fatalf("err=%v, want evaluation error type", err)
	}
}

func TestStripCodeFence(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"{\"a\":1}":                      "{\"a\":1}",
		"```json\n{\"a\":1}\n```":        "{\"a\":1}",
		"```\n{\"a\":1}\n```":            "{\"a\":1}",
		"  ```json\n{\"a\":1}\n```\n  ":  "{\"a\":1}",
	}
	for in, want := range cases {
		if got := stripCodeFence(in); got != want {
			t.Fatalf("stripCodeFence(%q)=%q, want %q", in, got, want)
		}
	}
}
