// Package evaluate turns a finished exam transcript into a bounded
// score/feedback result via a single text-generation request.
package evaluate

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/studyloop/viva/pkg/core"
	"github.com/studyloop/viva/pkg/exam"
)

//go:embed result_schema.json
var resultSchemaJSON string

// TextModel is the JSON-mode text-generation contract the engine consumes.
type TextModel interface {
	GenerateJSON(ctx context.Context, system, prompt string) (string, error)
}

const systemPrompt = `You are grading an oral examination. You are given the
exam topic and the full transcript of the conversation between the examiner
and the student. Judge only what the student actually demonstrated.
Respond with a single JSON object:
{"score": <integer 0-100>, "feedback": "<2-4 sentences for the student>",
"strengths": ["..."], "areas_for_improvement": ["..."]}
No prose outside the JSON object.`

// Engine scores transcripts. It validates model output against an embedded
// JSON Schema before accepting it.
type Engine struct {
	model  TextModel
	schema *jsonschema.Schema
	logger *slog.Logger
}

func New(model TextModel, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("result_schema.json", strings.NewReader(resultSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add result schema: %w", err)
	}
	schema, err := compiler.Compile("result_schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile result schema: %w", err)
	}

	return &Engine{model: model, schema: schema, logger: logger}, nil
}

// Evaluate renders the transcript, asks the text model for a bounded JSON
// result, and parses it. Any malformed or non-conforming response is an
// evaluation error; callers close the session with a default result instead
// of failing.
func (e *Engine) Evaluate(ctx context.Context, topic, language string, transcript []exam.Turn) (exam.Evaluation, error) {
	prompt := fmt.Sprintf("Topic: %s\nLanguage: %s\n\nTranscript:\n%s",
		topic, language, exam.RenderTranscript(transcript))

	raw, err := e.model.GenerateJSON(ctx, systemPrompt, prompt)
	if err != nil {
		return exam.Evaluation{}, core.NewEvaluationError(fmt.Sprintf("evaluation request: %v", err))
	}

	result, err := e.parse(raw)
	if err != nil {
		e.logger.Warn("evaluation model returned non-conforming output", "error", err)
		return exam.Evaluation{}, core.NewEvaluationError(err.Error())
	}
	return result, nil
}

func (e *Engine) parse(raw string) (exam.Evaluation, error) {
	cleaned := stripCodeFence(raw)

	var payload any
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return exam.Evaluation{}, fmt.Errorf("parse evaluation json: %w", err)
	}
	if err := e.schema.Validate(payload); err != nil {
		return exam.Evaluation{}, fmt.Errorf("validate evaluation result: %w", err)
	}

	var result exam.Evaluation
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return exam.Evaluation{}, fmt.Errorf("decode evaluation result: %w", err)
	}
	return result, nil
}

// stripCodeFence unwraps ```json ... ``` fences the model sometimes adds
// despite the JSON response instruction.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
