// Package gemini adapts the Gemini API to the engine's bridge and
// text-generation contracts: the Live API backs the dialogue bridge, and
// plain content generation backs evaluation and the fallback path.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/studyloop/viva/pkg/bridge"
	"github.com/studyloop/viva/pkg/core"
)

type Config struct {
	APIKey    string
	LiveModel string
	TextModel string
}

type Client struct {
	genai     *genai.Client
	liveModel string
	textModel string
	logger    *slog.Logger
}

func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Client{
		genai:     client,
		liveModel: cfg.LiveModel,
		textModel: cfg.TextModel,
		logger:    logger,
	}, nil
}

// Connect opens a Live API session configured as the examiner: audio
// responses with transcription of both sides enabled.
func (c *Client) Connect(ctx context.Context, params bridge.ConnectParams) (bridge.Conn, error) {
	session, err := c.genai.Live.Connect(ctx, c.liveModel, &genai.LiveConnectConfig{
		SystemInstruction:        genai.NewContentFromText(params.SystemPrompt, genai.RoleUser),
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	})
	if err != nil {
		return nil, core.NewBridgeConnectError(err)
	}

	c.logger.Info("dialogue bridge connected",
		"session_id", params.SessionID, "model", c.liveModel)
	return newLiveConn(session), nil
}

// Generate produces one text reply.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.genai.Models.GenerateContent(ctx, c.textModel, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return resp.Text(), nil
}

// GenerateJSON produces one reply constrained to JSON output.
func (c *Client) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.genai.Models.GenerateContent(ctx, c.textModel, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("generate json content: %w", err)
	}
	return resp.Text(), nil
}
