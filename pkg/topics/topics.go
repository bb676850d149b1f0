// Package topics is the client for the learning-path service, which decides
// what a session examines. It is consulted once at session start.
package topics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/studyloop/viva/pkg/core"
)

// Topic describes one learning step under examination.
type Topic struct {
	Topic      string `json:"topic"`
	Subtopic   string `json:"subtopic,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
}

type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Topic fetches the topic metadata for one learning step.
func (c *Client) Topic(ctx context.Context, stepID string) (Topic, error) {
	if strings.TrimSpace(stepID) == "" {
		return Topic{}, fmt.Errorf("step id is required")
	}

	endpoint := fmt.Sprintf("%s/v1/steps/%s/topic", c.BaseURL, url.PathEscape(stepID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Topic{}, fmt.Errorf("build topic request: %w", err)
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Topic{}, fmt.Errorf("fetch topic for step %q: %w", stepID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Topic{}, core.NewNotFoundError(fmt.Sprintf("step %q not found", stepID))
	}
	if resp.StatusCode != http.StatusOK {
		return Topic{}, fmt.Errorf("topic service returned status %d", resp.StatusCode)
	}

	var topic Topic
	if err := json.NewDecoder(resp.Body).Decode(&topic); err != nil {
		return Topic{}, fmt.Errorf("decode topic response: %w", err)
	}
	if strings.TrimSpace(topic.Topic) == "" {
		return Topic{}, fmt.Errorf("topic service returned empty topic for step %q", stepID)
	}
	return topic, nil
}
