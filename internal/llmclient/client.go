// Package llmclient implements the HTTP contract the detector (C6)
// and explainer (C7) workers use to call their configured LLMs (§6 of
// the processing backbone spec), plus the alternate in-process chat
// backends (Ollama farm, OpenAI, Gemini) wired in from the teacher's
// provider stack for when ai_model names one of them directly instead
// of a bare HTTP endpoint.
package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChatClient is the minimal interface the detector and explainer need:
// send a single user prompt (optionally preceded by a system prompt),
// get back the model's raw text reply.
type ChatClient interface {
	Chat(ctx context.Context, system, prompt string) (string, error)
}

// chatMessage mirrors the {role, content} shape of the documented
// external contract.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// HTTPChatClient posts to a configured chat endpoint using the
// documented request/response contract: {model, messages, stream:false}
// in, {message:{content}} or an NDJSON stream of such objects out.
type HTTPChatClient struct {
	endpoint string
	model    string
	http     *http.Client
}

// NewHTTPChatClient builds a client bound to one endpoint and model
// name. timeout bounds every call; on timeout the caller treats it the
// same as any other LLM failure (fallback path or a failed record).
func NewHTTPChatClient(endpoint, model string, timeout time.Duration) *HTTPChatClient {
	return &HTTPChatClient{
		endpoint: endpoint,
		model:    model,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *HTTPChatClient) Chat(ctx context.Context, system, prompt string) (string, error) {
	var messages []chatMessage
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	reqBody, err := json.Marshal(chatRequest{Model: c.model, Messages: messages, Stream: false})
	if err != nil {
		return "", fmt.Errorf("llmclient: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("llmclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llmclient: request to %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llmclient: %s returned status %d", c.endpoint, resp.StatusCode)
	}

	content, err := parseChatResponse(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llmclient: parse response from %s: %w", c.endpoint, err)
	}
	return content, nil
}

// chatResponseShape covers both a single-object {message:{content}}
// response and one line of an NDJSON stream, which additionally may
// carry a bare "response" field (the Ollama generate-style shape).
type chatResponseShape struct {
	Message  *struct {
		Content string `json:"content"`
	} `json:"message"`
	Response string `json:"response"`
}

// parseChatResponse is tolerant of either a single JSON object or an
// NDJSON stream of objects, concatenating whichever of
// response/message.content each line supplies.
func parseChatResponse(body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var out strings.Builder
	sawAny := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var shape chatResponseShape
		if err := json.Unmarshal([]byte(line), &shape); err != nil {
			continue
		}
		sawAny = true
		if shape.Message != nil && shape.Message.Content != "" {
			out.WriteString(shape.Message.Content)
		} else if shape.Response != "" {
			out.WriteString(shape.Response)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan response body: %w", err)
	}
	if !sawAny {
		return "", fmt.Errorf("no parseable response object found")
	}
	return out.String(), nil
}
