package llmclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/presbrey/ollamafarm"
)

// OllamaFarmClient fronts a pool of Ollama-compatible servers, picking
// the first one currently online, exactly the teacher's
// pkg/assistant/providers/ollama pattern.
type OllamaFarmClient struct {
	farm  *ollamafarm.Farm
	model string
}

// NewOllamaFarmClient registers every server URL with the farm. A
// registration failure for one server is logged by the caller and does
// not prevent the others from being usable.
func NewOllamaFarmClient(model string, serverURLs []string) (*OllamaFarmClient, []error) {
	farm := ollamafarm.New()
	var errs []error
	for _, url := range serverURLs {
		if err := farm.RegisterURL(url, nil); err != nil {
			errs = append(errs, fmt.Errorf("ollamafarm: register %s: %w", url, err))
		}
	}
	return &OllamaFarmClient{farm: farm, model: model}, errs
}

func (o *OllamaFarmClient) Chat(ctx context.Context, system, prompt string) (string, error) {
	node := o.farm.First(&ollamafarm.Where{Offline: false})
	if node == nil {
		return "", fmt.Errorf("ollamafarm: no online server for model %s", o.model)
	}

	var messages []api.Message
	if system != "" {
		messages = append(messages, api.Message{Role: "system", Content: system})
	}
	messages = append(messages, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{Model: o.model, Messages: messages, Stream: &stream}

	var reply strings.Builder
	err := node.Client().Chat(ctx, req, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollamafarm: chat: %w", err)
	}
	return reply.String(), nil
}
