package llmclient

import (
	"context"
	"fmt"
	"strings"
)

// Router selects among registered chat backends by a model-name
// prefix, mirroring the teacher's provider-mux idiom: "gpt-" routes to
// OpenAI and any name containing "gemini" to Gemini, when those
// backends are configured; every other model goes to the Ollama farm
// when one is configured, and only otherwise to the plain HTTP
// contract against the configured endpoint.
type Router struct {
	farm     ChatClient
	openai   ChatClient
	gemini   ChatClient
	fallback ChatClient
}

// NewRouter wires in whichever backends are configured; a nil backend
// is simply never selected.
func NewRouter(fallback, farm, openai, gemini ChatClient) *Router {
	return &Router{fallback: fallback, farm: farm, openai: openai, gemini: gemini}
}

func (r *Router) Chat(ctx context.Context, model, system, prompt string) (string, error) {
	client := r.pick(model)
	if client == nil {
		return "", fmt.Errorf("llmclient: no backend available for model %q", model)
	}
	return client.Chat(ctx, system, prompt)
}

func (r *Router) pick(model string) ChatClient {
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-") && r.openai != nil:
		return r.openai
	case strings.Contains(lower, "gemini") && r.gemini != nil:
		return r.gemini
	case r.farm != nil:
		return r.farm
	default:
		return r.fallback
	}
}

// ModelSelector resolves the model name to use for the next call,
// typically backed by the live settings store so a settings.save
// changing ai_model takes effect on the very next request.
type ModelSelector func() string

// boundRouter adapts a Router to the plain ChatClient interface the
// detector and explainer depend on, resolving the model per call.
type boundRouter struct {
	router      *Router
	selectModel ModelSelector
}

// NewBoundRouter binds router to selectModel, producing a ChatClient
// the detector/explainer workers can hold without knowing about model
// selection at all.
func NewBoundRouter(router *Router, selectModel ModelSelector) ChatClient {
	return &boundRouter{router: router, selectModel: selectModel}
}

func (b *boundRouter) Chat(ctx context.Context, system, prompt string) (string, error) {
	return b.router.Chat(ctx, b.selectModel(), system, prompt)
}
