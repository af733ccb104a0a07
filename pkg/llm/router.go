package llm

import (
	"context"
	"fmt"
	"sync"
)

// Router assigns a model to each purpose a run calls the LLM for: the
// main model that drives analysis and modification turns, and the
// cheaper fixing model reserved for structured-output repair. A request
// that carries its own selectedModel/fixingModel lands here, layered
// over the workflow's configured defaults.
type Router struct {
	mu sync.RWMutex

	provider         Provider
	mainModel        string
	fixingModel      string
	useMainForFixing bool
}

// NewRouter creates a Router over provider. The main model starts as
// the provider's first advertised model; the fixing model starts empty
// and falls back to main until set.
func NewRouter(provider Provider) *Router {
	r := &Router{provider: provider}
	if models := provider.Models(); len(models) > 0 {
		r.mainModel = models[0]
	}
	return r
}

// SetMainModel pins the model used for ordinary completion turns.
func (r *Router) SetMainModel(model string) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	if model != "" {
		r.mainModel = model
	}
	return r
}

// SetFixingModel pins the model used for structured-output repair.
func (r *Router) SetFixingModel(model string) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fixingModel = model
	return r
}

// SetUseMainForFixing forces repair calls onto the main model even when
// a distinct fixing model is configured.
func (r *Router) SetUseMainForFixing(v bool) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.useMainForFixing = v
	return r
}

// MainModel returns the model serving ordinary turns.
func (r *Router) MainModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mainModel
}

// FixingModel returns the model serving repair calls: the configured
// fixing model, or the main model when none is set or the caller asked
// to reuse it.
func (r *Router) FixingModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.useMainForFixing || r.fixingModel == "" {
		return r.mainModel
	}
	return r.fixingModel
}

// ForMain returns a Provider pinned to the main model.
func (r *Router) ForMain() Provider {
	return &pinnedProvider{router: r, pick: (*Router).MainModel}
}

// ForFixing returns a Provider pinned to the fixing model.
func (r *Router) ForFixing() Provider {
	return &pinnedProvider{router: r, pick: (*Router).FixingModel}
}

// pinnedProvider overrides every request's model with the router's
// current pick for one purpose, so model selection stays in one place
// no matter which call site builds the request.
type pinnedProvider struct {
	router *Router
	pick   func(*Router) string
}

func (p *pinnedProvider) Name() string     { return p.router.provider.Name() }
func (p *pinnedProvider) Models() []string { return []string{p.pick(p.router)} }

func (p *pinnedProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	req.Model = p.pick(p.router)
	return p.router.provider.Complete(ctx, req)
}

func (p *pinnedProvider) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	req.Model = p.pick(p.router)
	return p.router.provider.Stream(ctx, req)
}

func (p *pinnedProvider) CountTokens(content string) (int, error) {
	return p.router.provider.CountTokens(content)
}

// NewProvider constructs a named backend: "anthropic", "gemini",
// "ollama", or "custom" (an Ollama-compatible endpoint at baseURL).
// This is the one construction path shared by the service config and by
// per-request provider selection.
func NewProvider(ctx context.Context, kind, apiKey, baseURL string) (Provider, error) {
	switch kind {
	case "anthropic":
		return NewAnthropicProviderWithConfig(AnthropicConfig{APIKey: apiKey, BaseURL: baseURL})
	case "gemini":
		return NewGeminiProvider(ctx, apiKey)
	case "ollama", "custom":
		return NewOllamaProvider(baseURL), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", kind)
	}
}

// MultiProvider chains a primary provider with fallbacks: each call
// tries the primary first and walks the rest in order until one
// succeeds. An auth failure on the primary is terminal, never fallen
// through, so a bad credential surfaces instead of silently draining a
// second account.
type MultiProvider struct {
	providers []Provider
}

// NewMultiProvider creates a MultiProvider; the first argument is the
// primary.
func NewMultiProvider(providers ...Provider) *MultiProvider {
	return &MultiProvider{providers: providers}
}

// Name identifies the chain by its primary.
func (mp *MultiProvider) Name() string {
	if len(mp.providers) == 0 {
		return "multi:empty"
	}
	return "multi:" + mp.providers[0].Name()
}

// Models returns the union of every chained provider's models,
// primary's first.
func (mp *MultiProvider) Models() []string {
	seen := make(map[string]bool)
	var models []string
	for _, p := range mp.providers {
		for _, m := range p.Models() {
			if !seen[m] {
				seen[m] = true
				models = append(models, m)
			}
		}
	}
	return models
}

// Complete walks the chain until a provider succeeds.
func (mp *MultiProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	var lastErr error
	for i, p := range mp.providers {
		resp, err := p.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if i == 0 && IsAuthError(err) {
			return nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		return nil, fmt.Errorf("llm: no providers configured")
	}
	return nil, fmt.Errorf("llm: all providers failed: %w", lastErr)
}

// Stream walks the chain until a provider succeeds.
func (mp *MultiProvider) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	var lastErr error
	for i, p := range mp.providers {
		ch, err := p.Stream(ctx, req)
		if err == nil {
			return ch, nil
		}
		if i == 0 && IsAuthError(err) {
			return nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		return nil, fmt.Errorf("llm: no providers configured")
	}
	return nil, fmt.Errorf("llm: all providers failed: %w", lastErr)
}

// CountTokens delegates to the primary.
func (mp *MultiProvider) CountTokens(content string) (int, error) {
	if len(mp.providers) == 0 {
		return 0, fmt.Errorf("llm: no providers configured")
	}
	return mp.providers[0].CountTokens(content)
}
