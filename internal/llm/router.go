package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/seenimoa/insightagent/internal/config"
)

// Router sends chat requests to the primary provider and falls back through
// the configured chain when it fails.
type Router struct {
	mu         sync.RWMutex
	providers  map[string]LLMProvider
	primary    string
	fallbacks  []string
	maxRetries int
	retryDelay time.Duration
	log        *slog.Logger
}

type RouterOption func(*Router)

// WithFallbacks names the providers tried after the primary, in order.
func WithFallbacks(providers ...string) RouterOption {
	return func(r *Router) { r.fallbacks = providers }
}

// WithMaxRetries bounds extra attempts on one provider before falling back.
func WithMaxRetries(n int) RouterOption {
	return func(r *Router) { r.maxRetries = n }
}

// WithRetryDelay is the backoff step; attempt n waits n times this.
func WithRetryDelay(d time.Duration) RouterOption {
	return func(r *Router) { r.retryDelay = d }
}

func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.log = l }
}

// NewRouter defaults to one retry after 500ms and no fallbacks.
func NewRouter(primary string, opts ...RouterOption) *Router {
	r := &Router{
		providers:  make(map[string]LLMProvider),
		primary:    primary,
		maxRetries: 1,
		retryDelay: 500 * time.Millisecond,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterProvider replaces any provider with the same name.
func (r *Router) RegisterProvider(provider LLMProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.Name()] = provider
}

func (r *Router) GetProvider(name string) (LLMProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Primary returns the primary provider.
func (r *Router) Primary() (LLMProvider, error) {
	p, ok := r.GetProvider(r.primary)
	if !ok {
		return nil, fmt.Errorf("%w: primary provider %q not registered", ErrNoProviders, r.primary)
	}
	return p, nil
}

// Chat tries the primary provider, then each fallback in order. A done
// context stops the chain.
func (r *Router) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	var lastErr error
	for _, name := range r.providerChain() {
		provider, ok := r.GetProvider(name)
		if !ok {
			continue
		}

		resp, err := r.chatWithRetry(ctx, provider, messages, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.log.Warn("llm provider failed, trying next", "provider", name, "error", err)
	}

	if lastErr == nil {
		return nil, ErrNoProviders
	}
	return nil, fmt.Errorf("llm/router: all providers failed, last error: %w", lastErr)
}

// HealthCheck pings every registered provider concurrently. A nil entry
// means healthy.
func (r *Router) HealthCheck(ctx context.Context) map[string]error {
	r.mu.RLock()
	providers := make(map[string]LLMProvider, len(r.providers))
	for k, v := range r.providers {
		providers[k] = v
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(providers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, provider := range providers {
		wg.Add(1)
		go func(n string, p LLMProvider) {
			defer wg.Done()
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			err := p.Ping(pingCtx)
			mu.Lock()
			results[n] = err
			mu.Unlock()
		}(name, provider)
	}

	wg.Wait()
	return results
}

func (r *Router) Name() string {
	return "router/" + r.primary
}

// Ping checks the primary provider only.
func (r *Router) Ping(ctx context.Context) error {
	p, err := r.Primary()
	if err != nil {
		return err
	}
	return p.Ping(ctx)
}

// ProviderNames lists registered providers, sorted.
func (r *Router) ProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ── Internal Helpers ──

func (r *Router) providerChain() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := []string{r.primary}
	for _, fb := range r.fallbacks {
		if fb != r.primary {
			chain = append(chain, fb)
		}
	}
	return chain
}

func (r *Router) chatWithRetry(ctx context.Context, provider LLMProvider,
	messages []Message, opts *ChatOptions) (*Response, error) {

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := r.retryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := provider.Chat(ctx, messages, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if isNonRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// isNonRetryable reports errors a second attempt on the same provider
// cannot fix.
func isNonRetryable(err error) bool {
	return errors.Is(err, ErrNoAPIKey) || errors.Is(err, ErrInvalidModel)
}

// NewRouterFromConfig creates a Router from the application config. OpenAI
// is registered when a key is present, Ollama when a URL is set; the
// configured primary is tried first and the other registered provider
// becomes the fallback.
func NewRouterFromConfig(cfg *config.Config, log *slog.Logger) (*Router, error) {
	if log == nil {
		log = slog.Default()
	}
	httpClient := &http.Client{Timeout: cfg.LLM.Timeout()}
	if cfg.LLM.TimeoutSec <= 0 {
		httpClient.Timeout = 60 * time.Second
	}

	var registered []string
	router := NewRouter(cfg.LLM.Primary, WithRouterLogger(log))

	if cfg.LLM.OpenAIKey != "" {
		opts := []OpenAIOption{
			WithOpenAIModel(cfg.LLM.Model),
			WithOpenAIHTTPClient(httpClient),
		}
		if cfg.LLM.OpenAIURL != "" {
			opts = append(opts, WithOpenAIBaseURL(cfg.LLM.OpenAIURL))
		}
		p, err := NewOpenAIProvider(cfg.LLM.OpenAIKey, opts...)
		if err == nil {
			router.RegisterProvider(p)
			registered = append(registered, ProviderOpenAI)
		}
	}

	if cfg.LLM.OllamaURL != "" {
		model := cfg.LLM.OllamaModel
		if cfg.LLM.Primary == ProviderOllama && model == "" {
			model = cfg.LLM.Model
		}
		opts := []OllamaOption{WithOllamaHTTPClient(httpClient)}
		if model != "" {
			opts = append(opts, WithOllamaModel(model))
		}
		p, err := NewOllamaProvider(cfg.LLM.OllamaURL, opts...)
		if err == nil {
			router.RegisterProvider(p)
			registered = append(registered, ProviderOllama)
		}
	}

	if len(registered) == 0 {
		return nil, ErrNoProviders
	}

	var fallbacks []string
	for _, name := range registered {
		if name != cfg.LLM.Primary {
			fallbacks = append(fallbacks, name)
		}
	}
	router.fallbacks = fallbacks
	if _, ok := router.GetProvider(cfg.LLM.Primary); !ok {
		router.primary = registered[0]
		log.Warn("configured primary LLM provider unavailable", "primary", cfg.LLM.Primary, "using", router.primary)
	}
	return router, nil
}
