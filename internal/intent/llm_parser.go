package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/seenimoa/insightagent/internal/llm"
	"github.com/seenimoa/insightagent/internal/registry"
	"github.com/seenimoa/insightagent/pkg/models"
)

// LLMParser asks a language model to extract the intent as a JSON object.
type LLMParser struct {
	provider llm.LLMProvider
	registry *registry.Registry
	metrics  []string
	opts     llm.ChatOptions
	log      *slog.Logger
}

// Option configures an LLMParser.
type Option func(*LLMParser)

// WithMetrics lists the metric names offered to the model in the prompt.
func WithMetrics(metrics []string) Option {
	return func(p *LLMParser) { p.metrics = metrics }
}

// WithChatOptions overrides the model request options.
func WithChatOptions(opts llm.ChatOptions) Option {
	return func(p *LLMParser) { p.opts = opts }
}

// WithLogger sets the parser's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *LLMParser) { p.log = l }
}

// NewLLMParser creates a parser backed by provider. The registry supplies
// the company list shown to the model.
func NewLLMParser(provider llm.LLMProvider, reg *registry.Registry, opts ...Option) *LLMParser {
	p := &LLMParser{
		provider: provider,
		registry: reg,
		metrics:  []string{"Revenues", "NetIncome", "TotalAssets", "TotalLiabilities", "StockholdersEquity"},
		opts:     llm.ChatOptions{Temperature: 0, MaxTokens: 256, JSONMode: true},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse sends the query to the model and decodes its reply.
func (p *LLMParser) Parse(ctx context.Context, query string) (models.Intent, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.Intent{}, &ParseError{Query: query, Reason: "empty query"}
	}

	opts := p.opts
	resp, err := p.provider.Chat(ctx, []llm.Message{
		llm.SystemMessage(p.SystemPrompt()),
		llm.UserMessage(query),
	}, &opts)
	if err != nil {
		if ctx.Err() != nil {
			return models.Intent{}, ctx.Err()
		}
		return models.Intent{}, &ModelError{Provider: p.provider.Name(), Err: err}
	}

	p.log.Debug("intent model reply", "provider", resp.Provider, "model", resp.Model,
		"tokens", resp.Usage.TotalTokens, "latency", resp.Latency)
	return Decode(query, resp.Content)
}

// SystemPrompt returns the instruction sent ahead of every query.
func (p *LLMParser) SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a financial data assistant. Users ask about company financial data in natural language.\n\n")
	b.WriteString("Parse the user's query and reply with a single JSON object and nothing else:\n")
	b.WriteString("{\n")
	b.WriteString(`  "company_identifier": "ticker symbol, e.g. AAPL",` + "\n")
	b.WriteString(`  "metric_name": "financial metric, e.g. Revenues or NetIncome",` + "\n")
	b.WriteString(`  "year": 2023,` + "\n")
	b.WriteString(fmt.Sprintf(`  "filing_type": "%s or %s (default %s)"`+"\n", models.FormAnnual, models.FormQuarterly, models.DefaultFilingType))
	b.WriteString("}\n\n")
	if p.registry != nil {
		fmt.Fprintf(&b, "Supported companies: %s\n", strings.Join(p.registry.Identifiers(), ", "))
	}
	if len(p.metrics) > 0 {
		fmt.Fprintf(&b, "Supported metrics: %s\n", strings.Join(p.metrics, ", "))
	}
	b.WriteString("\nIf the query cannot be understood, reply with: {\"error\": \"<short reason>\"}\n")
	return b.String()
}
