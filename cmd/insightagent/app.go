package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/seenimoa/insightagent/internal/edgar"
	"github.com/seenimoa/insightagent/internal/infra"
	"github.com/seenimoa/insightagent/internal/intent"
	"github.com/seenimoa/insightagent/internal/llm"
	"github.com/seenimoa/insightagent/internal/pipeline"
	"github.com/seenimoa/insightagent/internal/registry"
	"github.com/seenimoa/insightagent/internal/xbrl"
)

// app holds the collaborators wired from the loaded config.
type app struct {
	log       *slog.Logger
	registry  *registry.Registry
	resolver  *xbrl.Resolver
	client    *edgar.Client
	retriever *edgar.Retriever
	router    *llm.Router // nil when no LLM provider is configured
	orch      *pipeline.Orchestrator
}

// newApp builds the pipeline from cfg. When needParser is set a missing LLM
// provider is an error; otherwise free-text queries simply fail at parse time.
func newApp(needParser bool) (*app, error) {
	log := infra.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	reg := registry.Default()
	if cfg.Registry.File != "" {
		var err error
		if reg, err = registry.LoadFile(cfg.Registry.File); err != nil {
			return nil, fmt.Errorf("load registry: %w", err)
		}
	}

	a := &app{
		log:      log,
		registry: reg,
		resolver: xbrl.NewResolver(cfg.Tags),
		client:   edgar.NewClientFromConfig(cfg.EDGAR, log),
	}
	a.retriever = edgar.NewRetriever(a.client, reg, log)

	router, err := llm.NewRouterFromConfig(cfg, log)
	switch {
	case err == nil:
		a.router = router
	case needParser || !errors.Is(err, llm.ErrNoProviders):
		return nil, fmt.Errorf("intent parser unavailable: %w", err)
	}

	pc := pipeline.Config{
		Retriever:    a.retriever,
		Resolver:     a.resolver,
		Registry:     reg,
		ParseTimeout: cfg.Pipeline.ParseTimeout(),
		Logger:       log,
	}
	if a.router != nil {
		pc.Parser = intent.NewLLMParser(a.router, reg,
			intent.WithMetrics(a.resolver.Metrics()),
			intent.WithChatOptions(llm.ChatOptions{
				Temperature: cfg.LLM.Temperature,
				MaxTokens:   cfg.LLM.MaxTokens,
				JSONMode:    true,
			}),
			intent.WithLogger(log),
		)
	}
	a.orch = pipeline.New(pc)
	return a, nil
}

// filingSummary is the printable part of a retrieved filing.
type filingSummary struct {
	*edgar.FilingDocument
	Bytes int `json:"bytes"`
}

func summarize(fd *edgar.FilingDocument) *filingSummary {
	return &filingSummary{FilingDocument: fd, Bytes: len(fd.Text)}
}

// filterFacts keeps facts whose tag contains filter, ignoring case.
func filterFacts(facts []xbrl.Fact, filter string) []xbrl.Fact {
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == "" {
		return facts
	}
	var out []xbrl.Fact
	for _, f := range facts {
		if strings.Contains(strings.ToLower(f.Name), filter) {
			out = append(out, f)
		}
	}
	return out
}

