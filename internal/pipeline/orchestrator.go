// Package pipeline runs a metric question through intent parsing, filing
// retrieval and tagged-value extraction.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/seenimoa/insightagent/internal/edgar"
	"github.com/seenimoa/insightagent/internal/intent"
	"github.com/seenimoa/insightagent/internal/registry"
	"github.com/seenimoa/insightagent/internal/xbrl"
	"github.com/seenimoa/insightagent/pkg/models"
)

// DefaultParseTimeout bounds the intent parsing call when Config leaves it unset.
const DefaultParseTimeout = 60 * time.Second

// Retriever locates a filing and returns its primary document.
// *edgar.Retriever implements it.
type Retriever interface {
	Retrieve(ctx context.Context, identifier string, year int, form string) (*edgar.FilingDocument, error)
}

// Request is one query. When Intent is set it is used as-is (after
// normalization) and Query is only echoed back.
type Request struct {
	Query    string         `json:"query,omitempty"`
	Intent   *models.Intent `json:"intent,omitempty"`
	Observer Observer       `json:"-"`
}

// ── Events ──

// EventStatus describes a stage transition.
type EventStatus string

const (
	StatusStarted   EventStatus = "started"
	StatusCompleted EventStatus = "completed"
	StatusFailed    EventStatus = "failed"
)

// Event is emitted to an Observer on every stage transition.
type Event struct {
	RunID   string       `json:"run_id"`
	Stage   models.Stage `json:"stage"`
	Status  EventStatus  `json:"status"`
	Message string       `json:"message,omitempty"`
	At      time.Time    `json:"at"`
}

// Observer receives stage events. Calls are made synchronously from the
// goroutine running the pipeline.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnEvent calls f(e).
func (f ObserverFunc) OnEvent(e Event) { f(e) }

// ── Orchestrator ──

// Config holds the collaborators of an Orchestrator.
type Config struct {
	Parser       intent.Parser
	Retriever    Retriever
	Resolver     *xbrl.Resolver
	Registry     *registry.Registry
	ParseTimeout time.Duration
	Logger       *slog.Logger
}

// Orchestrator sequences the pipeline stages. It holds no per-run state and
// is safe for concurrent use.
type Orchestrator struct {
	parser       intent.Parser
	retriever    Retriever
	resolver     *xbrl.Resolver
	registry     *registry.Registry
	parseTimeout time.Duration
	log          *slog.Logger
}

// New creates an Orchestrator. Resolver and Registry fall back to the
// built-in tables when nil.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		parser:       cfg.Parser,
		retriever:    cfg.Retriever,
		resolver:     cfg.Resolver,
		registry:     cfg.Registry,
		parseTimeout: cfg.ParseTimeout,
		log:          cfg.Logger,
	}
	if o.resolver == nil {
		o.resolver = xbrl.NewResolver(nil)
	}
	if o.registry == nil {
		o.registry = registry.Default()
	}
	if o.parseTimeout <= 0 {
		o.parseTimeout = DefaultParseTimeout
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// Resolver returns the tag resolver in use.
func (o *Orchestrator) Resolver() *xbrl.Resolver { return o.resolver }

// Registry returns the company registry in use.
func (o *Orchestrator) Registry() *registry.Registry { return o.registry }

// state is the snapshot threaded through the stages. Stages return a new
// value and never modify the one they receive.
type state struct {
	result models.PipelineResult
	intent models.Intent
	doc    *edgar.FilingDocument
	err    error
}

type stage struct {
	name models.Stage
	run  func(context.Context, state) state
}

// Ask runs a free-text query.
func (o *Orchestrator) Ask(ctx context.Context, query string) models.PipelineResult {
	return o.Run(ctx, Request{Query: query})
}

// Query runs a structured intent.
func (o *Orchestrator) Query(ctx context.Context, in models.Intent) models.PipelineResult {
	return o.Run(ctx, Request{Intent: &in})
}

// Run executes the pipeline for one request. It never panics; unexpected
// faults become a failed result carrying the panic value.
func (o *Orchestrator) Run(ctx context.Context, req Request) (res models.PipelineResult) {
	st := state{result: models.PipelineResult{
		RunID: uuid.NewString(),
		Query: req.Query,
		Stage: models.StageParseIntent,
	}}
	emit := func(s models.Stage, status EventStatus, msg string) {
		if req.Observer == nil {
			return
		}
		req.Observer.OnEvent(Event{RunID: st.result.RunID, Stage: s, Status: status, Message: msg, At: time.Now()})
	}

	defer func() {
		if r := recover(); r != nil {
			o.log.Error("pipeline panic", "run_id", st.result.RunID, "stage", st.result.Stage, "panic", r)
			failed := fail(st, fmt.Errorf("pipeline failed: panic: %v", r))
			emit(models.StageFailed, StatusFailed, failed.result.Error)
			res = failed.result
		}
	}()

	stages := []stage{
		{models.StageParseIntent, func(ctx context.Context, s state) state { return o.parseIntent(ctx, s, req.Intent) }},
		{models.StageRetrieveFiling, o.retrieveFiling},
		{models.StageExtractMetric, o.extractMetric},
	}
	for _, s := range stages {
		st.result.Stage = s.name
		emit(s.name, StatusStarted, "")
		start := time.Now()

		next := s.run(ctx, st)
		if next.err != nil {
			o.log.Warn("pipeline stage failed", "run_id", st.result.RunID, "stage", s.name,
				"kind", next.result.ErrorKind, "error", next.err, "elapsed", time.Since(start))
			emit(s.name, StatusFailed, next.result.Error)
			emit(models.StageFailed, StatusFailed, next.result.Error)
			return next.result
		}
		o.log.Debug("pipeline stage completed", "run_id", st.result.RunID, "stage", s.name, "elapsed", time.Since(start))
		emit(s.name, StatusCompleted, "")
		st = next
	}

	st.result.Stage = models.StageDone
	st.result.Success = true
	emit(models.StageDone, StatusCompleted, "")
	return st.result
}

// fail returns a copy of s in the failure terminal.
func fail(s state, err error) state {
	s.err = err
	s.result.Success = false
	s.result.Stage = models.StageFailed
	s.result.Error = err.Error()
	s.result.ErrorKind = string(Classify(err))
	s.result.ExtractedValue = nil
	return s
}

// ── Stages ──

func (o *Orchestrator) parseIntent(ctx context.Context, s state, structured *models.Intent) state {
	var in models.Intent
	if structured != nil {
		in = structured.Normalize()
		if err := in.Validate(); err != nil {
			return fail(s, fmt.Errorf("invalid intent: %w", err))
		}
	} else {
		if o.parser == nil {
			return fail(s, fmt.Errorf("intent parse failed: no parser configured"))
		}
		pctx, cancel := context.WithTimeout(ctx, o.parseTimeout)
		defer cancel()

		parsed, err := o.parser.Parse(pctx, s.result.Query)
		if err != nil {
			return fail(s, fmt.Errorf("intent parse failed: %w", err))
		}
		in = parsed.Normalize()
		if err := in.Validate(); err != nil {
			return fail(s, fmt.Errorf("intent parse failed: %w", &intent.ParseError{
				Query: s.result.Query, Reason: err.Error(), Err: err,
			}))
		}
	}

	s.intent = in
	s.result.ParsedIntent = &in
	return s
}

func (o *Orchestrator) retrieveFiling(ctx context.Context, s state) state {
	in := s.intent
	if !o.registry.Supports(in.CompanyIdentifier) {
		_, err := o.registry.Lookup(in.CompanyIdentifier)
		return fail(s, fmt.Errorf("filing retrieval failed: %w", err))
	}
	if o.retriever == nil {
		return fail(s, fmt.Errorf("filing retrieval failed: no retriever configured"))
	}

	doc, err := o.retriever.Retrieve(ctx, in.CompanyIdentifier, in.Year, in.FilingType)
	if err != nil {
		return fail(s, fmt.Errorf("filing retrieval failed: %w", err))
	}
	s.doc = doc
	return s
}

func (o *Orchestrator) extractMetric(_ context.Context, s state) state {
	doc, err := xbrl.ParseString(s.doc.Text)
	if err != nil {
		return fail(s, fmt.Errorf("XBRL extraction failed: %w", err))
	}
	value, err := ExtractValue(doc, o.resolver.Resolve(s.intent.MetricName), s.intent)
	if err != nil {
		return fail(s, err)
	}
	s.result.ExtractedValue = value
	return s
}

// ExtractValue looks the candidate tags up in order and returns the first
// fact found, or an *ExtractionExhaustedError naming every tag tried.
func ExtractValue(doc *xbrl.Document, tags []string, in models.Intent) (*models.ExtractedValue, error) {
	for _, tag := range tags {
		fact, ok := doc.Lookup(tag)
		if !ok {
			continue
		}
		return &models.ExtractedValue{
			Ticker:     in.CompanyIdentifier,
			Metric:     in.MetricName,
			TagUsed:    tag,
			Year:       in.Year,
			FilingType: in.FilingType,
			Value:      fact.Value,
			Unit:       fact.Unit,
		}, nil
	}
	return nil, &ExtractionExhaustedError{Metric: in.MetricName, Tried: tags}
}
