package policy

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/hrguard/hrguard/pkg/config"
	"github.com/hrguard/hrguard/pkg/hr"
	"github.com/hrguard/hrguard/pkg/telemetry"
)

// FailOpenConfidence marks decisions produced after an internal fault.
const FailOpenConfidence = 0.5

// SettingsSource supplies the settings snapshot for an evaluation.
// *config.Store satisfies it.
type SettingsSource interface {
	Snapshot() *config.Settings
}

// CaseResolver looks up a case when the Context does not carry one.
// *cases.Store satisfies it.
type CaseResolver interface {
	Lookup(ctx context.Context, key hr.Key) (*hr.CaseRecord, error)
}

// Engine evaluates Contexts against an ordered rule chain. It holds no
// mutable state of its own and is safe for concurrent use.
type Engine struct {
	rules       []Rule
	extra       []Rule
	settings    SettingsSource
	resolver    CaseResolver
	recorder    Recorder
	logger      zerolog.Logger
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
	now         func() time.Time
	concurrency int
}

// Option configures an Engine.
type Option func(*Engine)

// WithRules replaces the rule chain.
func WithRules(rules []Rule) Option {
	return func(e *Engine) { e.rules = rules }
}

// WithOperatorRules inserts rules ahead of default_allow, after every
// built-in restriction.
func WithOperatorRules(rules ...Rule) Option {
	return func(e *Engine) { e.extra = append(e.extra, rules...) }
}

// WithCaseResolver enables case lookup for Contexts without a case.
func WithCaseResolver(r CaseResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithRecorder persists every decision. Recording is best-effort.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l.With().Str("component", "policy-engine").Logger() }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides time.Now for auto-approve deadlines.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithConcurrency bounds BatchEvaluate parallelism.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewEngine creates an engine reading settings from src.
func NewEngine(src SettingsSource, opts ...Option) *Engine {
	e := &Engine{
		rules:       DefaultRules(),
		settings:    src,
		logger:      zerolog.Nop(),
		tracer:      otel.Tracer("github.com/hrguard/hrguard/pkg/policy"),
		now:         func() time.Time { return time.Now().UTC() },
		concurrency: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	if len(e.extra) > 0 {
		e.rules = insertBeforeDefault(e.rules, e.extra)
	}
	return e
}

// RuleNames returns the rule chain in evaluation order.
func (e *Engine) RuleNames() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name
	}
	return names
}

// Evaluate always returns a decision. Internal failures, including panics,
// become ALLOW with ERROR_OCCURRED and reduced confidence.
func (e *Engine) Evaluate(ctx context.Context, c *Context) *Decision {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "policy.evaluate")
	defer span.End()

	d, err := e.safeEvaluate(ctx, c)
	if err != nil {
		telemetry.RecordError(span, err)
		e.metrics.RecordError(string(hr.ErrorClassEvaluation))
		e.contextLogger(c).Error().Err(err).Msg("Policy evaluation failed, allowing")
		d = &Decision{
			Verdict:    VerdictAllow,
			ReasonCode: ReasonErrorOccurred,
			Message:    fmt.Sprintf("evaluation error: %v", err),
			Confidence: FailOpenConfidence,
			Rule:       "fail_open",
		}
	} else {
		telemetry.RecordSuccess(span)
	}

	d.DecisionID = uuid.NewString()
	d.EvaluatedAt = e.now()
	elapsed := time.Since(start)
	d.ProcessingTimeMS = float64(elapsed.Microseconds()) / 1000

	action := ""
	if c != nil {
		action = string(c.Action)
		span.SetAttributes(
			telemetry.AttrAction.String(action),
			telemetry.AttrTrigger.String(string(c.Trigger)),
			telemetry.AttrSiteKey.String(c.SiteKey),
			telemetry.AttrTorrentID.String(c.TorrentID),
		)
	}
	span.SetAttributes(
		telemetry.AttrVerdict.String(string(d.Verdict)),
		telemetry.AttrReasonCode.String(string(d.ReasonCode)),
	)
	e.metrics.RecordDecision(action, string(d.Verdict), string(d.ReasonCode), elapsed)

	e.contextLogger(c).Debug().
		Str("decision_id", d.DecisionID).
		Str("decision", string(d.Verdict)).
		Str("reason_code", string(d.ReasonCode)).
		Str("rule", d.Rule).
		Float64("processing_ms", d.ProcessingTimeMS).
		Msg("Policy decision")

	e.record(ctx, c, d)
	return d
}

// BatchEvaluate evaluates each context independently. A failure in one item
// yields ERROR_OCCURRED for that item only. Results keep the input order.
func (e *Engine) BatchEvaluate(ctx context.Context, contexts []*Context) []*Decision {
	out := make([]*Decision, len(contexts))
	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup

	for i, c := range contexts {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, c *Context) {
			defer wg.Done()
			defer func() { <-sem }()
			out[i] = e.Evaluate(ctx, c)
		}(i, c)
	}

	wg.Wait()
	return out
}

func (e *Engine) safeEvaluate(ctx context.Context, c *Context) (d *Decision, err error) {
	defer func() {
		if p := recover(); p != nil {
			d = nil
			err = &hr.Error{Class: hr.ErrorClassEvaluation, Op: "evaluate", Message: fmt.Sprintf("panic: %v", p)}
		}
	}()
	return e.evaluate(ctx, c)
}

func (e *Engine) evaluate(ctx context.Context, c *Context) (*Decision, error) {
	if c == nil {
		return nil, &hr.Error{Class: hr.ErrorClassEvaluation, Op: "evaluate", Message: "context is required"}
	}

	var settings *config.Settings
	if e.settings != nil {
		settings = e.settings.Snapshot()
	}
	if settings == nil {
		settings = config.Default()
	}

	in := &Input{
		Context:      c,
		Case:         c.Case,
		Global:       settings.Global,
		Site:         settings.SiteSettings(c.SiteKey),
		Subscription: settings.SubscriptionSettings(c.SubscriptionID),
		Now:          e.now(),
	}

	// The kill-switch must not depend on a case lookup succeeding.
	if in.Case == nil && e.resolver != nil && settings.Global.EnableHRProtection && c.SiteKey != "" && c.TorrentID != "" {
		rec, err := e.resolver.Lookup(ctx, c.Key())
		switch {
		case err == nil:
			in.Case = rec
		case hr.IsNotFound(err):
		default:
			return nil, &hr.Error{Class: hr.ErrorClassEvaluation, Op: "resolve_case", Key: c.Key(), Message: "case lookup failed", Err: err}
		}
	}

	for _, rule := range e.rules {
		out, err := rule.apply(ctx, in)
		if err != nil {
			return nil, &hr.Error{Class: hr.ErrorClassEvaluation, Op: rule.Name, Key: c.Key(), Message: "rule failed", Err: err}
		}
		if out == nil {
			continue
		}
		return &Decision{
			Verdict:              out.Verdict,
			ReasonCode:           out.Reason,
			Message:              out.Message,
			Confidence:           1.0,
			RequiresUserAction:   out.RequiresUserAction,
			AutoApproveAfter:     out.AutoApproveAfter,
			SuggestedAlternative: out.SuggestedAlternative,
			CaseSnapshot:         in.Case.Clone(),
			Rule:                 rule.Name,
		}, nil
	}

	return nil, &hr.Error{Class: hr.ErrorClassEvaluation, Op: "evaluate", Message: "no rule matched"}
}

func (e *Engine) record(ctx context.Context, c *Context, d *Decision) {
	if e.recorder == nil || c == nil {
		return
	}
	if err := e.recorder.Record(ctx, c, d); err != nil {
		e.contextLogger(c).Warn().Err(err).Str("decision_id", d.DecisionID).Msg("Failed to record decision")
	}
}

func (e *Engine) contextLogger(c *Context) *zerolog.Logger {
	l := e.logger
	if c != nil {
		l = telemetry.CaseLogger(l, c.Key()).With().
			Str("action", string(c.Action)).
			Str("trigger", string(c.Trigger)).
			Logger()
	}
	return &l
}
