package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuelReschke/PayProof/app/models"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
)

// ErrNoRequest is returned when Evaluate is called without a request.
var ErrNoRequest = errors.New("no payment request to evaluate")

// RuleSource loads the active rules.
type RuleSource interface {
	GetActive(ctx context.Context) ([]models.AutoMatchingRule, error)
}

// Result is the outcome of one engine pass.
type Result struct {
	Matched    bool    `json:"matched"`
	Confidence float64 `json:"confidence"`
	RuleID     *uint   `json:"rule_id,omitempty"`
	RuleType   string  `json:"rule_type,omitempty"`
	Reason     string  `json:"reason"`
	// Replayed is set when the stored result of an already matched request is returned.
	Replayed bool `json:"replayed"`
}

// snapshot is never mutated after it is published.
type snapshot struct {
	rules    []compiledRule
	skipped  int
	loadedAt time.Time
}

// Engine evaluates payment evidence against the configured rules.
type Engine struct {
	source   RuleSource
	cfg      Config
	validate *validator.Validate

	mu       sync.Mutex
	ready    atomic.Bool
	snapshot atomic.Pointer[snapshot]
}

// NewEngine creates an engine. Rules are loaded on Initialize or on first use.
func NewEngine(source RuleSource, cfg Config) *Engine {
	if cfg.MinConfidence <= 0 || cfg.MinConfidence > 1 {
		log.Warnf("[Matching] Minimum confidence %v out of range, using %v", cfg.MinConfidence, DefaultMinConfidence)
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.Defaults.TolerancePercent <= 0 {
		cfg.Defaults.TolerancePercent = DefaultTolerancePercent
	}
	if cfg.Defaults.MaxMinutes <= 0 {
		cfg.Defaults.MaxMinutes = DefaultMaxMinutes
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	return &Engine{
		source:   source,
		cfg:      cfg,
		validate: validator.New(),
	}
}

// Config returns the effective configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// Initialize loads the rules once. Concurrent callers wait for the same load.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.ready.Load() {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready.Load() {
		return nil
	}
	return e.loadLocked(ctx)
}

// Refresh replaces the rule set with the current configuration.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadLocked(ctx)
}

// Ready reports whether a rule set has been loaded
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// RuleCount returns the number of usable rules in the current set
func (e *Engine) RuleCount() int {
	if s := e.snapshot.Load(); s != nil {
		return len(s.rules)
	}
	return 0
}

func (e *Engine) loadLocked(ctx context.Context) error {
	rules, err := e.source.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load auto matching rules: %w", err)
	}

	next := &snapshot{loadedAt: time.Now()}
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		compiled, err := compileRule(e.validate, rule)
		if err != nil {
			next.skipped++
			log.Warnf("[Matching] Skipping rule %d (%s): %v", rule.ID, rule.Name, err)
			continue
		}
		next.rules = append(next.rules, *compiled)
	}

	sort.SliceStable(next.rules, func(i, j int) bool {
		a, b := next.rules[i].rule, next.rules[j].rule
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ID < b.ID
	})

	e.snapshot.Store(next)
	e.ready.Store(true)
	log.Infof("[Matching] Loaded %d rules (%d skipped)", len(next.rules), next.skipped)
	return nil
}

// Evaluate runs the active rules over the request's evidence. An already
// matched request returns its stored result without evaluating anything.
func (e *Engine) Evaluate(ctx context.Context, ec EvalContext) (Result, error) {
	if ec.Request == nil {
		return Result{}, ErrNoRequest
	}
	if ec.Request.AutoMatchedAt != nil {
		return e.replay(ec.Request), nil
	}

	if err := e.Initialize(ctx); err != nil {
		return Result{}, err
	}
	if ec.Now.IsZero() {
		ec.Now = time.Now()
	}
	if ec.Defaults.TolerancePercent <= 0 {
		ec.Defaults.TolerancePercent = e.cfg.Defaults.TolerancePercent
	}
	if ec.Defaults.MaxMinutes <= 0 {
		ec.Defaults.MaxMinutes = e.cfg.Defaults.MaxMinutes
	}

	snap := e.snapshot.Load()
	var best *compiledRule
	var bestOutcome outcome
	for i := range snap.rules {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		r := &snap.rules[i]
		o := r.evaluate(ec)
		log.Debugf("[Matching] Request %d rule %d (%s): matched=%t confidence=%.2f %s",
			ec.Request.ID, r.rule.ID, r.rule.RuleType, o.matched, o.confidence, o.reason)
		if !o.matched {
			continue
		}
		if best == nil || o.confidence > bestOutcome.confidence {
			best = r
			bestOutcome = o
		}
	}

	if best == nil {
		return Result{Matched: false, Confidence: 0, Reason: "no rule matched"}, nil
	}

	ruleID := best.rule.ID
	result := Result{
		Confidence: clamp01(bestOutcome.confidence),
		RuleID:     &ruleID,
		RuleType:   best.rule.RuleType,
	}
	if result.Confidence >= e.cfg.MinConfidence {
		result.Matched = true
		result.Reason = fmt.Sprintf("%s: %s", best.rule.Name, bestOutcome.reason)
	} else {
		result.Reason = fmt.Sprintf("best confidence %.2f from %s is below required %.2f", result.Confidence, best.rule.Name, e.cfg.MinConfidence)
	}
	return result, nil
}

func (e *Engine) replay(req *models.PaymentRequest) Result {
	res := Result{
		Matched:  true,
		RuleID:   req.AutoMatchRuleID,
		Reason:   req.AutoMatchReason,
		Replayed: true,
	}
	if req.AutoMatchConfidence != nil {
		res.Confidence = clamp01(*req.AutoMatchConfidence)
	}
	if req.AutoMatchRuleID != nil {
		if snap := e.snapshot.Load(); snap != nil {
			for _, r := range snap.rules {
				if r.rule.ID == *req.AutoMatchRuleID {
					res.RuleType = r.rule.RuleType
					break
				}
			}
		}
	}
	return res
}
