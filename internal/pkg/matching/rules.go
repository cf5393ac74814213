package matching

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/ManuelReschke/PayProof/app/models"
	"github.com/go-playground/validator/v10"
)

// EvalContext is everything a rule may look at.
type EvalContext struct {
	Request *models.PaymentRequest
	// History holds the user's most recent prior requests.
	History  []models.PaymentRequest
	Defaults Defaults
	Now      time.Time
}

type outcome struct {
	matched    bool
	confidence float64
	reason     string
}

type evaluator func(ec EvalContext) outcome

// compiledRule is a rule whose conditions passed validation.
type compiledRule struct {
	rule     models.AutoMatchingRule
	evaluate evaluator
}

// compileRule validates the condition payload and binds the evaluator.
func compileRule(v *validator.Validate, rule models.AutoMatchingRule) (*compiledRule, error) {
	decoded, err := rule.DecodeConditions()
	if err != nil {
		return nil, err
	}
	if err := v.Struct(decoded); err != nil {
		return nil, fmt.Errorf("invalid conditions for rule %d: %w", rule.ID, err)
	}

	var eval evaluator
	switch c := decoded.(type) {
	case *models.AmountMatchConditions:
		eval = amountMatch(c)
	case *models.TxIDPatternConditions:
		re, err := regexp.Compile("(?i)" + c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern for rule %d: %w", rule.ID, err)
		}
		eval = txIDPattern(re, baseOr(c.BaseConfidence, DefaultTxIDPatternBase))
	case *models.TimeWindowConditions:
		eval = timeWindow(c)
	case *models.UserHistoryConditions:
		eval = userHistory(c)
	default:
		return nil, fmt.Errorf("unsupported conditions %T", decoded)
	}
	return &compiledRule{rule: rule, evaluate: eval}, nil
}

func amountMatch(c *models.AmountMatchConditions) evaluator {
	base := baseOr(c.BaseConfidence, DefaultAmountMatchBase)
	return func(ec EvalContext) outcome {
		req := ec.Request
		if req.ManualAmount == nil {
			return outcome{reason: "no manual amount"}
		}
		expected := req.Amount
		if expected <= 0 {
			return outcome{reason: "expected amount is not positive"}
		}
		tolerance := ec.Defaults.TolerancePercent
		if c.TolerancePercent != nil {
			tolerance = *c.TolerancePercent
		}
		if tolerance <= 0 {
			tolerance = DefaultTolerancePercent
		}

		actual := *req.ManualAmount
		source := "manual"
		if req.OCRExtractedAmount != nil {
			actual = *req.OCRExtractedAmount
			source = "ocr"
		}

		diff := math.Abs(actual-expected) / expected * 100
		if diff > tolerance {
			return outcome{reason: fmt.Sprintf("%s amount %.2f differs from %.2f by %.2f%% (tolerance %.2f%%)", source, actual, expected, diff, tolerance)}
		}
		return outcome{
			matched:    true,
			confidence: clamp01(base * (0.5 + 0.5*(tolerance-diff)/tolerance)),
			reason:     fmt.Sprintf("%s amount %.2f within %.2f%% of %.2f", source, actual, tolerance, expected),
		}
	}
}

func txIDPattern(re *regexp.Regexp, base float64) evaluator {
	return func(ec EvalContext) outcome {
		txID := ec.Request.TransactionID()
		if txID == "" {
			return outcome{reason: "no transaction id"}
		}
		if !re.MatchString(txID) {
			return outcome{reason: "transaction id does not match pattern"}
		}
		return outcome{
			matched:    true,
			confidence: clamp01(base),
			reason:     fmt.Sprintf("transaction id %s matches pattern", txID),
		}
	}
}

func timeWindow(c *models.TimeWindowConditions) evaluator {
	base := baseOr(c.BaseConfidence, DefaultTimeWindowBase)
	return func(ec EvalContext) outcome {
		req := ec.Request
		if req.DeepLinkClickedAt == nil {
			return outcome{reason: "deep link was never opened"}
		}
		if req.TransactionID() == "" {
			return outcome{reason: "no transaction id"}
		}
		maxMinutes := ec.Defaults.MaxMinutes
		if c.MaxMinutes != nil {
			maxMinutes = *c.MaxMinutes
		}
		if maxMinutes <= 0 {
			maxMinutes = DefaultMaxMinutes
		}

		elapsed := ec.Now.Sub(*req.DeepLinkClickedAt).Minutes()
		if elapsed < 0 {
			elapsed = 0
		}
		if elapsed > maxMinutes {
			return outcome{reason: fmt.Sprintf("submitted %.1f minutes after deep link (limit %.0f)", elapsed, maxMinutes)}
		}
		return outcome{
			matched:    true,
			confidence: clamp01(base * (0.3 + 0.7*(maxMinutes-elapsed)/maxMinutes)),
			reason:     fmt.Sprintf("submitted %.1f minutes after deep link", elapsed),
		}
	}
}

func userHistory(c *models.UserHistoryConditions) evaluator {
	base := baseOr(c.BaseConfidence, DefaultUserHistoryBase)
	minCompleted := DefaultMinCompleted
	if c.MinCompleted != nil {
		minCompleted = *c.MinCompleted
	}
	return func(ec EvalContext) outcome {
		completed := 0
		for _, prior := range ec.History {
			if prior.ID != ec.Request.ID && prior.Status == models.PaymentStatusCompleted {
				completed++
			}
		}
		if completed < minCompleted {
			return outcome{reason: fmt.Sprintf("%d completed prior payments (need %d)", completed, minCompleted)}
		}
		return outcome{
			matched:    true,
			confidence: clamp01(base),
			reason:     fmt.Sprintf("user has %d completed prior payments", completed),
		}
	}
}

func baseOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
