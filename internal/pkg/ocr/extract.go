package ocr

import (
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

const amountNumber = `([0-9]{1,3}(?:[, '][0-9]{3})+(?:\.[0-9]{1,2})?|[0-9]+(?:\.[0-9]{1,2})?)`

// Tried in order, the first capture containing a digit wins.
var txIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:transaction|trans|txn|tx)\s*(?:id|no\.?|number|ref(?:erence)?)?\s*[:#]?\s*([A-Z0-9][A-Z0-9\-]{5,39})`),
	regexp.MustCompile(`(?i)\b(?:ref(?:erence)?|receipt)\s*(?:id|no\.?|number)?\s*[:#]?\s*([A-Z0-9][A-Z0-9\-]{5,39})`),
	regexp.MustCompile(`\b((?:FT|TT|MP)[0-9]{2}[A-Z0-9]{6,16})\b`),
	regexp.MustCompile(`\b([A-Z]{2,4}[0-9]{6,}[A-Z0-9]*)\b`),
}

var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:total|amount|paid|sum|debited|transferred)\s*(?:amount|paid)?\s*[:=]?\s*(?:ETB|USD|EUR|GBP|KES|NGN|birr|br\.?|\$|€|£)?\s*` + amountNumber),
	regexp.MustCompile(`(?i)(?:\bETB|\bUSD|\bEUR|\bGBP|\bKES|\bNGN|\bbirr|\bbr\.?|\$|€|£)\s*` + amountNumber),
	regexp.MustCompile(`(?i)` + amountNumber + `\s*(?:ETB|USD|EUR|GBP|KES|NGN|birr|br)\b`),
}

// Extract pulls a transaction id and an amount out of recognised receipt text.
func Extract(text string) (*string, *float64) {
	return extractTxID(text), extractAmount(text)
}

func extractTxID(text string) *string {
	for _, re := range txIDPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			candidate := strings.Trim(m[1], "-")
			if containsDigit(candidate) {
				return &candidate
			}
		}
	}
	return nil
}

func extractAmount(text string) *float64 {
	for _, re := range amountPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if v, ok := ParseAmount(m[1]); ok {
				return &v
			}
		}
	}
	return nil
}

// ParseAmount parses a positive money amount, ignoring thousands separators.
func ParseAmount(raw string) (float64, bool) {
	cleaned := strings.NewReplacer(",", "", " ", "", "'", "").Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil || !d.IsPositive() {
		return 0, false
	}
	return d.Round(2).InexactFloat64(), true
}

// Confidence scores how much of a receipt was recognised, in [0,1].
func Confidence(text string, txID *string, amount *float64, expected float64) float64 {
	score := 0.3 * math.Min(float64(len(text))/200.0, 1)
	if txID != nil && *txID != "" {
		score += 0.3
		if len(*txID) >= 10 {
			score += 0.1
		}
	}
	if amount != nil {
		score += 0.2
		if expected > 0 && math.Abs(*amount-expected) <= 0.01 {
			score += 0.1
		}
	}
	return clamp01(score)
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

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
