package payment

import (
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// BuildDeepLink fills the wallet's template placeholders. An empty template
// yields an empty link.
func BuildDeepLink(template string, amount float64, reference, currency, account string) string {
	if template == "" {
		return ""
	}
	r := strings.NewReplacer(
		"{amount}", url.QueryEscape(decimal.NewFromFloat(amount).StringFixed(2)),
		"{reference}", url.QueryEscape(reference),
		"{currency}", url.QueryEscape(currency),
		"{account}", url.QueryEscape(account),
	)
	return r.Replace(template)
}
