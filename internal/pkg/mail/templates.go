package mail

import (
	"fmt"
	"html"
)

// PaymentDecision renders the buyer notification after an admin decision.
func PaymentDecision(name, reference string, approved bool, notes string) (string, string) {
	if name == "" {
		name = "there"
	}
	var subject, verdict string
	if approved {
		subject = fmt.Sprintf("Payment %s confirmed", reference)
		verdict = "Your payment has been verified and the item is now in your library."
	} else {
		subject = fmt.Sprintf("Payment %s could not be verified", reference)
		verdict = "We could not verify your payment. Please contact support if you believe this is a mistake."
	}

	body := fmt.Sprintf("<p>Hi %s,</p><p>%s</p><p>Reference: <strong>%s</strong></p>",
		html.EscapeString(name), verdict, html.EscapeString(reference))
	if notes != "" {
		body += fmt.Sprintf("<p>Note from our team: %s</p>", html.EscapeString(notes))
	}
	return subject, body
}
