package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
)

// EmailSender delivers a single mail
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// PurchaseGranter adds a paid item to a buyer's library
type PurchaseGranter interface {
	GrantPurchase(ctx context.Context, userID uint, itemType string, itemID uint, paymentRequestID uint) error
}

// Dependencies are the collaborators used by job processors
type Dependencies struct {
	Mailer    EmailSender
	Purchases PurchaseGranter
}

var errMissingDependency = errors.New("job dependency not configured")

// processSendEmailJob delivers a queued notification mail
func (q *Queue) processSendEmailJob(ctx context.Context, job *Job) error {
	payload, err := SendEmailJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid send_email payload: %w", err)
	}
	if payload.To == "" {
		return fmt.Errorf("send_email job %s has no recipient", job.ID)
	}
	if q.deps.Mailer == nil {
		return fmt.Errorf("%w: mailer", errMissingDependency)
	}

	if err := q.deps.Mailer.Send(ctx, payload.To, payload.Subject, payload.Body); err != nil {
		return fmt.Errorf("failed to send mail for payment request %d: %w", payload.PaymentRequestID, err)
	}
	log.Infof("[JobQueue] Notification for payment request %d sent to %s", payload.PaymentRequestID, payload.To)
	return nil
}

// processGrantPurchaseJob retries a library grant that failed during approval
func (q *Queue) processGrantPurchaseJob(ctx context.Context, job *Job) error {
	payload, err := GrantPurchaseJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid grant_purchase payload: %w", err)
	}
	if payload.UserID == 0 || payload.ItemID == 0 || payload.ItemType == "" {
		return fmt.Errorf("grant_purchase job %s has incomplete payload", job.ID)
	}
	if q.deps.Purchases == nil {
		return fmt.Errorf("%w: purchases", errMissingDependency)
	}

	if err := q.deps.Purchases.GrantPurchase(ctx, payload.UserID, payload.ItemType, payload.ItemID, payload.PaymentRequestID); err != nil {
		return fmt.Errorf("failed to grant %s %d to user %d: %w", payload.ItemType, payload.ItemID, payload.UserID, err)
	}
	log.Infof("[JobQueue] Granted %s %d to user %d (payment request %d)", payload.ItemType, payload.ItemID, payload.UserID, payload.PaymentRequestID)
	return nil
}

// SendEmailNotification queues a notification mail that belongs to no payment request
func (q *Queue) SendEmailNotification(ctx context.Context, to, subject, body string) error {
	return q.SendPaymentNotification(ctx, 0, to, subject, body)
}

// SendPaymentNotification queues a notification mail about a payment request
func (q *Queue) SendPaymentNotification(ctx context.Context, paymentRequestID uint, to, subject, body string) error {
	_, err := q.EnqueueJobContext(ctx, JobTypeSendEmail, SendEmailJobPayload{
		To:               to,
		Subject:          subject,
		Body:             body,
		PaymentRequestID: paymentRequestID,
	}.ToMap())
	return err
}

// ScheduleGrantRetry queues another attempt at a failed library grant
func (q *Queue) ScheduleGrantRetry(ctx context.Context, userID uint, itemType string, itemID uint, paymentRequestID uint) error {
	_, err := q.EnqueueJobContext(ctx, JobTypeGrantPurchase, GrantPurchaseJobPayload{
		UserID:           userID,
		ItemType:         itemType,
		ItemID:           itemID,
		PaymentRequestID: paymentRequestID,
	}.ToMap())
	return err
}
