package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ManuelReschke/PayProof/app/models"
	"github.com/ManuelReschke/PayProof/app/repository"
	"github.com/ManuelReschke/PayProof/internal/pkg/imageprocessor"
	"github.com/ManuelReschke/PayProof/internal/pkg/mail"
	"github.com/ManuelReschke/PayProof/internal/pkg/matching"
	"github.com/ManuelReschke/PayProof/internal/pkg/ocr"
	"github.com/ManuelReschke/PayProof/internal/pkg/upload"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	maxTxIDLength        = 100
	maxReferenceAttempts = 3
)

// Matcher evaluates payment evidence.
type Matcher interface {
	Evaluate(ctx context.Context, ec matching.EvalContext) (matching.Result, error)
	Config() matching.Config
}

// Extractor turns a receipt image into OCR evidence. It never fails.
type Extractor interface {
	Extract(ctx context.Context, image []byte, opts ocr.Options) ocr.Result
}

// Notifier delivers buyer notifications.
type Notifier interface {
	SendEmailNotification(ctx context.Context, to, subject, body string) error
}

// PaymentNotifier is implemented by notifiers that can tag a mail with its payment request.
type PaymentNotifier interface {
	SendPaymentNotification(ctx context.Context, paymentRequestID uint, to, subject, body string) error
}

// GrantRetryScheduler queues another attempt at a failed library grant.
type GrantRetryScheduler interface {
	ScheduleGrantRetry(ctx context.Context, userID uint, itemType string, itemID uint, paymentRequestID uint) error
}

// ReceiptArchive stores the original receipt bytes and returns the object key.
type ReceiptArchive interface {
	Store(ctx context.Context, reference string, data []byte, contentType string) (string, error)
}

// Preprocessor prepares receipt bytes for OCR.
type Preprocessor func(data []byte, mimeType string) ([]byte, imageprocessor.ReceiptInfo, error)

// Dependencies are the collaborators of the Service. Notifier, GrantRetry and
// Archive are optional.
type Dependencies struct {
	Requests   repository.PaymentRequestRepository
	Wallets    repository.WalletConfigRepository
	Logs       repository.VerificationLogRepository
	Purchases  repository.PurchaseRepository
	Users      repository.UserRepository
	Matcher    Matcher
	OCR        Extractor
	Notifier   Notifier
	GrantRetry GrantRetryScheduler
	Archive    ReceiptArchive
	Preprocess Preprocessor
}

// Service drives payment requests through their lifecycle.
type Service struct {
	requests   repository.PaymentRequestRepository
	wallets    repository.WalletConfigRepository
	logs       repository.VerificationLogRepository
	purchases  repository.PurchaseRepository
	users      repository.UserRepository
	matcher    Matcher
	ocr        Extractor
	notifier   Notifier
	grantRetry GrantRetryScheduler
	archive    ReceiptArchive
	preprocess Preprocessor

	cfg      Config
	validate *validator.Validate
	now      func() time.Time

	// pending tracks notification goroutines
	pending sync.WaitGroup
}

// NewService creates a new payment service
func NewService(deps Dependencies, cfg Config) *Service {
	preprocess := deps.Preprocess
	if preprocess == nil {
		preprocess = imageprocessor.NormalizeReceipt
	}
	return &Service{
		requests:   deps.Requests,
		wallets:    deps.Wallets,
		logs:       deps.Logs,
		purchases:  deps.Purchases,
		users:      deps.Users,
		matcher:    deps.Matcher,
		ocr:        deps.OCR,
		notifier:   deps.Notifier,
		grantRetry: deps.GrantRetry,
		archive:    deps.Archive,
		preprocess: preprocess,
		cfg:        cfg.withDefaults(),
		validate:   validator.New(),
		now:        time.Now,
	}
}

// NewServiceFromDB wires the GORM repositories of db into a service.
func NewServiceFromDB(db *gorm.DB, matcher Matcher, extractor Extractor, cfg Config) *Service {
	repos := repository.NewRepositories(db)
	return NewService(Dependencies{
		Requests:  repos.PaymentRequest,
		Wallets:   repos.WalletConfig,
		Logs:      repos.VerificationLog,
		Purchases: repos.Purchase,
		Users:     repos.User,
		Matcher:   matcher,
		OCR:       extractor,
	}, cfg)
}

// SetNotifier sets the notification channel
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetGrantRetryScheduler sets where failed grants are retried
func (s *Service) SetGrantRetryScheduler(g GrantRetryScheduler) {
	s.grantRetry = g
}

// SetArchive sets the receipt archive
func (s *Service) SetArchive(a ReceiptArchive) {
	s.archive = a
}

// Wait blocks until pending notifications are handed off.
func (s *Service) Wait() {
	s.pending.Wait()
}

// InitiatePayment opens a new payment request for an item.
func (s *Service) InitiatePayment(ctx context.Context, userID uint, in InitiatePaymentInput) (*InitiatePaymentResult, error) {
	if userID == 0 {
		return nil, validationError("user id is required")
	}
	in.ItemType = strings.TrimSpace(in.ItemType)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError("%v", err)
	}
	amount, ok := roundAmount(in.Amount)
	if !ok {
		return nil, validationError("amount must be positive")
	}

	open, err := s.requests.HasOpenRequest(ctx, userID, in.ItemType, in.ItemID)
	if err != nil {
		return nil, persistenceError("check open requests", err)
	}
	if open {
		return nil, openRequestConflict(in.ItemType, in.ItemID)
	}
	owned, err := s.purchases.HasPurchase(ctx, userID, in.ItemType, in.ItemID)
	if err != nil {
		return nil, persistenceError("check library", err)
	}
	if owned {
		return nil, fmt.Errorf("%w: %s %d is already in the library", ErrConflict, in.ItemType, in.ItemID)
	}

	wallet, err := s.wallets.GetActiveByID(ctx, in.WalletID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: wallet %d", ErrNotFound, in.WalletID)
		}
		return nil, persistenceError("load wallet", err)
	}
	if !strings.EqualFold(wallet.Currency, in.Currency) {
		return nil, validationError("wallet %d accepts %s, not %s", wallet.ID, wallet.Currency, in.Currency)
	}

	walletID := wallet.ID
	req := &models.PaymentRequest{
		UserID:           userID,
		ItemType:         in.ItemType,
		ItemID:           in.ItemID,
		Amount:           amount,
		Currency:         in.Currency,
		Status:           models.PaymentStatusCreated,
		SelectedWalletID: &walletID,
	}
	for attempt := 1; ; attempt++ {
		req.ID = 0
		req.Reference = NewReference(s.cfg.ReferencePrefix)
		err = s.requests.Create(ctx, req)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, persistenceError("create payment request", err)
		}
		// Either a concurrent initiation won the open slot or the reference collided.
		open, checkErr := s.requests.HasOpenRequest(ctx, userID, in.ItemType, in.ItemID)
		if checkErr != nil || open || attempt >= maxReferenceAttempts {
			return nil, openRequestConflict(in.ItemType, in.ItemID)
		}
	}

	log.Infof("[Payment] Request %d (%s) created for user %d: %s %d, %.2f %s via wallet %d",
		req.ID, req.Reference, userID, req.ItemType, req.ItemID, req.Amount, req.Currency, wallet.ID)

	return &InitiatePaymentResult{
		Request:  req,
		Wallet:   wallet,
		DeepLink: BuildDeepLink(wallet.DeepLinkTemplate, req.Amount, req.Reference, req.Currency, wallet.AccountNumber),
	}, nil
}

// RecordDeepLinkClick notes that the buyer opened the wallet app.
func (s *Service) RecordDeepLinkClick(ctx context.Context, id uint) (*models.PaymentRequest, error) {
	req, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != models.PaymentStatusCreated && req.Status != models.PaymentStatusPaymentInitiated {
		return nil, transitionError("record a deep link click for", req.Status)
	}

	err = s.transition(ctx, req, "record a deep link click for",
		[]string{models.PaymentStatusCreated, models.PaymentStatusPaymentInitiated},
		map[string]interface{}{
			"deep_link_clicked_at": s.now(),
			"status":               models.PaymentStatusPaymentInitiated,
		})
	if err != nil {
		return nil, err
	}
	log.Infof("[Payment] Request %d (%s) deep link clicked", req.ID, req.Reference)
	return req, nil
}

// SubmitTransactionID stores a buyer supplied transaction id and runs the matcher.
func (s *Service) SubmitTransactionID(ctx context.Context, id uint, txID string, amount *float64) (*SubmissionResult, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return nil, validationError("transaction id is required")
	}
	if len(txID) > maxTxIDLength {
		return nil, validationError("transaction id must be at most %d characters", maxTxIDLength)
	}
	var manualAmount *float64
	if amount != nil {
		v, ok := roundAmount(*amount)
		if !ok {
			return nil, validationError("amount must be positive")
		}
		manualAmount = &v
	}

	req, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.IsTerminal() {
		return nil, transitionError("submit evidence for", req.Status)
	}

	fields := map[string]interface{}{
		"manual_tx_id": txID,
		"status":       models.PaymentStatusPaymentVerified,
	}
	if manualAmount != nil {
		fields["manual_amount"] = *manualAmount
	}
	if err := s.transition(ctx, req, "submit evidence for", models.NonTerminalPaymentStatuses(), fields); err != nil {
		return nil, err
	}
	log.Infof("[Payment] Request %d (%s) transaction id submitted", req.ID, req.Reference)

	res, err := s.runAutoMatch(ctx, req, models.VerificationMethodTransactionID)
	if err != nil {
		return nil, err
	}
	return &SubmissionResult{
		Matched:              res.Matched,
		Confidence:           res.Confidence,
		RequiresManualReview: !res.Matched,
		Reason:               res.Reason,
		Request:              req,
	}, nil
}

// ProcessReceiptUpload runs OCR over a receipt image and matches what it found.
func (s *Service) ProcessReceiptUpload(ctx context.Context, id uint, in ReceiptUpload) (*ReceiptResult, error) {
	mimeType, err := upload.ValidateReceipt(in.Filename, in.Data)
	if err != nil {
		return nil, validationError("%v", err)
	}

	req, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.IsTerminal() {
		return nil, transitionError("submit evidence for", req.Status)
	}

	fields := map[string]interface{}{}
	if s.archive != nil {
		key, err := s.archive.Store(ctx, req.Reference, in.Data, mimeType)
		if err != nil {
			log.Warnf("[Payment] Request %d (%s) receipt archive failed: %v", req.ID, req.Reference, err)
		} else {
			fields["receipt_object_key"] = key
		}
	}

	image := in.Data
	if processed, info, err := s.preprocess(in.Data, mimeType); err != nil {
		log.Debugf("[Payment] Request %d receipt preprocessing skipped: %v", req.ID, err)
	} else {
		log.Debugf("[Payment] Request %d receipt normalised to %dx%d", req.ID, info.Width, info.Height)
		image = processed
		mimeType = "image/png"
	}

	result := s.ocr.Extract(ctx, image, ocr.Options{
		ExpectedAmount: req.Amount,
		MimeType:       mimeType,
		ClientText:     in.ClientText,
	})

	fields["ocr_processed_at"] = s.now()
	fields["ocr_extracted_tx_id"] = result.ExtractedTxID
	fields["ocr_extracted_amount"] = result.ExtractedAmount
	fields["ocr_confidence_score"] = result.ConfidenceScore
	fields["ocr_raw_text"] = result.RawText
	fields["ocr_provider"] = result.Provider
	// The request may have been decided or cancelled while OCR was running.
	if err := s.transition(ctx, req, "submit evidence for", models.NonTerminalPaymentStatuses(), fields); err != nil {
		return nil, err
	}
	log.Infof("[Payment] Request %d (%s) receipt processed by %s (confidence %.2f)",
		req.ID, req.Reference, result.Provider, result.ConfidenceScore)

	out := &ReceiptResult{OCR: result, RequiresManualReview: true, Request: req}
	if result.HasEvidence() {
		res, err := s.runAutoMatch(ctx, req, models.VerificationMethodReceipt)
		if err != nil {
			return nil, err
		}
		out.Match = &res
		out.RequiresManualReview = !res.Matched
	}
	return out, nil
}

// runAutoMatch evaluates req and persists the outcome. Only persistence
// failures are returned; matcher failures degrade to a non-match.
func (s *Service) runAutoMatch(ctx context.Context, req *models.PaymentRequest, trigger string) (matching.Result, error) {
	var history []models.PaymentRequest
	if req.AutoMatchedAt == nil {
		h, err := s.requests.GetRecentByUserID(ctx, req.UserID, req.ID, s.matcher.Config().HistoryLimit)
		if err != nil {
			log.Warnf("[Payment] Request %d history unavailable: %v", req.ID, err)
		} else {
			history = h
		}
	}

	res, err := s.matcher.Evaluate(ctx, matching.EvalContext{Request: req, History: history, Now: s.now()})
	if err != nil {
		log.Warnf("[Payment] Request %d auto-match unavailable: %v", req.ID, err)
		res = matching.Result{Reason: "auto-match unavailable: " + err.Error()}
		s.addLog(ctx, req.ID, models.VerificationStepAutoMatch, models.VerificationOutcomeFailed,
			map[string]interface{}{"trigger": trigger}, err)
		return res, nil
	}
	if res.Replayed {
		return res, nil
	}

	fields := map[string]interface{}{
		"auto_match_confidence": res.Confidence,
		"auto_match_reason":     res.Reason,
	}
	if res.Matched {
		// auto_matched_at keeps the first match time.
		fields["auto_matched_at"] = gorm.Expr("COALESCE(auto_matched_at, ?)", s.now())
		fields["auto_match_rule_id"] = res.RuleID
		fields["verification_method"] = models.VerificationMethodAutoMatch
		fields["status"] = models.PaymentStatusPaymentVerified
	}
	if err := s.transition(ctx, req, "store an auto-match result for", models.NonTerminalPaymentStatuses(), fields); err != nil {
		return res, err
	}

	outcome := models.VerificationOutcomeFailed
	if res.Matched {
		outcome = models.VerificationOutcomeSuccess
		log.Infof("[Payment] Request %d (%s) auto-matched: %s", req.ID, req.Reference, res.Reason)
	}
	s.addLog(ctx, req.ID, models.VerificationStepAutoMatch, outcome, map[string]interface{}{
		"trigger":    trigger,
		"matched":    res.Matched,
		"confidence": res.Confidence,
		"rule_id":    res.RuleID,
		"rule_type":  res.RuleType,
		"reason":     res.Reason,
	}, nil)
	return res, nil
}

// AdminVerifyPayment records an admin's approval or rejection.
func (s *Service) AdminVerifyPayment(ctx context.Context, in AdminVerification) (*VerificationResult, error) {
	in.Notes = strings.TrimSpace(in.Notes)
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError("%v", err)
	}

	req, err := s.loadRequest(ctx, in.PaymentRequestID)
	if err != nil {
		return nil, err
	}
	if req.IsTerminal() {
		return nil, transitionError("verify", req.Status)
	}

	method := in.Method
	if method == "" {
		method = models.VerificationMethodManualReview
	}
	adminID := in.AdminID
	status := models.PaymentStatusFailed
	if in.Approve {
		status = models.PaymentStatusCompleted
	}
	err = s.transition(ctx, req, "verify", models.NonTerminalPaymentStatuses(), map[string]interface{}{
		"admin_verified_at":   s.now(),
		"admin_verified_by":   adminID,
		"admin_notes":         in.Notes,
		"verification_method": method,
		"status":              status,
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Payment] Request %d (%s) %s by admin %d", req.ID, req.Reference, req.Status, adminID)

	result := &VerificationResult{Request: req}
	var grantErr error
	if in.Approve {
		grantErr = s.purchases.GrantPurchase(ctx, req.UserID, req.ItemType, req.ItemID, req.ID)
		if grantErr == nil {
			result.Granted = true
		} else {
			log.Errorf("[Payment] Request %d grant of %s %d to user %d failed: %v",
				req.ID, req.ItemType, req.ItemID, req.UserID, grantErr)
			if s.grantRetry != nil {
				err := s.grantRetry.ScheduleGrantRetry(context.WithoutCancel(ctx), req.UserID, req.ItemType, req.ItemID, req.ID)
				if err != nil {
					log.Errorf("[Payment] Request %d grant retry could not be scheduled: %v", req.ID, err)
				} else {
					result.GrantRetryScheduled = true
				}
			}
		}
	}

	s.notifyDecision(ctx, req.ID, req.UserID, req.Reference, in.Approve, in.Notes)

	outcome := models.VerificationOutcomeFailed
	if in.Approve {
		outcome = models.VerificationOutcomeSuccess
	}
	s.addLog(ctx, req.ID, models.VerificationStepAdminVerification, outcome, map[string]interface{}{
		"admin_id": adminID,
		"approved": in.Approve,
		"method":   method,
		"notes":    in.Notes,
		"granted":  result.Granted,
	}, grantErr)
	return result, nil
}

// CancelPaymentRequest cancels an open request.
func (s *Service) CancelPaymentRequest(ctx context.Context, id uint) (*models.PaymentRequest, error) {
	req, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.IsTerminal() {
		return nil, transitionError("cancel", req.Status)
	}
	err = s.transition(ctx, req, "cancel", models.NonTerminalPaymentStatuses(),
		map[string]interface{}{"status": models.PaymentStatusCancelled})
	if err != nil {
		return nil, err
	}
	log.Infof("[Payment] Request %d (%s) cancelled", req.ID, req.Reference)
	return req, nil
}

// GetPaymentRequest returns a request by id
func (s *Service) GetPaymentRequest(ctx context.Context, id uint) (*models.PaymentRequest, error) {
	return s.loadRequest(ctx, id)
}

// GetPaymentRequestForUser returns a request only if it belongs to userID.
func (s *Service) GetPaymentRequestForUser(ctx context.Context, id, userID uint) (*models.PaymentRequest, error) {
	req, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.UserID != userID {
		return nil, fmt.Errorf("%w: payment request %d", ErrNotFound, id)
	}
	return req, nil
}

// GetVerificationLogs returns the audit trail of a request, oldest first.
func (s *Service) GetVerificationLogs(ctx context.Context, id uint) ([]models.VerificationLog, error) {
	if _, err := s.loadRequest(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.logs.ListByPaymentRequest(ctx, id)
	if err != nil {
		return nil, persistenceError("list verification logs", err)
	}
	return entries, nil
}

// GetUserPaymentRequests lists a user's requests, newest first
func (s *Service) GetUserPaymentRequests(ctx context.Context, userID uint) ([]models.PaymentRequest, error) {
	requests, err := s.requests.GetByUserID(ctx, userID)
	if err != nil {
		return nil, persistenceError("list payment requests", err)
	}
	return requests, nil
}

// transition writes fields while req is still in one of from and reloads req.
// A request that moved on in the meantime yields ErrInvalidTransition.
func (s *Service) transition(ctx context.Context, req *models.PaymentRequest, action string, from []string, fields map[string]interface{}) error {
	err := s.requests.UpdateIfStatus(ctx, req.ID, from, fields)
	if err != nil && !errors.Is(err, repository.ErrStaleState) {
		return persistenceError(action, err)
	}
	current, loadErr := s.loadRequest(ctx, req.ID)
	if loadErr != nil {
		return loadErr
	}
	*req = *current
	if err != nil {
		log.Warnf("[Payment] Request %d changed concurrently, cannot %s it (now %s)", req.ID, action, req.Status)
		return transitionError(action, req.Status)
	}
	return nil
}

// GetActiveWallets lists the wallets buyers can pay to
func (s *Service) GetActiveWallets(ctx context.Context) ([]models.WalletConfig, error) {
	wallets, err := s.wallets.GetActive(ctx)
	if err != nil {
		return nil, persistenceError("list wallets", err)
	}
	return wallets, nil
}

func (s *Service) loadRequest(ctx context.Context, id uint) (*models.PaymentRequest, error) {
	if id == 0 {
		return nil, validationError("payment request id is required")
	}
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: payment request %d", ErrNotFound, id)
		}
		return nil, persistenceError("load payment request", err)
	}
	return req, nil
}

// addLog appends an audit entry. A failed write is logged and otherwise ignored.
func (s *Service) addLog(ctx context.Context, requestID uint, step, outcome string, details map[string]interface{}, entryErr error) {
	if err := s.logs.AddEntry(ctx, requestID, step, outcome, details, entryErr); err != nil {
		log.Errorf("[Payment] Request %d verification log (%s) not written: %v", requestID, step, err)
	}
}

func (s *Service) notifyDecision(ctx context.Context, requestID, userID uint, reference string, approved bool, notes string) {
	if s.notifier == nil || s.users == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NotificationTimeout)
		defer cancel()

		user, err := s.users.GetByID(nctx, userID)
		if err != nil {
			log.Warnf("[Payment] No notification for %s, user %d not loaded: %v", reference, userID, err)
			return
		}
		if user.Email == "" {
			log.Warnf("[Payment] No notification for %s, user %d has no email", reference, userID)
			return
		}
		subject, body := mail.PaymentDecision(user.Name, reference, approved, notes)
		if pn, ok := s.notifier.(PaymentNotifier); ok {
			err = pn.SendPaymentNotification(nctx, requestID, user.Email, subject, body)
		} else {
			err = s.notifier.SendEmailNotification(nctx, user.Email, subject, body)
		}
		if err != nil {
			log.Warnf("[Payment] Notification for %s failed: %v", reference, err)
		}
	}()
}

func openRequestConflict(itemType string, itemID uint) error {
	return fmt.Errorf("%w: an open payment request already exists for %s %d", ErrConflict, itemType, itemID)
}

// roundAmount rounds to cents and rejects non-positive or non-finite values.
func roundAmount(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	rounded, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return rounded, rounded > 0
}
