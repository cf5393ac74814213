package controllers

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ManuelReschke/PayProof/app/models"
	"github.com/ManuelReschke/PayProof/internal/pkg/cache"
	"github.com/ManuelReschke/PayProof/internal/pkg/payment"
	"github.com/ManuelReschke/PayProof/internal/pkg/upload"
	"github.com/ManuelReschke/PayProof/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	walletsCacheKey = "payproof:wallets:active"
	walletsCacheTTL = time.Minute
)

// PaymentController serves the buyer facing payment endpoints.
type PaymentController struct {
	service      *payment.Service
	cacheWallets bool
}

func NewPaymentController(service *payment.Service, cacheWallets bool) *PaymentController {
	return &PaymentController{service: service, cacheWallets: cacheWallets}
}

type submitTransactionBody struct {
	TransactionID string   `json:"transaction_id"`
	Amount        *float64 `json:"amount"`
}

// HandleListWallets returns the active wallets
func (pc *PaymentController) HandleListWallets(c *fiber.Ctx) error {
	var wallets []models.WalletConfig
	if pc.cacheWallets {
		err := cache.GetJSON(walletsCacheKey, &wallets)
		if err == nil {
			return respondOK(c, fiber.StatusOK, wallets)
		}
		if !errors.Is(err, redis.Nil) {
			log.Warnf("[API] Wallet cache read failed: %v", err)
		}
	}

	wallets, err := pc.service.GetActiveWallets(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	if pc.cacheWallets {
		if err := cache.SetJSON(walletsCacheKey, wallets, walletsCacheTTL); err != nil {
			log.Warnf("[API] Wallet cache write failed: %v", err)
		}
	}
	return respondOK(c, fiber.StatusOK, wallets)
}

// HandleInitiatePayment opens a payment request for the caller
func (pc *PaymentController) HandleInitiatePayment(c *fiber.Ctx) error {
	var in payment.InitiatePaymentInput
	if err := c.BodyParser(&in); err != nil {
		return respondMessage(c, fiber.StatusBadRequest, "invalid request body")
	}
	res, err := pc.service.InitiatePayment(c.UserContext(), usercontext.GetUserID(c), in)
	if err != nil {
		return respondError(c, err)
	}
	return respondOK(c, fiber.StatusCreated, res)
}

// HandleListPayments lists the caller's payment requests
func (pc *PaymentController) HandleListPayments(c *fiber.Ctx) error {
	requests, err := pc.service.GetUserPaymentRequests(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return respondOK(c, fiber.StatusOK, requests)
}

// HandleGetPayment returns one of the caller's payment requests
func (pc *PaymentController) HandleGetPayment(c *fiber.Ctx) error {
	req, err := pc.owned(c)
	if err != nil {
		return respondError(c, err)
	}
	return respondOK(c, fiber.StatusOK, req)
}

// HandleDeepLinkClick records that the wallet deep link was opened
func (pc *PaymentController) HandleDeepLinkClick(c *fiber.Ctx) error {
	req, err := pc.owned(c)
	if err != nil {
		return respondError(c, err)
	}
	updated, err := pc.service.RecordDeepLinkClick(c.UserContext(), req.ID)
	if err != nil {
		return respondError(c, err)
	}
	return respondOK(c, fiber.StatusOK, updated)
}

// HandleSubmitTransaction stores a manually entered transaction id
func (pc *PaymentController) HandleSubmitTransaction(c *fiber.Ctx) error {
	req, err := pc.owned(c)
	if err != nil {
		return respondError(c, err)
	}
	var body submitTransactionBody
	if err := c.BodyParser(&body); err != nil {
		return respondMessage(c, fiber.StatusBadRequest, "invalid request body")
	}
	res, err := pc.service.SubmitTransactionID(c.UserContext(), req.ID, body.TransactionID, body.Amount)
	if err != nil {
		return respondError(c, err)
	}
	return respondOK(c, fiber.StatusOK, res)
}

// HandleUploadReceipt runs OCR on an uploaded receipt image
func (pc *PaymentController) HandleUploadReceipt(c *fiber.Ctx) error {
	req, err := pc.owned(c)
	if err != nil {
		return respondError(c, err)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return respondMessage(c, fiber.StatusBadRequest, "file is required")
	}
	if fileHeader.Size > upload.MaxReceiptSize {
		return respondMessage(c, fiber.StatusBadRequest, upload.ErrFileTooLarge.Error())
	}
	file, err := fileHeader.Open()
	if err != nil {
		return respondMessage(c, fiber.StatusBadRequest, "file could not be read")
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, upload.MaxReceiptSize+1))
	if err != nil {
		return respondMessage(c, fiber.StatusBadRequest, "file could not be read")
	}

	res, err := pc.service.ProcessReceiptUpload(c.UserContext(), req.ID, payment.ReceiptUpload{
		Data:       data,
		Filename:   fileHeader.Filename,
		ClientText: c.FormValue("client_text"),
	})
	if err != nil {
		return respondError(c, err)
	}
	return respondOK(c, fiber.StatusOK, res)
}

// HandleCancelPayment cancels one of the caller's open requests
func (pc *PaymentController) HandleCancelPayment(c *fiber.Ctx) error {
	req, err := pc.owned(c)
	if err != nil {
		return respondError(c, err)
	}
	cancelled, err := pc.service.CancelPaymentRequest(c.UserContext(), req.ID)
	if err != nil {
		return respondError(c, err)
	}
	return respondOK(c, fiber.StatusOK, cancelled)
}

// owned loads the request in :id. Requests of other users are reported as not found.
func (pc *PaymentController) owned(c *fiber.Ctx) (*models.PaymentRequest, error) {
	id, ok := paramID(c)
	if !ok {
		return nil, fmt.Errorf("%w: invalid payment request id", payment.ErrValidation)
	}
	return pc.service.GetPaymentRequestForUser(c.UserContext(), id, usercontext.GetUserID(c))
}
