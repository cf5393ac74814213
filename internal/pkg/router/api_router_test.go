package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ManuelReschke/PayProof/app/controllers"
	"github.com/ManuelReschke/PayProof/app/models"
	"github.com/ManuelReschke/PayProof/app/repository"
	"github.com/ManuelReschke/PayProof/internal/pkg/database"
	"github.com/ManuelReschke/PayProof/internal/pkg/matching"
	"github.com/ManuelReschke/PayProof/internal/pkg/middleware"
	"github.com/ManuelReschke/PayProof/internal/pkg/ocr"
	"github.com/ManuelReschke/PayProof/internal/pkg/payment"
	"github.com/ManuelReschke/PayProof/internal/pkg/ratelimit"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type testServer struct {
	app    *fiber.App
	svc    *payment.Service
	auth   middleware.AuthConfig
	buyer  models.User
	other  models.User
	wallet models.WalletConfig
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := database.NewInMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	s := &testServer{auth: middleware.AuthConfig{Secret: []byte("router-test")}}
	s.buyer = models.User{Name: "Buyer", Email: "buyer@example.com", Role: models.ROLE_USER, Status: models.STATUS_ACTIVE}
	s.other = models.User{Name: "Other", Email: "other@example.com", Role: models.ROLE_USER, Status: models.STATUS_ACTIVE}
	require.NoError(t, db.Create(&s.buyer).Error)
	require.NoError(t, db.Create(&s.other).Error)
	s.wallet = models.WalletConfig{Name: "Bank", Provider: "bank", WalletType: models.WalletTypeBank, AccountNumber: "DE89", Currency: "EUR", IsActive: true}
	require.NoError(t, db.Create(&s.wallet).Error)
	require.NoError(t, db.Create(&models.AutoMatchingRule{
		Name:       "bank refs",
		RuleType:   models.RuleTypeTxIDPattern,
		Conditions: datatypes.JSON(`{"pattern":"^AB\\d{8}$"}`),
		Priority:   10,
		IsActive:   true,
	}).Error)

	repos := repository.NewRepositories(db)
	engine := matching.NewEngine(repos.Rule, matching.DefaultConfig())
	require.NoError(t, engine.Initialize(context.Background()))
	s.svc = payment.NewServiceFromDB(db, engine, ocr.NewPipeline(0.5, time.Second, ocr.NewClientTextProvider(true)), payment.Config{})

	s.app = fiber.New(fiber.Config{ErrorHandler: controllers.ErrorHandler})
	InstallRouter(s.app, Dependencies{
		Payments:     s.svc,
		Rules:        engine,
		Auth:         s.auth,
		ReceiptLimit: ratelimit.Config{Max: 1, Window: time.Minute},
		PingDB: func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Ping()
		},
		RulesReady: engine.Ready,
	})
	return s
}

func (s *testServer) token(t *testing.T, userID uint, role string) string {
	t.Helper()
	tok, err := middleware.IssueToken(s.auth, userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.send(t, req, token)
}

func (s *testServer) send(t *testing.T, req *http.Request, token string) (int, envelope) {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func (s *testServer) initiate(t *testing.T, token string, itemID uint) models.PaymentRequest {
	t.Helper()
	code, env := s.do(t, "POST", "/api/v1/payments", token, map[string]interface{}{
		"item_type": "book", "item_id": itemID, "amount": 25, "currency": "EUR", "wallet_id": s.wallet.ID,
	})
	require.Equal(t, fiber.StatusCreated, code, env.Error)
	var out struct {
		Request models.PaymentRequest `json:"payment_request"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out.Request
}

func receiptRequest(t *testing.T, path, clientText string) *http.Request {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 20, 20))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	img.Set(0, 0, color.White)
	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, img))

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "receipt.png")
	require.NoError(t, err)
	_, err = part.Write(pngBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.WriteField("client_text", clientText))
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp, err := s.app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAPIRequiresToken(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, "GET", "/api/v1/wallets", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, code)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Error)
}

func TestPaymentFlow(t *testing.T) {
	s := newTestServer(t)
	buyer := s.token(t, s.buyer.ID, models.ROLE_USER)

	code, env := s.do(t, "GET", "/api/v1/wallets", buyer, nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.True(t, env.Success)

	req := s.initiate(t, buyer, 3)
	assert.Equal(t, models.PaymentStatusCreated, req.Status)

	code, env = s.do(t, "POST", "/api/v1/payments", buyer, map[string]interface{}{
		"item_type": "book", "item_id": 3, "amount": 25, "currency": "EUR", "wallet_id": s.wallet.ID,
	})
	assert.Equal(t, fiber.StatusConflict, code)
	assert.False(t, env.Success)

	code, _ = s.do(t, "POST", fmt.Sprintf("/api/v1/payments/%d/deeplink-click", req.ID), buyer, nil)
	assert.Equal(t, fiber.StatusOK, code)

	code, env = s.do(t, "POST", fmt.Sprintf("/api/v1/payments/%d/transaction", req.ID), buyer, map[string]interface{}{
		"transaction_id": "AB12345678",
	})
	require.Equal(t, fiber.StatusOK, code, env.Error)
	var submitted payment.SubmissionResult
	require.NoError(t, json.Unmarshal(env.Data, &submitted))
	assert.True(t, submitted.Matched)

	code, env = s.do(t, "GET", "/api/v1/payments", buyer, nil)
	require.Equal(t, fiber.StatusOK, code)
	var list []models.PaymentRequest
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)
}

func TestPaymentsOfOtherUsersAreHidden(t *testing.T) {
	s := newTestServer(t)
	req := s.initiate(t, s.token(t, s.buyer.ID, models.ROLE_USER), 3)
	other := s.token(t, s.other.ID, models.ROLE_USER)

	code, env := s.do(t, "GET", fmt.Sprintf("/api/v1/payments/%d", req.ID), other, nil)
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.False(t, env.Success)

	code, _ = s.do(t, "POST", fmt.Sprintf("/api/v1/payments/%d/cancel", req.ID), other, nil)
	assert.Equal(t, fiber.StatusNotFound, code)
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t)
	buyer := s.token(t, s.buyer.ID, models.ROLE_USER)

	httpReq := httptest.NewRequest("POST", "/api/v1/payments", bytes.NewBufferString("{not json"))
	httpReq.Header.Set("Content-Type", "application/json")
	code, env := s.send(t, httpReq, buyer)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.False(t, env.Success)

	code, _ = s.do(t, "POST", "/api/v1/payments", buyer, map[string]interface{}{
		"item_type": "poster", "item_id": 3, "amount": 25, "currency": "EUR", "wallet_id": s.wallet.ID,
	})
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = s.do(t, "GET", "/api/v1/payments/abc", buyer, nil)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestReceiptUploadIsRateLimited(t *testing.T) {
	s := newTestServer(t)
	buyer := s.token(t, s.buyer.ID, models.ROLE_USER)
	req := s.initiate(t, buyer, 3)
	path := fmt.Sprintf("/api/v1/payments/%d/receipt", req.ID)

	code, env := s.send(t, receiptRequest(t, path, "Ref: AB12345678\nTotal: 25.00"), buyer)
	require.Equal(t, fiber.StatusOK, code, env.Error)
	var res payment.ReceiptResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, ocr.ProviderClientText, res.OCR.Provider)
	require.NotNil(t, res.Match)
	assert.True(t, res.Match.Matched)

	code, env = s.send(t, receiptRequest(t, path, ""), buyer)
	assert.Equal(t, fiber.StatusTooManyRequests, code)
	assert.False(t, env.Success)
}

func TestAdminVerification(t *testing.T) {
	s := newTestServer(t)
	buyer := s.token(t, s.buyer.ID, models.ROLE_USER)
	admin := s.token(t, 900, models.ROLE_ADMIN)
	req := s.initiate(t, buyer, 3)
	path := fmt.Sprintf("/api/v1/admin/payments/%d/verify", req.ID)

	code, _ := s.do(t, "POST", path, buyer, map[string]interface{}{"approve": true})
	assert.Equal(t, fiber.StatusForbidden, code)

	code, _ = s.do(t, "POST", path, admin, map[string]interface{}{"notes": "missing decision"})
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, env := s.do(t, "POST", path, admin, map[string]interface{}{"approve": true, "notes": "ok"})
	require.Equal(t, fiber.StatusOK, code, env.Error)
	var verified payment.VerificationResult
	require.NoError(t, json.Unmarshal(env.Data, &verified))
	assert.True(t, verified.Granted)
	assert.Equal(t, models.PaymentStatusCompleted, verified.Request.Status)

	code, _ = s.do(t, "POST", fmt.Sprintf("/api/v1/payments/%d/cancel", req.ID), buyer, nil)
	assert.Equal(t, fiber.StatusConflict, code)

	code, env = s.do(t, "GET", fmt.Sprintf("/api/v1/admin/payments/%d/logs", req.ID), admin, nil)
	require.Equal(t, fiber.StatusOK, code)
	var entries []models.VerificationLog
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, models.VerificationStepAdminVerification, entries[0].Step)

	code, _ = s.do(t, "GET", fmt.Sprintf("/api/v1/admin/payments/%d/logs", req.ID), buyer, nil)
	assert.Equal(t, fiber.StatusForbidden, code)

	code, env = s.do(t, "POST", "/api/v1/admin/rules/refresh", admin, nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.JSONEq(t, `{"rules":1}`, string(env.Data))

	// no queue wired in this server
	code, _ = s.do(t, "GET", "/api/v1/admin/jobs", admin, nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, code)
	s.svc.Wait()
}
