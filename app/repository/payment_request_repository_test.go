package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/ManuelReschke/PayProof/app/models"
	"github.com/ManuelReschke/PayProof/internal/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestRepositories(t *testing.T) (*gorm.DB, *Repositories) {
	t.Helper()
	db, err := database.NewInMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db, NewRepositories(db)
}

func openRequest(userID, itemID uint, reference string) *models.PaymentRequest {
	return &models.PaymentRequest{
		UserID:    userID,
		ItemType:  models.ItemTypeBook,
		ItemID:    itemID,
		Amount:    10,
		Currency:  "EUR",
		Reference: reference,
		Status:    models.PaymentStatusCreated,
	}
}

func TestPaymentRequestOpenSlotIsUnique(t *testing.T) {
	_, repos := newTestRepositories(t)
	ctx := context.Background()

	first := openRequest(1, 7, "PP-00000001")
	require.NoError(t, repos.PaymentRequest.Create(ctx, first))

	err := repos.PaymentRequest.Create(ctx, openRequest(1, 7, "PP-00000002"))
	assert.True(t, errors.Is(err, ErrDuplicate), "got %v", err)

	open, err := repos.PaymentRequest.HasOpenRequest(ctx, 1, models.ItemTypeBook, 7)
	require.NoError(t, err)
	assert.True(t, open)

	require.NoError(t, repos.PaymentRequest.UpdateIfStatus(ctx, first.ID, models.NonTerminalPaymentStatuses(),
		map[string]interface{}{"status": models.PaymentStatusFailed}))

	open, err = repos.PaymentRequest.HasOpenRequest(ctx, 1, models.ItemTypeBook, 7)
	require.NoError(t, err)
	assert.False(t, open)

	// closed requests do not block each other
	require.NoError(t, repos.PaymentRequest.Create(ctx, openRequest(1, 7, "PP-00000003")))
	second := openRequest(1, 8, "PP-00000004")
	require.NoError(t, repos.PaymentRequest.Create(ctx, second))
	require.NoError(t, repos.PaymentRequest.UpdateIfStatus(ctx, second.ID, models.NonTerminalPaymentStatuses(),
		map[string]interface{}{"status": models.PaymentStatusCancelled}))
}

func TestUpdateIfStatusRefusesMovedRequest(t *testing.T) {
	_, repos := newTestRepositories(t)
	ctx := context.Background()

	req := openRequest(3, 1, "PP-STALE001")
	require.NoError(t, repos.PaymentRequest.Create(ctx, req))
	require.NoError(t, repos.PaymentRequest.UpdateIfStatus(ctx, req.ID, models.NonTerminalPaymentStatuses(),
		map[string]interface{}{"status": models.PaymentStatusCompleted, "admin_notes": "paid"}))

	err := repos.PaymentRequest.UpdateIfStatus(ctx, req.ID, models.NonTerminalPaymentStatuses(),
		map[string]interface{}{"status": models.PaymentStatusPaymentVerified, "admin_notes": "overwritten"})
	assert.ErrorIs(t, err, ErrStaleState)

	stored, err := repos.PaymentRequest.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, stored.Status)
	assert.Equal(t, "paid", stored.AdminNotes)
	assert.Nil(t, stored.OpenSlot)

	// writing values that are already stored still counts as a match
	require.NoError(t, repos.PaymentRequest.UpdateIfStatus(ctx, req.ID, []string{models.PaymentStatusCompleted},
		map[string]interface{}{"admin_notes": "paid", "updated_at": stored.UpdatedAt}))

	err = repos.PaymentRequest.UpdateIfStatus(ctx, 9999, models.NonTerminalPaymentStatuses(),
		map[string]interface{}{"admin_notes": "x"})
	assert.ErrorIs(t, err, ErrStaleState)
}

func TestPaymentRequestReferenceIsUnique(t *testing.T) {
	_, repos := newTestRepositories(t)
	ctx := context.Background()

	require.NoError(t, repos.PaymentRequest.Create(ctx, openRequest(1, 1, "PP-SAME0001")))
	err := repos.PaymentRequest.Create(ctx, openRequest(2, 2, "PP-SAME0001"))
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestPaymentRequestLookups(t *testing.T) {
	_, repos := newTestRepositories(t)
	ctx := context.Background()

	var ids []uint
	for i, ref := range []string{"PP-A", "PP-B", "PP-C"} {
		req := openRequest(5, uint(i+1), ref)
		require.NoError(t, repos.PaymentRequest.Create(ctx, req))
		ids = append(ids, req.ID)
	}
	require.NoError(t, repos.PaymentRequest.Create(ctx, openRequest(6, 1, "PP-D")))

	all, err := repos.PaymentRequest.GetByUserID(ctx, 5)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)

	recent, err := repos.PaymentRequest.GetRecentByUserID(ctx, 5, ids[2], 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, ids[1], recent[0].ID)

	_, err = repos.PaymentRequest.GetByID(ctx, 9999)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestGrantPurchaseIsIdempotent(t *testing.T) {
	db, repos := newTestRepositories(t)
	ctx := context.Background()

	require.NoError(t, repos.Purchase.GrantPurchase(ctx, 1, models.ItemTypeBundle, 3, 10))
	require.NoError(t, repos.Purchase.GrantPurchase(ctx, 1, models.ItemTypeBundle, 3, 11))

	var count int64
	require.NoError(t, db.Model(&models.UserPurchase{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	owned, err := repos.Purchase.HasPurchase(ctx, 1, models.ItemTypeBundle, 3)
	require.NoError(t, err)
	assert.True(t, owned)
}

func TestVerificationLogAppend(t *testing.T) {
	_, repos := newTestRepositories(t)
	ctx := context.Background()

	require.NoError(t, repos.VerificationLog.AddEntry(ctx, 4, models.VerificationStepAutoMatch, models.VerificationOutcomeFailed, nil, nil))
	require.NoError(t, repos.VerificationLog.AddEntry(ctx, 4, models.VerificationStepAdminVerification, models.VerificationOutcomeSuccess,
		map[string]interface{}{"admin_id": 1}, errors.New("grant failed")))

	entries, err := repos.VerificationLog.ListByPaymentRequest(ctx, 4)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.VerificationStepAutoMatch, entries[0].Step)
	assert.JSONEq(t, `{}`, string(entries[0].Details))
	assert.JSONEq(t, `{"admin_id":1}`, string(entries[1].Details))
	assert.Equal(t, "grant failed", entries[1].Error)
}

func TestActiveConfiguration(t *testing.T) {
	db, repos := newTestRepositories(t)
	ctx := context.Background()

	wallets := []models.WalletConfig{
		{Name: "second", Provider: "bank", AccountNumber: "2", Currency: "EUR", SortOrder: 20, IsActive: true},
		{Name: "first", Provider: "bank", AccountNumber: "1", Currency: "EUR", SortOrder: 10, IsActive: true},
		{Name: "retired", Provider: "bank", AccountNumber: "3", Currency: "EUR", SortOrder: 1, IsActive: true},
	}
	require.NoError(t, db.Create(&wallets).Error)
	require.NoError(t, db.Model(&wallets[2]).Update("is_active", false).Error)

	active, err := repos.WalletConfig.GetActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "first", active[0].Name)

	_, err = repos.WalletConfig.GetActiveByID(ctx, wallets[2].ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	rules := []models.AutoMatchingRule{
		{Name: "low", RuleType: models.RuleTypeUserHistory, Conditions: datatypes.JSON(`{}`), Priority: 1, IsActive: true},
		{Name: "high", RuleType: models.RuleTypeAmountMatch, Conditions: datatypes.JSON(`{}`), Priority: 9, IsActive: true},
	}
	require.NoError(t, db.Create(&rules).Error)
	got, err := repos.Rule.GetActive(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "high", got[0].Name)
}
