package workers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"competition-escrow-system/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newWorkerDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Withdrawal{}, &models.ClaimableBalance{}))
	return db
}

func pendingWithdrawal(t *testing.T, db *gorm.DB, wallet string, amount uint64) models.Withdrawal {
	t.Helper()
	w := models.Withdrawal{
		ID:     uuid.NewString(),
		Wallet: wallet,
		Amount: amount,
		Status: models.WithdrawalPending,
	}
	require.NoError(t, db.Create(&w).Error)
	return w
}

func TestRequestTransferAndComplete(t *testing.T) {
	db := newWorkerDB(t)
	w := pendingWithdrawal(t, db, "0x00000000000000000000000000000000000000A1", 50)

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/transfers", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("X-Service-Token"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, w.ID, body["withdrawal_id"])
		require.Equal(t, float64(50), body["amount"])

		rw.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(rw).Encode(map[string]string{"reference": "0xdeadbeef"})
	}))
	defer srv.Close()

	client := &TransferClient{BaseURL: srv.URL, Token: "secret", HTTPClient: srv.Client(), DB: db}

	ref, err := client.RequestTransfer(context.Background(), w)
	require.NoError(t, err)
	require.Equal(t, "0xdeadbeef", ref)

	require.NoError(t, client.completeWithdrawal(w, ref))

	var stored models.Withdrawal
	require.NoError(t, db.First(&stored, "id = ?", w.ID).Error)
	require.Equal(t, models.WithdrawalCompleted, stored.Status)
	require.Equal(t, "0xdeadbeef", stored.TransferRef)
	require.NotNil(t, stored.CompletedAt)
}

func TestRequestTransferServerError(t *testing.T) {
	db := newWorkerDB(t)
	w := pendingWithdrawal(t, db, "0x00000000000000000000000000000000000000A2", 75)

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "treasury offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := &TransferClient{BaseURL: srv.URL, Token: "secret", HTTPClient: srv.Client(), DB: db}

	_, err := client.RequestTransfer(context.Background(), w)
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestFailWithdrawalRestoresBalance(t *testing.T) {
	db := newWorkerDB(t)
	wallet := "0x00000000000000000000000000000000000000A3"
	w := pendingWithdrawal(t, db, wallet, 120)

	client := &TransferClient{DB: db}
	require.NoError(t, client.failWithdrawal(w, "transfer rejected"))

	var stored models.Withdrawal
	require.NoError(t, db.First(&stored, "id = ?", w.ID).Error)
	require.Equal(t, models.WithdrawalFailed, stored.Status)
	require.Equal(t, "transfer rejected", stored.FailureReason)

	var bal models.ClaimableBalance
	require.NoError(t, db.First(&bal, "wallet = ?", wallet).Error)
	require.Equal(t, uint64(120), bal.Balance)

	// Failing again is a no-op: the balance is not restored twice.
	require.NoError(t, client.failWithdrawal(w, "transfer rejected"))
	require.NoError(t, db.First(&bal, "wallet = ?", wallet).Error)
	require.Equal(t, uint64(120), bal.Balance)
}

func TestFailWithdrawalAddsToExistingBalance(t *testing.T) {
	db := newWorkerDB(t)
	wallet := "0x00000000000000000000000000000000000000A4"
	require.NoError(t, db.Create(&models.ClaimableBalance{Wallet: wallet, Balance: 30}).Error)
	w := pendingWithdrawal(t, db, wallet, 70)

	client := &TransferClient{DB: db}
	require.NoError(t, client.failWithdrawal(w, "nonce too low"))

	var bal models.ClaimableBalance
	require.NoError(t, db.First(&bal, "wallet = ?", wallet).Error)
	require.Equal(t, uint64(100), bal.Balance)
}
