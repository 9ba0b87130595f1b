// workers/transfer_worker.go
package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"competition-escrow-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransferClient talks to the treasury transfer service that actually moves
// withdrawn funds on chain, and owns the DB side of settling withdrawals.
type TransferClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewTransferClient(db *gorm.DB) *TransferClient {
	baseURL := os.Getenv("TRANSFER_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("TRANSFER_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("TRANSFER_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("TRANSFER_SERVICE_TOKEN environment variable is required")
	}

	return &TransferClient{
		BaseURL: baseURL,
		Token:   token,
		DB:      db,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type transferResult struct {
	Reference string `json:"reference"`
}

// RequestTransfer asks the transfer service to pay out one withdrawal and
// returns its transfer reference.
func (c *TransferClient) RequestTransfer(ctx context.Context, w models.Withdrawal) (string, error) {
	body, err := json.Marshal(map[string]any{
		"withdrawal_id": w.ID,
		"wallet":        w.Wallet,
		"amount":        w.Amount,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		fmt.Sprintf("%s/api/v1/transfers", c.BaseURL), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call transfer service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("transfer service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result transferResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode transfer service response: %w", err)
	}
	return result.Reference, nil
}

// PollWithdrawals pushes pending withdrawals to the transfer service on a
// fixed interval. A successful transfer completes the withdrawal; a failed
// one marks it failed and restores the wallet's claimable balance in the
// same transaction.
func PollWithdrawals(ctx context.Context, client *TransferClient, pollInterval time.Duration) {
	log.Println("Starting withdrawal transfer polling...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Withdrawal polling stopped.")
			return
		case <-ticker.C:
			var pending []models.Withdrawal
			if err := client.DB.Where("status = ?", models.WithdrawalPending).
				Order("requested_at ASC").Limit(50).Find(&pending).Error; err != nil {
				log.Printf("Failed to fetch pending withdrawals: %v", err)
				continue
			}
			if len(pending) == 0 {
				continue
			}
			log.Printf("Processing %d pending withdrawal(s)...", len(pending))

			for _, w := range pending {
				ref, err := client.RequestTransfer(ctx, w)
				if err != nil {
					log.Printf("Transfer failed for withdrawal %s: %v", w.ID, err)
					if ferr := client.failWithdrawal(w, err.Error()); ferr != nil {
						log.Printf("Failed to mark withdrawal %s failed: %v", w.ID, ferr)
					}
					continue
				}
				if cerr := client.completeWithdrawal(w, ref); cerr != nil {
					log.Printf("Failed to mark withdrawal %s completed: %v", w.ID, cerr)
					continue
				}
				log.Printf("Withdrawal %s completed (ref %s)", w.ID, ref)
			}
		}
	}
}

func (c *TransferClient) completeWithdrawal(w models.Withdrawal, ref string) error {
	now := time.Now().UTC()
	return c.DB.Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", w.ID, models.WithdrawalPending).
		Updates(map[string]any{
			"status":       models.WithdrawalCompleted,
			"transfer_ref": ref,
			"completed_at": &now,
		}).Error
}

// failWithdrawal marks the withdrawal failed and puts the amount back on the
// wallet's claimable balance, so the user can withdraw again.
func (c *TransferClient) failWithdrawal(w models.Withdrawal, reason string) error {
	return c.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Withdrawal{}).
			Where("id = ? AND status = ?", w.ID, models.WithdrawalPending).
			Updates(map[string]any{
				"status":         models.WithdrawalFailed,
				"failure_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "wallet"}},
			DoUpdates: clause.Assignments(map[string]any{"balance": gorm.Expr("claimable_balances.balance + ?", w.Amount)}),
		}).Create(&models.ClaimableBalance{Wallet: w.Wallet, Balance: w.Amount}).Error
	})
}
