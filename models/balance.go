package models

import "time"

// ClaimableBalance is a wallet's global pending-withdrawal total. Credited by
// the settlement engine, booster tracker and treasury routing; debited only by
// an explicit withdrawal that zeroes it atomically.
type ClaimableBalance struct {
	Wallet    string    `json:"wallet" gorm:"primaryKey;type:varchar(64)"`
	Balance   uint64    `json:"balance" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Withdrawal statuses. A withdrawal is created pending when the balance is
// zeroed; the transfer worker completes it or fails it and restores the
// balance, so a failed transfer never loses funds.
const (
	WithdrawalPending   = "pending"
	WithdrawalCompleted = "completed"
	WithdrawalFailed    = "failed"
)

type Withdrawal struct {
	ID            string     `json:"id" gorm:"primaryKey"`
	Wallet        string     `json:"wallet" gorm:"type:varchar(64);not null;index"`
	Amount        uint64     `json:"amount" gorm:"not null"`
	Status        string     `json:"status" gorm:"type:varchar(16);not null;default:'pending';index"`
	TransferRef   string     `json:"transfer_ref,omitempty"` // transfer service reference / tx hash
	FailureReason string     `json:"failure_reason,omitempty"`
	RequestedAt   time.Time  `json:"requested_at" gorm:"autoCreateTime"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
