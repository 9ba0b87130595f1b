package models

import "time"

// Competition lifecycle states. Transitions are validated by the engine
// lifecycle guard before any mutation is applied.
const (
	StateNotStarted = "not_started"
	StateActive     = "active"
	StateEnded      = "ended"
	StateFinalized  = "finalized"
	StateCancelled  = "cancelled"
)

// Competition is one contest instance backed by an escrowed prize pool.
// PrizePool and TotalTickets are always updated together inside a single
// transaction; Deadline, Winner* and PerTicketPayout are written only through
// guarded lifecycle operations.
type Competition struct {
	ID    uint   `json:"id" gorm:"primaryKey"`
	State string `json:"state" gorm:"type:varchar(16);not null;default:'not_started';index"`

	// Pricing/fee terms, immutable after creation.
	TicketPrice     uint64 `json:"ticket_price" gorm:"not null"`
	TreasuryPercent uint64 `json:"treasury_percent" gorm:"not null"`
	TreasuryWallet  string `json:"treasury_wallet" gorm:"type:varchar(64);not null"`

	// Backend signer whose completion proofs are accepted.
	VerifierAddress string `json:"verifier_address" gorm:"type:varchar(64);not null"`

	Deadline     int64  `json:"deadline" gorm:"not null"` // unix seconds
	PrizePool    uint64 `json:"prize_pool" gorm:"not null;default:0"`
	TotalTickets uint64 `json:"total_tickets" gorm:"not null;default:0"`

	Winner           string `json:"winner,omitempty" gorm:"type:varchar(64)"`
	WinnerDeclared   bool   `json:"winner_declared" gorm:"not null;default:false"`
	WinnerDeclaredAt int64  `json:"winner_declared_at,omitempty"`

	// Pause overlay: blocks participation and lifecycle mutation regardless
	// of State, except refund paths. PausedAtCancel snapshots the flag at
	// cancellation time and selects the refund formula.
	EmergencyPaused bool `json:"emergency_paused" gorm:"not null;default:false"`
	PausedAtCancel  bool `json:"paused_at_cancel" gorm:"not null;default:false"`

	// Flat per-ticket share stored at no-winner finalization.
	PerTicketPayout uint64 `json:"per_ticket_payout" gorm:"not null;default:0"`
	PayoutComputed  bool   `json:"payout_computed" gorm:"not null;default:false"`

	BoosterBoxEnabled bool   `json:"booster_box_enabled" gorm:"not null;default:false"`
	BoosterBoxAddress string `json:"booster_box_address,omitempty" gorm:"type:varchar(64)"`

	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// Ticket aggregates a wallet's purchases in one competition.
type Ticket struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	CompetitionID uint      `json:"competition_id" gorm:"not null;uniqueIndex:idx_ticket_comp_wallet"`
	Wallet        string    `json:"wallet" gorm:"type:varchar(64);not null;uniqueIndex:idx_ticket_comp_wallet;index"`
	Count         uint64    `json:"count" gorm:"not null;default:0"`
	AmountPaid    uint64    `json:"amount_paid" gorm:"not null;default:0"`    // gross, incl. treasury cut
	PoolAmount    uint64    `json:"pool_amount" gorm:"not null;default:0"`    // escrowed portion
	FirstBoughtAt time.Time `json:"first_bought_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// ClaimRecord tracks which of {winner prize, participant prize, refund} a
// wallet has been paid for one competition, each exactly once. Created lazily
// on first claim attempt, never deleted.
type ClaimRecord struct {
	ID            string `json:"id" gorm:"primaryKey"`
	CompetitionID uint   `json:"competition_id" gorm:"not null;uniqueIndex:idx_claim_comp_wallet"`
	Wallet        string `json:"wallet" gorm:"type:varchar(64);not null;uniqueIndex:idx_claim_comp_wallet;index"`

	WinnerPaid   bool       `json:"winner_paid" gorm:"not null;default:false"`
	WinnerAmount uint64     `json:"winner_amount" gorm:"not null;default:0"`
	WinnerPaidAt *time.Time `json:"winner_paid_at,omitempty"`

	ParticipantPaid   bool       `json:"participant_paid" gorm:"not null;default:false"`
	ParticipantAmount uint64     `json:"participant_amount" gorm:"not null;default:0"`
	ParticipantPaidAt *time.Time `json:"participant_paid_at,omitempty"`

	RefundPaid   bool       `json:"refund_paid" gorm:"not null;default:false"`
	RefundAmount uint64     `json:"refund_amount" gorm:"not null;default:0"`
	RefundPaidAt *time.Time `json:"refund_paid_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// ProofRecord marks a (competition, proofHash) pair as used. The unique index
// is the replay guard: a signed claim can be accepted at most once, no matter
// who relays it.
type ProofRecord struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	CompetitionID uint      `json:"competition_id" gorm:"not null;uniqueIndex:idx_proof_comp_hash"`
	ProofHash     string    `json:"proof_hash" gorm:"type:varchar(66);not null;uniqueIndex:idx_proof_comp_hash"`
	Participant   string    `json:"participant" gorm:"type:varchar(64);not null;index"`
	Submitter     string    `json:"submitter" gorm:"type:varchar(64)"` // caller, may differ from participant
	IsWinner      bool      `json:"is_winner" gorm:"not null;default:false"`
	SubmittedAt   time.Time `json:"submitted_at" gorm:"autoCreateTime"`
}
