package services

import (
	"errors"
	"log"
	"time"

	"competition-escrow-system/engine"
	"competition-escrow-system/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CompetitionService is the orchestrator: every mutating endpoint reads the
// clock once, loads and row-locks the competition, runs the engine guard, and
// applies the state mutation plus any ledger update in one transaction.
type CompetitionService struct {
	DB     *gorm.DB
	Config engine.Config
	Clock  clockwork.Clock
}

func NewCompetitionService(db *gorm.DB, cfg engine.Config, clock clockwork.Clock) *CompetitionService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CompetitionService{DB: db, Config: cfg, Clock: clock}
}

// forUpdate adds a row lock on dialects that support it. SQLite (used in
// tests) serializes writers on its own and rejects FOR UPDATE syntax.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// lockCompetition loads a competition inside tx with a row lock.
func lockCompetition(tx *gorm.DB, id string) (*models.Competition, error) {
	var comp models.Competition
	if err := forUpdate(tx).First(&comp, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &comp, nil
}

// creditBalance adds amount to a wallet's claimable balance inside tx,
// creating the row on first credit. Overflow is fatal for the transaction.
func creditBalance(tx *gorm.DB, wallet string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	var bal models.ClaimableBalance
	err := forUpdate(tx).First(&bal, "wallet = ?", wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(&models.ClaimableBalance{Wallet: wallet, Balance: amount}).Error
	}
	if err != nil {
		return err
	}
	if bal.Balance > ^uint64(0)-amount {
		return engine.ErrArithmetic
	}
	return tx.Model(&bal).Update("balance", bal.Balance+amount).Error
}

func callerWallet(c *fiber.Ctx) string {
	wallet, _ := c.Locals("wallet").(string)
	return wallet
}

// rejectTransition is the uniform response for a guard rejection: the exact
// reason string, never a generic error.
func rejectTransition(c *fiber.Ctx, reason string) error {
	return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": reason})
}

// CreateCompetition creates a competition in not_started state. Pricing and
// fee terms are immutable afterwards.
func (s *CompetitionService) CreateCompetition(c *fiber.Ctx) error {
	var req struct {
		TicketPrice       uint64 `json:"ticket_price"`
		TreasuryPercent   uint64 `json:"treasury_percent"`
		TreasuryWallet    string `json:"treasury_wallet"`
		VerifierAddress   string `json:"verifier_address"`
		Deadline          int64  `json:"deadline"`
		BoosterBoxEnabled bool   `json:"booster_box_enabled"`
		BoosterBoxAddress string `json:"booster_box_address"`
		Name              string `json:"name"`
		Description       string `json:"description"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}

	now := s.Clock.Now().Unix()
	if req.TicketPrice == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ticket_price must be positive"})
	}
	if req.TreasuryPercent > 100 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "treasury_percent must be 0-100"})
	}
	if !common.IsHexAddress(req.TreasuryWallet) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "treasury_wallet must be a valid address"})
	}
	if !common.IsHexAddress(req.VerifierAddress) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "verifier_address must be a valid address"})
	}
	if req.Deadline <= now {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "deadline must be in the future"})
	}
	if req.BoosterBoxEnabled && !common.IsHexAddress(req.BoosterBoxAddress) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "booster_box_address must be a valid address"})
	}

	comp := &models.Competition{
		State:             models.StateNotStarted,
		TicketPrice:       req.TicketPrice,
		TreasuryPercent:   req.TreasuryPercent,
		TreasuryWallet:    common.HexToAddress(req.TreasuryWallet).Hex(),
		VerifierAddress:   common.HexToAddress(req.VerifierAddress).Hex(),
		Deadline:          req.Deadline,
		BoosterBoxEnabled: req.BoosterBoxEnabled,
	}
	if req.BoosterBoxEnabled {
		comp.BoosterBoxAddress = common.HexToAddress(req.BoosterBoxAddress).Hex()
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(comp).Error; err != nil {
			return err
		}
		if req.Name != "" {
			meta := &models.CompetitionMetadata{
				CompetitionID: comp.ID,
				Name:          req.Name,
				Slug:          slug.Make(req.Name),
				Description:   req.Description,
			}
			if err := tx.Create(meta).Error; err != nil {
				return err
			}
		}
		if req.BoosterBoxEnabled {
			if err := tx.Create(&models.BoosterAllocation{CompetitionID: comp.ID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("DB Error creating competition: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create competition"})
	}
	return c.Status(fiber.StatusCreated).JSON(comp)
}

// StartCompetition moves not_started -> active.
func (s *CompetitionService) StartCompetition(c *fiber.Ctx) error {
	return s.transition(c, func(comp *models.Competition, now int64) (bool, string) {
		ok, reason := engine.CanStart(comp)
		if !ok {
			return false, reason
		}
		comp.State = models.StateActive
		t := time.Unix(now, 0).UTC()
		comp.StartedAt = &t
		return true, ""
	})
}

// EndCompetition moves active -> ended once the deadline has passed.
func (s *CompetitionService) EndCompetition(c *fiber.Ctx) error {
	return s.transition(c, func(comp *models.Competition, now int64) (bool, string) {
		ok, reason := engine.CanEnd(comp, now)
		if !ok {
			return false, reason
		}
		comp.State = models.StateEnded
		t := time.Unix(now, 0).UTC()
		comp.EndedAt = &t
		return true, ""
	})
}

// FinalizeCompetition moves ended -> finalized and settles the pool: with a
// declared winner the winner prize is credited immediately (and the winner
// claim flag set in the same transaction); without one the flat per-ticket
// share is computed and stored for lazy per-claim distribution.
func (s *CompetitionService) FinalizeCompetition(c *fiber.Ctx) error {
	id := c.Params("id")
	now := s.Clock.Now().Unix()

	var result *models.Competition
	var reject string
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		comp, err := lockCompetition(tx, id)
		if err != nil {
			return err
		}
		if ok, reason := engine.CanFinalize(comp, now, s.Config); !ok {
			reject = reason
			return nil
		}

		if comp.WinnerDeclared {
			prize, err := engine.WinnerPayout(comp, s.Config)
			if err != nil {
				return err
			}
			if err := creditBalance(tx, comp.Winner, prize); err != nil {
				return err
			}
			t := time.Unix(now, 0).UTC()
			record, err := lockOrCreateClaimRecord(tx, comp.ID, comp.Winner)
			if err != nil {
				return err
			}
			record.WinnerPaid = true
			record.WinnerAmount = prize
			record.WinnerPaidAt = &t
			if err := tx.Save(record).Error; err != nil {
				return err
			}
		} else {
			comp.PerTicketPayout = engine.FlatPayoutPerTicket(comp)
			comp.PayoutComputed = true
		}

		comp.State = models.StateFinalized
		t := time.Unix(now, 0).UTC()
		comp.FinalizedAt = &t
		if err := tx.Save(comp).Error; err != nil {
			return err
		}
		result = comp
		return nil
	})
	if err != nil {
		log.Printf("Finalize failed for competition %s: %v", id, err)
		return s.dbError(c, err)
	}
	if reject != "" {
		return rejectTransition(c, reject)
	}
	return c.JSON(result)
}

// CancelCompetition moves {not_started,active} -> cancelled and snapshots the
// pause flag, which selects the refund formula for later claims.
func (s *CompetitionService) CancelCompetition(c *fiber.Ctx) error {
	return s.transition(c, func(comp *models.Competition, now int64) (bool, string) {
		ok, reason := engine.CanCancel(comp)
		if !ok {
			return false, reason
		}
		comp.State = models.StateCancelled
		comp.PausedAtCancel = comp.EmergencyPaused
		t := time.Unix(now, 0).UTC()
		comp.CancelledAt = &t
		return true, ""
	})
}

// EmergencyPause sets the pause overlay.
func (s *CompetitionService) EmergencyPause(c *fiber.Ctx) error {
	return s.setPaused(c, true)
}

// EmergencyUnpause clears the pause overlay.
func (s *CompetitionService) EmergencyUnpause(c *fiber.Ctx) error {
	return s.setPaused(c, false)
}

func (s *CompetitionService) setPaused(c *fiber.Ctx, paused bool) error {
	return s.transition(c, func(comp *models.Competition, now int64) (bool, string) {
		ok, reason := engine.CanSetPaused(comp, paused)
		if !ok {
			return false, reason
		}
		comp.EmergencyPaused = paused
		return true, ""
	})
}

// ExtendDeadline applies a bounded, validated deadline extension.
func (s *CompetitionService) ExtendDeadline(c *fiber.Ctx) error {
	var req struct {
		NewDeadline int64 `json:"new_deadline"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	return s.transition(c, func(comp *models.Competition, now int64) (bool, string) {
		ok, reason := engine.CanExtendDeadline(comp, req.NewDeadline, now, s.Config)
		if !ok {
			return false, reason
		}
		comp.Deadline = req.NewDeadline
		return true, ""
	})
}

// TopUpPrizePool adds escrow to the pool outside of ticket sales. Admin only,
// valid until the competition reaches a terminal state.
func (s *CompetitionService) TopUpPrizePool(c *fiber.Ctx) error {
	var req struct {
		Amount uint64 `json:"amount"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.Amount == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "amount must be positive"})
	}
	return s.transition(c, func(comp *models.Competition, now int64) (bool, string) {
		switch comp.State {
		case models.StateFinalized, models.StateCancelled:
			return false, "competition already settled"
		}
		if comp.PrizePool > ^uint64(0)-req.Amount {
			return false, "prize pool overflow"
		}
		comp.PrizePool += req.Amount
		return true, ""
	})
}

// transition runs a guarded single-competition mutation: lock, guard+mutate,
// save — all or nothing.
func (s *CompetitionService) transition(c *fiber.Ctx, apply func(*models.Competition, int64) (bool, string)) error {
	id := c.Params("id")
	now := s.Clock.Now().Unix()

	var result *models.Competition
	var reject string
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		comp, err := lockCompetition(tx, id)
		if err != nil {
			return err
		}
		ok, reason := apply(comp, now)
		if !ok {
			reject = reason
			return nil
		}
		if err := tx.Save(comp).Error; err != nil {
			return err
		}
		result = comp
		return nil
	})
	if err != nil {
		log.Printf("Transition failed for competition %s: %v", id, err)
		return s.dbError(c, err)
	}
	if reject != "" {
		return rejectTransition(c, reject)
	}
	return c.JSON(result)
}

// BuyTicket sells one ticket to the caller: the treasury cut is routed to the
// treasury wallet's claimable balance and the pool-bound remainder joins the
// escrow. PrizePool and TotalTickets move together or not at all.
func (s *CompetitionService) BuyTicket(c *fiber.Ctx) error {
	wallet := callerWallet(c)
	var req struct {
		Payment uint64 `json:"payment"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}

	id := c.Params("id")
	now := s.Clock.Now().Unix()

	var ticket *models.Ticket
	var reject string
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		comp, err := lockCompetition(tx, id)
		if err != nil {
			return err
		}
		if ok, reason := engine.CanBuyTicket(comp, req.Payment, now); !ok {
			reject = reason
			return nil
		}

		treasury, pool, err := engine.TreasurySplit(comp.TicketPrice, comp.TreasuryPercent)
		if err != nil {
			return err
		}
		if comp.PrizePool > ^uint64(0)-pool || comp.TotalTickets == ^uint64(0) {
			return engine.ErrArithmetic
		}
		comp.PrizePool += pool
		comp.TotalTickets++

		var t models.Ticket
		err = forUpdate(tx).First(&t, "competition_id = ? AND wallet = ?", comp.ID, wallet).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			t = models.Ticket{
				ID:            uuid.NewString(),
				CompetitionID: comp.ID,
				Wallet:        wallet,
				Count:         1,
				AmountPaid:    req.Payment,
				PoolAmount:    pool,
			}
			if err := tx.Create(&t).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		} else {
			t.Count++
			t.AmountPaid += req.Payment
			t.PoolAmount += pool
			if err := tx.Save(&t).Error; err != nil {
				return err
			}
		}

		if err := creditBalance(tx, comp.TreasuryWallet, treasury); err != nil {
			return err
		}
		if err := tx.Save(comp).Error; err != nil {
			return err
		}
		ticket = &t
		return nil
	})
	if err != nil {
		log.Printf("Ticket purchase failed for competition %s by %s: %v", id, wallet, err)
		return s.dbError(c, err)
	}
	if reject != "" {
		return rejectTransition(c, reject)
	}
	return c.Status(fiber.StatusCreated).JSON(ticket)
}

// SubmitProof verifies a signed completion claim. The first accepted proof
// declares the winner; later valid proofs are recorded as completions only.
// The caller need not be the named participant (relayed submission), but the
// payout eligibility always belongs to the participant.
func (s *CompetitionService) SubmitProof(c *fiber.Ctx) error {
	var req struct {
		Participant string `json:"participant"`
		ProofHash   string `json:"proof_hash"`
		Signature   string `json:"signature"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if !common.IsHexAddress(req.Participant) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "participant must be a valid address"})
	}
	sig, err := decodeHex(req.Signature)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "signature must be hex encoded"})
	}
	proofHashBytes, err := decodeHex(req.ProofHash)
	if err != nil || len(proofHashBytes) != common.HashLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "proof_hash must be a 32-byte hex value"})
	}

	participant := common.HexToAddress(req.Participant)
	proofHash := common.BytesToHash(proofHashBytes)
	id := c.Params("id")
	now := s.Clock.Now().Unix()

	var record *models.ProofRecord
	var reject string
	var rejectStatus int
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		comp, err := lockCompetition(tx, id)
		if err != nil {
			return err
		}
		if ok, reason := engine.CanSubmitProof(comp); !ok {
			reject, rejectStatus = reason, fiber.StatusConflict
			return nil
		}
		if ok, reason := engine.VerifyCompletionProof(comp, participant, proofHash, sig); !ok {
			reject, rejectStatus = reason, fiber.StatusUnauthorized
			return nil
		}

		var existing models.ProofRecord
		err = tx.First(&existing, "competition_id = ? AND proof_hash = ?", comp.ID, proofHash.Hex()).Error
		if err == nil {
			reject, rejectStatus = "proof already used", fiber.StatusConflict
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		rec := &models.ProofRecord{
			ID:            uuid.NewString(),
			CompetitionID: comp.ID,
			ProofHash:     proofHash.Hex(),
			Participant:   participant.Hex(),
			Submitter:     callerWallet(c),
			IsWinner:      !comp.WinnerDeclared,
		}
		if err := tx.Create(rec).Error; err != nil {
			return err
		}

		if !comp.WinnerDeclared {
			comp.Winner = participant.Hex()
			comp.WinnerDeclared = true
			comp.WinnerDeclaredAt = now
			if err := tx.Save(comp).Error; err != nil {
				return err
			}
		}
		record = rec
		return nil
	})
	if err != nil {
		log.Printf("Proof submission failed for competition %s: %v", id, err)
		return s.dbError(c, err)
	}
	if reject != "" {
		return c.Status(rejectStatus).JSON(fiber.Map{"error": reject})
	}
	return c.Status(fiber.StatusCreated).JSON(record)
}

// --- Reads ---

func (s *CompetitionService) GetCompetition(c *fiber.Ctx) error {
	var comp models.Competition
	if err := s.DB.First(&comp, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "competition not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(comp)
}

func (s *CompetitionService) GetAllCompetitions(c *fiber.Ctx) error {
	var comps []models.Competition
	if err := s.DB.Order("id ASC").Find(&comps).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch competitions"})
	}
	return c.JSON(comps)
}

func (s *CompetitionService) GetCompetitionsByState(c *fiber.Ctx) error {
	state := c.Params("state")
	switch state {
	case models.StateNotStarted, models.StateActive, models.StateEnded, models.StateFinalized, models.StateCancelled:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown state"})
	}
	var comps []models.Competition
	if err := s.DB.Where("state = ?", state).Order("id ASC").Find(&comps).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch competitions"})
	}
	return c.JSON(comps)
}

func (s *CompetitionService) GetActiveCompetitions(c *fiber.Ctx) error {
	var comps []models.Competition
	if err := s.DB.Where("state = ?", models.StateActive).Order("deadline ASC").Find(&comps).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch competitions"})
	}
	return c.JSON(comps)
}

// GetExpiredCompetitions lists active competitions whose deadline has passed
// but which have not been moved to ended yet.
func (s *CompetitionService) GetExpiredCompetitions(c *fiber.Ctx) error {
	now := s.Clock.Now().Unix()
	var comps []models.Competition
	if err := s.DB.Where("state = ? AND deadline <= ?", models.StateActive, now).
		Order("deadline ASC").Find(&comps).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch competitions"})
	}
	return c.JSON(comps)
}

// GetContractHealth aggregates escrow-wide stats: competition counts, total
// value locked (unsettled pools plus all claimable balances) and the number
// of tickets in cancelled competitions still awaiting a refund claim.
func (s *CompetitionService) GetContractHealth(c *fiber.Ctx) error {
	var totalCompetitions, activeCompetitions int64
	if err := s.DB.Model(&models.Competition{}).Count(&totalCompetitions).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	if err := s.DB.Model(&models.Competition{}).
		Where("state = ?", models.StateActive).Count(&activeCompetitions).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	var pools struct{ Total uint64 }
	if err := s.DB.Model(&models.Competition{}).
		Select("COALESCE(SUM(prize_pool), 0) AS total").
		Where("state IN ?", []string{models.StateNotStarted, models.StateActive, models.StateEnded}).
		Scan(&pools).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	var balances struct{ Total uint64 }
	if err := s.DB.Model(&models.ClaimableBalance{}).
		Select("COALESCE(SUM(balance), 0) AS total").
		Scan(&balances).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	var refundableTickets, refundedTickets int64
	if err := s.DB.Model(&models.Ticket{}).
		Joins("JOIN competitions ON competitions.id = tickets.competition_id").
		Where("competitions.state = ?", models.StateCancelled).
		Count(&refundableTickets).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	if err := s.DB.Model(&models.ClaimRecord{}).
		Joins("JOIN competitions ON competitions.id = claim_records.competition_id").
		Where("competitions.state = ? AND claim_records.refund_paid = ?", models.StateCancelled, true).
		Count(&refundedTickets).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	pendingRefunds := refundableTickets - refundedTickets
	if pendingRefunds < 0 {
		pendingRefunds = 0
	}

	return c.JSON(fiber.Map{
		"total_competitions":  totalCompetitions,
		"active_competitions": activeCompetitions,
		"total_value_locked":  pools.Total + balances.Total,
		"pending_refunds":     pendingRefunds,
	})
}

func (s *CompetitionService) dbError(c *fiber.Ctx, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "competition not found"})
	}
	if errors.Is(err, engine.ErrArithmetic) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "arithmetic overflow"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
}

func decodeHex(s string) ([]byte, error) {
	return hexutil.Decode(s)
}
