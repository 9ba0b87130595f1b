package services

import (
	"errors"
	"log"
	"time"

	"competition-escrow-system/engine"
	"competition-escrow-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// ClaimService owns the claimable-balance ledger side: winner/participant/
// refund claims (each exactly once per competition and wallet), the booster
// allocation, and withdrawals. Claims credit the balance and set the matching
// claim flag in one transaction, so a retry after success fails cleanly with
// "already claimed" instead of double-crediting.
type ClaimService struct {
	DB     *gorm.DB
	Config engine.Config
	Clock  clockwork.Clock
}

func NewClaimService(db *gorm.DB, cfg engine.Config, clock clockwork.Clock) *ClaimService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ClaimService{DB: db, Config: cfg, Clock: clock}
}

// lockOrCreateClaimRecord loads the per-(competition, wallet) claim record
// with a row lock, creating it lazily on first claim attempt.
func lockOrCreateClaimRecord(tx *gorm.DB, competitionID uint, wallet string) (*models.ClaimRecord, error) {
	var record models.ClaimRecord
	err := forUpdate(tx).First(&record, "competition_id = ? AND wallet = ?", competitionID, wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		record = models.ClaimRecord{
			ID:            uuid.NewString(),
			CompetitionID: competitionID,
			Wallet:        wallet,
		}
		if err := tx.Create(&record).Error; err != nil {
			return nil, err
		}
		return &record, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func ticketCount(tx *gorm.DB, competitionID uint, wallet string) (uint64, error) {
	var t models.Ticket
	err := tx.First(&t, "competition_id = ? AND wallet = ?", competitionID, wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return t.Count, nil
}

// ClaimWinnerPrize credits the winner prize to the caller. Finalization
// normally credits the winner directly, so the common outcome here is
// "already claimed"; the path remains for records where that credit is
// absent.
func (s *ClaimService) ClaimWinnerPrize(c *fiber.Ctx) error {
	wallet := callerWallet(c)
	id := c.Params("id")
	now := s.Clock.Now().Unix()

	var amount uint64
	var reject string
	var rejectStatus int
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		comp, err := lockCompetition(tx, id)
		if err != nil {
			return err
		}
		if comp.State != models.StateFinalized {
			reject, rejectStatus = "competition not finalized", fiber.StatusConflict
			return nil
		}
		if !comp.WinnerDeclared || comp.Winner != wallet {
			reject, rejectStatus = "caller is not the winner", fiber.StatusForbidden
			return nil
		}
		record, err := lockOrCreateClaimRecord(tx, comp.ID, wallet)
		if err != nil {
			return err
		}
		if record.WinnerPaid {
			reject, rejectStatus = "already claimed", fiber.StatusConflict
			return nil
		}
		amount, err = engine.WinnerPayout(comp, s.Config)
		if err != nil {
			return err
		}
		if err := creditBalance(tx, wallet, amount); err != nil {
			return err
		}
		t := time.Unix(now, 0).UTC()
		record.WinnerPaid = true
		record.WinnerAmount = amount
		record.WinnerPaidAt = &t
		return tx.Save(record).Error
	})
	if err != nil {
		log.Printf("Winner claim failed for competition %s by %s: %v", id, wallet, err)
		return claimError(c, err)
	}
	if reject != "" {
		return c.Status(rejectStatus).JSON(fiber.Map{"error": reject})
	}
	return c.JSON(fiber.Map{"message": "winner prize credited", "amount": amount})
}

// ClaimParticipantPrize credits the per-ticket participant share times the
// caller's ticket count. The winner is not eligible for this tier.
func (s *ClaimService) ClaimParticipantPrize(c *fiber.Ctx) error {
	wallet := callerWallet(c)
	id := c.Params("id")
	now := s.Clock.Now().Unix()

	var amount uint64
	var reject string
	var rejectStatus int
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		comp, err := lockCompetition(tx, id)
		if err != nil {
			return err
		}
		if comp.State != models.StateFinalized {
			reject, rejectStatus = "competition not finalized", fiber.StatusConflict
			return nil
		}
		count, err := ticketCount(tx, comp.ID, wallet)
		if err != nil {
			return err
		}
		if count == 0 {
			reject, rejectStatus = "caller has no ticket", fiber.StatusBadRequest
			return nil
		}
		if comp.WinnerDeclared && comp.Winner == wallet {
			reject, rejectStatus = "winner is not eligible for participant prize", fiber.StatusForbidden
			return nil
		}
		record, err := lockOrCreateClaimRecord(tx, comp.ID, wallet)
		if err != nil {
			return err
		}
		if record.ParticipantPaid {
			reject, rejectStatus = "already claimed", fiber.StatusConflict
			return nil
		}
		perTicket, err := engine.ParticipantPayoutPerTicket(comp, s.Config)
		if err != nil {
			return err
		}
		if perTicket != 0 && count > ^uint64(0)/perTicket {
			return engine.ErrArithmetic
		}
		amount = perTicket * count
		if err := creditBalance(tx, wallet, amount); err != nil {
			return err
		}
		t := time.Unix(now, 0).UTC()
		record.ParticipantPaid = true
		record.ParticipantAmount = amount
		record.ParticipantPaidAt = &t
		return tx.Save(record).Error
	})
	if err != nil {
		log.Printf("Participant claim failed for competition %s by %s: %v", id, wallet, err)
		return claimError(c, err)
	}
	if reject != "" {
		return c.Status(rejectStatus).JSON(fiber.Map{"error": reject})
	}
	return c.JSON(fiber.Map{"message": "participant prize credited", "amount": amount})
}

// ClaimRefund credits the refund for every ticket the caller holds in a
// cancelled competition. The amount formula depends on whether the pause flag
// was set at cancellation time. Refund paths stay open while paused.
func (s *ClaimService) ClaimRefund(c *fiber.Ctx) error {
	wallet := callerWallet(c)
	id := c.Params("id")
	now := s.Clock.Now().Unix()

	var amount uint64
	var reject string
	var rejectStatus int
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		comp, err := lockCompetition(tx, id)
		if err != nil {
			return err
		}
		if ok, reason := engine.RefundEligible(comp); !ok {
			reject, rejectStatus = reason, fiber.StatusConflict
			return nil
		}
		count, err := ticketCount(tx, comp.ID, wallet)
		if err != nil {
			return err
		}
		if count == 0 {
			reject, rejectStatus = "caller has no ticket", fiber.StatusBadRequest
			return nil
		}
		record, err := lockOrCreateClaimRecord(tx, comp.ID, wallet)
		if err != nil {
			return err
		}
		if record.RefundPaid {
			reject, rejectStatus = "already claimed", fiber.StatusConflict
			return nil
		}
		perTicket, err := engine.RefundPerTicket(comp)
		if err != nil {
			return err
		}
		if perTicket != 0 && count > ^uint64(0)/perTicket {
			return engine.ErrArithmetic
		}
		amount = perTicket * count
		if err := creditBalance(tx, wallet, amount); err != nil {
			return err
		}
		t := time.Unix(now, 0).UTC()
		record.RefundPaid = true
		record.RefundAmount = amount
		record.RefundPaidAt = &t
		return tx.Save(record).Error
	})
	if err != nil {
		log.Printf("Refund claim failed for competition %s by %s: %v", id, wallet, err)
		return claimError(c, err)
	}
	if reject != "" {
		return c.Status(rejectStatus).JSON(fiber.Map{"error": reject})
	}
	return c.JSON(fiber.Map{"message": "refund credited", "amount": amount})
}

// ClaimBoosterBoxes hands the booster allocation to the declared winner, once.
func (s *ClaimService) ClaimBoosterBoxes(c *fiber.Ctx) error {
	wallet := callerWallet(c)
	id := c.Params("id")
	now := s.Clock.Now().Unix()

	var allocation *models.BoosterAllocation
	var boosterAddress string
	var reject string
	var rejectStatus int
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		comp, err := lockCompetition(tx, id)
		if err != nil {
			return err
		}
		if !comp.BoosterBoxEnabled {
			reject, rejectStatus = "booster box not enabled", fiber.StatusBadRequest
			return nil
		}
		if !comp.WinnerDeclared || comp.Winner != wallet {
			reject, rejectStatus = "caller is not the winner", fiber.StatusForbidden
			return nil
		}
		var alloc models.BoosterAllocation
		if err := forUpdate(tx).First(&alloc, "competition_id = ?", comp.ID).Error; err != nil {
			return err
		}
		if alloc.Claimed {
			reject, rejectStatus = "already claimed", fiber.StatusConflict
			return nil
		}
		t := time.Unix(now, 0).UTC()
		alloc.Claimed = true
		alloc.ClaimedBy = wallet
		alloc.ClaimedAt = &t
		if err := tx.Save(&alloc).Error; err != nil {
			return err
		}
		allocation = &alloc
		boosterAddress = comp.BoosterBoxAddress
		return nil
	})
	if err != nil {
		log.Printf("Booster claim failed for competition %s by %s: %v", id, wallet, err)
		return claimError(c, err)
	}
	if reject != "" {
		return c.Status(rejectStatus).JSON(fiber.Map{"error": reject})
	}
	return c.JSON(fiber.Map{
		"message":             "booster boxes claimed",
		"quantity":            allocation.Quantity,
		"booster_box_address": boosterAddress,
	})
}

// --- Booster admin ---

// AddBoosterQuantity increments the allocation. Rejected once claimed.
func (s *ClaimService) AddBoosterQuantity(c *fiber.Ctx) error {
	return s.updateBoosterQuantity(c, true)
}

// SetBoosterQuantity overwrites the allocation. Rejected once claimed.
func (s *ClaimService) SetBoosterQuantity(c *fiber.Ctx) error {
	return s.updateBoosterQuantity(c, false)
}

func (s *ClaimService) updateBoosterQuantity(c *fiber.Ctx, additive bool) error {
	var req struct {
		Quantity uint64 `json:"quantity"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}

	id := c.Params("id")
	var result *models.BoosterAllocation
	var reject string
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		comp, err := lockCompetition(tx, id)
		if err != nil {
			return err
		}
		if !comp.BoosterBoxEnabled {
			reject = "booster box not enabled"
			return nil
		}
		var alloc models.BoosterAllocation
		if err := forUpdate(tx).First(&alloc, "competition_id = ?", comp.ID).Error; err != nil {
			return err
		}
		if alloc.Claimed {
			reject = "already claimed"
			return nil
		}
		if additive {
			if alloc.Quantity > ^uint64(0)-req.Quantity {
				return engine.ErrArithmetic
			}
			alloc.Quantity += req.Quantity
		} else {
			alloc.Quantity = req.Quantity
		}
		if err := tx.Save(&alloc).Error; err != nil {
			return err
		}
		result = &alloc
		return nil
	})
	if err != nil {
		log.Printf("Booster quantity update failed for competition %s: %v", id, err)
		return claimError(c, err)
	}
	if reject != "" {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": reject})
	}
	return c.JSON(result)
}

// --- Withdrawals & balances ---

// Withdraw zeroes the caller's claimable balance atomically and opens a
// pending withdrawal for the prior value. The transfer worker moves the funds;
// a failed transfer restores the balance, so funds are never lost between the
// debit and the transfer confirmation.
func (s *ClaimService) Withdraw(c *fiber.Ctx) error {
	wallet := callerWallet(c)

	var withdrawal *models.Withdrawal
	var reject string
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var bal models.ClaimableBalance
		err := forUpdate(tx).First(&bal, "wallet = ?", wallet).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && bal.Balance == 0) {
			reject = "nothing to withdraw"
			return nil
		}
		if err != nil {
			return err
		}
		amount := bal.Balance
		if err := tx.Model(&bal).Update("balance", uint64(0)).Error; err != nil {
			return err
		}
		w := &models.Withdrawal{
			ID:     uuid.NewString(),
			Wallet: wallet,
			Amount: amount,
			Status: models.WithdrawalPending,
		}
		if err := tx.Create(w).Error; err != nil {
			return err
		}
		withdrawal = w
		return nil
	})
	if err != nil {
		log.Printf("Withdraw failed for %s: %v", wallet, err)
		return claimError(c, err)
	}
	if reject != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": reject})
	}
	return c.Status(fiber.StatusCreated).JSON(withdrawal)
}

// GetClaimableBalance returns the caller's pending-withdrawal total.
func (s *ClaimService) GetClaimableBalance(c *fiber.Ctx) error {
	wallet := callerWallet(c)
	var bal models.ClaimableBalance
	err := s.DB.First(&bal, "wallet = ?", wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.JSON(fiber.Map{"wallet": wallet, "balance": 0})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(fiber.Map{"wallet": bal.Wallet, "balance": bal.Balance})
}

// GetWithdrawals lists the caller's withdrawal history, newest first.
func (s *ClaimService) GetWithdrawals(c *fiber.Ctx) error {
	wallet := callerWallet(c)
	var withdrawals []models.Withdrawal
	if err := s.DB.Where("wallet = ?", wallet).
		Order("requested_at DESC").Find(&withdrawals).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch withdrawals"})
	}
	return c.JSON(withdrawals)
}

func claimError(c *fiber.Ctx, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "competition not found"})
	}
	if errors.Is(err, engine.ErrArithmetic) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "arithmetic overflow"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
}
