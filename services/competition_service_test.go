package services_test

import (
	"fmt"
	"testing"
	"time"

	"competition-escrow-system/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestWinnerLifecycleEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	alice, bob := wallet(0x01), wallet(0x02)

	// Price 10, 10% treasury: every ticket escrows 9 and routes 1 to treasury.
	id := e.createCompetition(t, createOpts{
		TicketPrice: 10, TreasuryPercent: 10, DeadlineIn: time.Hour, Name: "spring cup",
	})
	e.start(t, id)

	e.buyTickets(t, id, alice, 10, 1)
	e.buyTickets(t, id, bob, 10, 9)

	// Wrong payment is rejected with the exact price in the reason.
	status, resp := e.do(t, "POST", fmt.Sprintf("/competitions/%d/tickets", id), alice, false, fiber.Map{"payment": 7})
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, "payment must equal ticket price 10", resp["error"])

	// Cannot end before the deadline.
	status, resp = e.do(t, "POST", fmt.Sprintf("/admin/competitions/%d/end", id), adminWallet, true, nil)
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, "deadline not reached", resp["error"])

	e.clock.Advance(time.Hour + time.Second)
	e.end(t, id)

	// Bob relays Alice's signed completion proof; Alice becomes the winner.
	proofHash := common.BytesToHash(crypto.Keccak256([]byte("collection-1")))
	status, resp = e.submitProof(t, id, bob, alice, proofHash)
	require.Equal(t, fiber.StatusCreated, status, "proof response: %v", resp)
	require.Equal(t, true, resp["is_winner"])
	require.Equal(t, alice, resp["participant"])
	require.Equal(t, bob, resp["submitter"])

	// Replay of the same proof hash is rejected.
	status, resp = e.submitProof(t, id, alice, alice, proofHash)
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, "proof already used", resp["error"])

	// Finalization is blocked during the dispute window.
	status, resp = e.do(t, "POST", fmt.Sprintf("/admin/competitions/%d/finalize", id), adminWallet, true, nil)
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, "grace period active", resp["error"])

	e.clock.Advance(time.Duration(e.cfg.GracePeriod) * time.Second)
	status, resp = e.do(t, "POST", fmt.Sprintf("/admin/competitions/%d/finalize", id), adminWallet, true, nil)
	require.Equal(t, fiber.StatusOK, status, "finalize response: %v", resp)

	// Pool is 10 tickets x 9 = 90; winner takes 80% = 72, credited at finalize.
	require.Equal(t, uint64(72), e.balanceOf(t, alice))

	// The winner prize cannot be claimed twice.
	status, resp = e.do(t, "POST", fmt.Sprintf("/competitions/%d/claims/winner", id), alice, false, nil)
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, "already claimed", resp["error"])

	// Non-winner participant share: floor(90*20/100 / 9) = 2 per ticket, x9.
	status, resp = e.do(t, "POST", fmt.Sprintf("/competitions/%d/claims/participant", id), bob, false, nil)
	require.Equal(t, fiber.StatusOK, status, "participant claim: %v", resp)
	require.Equal(t, uint64(18), e.balanceOf(t, bob))

	// The winner is excluded from the participant tier.
	status, resp = e.do(t, "POST", fmt.Sprintf("/competitions/%d/claims/participant", id), alice, false, nil)
	require.Equal(t, fiber.StatusForbidden, status)
	require.Equal(t, "winner is not eligible for participant prize", resp["error"])

	// Treasury received its cut per ticket.
	require.Equal(t, uint64(10), e.balanceOf(t, wallet(0xFE)))
}

func TestProofRejection(t *testing.T) {
	e := newTestEnv(t)
	alice := wallet(0x01)

	id := e.createCompetition(t, createOpts{TicketPrice: 5, TreasuryPercent: 0, DeadlineIn: time.Hour})
	e.start(t, id)

	proofHash := common.BytesToHash(crypto.Keccak256([]byte("done")))

	// Signature from a key other than the registered verifier.
	rogueKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(crypto.Keccak256(proofHash.Bytes()), rogueKey)
	require.NoError(t, err)
	status, resp := e.do(t, "POST", fmt.Sprintf("/competitions/%d/proofs", id), alice, false, fiber.Map{
		"participant": alice,
		"proof_hash":  proofHash.Hex(),
		"signature":   hexutil.Encode(sig),
	})
	require.Equal(t, fiber.StatusUnauthorized, status)
	require.Equal(t, "signature not from registered verifier", resp["error"])

	// A valid signature for Alice is not accepted for another participant.
	status, resp = e.do(t, "POST", fmt.Sprintf("/competitions/%d/proofs", id), alice, false, fiber.Map{
		"participant": wallet(0x09),
		"proof_hash":  proofHash.Hex(),
		"signature":   e.signProof(t, id, alice, proofHash),
	})
	require.Equal(t, fiber.StatusUnauthorized, status)
	require.Equal(t, "signature not from registered verifier", resp["error"])

	// Proofs are not accepted before the competition starts.
	id2 := e.createCompetition(t, createOpts{TicketPrice: 5, TreasuryPercent: 0, DeadlineIn: time.Hour})
	status, resp = e.submitProof(t, id2, alice, alice, proofHash)
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, "competition not accepting proofs", resp["error"])
}

func TestNoWinnerFlatDistribution(t *testing.T) {
	e := newTestEnv(t)

	// Price 100, 10% treasury: pool gains 90 per ticket; 4 buyers -> 360.
	id := e.createCompetition(t, createOpts{TicketPrice: 100, TreasuryPercent: 10, DeadlineIn: time.Hour})
	e.start(t, id)
	buyers := []string{wallet(0x01), wallet(0x02), wallet(0x03), wallet(0x04)}
	for _, b := range buyers {
		e.buyTickets(t, id, b, 100, 1)
	}

	e.clock.Advance(time.Hour + time.Second)
	e.end(t, id)

	// Without a declared winner, finalization waits out the no-winner window.
	status, resp := e.do(t, "POST", fmt.Sprintf("/admin/competitions/%d/finalize", id), adminWallet, true, nil)
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, "wait period active", resp["error"])

	e.clock.Advance(time.Duration(e.cfg.NoWinnerWaitPeriod) * time.Second)
	status, resp = e.do(t, "POST", fmt.Sprintf("/admin/competitions/%d/finalize", id), adminWallet, true, nil)
	require.Equal(t, fiber.StatusOK, status, "finalize response: %v", resp)
	require.Equal(t, float64(90), resp["per_ticket_payout"])

	// Each ticket holder claims the flat share; the winner tier pays nobody.
	for _, b := range buyers {
		status, resp = e.do(t, "POST", fmt.Sprintf("/competitions/%d/claims/participant", id), b, false, nil)
		require.Equal(t, fiber.StatusOK, status, "claim by %s: %v", b, resp)
		require.Equal(t, uint64(90), e.balanceOf(t, b))

		status, resp = e.do(t, "POST", fmt.Sprintf("/competitions/%d/claims/winner", id), b, false, nil)
		require.Equal(t, fiber.StatusForbidden, status)
		require.Equal(t, "caller is not the winner", resp["error"])
	}
}

func TestEmergencyPauseOverlay(t *testing.T) {
	e := newTestEnv(t)
	alice := wallet(0x01)

	id := e.createCompetition(t, createOpts{TicketPrice: 100, TreasuryPercent: 10, DeadlineIn: time.Hour})
	e.start(t, id)
	e.buyTickets(t, id, alice, 100, 2)

	status, resp := e.do(t, "POST", fmt.Sprintf("/admin/competitions/%d/pause", id), adminWallet, true, nil)
	require.Equal(t, fiber.StatusOK, status, "pause response: %v", resp)

	// Participation and proofs are blocked while paused.
	status, resp = e.do(t, "POST", fmt.Sprintf("/competitions/%d/tickets", id), alice, false, fiber.Map{"payment": 100})
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, "competition is paused", resp["error"])

	proofHash := common.BytesToHash(crypto.Keccak256([]byte("paused-proof")))
	status, resp = e.submitProof(t, id, alice, alice, proofHash)
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, "competition is paused", resp["error"])

	status, resp = e.do(t, "POST", fmt.Sprintf("/admin/competitions/%d/pause", id), adminWallet, true, nil)
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, "already paused", resp["error"])

	// Cancellation remains available while paused; the pause flag is
	// snapshotted and selects the emergency refund formula.
	status, resp = e.do(t, "POST", fmt.Sprintf("/admin/competitions/%d/cancel", id), adminWallet, true, nil)
	require.Equal(t, fiber.StatusOK, status, "cancel response: %v", resp)
	require.Equal(t, true, resp["paused_at_cancel"])

	// Emergency refund: pool 180 over 2 tickets = 90 each, x2 tickets.
	status, resp = e.do(t, "POST", fmt.Sprintf("/competitions/%d/claims/refund", id), alice, false, nil)
	require.Equal(t, fiber.StatusOK, status, "refund response: %v", resp)
	require.Equal(t, uint64(180), e.balanceOf(t, alice))
}

func TestCancelAndNormalRefund(t *testing.T) {
	e := newTestEnv(t)
	alice, carol := wallet(0x01), wallet(0x03)

	id := e.createCompetition(t, createOpts{TicketPrice: 100, TreasuryPercent: 10, DeadlineIn: time.Hour})
	e.start(t, id)
	e.buyTickets(t, id, alice, 100, 2)

	status, resp := e.do(t, "POST", fmt.Sprintf("/admin/competitions/%d/cancel", id), adminWallet, true, nil)
	require.Equal(t, fiber.StatusOK, status, "cancel response: %v", resp)
	require.Equal(t, false, resp["paused_at_cancel"])

	// Normal refund: ticket price minus treasury cut, per ticket.
	status, resp = e.do(t, "POST", fmt.Sprintf("/competitions/%d/claims/refund", id), alice, false, nil)
	require.Equal(t, fiber.StatusOK, status, "refund response: %v", resp)
	require.Equal(t, uint64(180), e.balanceOf(t, alice))

	// Exactly once per wallet.
	status, resp = e.do(t, "POST", fmt.Sprintf("/competitions/%d/claims/refund", id), alice, false, nil)
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, "already claimed", resp["error"])

	// No ticket, no refund.
	status, resp = e.do(t, "POST", fmt.Sprintf("/competitions/%d/claims/refund", id), carol, false, nil)
	require.Equal(t, fiber.StatusBadRequest, status)
	require.Equal(t, "caller has no ticket", resp["error"])

	// A settled competition cannot be cancelled again or restarted.
	status, resp = e.do(t, "POST", fmt.Sprintf("/admin/competitions/%d/cancel", id), adminWallet, true, nil)
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, "already cancelled", resp["error"])
}

func TestExtendDeadlineBounds(t *testing.T) {
	e := newTestEnv(t)

	id := e.createCompetition(t, createOpts{TicketPrice: 10, TreasuryPercent: 0, DeadlineIn: 2 * time.Hour})
	e.start(t, id)

	base := e.clock.Now().Add(2 * time.Hour).Unix()
	path := fmt.Sprintf("/admin/competitions/%d/extend-deadline", id)

	status, resp := e.do(t, "POST", path, adminWallet, true, fiber.Map{"new_deadline": base - 60})
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, "new deadline must be later than current deadline", resp["error"])

	status, resp = e.do(t, "POST", path, adminWallet, true,
		fiber.Map{"new_deadline": base + e.cfg.MaxDeadlineExtension + 1})
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, "extension exceeds maximum", resp["error"])

	status, resp = e.do(t, "POST", path, adminWallet, true, fiber.Map{"new_deadline": base + 3600})
	require.Equal(t, fiber.StatusOK, status, "extend response: %v", resp)
	require.Equal(t, float64(base+3600), resp["deadline"])
}

func TestAdminRoleRequired(t *testing.T) {
	e := newTestEnv(t)

	status, resp := e.do(t, "POST", "/admin/competitions", wallet(0x01), false, fiber.Map{
		"ticket_price": 10, "treasury_percent": 0,
		"treasury_wallet": wallet(0xFE), "verifier_address": e.verifierAddr,
		"deadline": e.clock.Now().Add(time.Hour).Unix(),
	})
	require.Equal(t, fiber.StatusForbidden, status)
	require.Equal(t, "admin role required", resp["error"])
}

func TestTopUpPrizePool(t *testing.T) {
	e := newTestEnv(t)

	id := e.createCompetition(t, createOpts{TicketPrice: 10, TreasuryPercent: 0, DeadlineIn: time.Hour})
	e.start(t, id)

	status, resp := e.do(t, "POST", fmt.Sprintf("/admin/competitions/%d/top-up", id), adminWallet, true, fiber.Map{"amount": 500})
	require.Equal(t, fiber.StatusOK, status, "top-up response: %v", resp)
	require.Equal(t, float64(500), resp["prize_pool"])

	status, resp = e.do(t, "POST", fmt.Sprintf("/admin/competitions/%d/cancel", id), adminWallet, true, nil)
	require.Equal(t, fiber.StatusOK, status)

	status, resp = e.do(t, "POST", fmt.Sprintf("/admin/competitions/%d/top-up", id), adminWallet, true, fiber.Map{"amount": 1})
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, "competition already settled", resp["error"])
}

func TestEscrowHealth(t *testing.T) {
	e := newTestEnv(t)
	alice := wallet(0x01)

	id := e.createCompetition(t, createOpts{TicketPrice: 100, TreasuryPercent: 10, DeadlineIn: time.Hour})
	e.start(t, id)
	e.buyTickets(t, id, alice, 100, 1)

	cancelled := e.createCompetition(t, createOpts{TicketPrice: 100, TreasuryPercent: 10, DeadlineIn: time.Hour})
	e.start(t, cancelled)
	e.buyTickets(t, cancelled, alice, 100, 1)
	status, _ := e.do(t, "POST", fmt.Sprintf("/admin/competitions/%d/cancel", cancelled), adminWallet, true, nil)
	require.Equal(t, fiber.StatusOK, status)

	status, resp := e.do(t, "GET", "/health/escrow", alice, false, nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, float64(2), resp["total_competitions"])
	require.Equal(t, float64(1), resp["active_competitions"])
	// Unsettled pool (90) + treasury balance (2 x 10 treasury cut).
	require.Equal(t, float64(110), resp["total_value_locked"])
	require.Equal(t, float64(1), resp["pending_refunds"])
}

func TestCompetitionReadsAndStateFilter(t *testing.T) {
	e := newTestEnv(t)

	id := e.createCompetition(t, createOpts{TicketPrice: 10, TreasuryPercent: 0, DeadlineIn: time.Hour})
	e.start(t, id)

	status, resp := e.do(t, "GET", fmt.Sprintf("/competitions/%d", id), wallet(0x01), false, nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, models.StateActive, resp["state"])

	status, _ = e.do(t, "GET", "/competitions/state/active", wallet(0x01), false, nil)
	require.Equal(t, fiber.StatusOK, status)

	status, resp = e.do(t, "GET", "/competitions/state/bogus", wallet(0x01), false, nil)
	require.Equal(t, fiber.StatusBadRequest, status)
	require.Equal(t, "unknown state", resp["error"])

	status, resp = e.do(t, "GET", "/competitions/999", wallet(0x01), false, nil)
	require.Equal(t, fiber.StatusNotFound, status)
	require.Equal(t, "competition not found", resp["error"])
}
