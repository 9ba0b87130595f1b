package engine

import "competition-escrow-system/models"

// Settlement amount computation. These functions are pure: they compute what a
// wallet is owed from a competition snapshot, and the services layer applies
// the credit plus the matching claim flag inside one transaction.

// WinnerPayout is the declared winner's prize for a finalized pool.
func WinnerPayout(c *models.Competition, cfg Config) (uint64, error) {
	return WinnerPrize(c.PrizePool, cfg.WinnerPercent)
}

// ParticipantPayoutPerTicket is the per-ticket amount a non-winner ticket
// earns at finalization: the participant tier split across non-winner tickets
// when a winner was declared, or the stored flat share when nobody won.
func ParticipantPayoutPerTicket(c *models.Competition, cfg Config) (uint64, error) {
	if c.WinnerDeclared {
		return ParticipantShareWithWinner(c.PrizePool, c.TotalTickets, cfg.ParticipantPercent)
	}
	return c.PerTicketPayout, nil
}

// FlatPayoutPerTicket is the equal split stored on the competition when it is
// finalized without a winner.
func FlatPayoutPerTicket(c *models.Competition) uint64 {
	return NoWinnerDistribution(c.PrizePool, c.TotalTickets)
}

// RefundPerTicket selects the refund formula from the pause flag snapshotted
// at cancellation: an equal split of the remaining pool under emergency pause,
// otherwise the pool-bound portion of the ticket price (treasury fee
// forfeited).
func RefundPerTicket(c *models.Competition) (uint64, error) {
	if c.PausedAtCancel {
		return EmergencyRefundPerTicket(c.PrizePool, c.TotalTickets), nil
	}
	return NormalRefundAmount(c.TicketPrice, c.TreasuryPercent)
}

// RefundEligible reports whether the competition is in a refundable state:
// cancelled, or finalized with no winner and nothing to distribute (treated
// as an implicit cancellation).
func RefundEligible(c *models.Competition) (bool, string) {
	if c.State == models.StateCancelled {
		return true, ""
	}
	if c.State == models.StateFinalized && !c.WinnerDeclared && c.PerTicketPayout == 0 {
		return true, ""
	}
	return false, "refunds only available after cancellation"
}
