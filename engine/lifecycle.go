package engine

import (
	"fmt"

	"competition-escrow-system/models"
)

// Lifecycle guard: pure predicates deciding whether a requested transition or
// admin action is legal given the competition's current state and wall-clock
// time. Every function returns (allowed, reason) and never mutates anything —
// the orchestrator applies the transition only if allowed. Time is passed in
// as unix seconds, read once per operation by the caller.

// CanStart checks NotStarted -> Active.
func CanStart(c *models.Competition) (bool, string) {
	if c.State != models.StateNotStarted {
		return false, "already started"
	}
	if c.EmergencyPaused {
		return false, "competition is paused"
	}
	return true, ""
}

// CanEnd checks Active -> Ended. The deadline must have passed.
func CanEnd(c *models.Competition, now int64) (bool, string) {
	if c.State != models.StateActive {
		return false, "must be active"
	}
	if c.EmergencyPaused {
		return false, "competition is paused"
	}
	if now < c.Deadline {
		return false, "deadline not reached"
	}
	return true, ""
}

// CanFinalize checks Ended -> Finalized. With a declared winner the grace
// period after declaration must have elapsed; without one the no-winner wait
// period after the deadline must have elapsed.
func CanFinalize(c *models.Competition, now int64, cfg Config) (bool, string) {
	if c.State != models.StateEnded {
		return false, "must be ended"
	}
	if c.EmergencyPaused {
		return false, "competition is paused"
	}
	if c.WinnerDeclared {
		if now < c.WinnerDeclaredAt+cfg.GracePeriod {
			return false, "grace period active"
		}
		return true, ""
	}
	if now < c.Deadline+cfg.NoWinnerWaitPeriod {
		return false, "wait period active"
	}
	return true, ""
}

// CanCancel checks {NotStarted,Active} -> Cancelled. Cancellation is a refund
// path and is allowed even while paused.
func CanCancel(c *models.Competition) (bool, string) {
	switch c.State {
	case models.StateNotStarted, models.StateActive:
		return true, ""
	case models.StateEnded:
		return false, "cannot cancel after ending"
	case models.StateFinalized:
		return false, "already finalized"
	case models.StateCancelled:
		return false, "already cancelled"
	}
	return false, fmt.Sprintf("unknown state %q", c.State)
}

// CanSetPaused checks the pause toggle. Valid on any non-terminal state when
// the requested flag differs from the current one.
func CanSetPaused(c *models.Competition, paused bool) (bool, string) {
	switch c.State {
	case models.StateFinalized:
		return false, "already finalized"
	case models.StateCancelled:
		return false, "already cancelled"
	}
	if c.EmergencyPaused == paused {
		if paused {
			return false, "already paused"
		}
		return false, "not paused"
	}
	return true, ""
}

// CanExtendDeadline validates a bounded deadline extension: pre-Ended state,
// strictly later than the current deadline, within the maximum extension, and
// respecting the minimum future buffer.
func CanExtendDeadline(c *models.Competition, newDeadline, now int64, cfg Config) (bool, string) {
	switch c.State {
	case models.StateNotStarted, models.StateActive:
	default:
		return false, "competition already ended"
	}
	if c.EmergencyPaused {
		return false, "competition is paused"
	}
	if newDeadline <= c.Deadline {
		return false, "new deadline must be later than current deadline"
	}
	if newDeadline-c.Deadline > cfg.MaxDeadlineExtension {
		return false, "extension exceeds maximum"
	}
	if newDeadline < now+cfg.MinDeadlineBuffer {
		return false, "new deadline too close to now"
	}
	return true, ""
}

// CanBuyTicket checks the ticket-sale precondition: active, not paused,
// before the deadline, exact payment.
func CanBuyTicket(c *models.Competition, payment uint64, now int64) (bool, string) {
	if c.State != models.StateActive {
		return false, "must be active"
	}
	if c.EmergencyPaused {
		return false, "competition is paused"
	}
	if now >= c.Deadline {
		return false, "deadline passed"
	}
	if payment != c.TicketPrice {
		return false, fmt.Sprintf("payment must equal ticket price %d", c.TicketPrice)
	}
	return true, ""
}

// CanSubmitProof checks whether completion proofs are being accepted: the
// competition is running or ended but not yet settled, and not paused.
func CanSubmitProof(c *models.Competition) (bool, string) {
	switch c.State {
	case models.StateActive, models.StateEnded:
	default:
		return false, "competition not accepting proofs"
	}
	if c.EmergencyPaused {
		return false, "competition is paused"
	}
	return true, ""
}
