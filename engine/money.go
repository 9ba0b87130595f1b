package engine

import "math"

// Money math for the prize pool. All amounts are uint64 base units. Division
// floors; remainders are intentionally forfeited so the pool can never be
// over-distributed (accepted dust-loss policy). Any overflow fails with
// ErrArithmetic.

func checkedMul(a, b uint64) (uint64, error) {
	if a != 0 && b > math.MaxUint64/a {
		return 0, ErrArithmetic
	}
	return a * b, nil
}

// TreasurySplit divides a ticket price into the treasury cut and the
// pool-bound remainder. The two components always sum exactly to ticketPrice.
func TreasurySplit(ticketPrice, treasuryPercent uint64) (treasury, pool uint64, err error) {
	if treasuryPercent > 100 {
		return 0, 0, ErrOutOfRange
	}
	product, err := checkedMul(ticketPrice, treasuryPercent)
	if err != nil {
		return 0, 0, err
	}
	treasury = product / 100
	return treasury, ticketPrice - treasury, nil
}

// WinnerPrize is the winner's share of the pool, floor(pool * percent / 100).
func WinnerPrize(prizePool, winnerPercent uint64) (uint64, error) {
	product, err := checkedMul(prizePool, winnerPercent)
	if err != nil {
		return 0, err
	}
	return product / 100, nil
}

// ParticipantShareWithWinner splits the participant tier of the pool equally
// across the (totalTickets - 1) non-winner tickets. With one or zero tickets
// there are no non-winner tickets and the share is 0 (the winner takes the
// full pool via WinnerPrize).
func ParticipantShareWithWinner(prizePool, totalTickets, participantPercent uint64) (uint64, error) {
	if totalTickets <= 1 {
		return 0, nil
	}
	product, err := checkedMul(prizePool, participantPercent)
	if err != nil {
		return 0, err
	}
	return product / 100 / (totalTickets - 1), nil
}

// NoWinnerDistribution splits the full pool equally across all tickets.
func NoWinnerDistribution(prizePool, totalTickets uint64) uint64 {
	if totalTickets == 0 {
		return 0
	}
	return prizePool / totalTickets
}

// EmergencyRefundPerTicket splits the current pool equally across tickets
// sold. Used only when the competition was paused at cancellation time, where
// refunding the original ticket price could over-draw a topped-down pool.
func EmergencyRefundPerTicket(prizePool, totalTickets uint64) uint64 {
	if totalTickets == 0 {
		return 0
	}
	return prizePool / totalTickets
}

// NormalRefundAmount refunds the pool-bound portion of a ticket. The treasury
// fee is non-refundable on ordinary cancellation.
func NormalRefundAmount(ticketPrice, treasuryPercent uint64) (uint64, error) {
	_, pool, err := TreasurySplit(ticketPrice, treasuryPercent)
	return pool, err
}
