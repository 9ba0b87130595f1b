package engine

import "errors"

// Error taxonomy for the competition core. Guard predicates never return
// these for expected "not yet allowed" conditions — they return
// (allowed, reason) and the orchestrator turns the reason into a rejection.
// These sentinels cover the genuinely exceptional or caller-fault cases.
var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrArithmetic       = errors.New("arithmetic overflow")
	ErrOutOfRange       = errors.New("out of range")
)
