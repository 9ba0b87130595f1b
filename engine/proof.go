package engine

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"competition-escrow-system/models"
)

// Proof verification: a backend signer attests that a participant completed
// the collection condition by signing a digest binding the competition id,
// the participant and an opaque proof hash. Verification is agnostic to who
// submits the proof — relayed submissions are fine, the payout always goes to
// the named participant. Replay protection (one acceptance per
// (competition, proofHash)) lives in the orchestrator via ProofRecord.

// proofDomain is the fixed type/domain tag mixed into every proof digest so
// signatures cannot be reused for any other message schema.
const proofDomain = "CollectionCompletionProof-v1"

const signedMessagePrefix = "\x19Ethereum Signed Message:\n32"

// ProofDigest recomputes the digest the verifier is expected to have signed:
// an EIP-191 personal-sign wrapping of
// keccak256(domain || uint256(competitionID) || participant || proofHash).
func ProofDigest(competitionID uint64, participant common.Address, proofHash common.Hash) common.Hash {
	var id [32]byte
	binary.BigEndian.PutUint64(id[24:], competitionID)
	inner := crypto.Keccak256(
		[]byte(proofDomain),
		id[:],
		common.LeftPadBytes(participant.Bytes(), 32),
		proofHash.Bytes(),
	)
	return common.BytesToHash(crypto.Keccak256([]byte(signedMessagePrefix), inner))
}

// RecoverSigner recovers the address that produced a 65-byte [R||S||V]
// signature over digest. Both V in {0,1} and the Ethereum convention {27,28}
// are accepted.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyCompletionProof checks a signed completion claim against the
// competition's registered verifier address. Returns (valid, reason) — the
// caller rejects with the reason on failure.
func VerifyCompletionProof(c *models.Competition, participant common.Address, proofHash common.Hash, sig []byte) (bool, string) {
	if c.VerifierAddress == "" {
		return false, "no verifier registered"
	}
	digest := ProofDigest(uint64(c.ID), participant, proofHash)
	signer, err := RecoverSigner(digest, sig)
	if err != nil {
		return false, "invalid signature"
	}
	if signer != common.HexToAddress(c.VerifierAddress) {
		return false, "signature not from registered verifier"
	}
	return true, ""
}
