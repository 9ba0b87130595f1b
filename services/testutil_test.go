package services_test

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"competition-escrow-system/engine"
	"competition-escrow-system/handlers"
	"competition-escrow-system/models"
	"competition-escrow-system/services"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var adminWallet = wallet(0xAD)

// wallet builds a deterministic valid address from a single byte.
func wallet(n byte) string {
	var a common.Address
	a[19] = n
	return a.Hex()
}

type testEnv struct {
	app   *fiber.App
	db    *gorm.DB
	clock *clockwork.FakeClock
	cfg   engine.Config

	verifierKey  *ecdsa.PrivateKey
	verifierAddr string
}

// newTestEnv wires the full HTTP surface against an in-memory database and a
// fake clock, the same way main wires it against postgres.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Competition{},
		&models.CompetitionMetadata{},
		&models.Ticket{},
		&models.ClaimRecord{},
		&models.ProofRecord{},
		&models.ClaimableBalance{},
		&models.Withdrawal{},
		&models.BoosterAllocation{},
	))

	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	cfg := engine.DefaultConfig()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	app := fiber.New()
	competitionService := services.NewCompetitionService(db, cfg, clock)
	claimService := services.NewClaimService(db, cfg, clock)
	metadataService := services.NewMetadataService(db)
	handlers.SetupCompetitionRoutes(app, competitionService, claimService, metadataService)

	return &testEnv{
		app:          app,
		db:           db,
		clock:        clock,
		cfg:          cfg,
		verifierKey:  key,
		verifierAddr: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
}

// do performs one request as the given wallet and decodes the JSON response
// when it is an object.
func (e *testEnv) do(t *testing.T, method, path, caller string, admin bool, body any) (int, map[string]any) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Wallet-Address", caller)
	if admin {
		req.Header.Set("X-User-Roles", "admin")
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp.StatusCode, out
}

type createOpts struct {
	TicketPrice     uint64
	TreasuryPercent uint64
	DeadlineIn      time.Duration
	Booster         bool
	Name            string
}

// createCompetition creates and returns the new competition id.
func (e *testEnv) createCompetition(t *testing.T, opts createOpts) uint {
	t.Helper()

	body := fiber.Map{
		"ticket_price":     opts.TicketPrice,
		"treasury_percent": opts.TreasuryPercent,
		"treasury_wallet":  wallet(0xFE),
		"verifier_address": e.verifierAddr,
		"deadline":         e.clock.Now().Add(opts.DeadlineIn).Unix(),
		"name":             opts.Name,
	}
	if opts.Booster {
		body["booster_box_enabled"] = true
		body["booster_box_address"] = wallet(0xBB)
	}
	status, resp := e.do(t, "POST", "/admin/competitions", adminWallet, true, body)
	require.Equal(t, fiber.StatusCreated, status, "create response: %v", resp)
	return uint(resp["id"].(float64))
}

func (e *testEnv) start(t *testing.T, id uint) {
	t.Helper()
	status, resp := e.do(t, "POST", fmt.Sprintf("/admin/competitions/%d/start", id), adminWallet, true, nil)
	require.Equal(t, fiber.StatusOK, status, "start response: %v", resp)
}

func (e *testEnv) end(t *testing.T, id uint) {
	t.Helper()
	status, resp := e.do(t, "POST", fmt.Sprintf("/admin/competitions/%d/end", id), adminWallet, true, nil)
	require.Equal(t, fiber.StatusOK, status, "end response: %v", resp)
}

func (e *testEnv) buyTickets(t *testing.T, id uint, buyer string, price uint64, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		status, resp := e.do(t, "POST", fmt.Sprintf("/competitions/%d/tickets", id),
			buyer, false, fiber.Map{"payment": price})
		require.Equal(t, fiber.StatusCreated, status, "buy response: %v", resp)
	}
}

// signProof produces a hex signature over the completion digest for the
// participant, using the env's verifier key.
func (e *testEnv) signProof(t *testing.T, id uint, participant string, proofHash common.Hash) string {
	t.Helper()
	digest := engine.ProofDigest(uint64(id), common.HexToAddress(participant), proofHash)
	sig, err := crypto.Sign(digest.Bytes(), e.verifierKey)
	require.NoError(t, err)
	return hexutil.Encode(sig)
}

func (e *testEnv) submitProof(t *testing.T, id uint, submitter, participant string, proofHash common.Hash) (int, map[string]any) {
	t.Helper()
	return e.do(t, "POST", fmt.Sprintf("/competitions/%d/proofs", id), submitter, false, fiber.Map{
		"participant": participant,
		"proof_hash":  proofHash.Hex(),
		"signature":   e.signProof(t, id, participant, proofHash),
	})
}

func (e *testEnv) balanceOf(t *testing.T, caller string) uint64 {
	t.Helper()
	status, resp := e.do(t, "GET", "/balance", caller, false, nil)
	require.Equal(t, fiber.StatusOK, status)
	return uint64(resp["balance"].(float64))
}
