// handlers/competition_routes.go
package handlers

import (
	"competition-escrow-system/middleware"
	"competition-escrow-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupCompetitionRoutes wires the competition, claim and metadata endpoints.
// Every route requires wallet context from the gateway; mutation of the
// lifecycle and booster allocation additionally requires the admin role.
func SetupCompetitionRoutes(app *fiber.App,
	competitionService *services.CompetitionService,
	claimService *services.ClaimService,
	metadataService *services.MetadataService,
) {
	secured := app.Group("/", middleware.WalletContextMiddleware())

	// Reads
	secured.Get("/competitions", competitionService.GetAllCompetitions)
	secured.Get("/competitions/active", competitionService.GetActiveCompetitions)
	secured.Get("/competitions/expired", competitionService.GetExpiredCompetitions)
	secured.Get("/competitions/state/:state", competitionService.GetCompetitionsByState)
	secured.Get("/competitions/:id", competitionService.GetCompetition)
	secured.Get("/competitions/:id/metadata", metadataService.GetMetadata)
	secured.Get("/competitions/:id/token-uri", metadataService.RenderTokenURI)
	secured.Get("/health/escrow", competitionService.GetContractHealth)

	// Participant actions
	secured.Post("/competitions/:id/tickets", competitionService.BuyTicket)
	secured.Post("/competitions/:id/proofs", competitionService.SubmitProof)
	secured.Post("/competitions/:id/claims/winner", claimService.ClaimWinnerPrize)
	secured.Post("/competitions/:id/claims/participant", claimService.ClaimParticipantPrize)
	secured.Post("/competitions/:id/claims/refund", claimService.ClaimRefund)
	secured.Post("/competitions/:id/claims/booster", claimService.ClaimBoosterBoxes)

	// Balance & withdrawals
	secured.Get("/balance", claimService.GetClaimableBalance)
	secured.Post("/withdrawals", claimService.Withdraw)
	secured.Get("/withdrawals", claimService.GetWithdrawals)

	// Admin lifecycle control
	admin := app.Group("/admin", middleware.WalletContextMiddleware(), middleware.AdminOnlyMiddleware())
	admin.Post("/competitions", competitionService.CreateCompetition)
	admin.Post("/competitions/:id/start", competitionService.StartCompetition)
	admin.Post("/competitions/:id/end", competitionService.EndCompetition)
	admin.Post("/competitions/:id/finalize", competitionService.FinalizeCompetition)
	admin.Post("/competitions/:id/cancel", competitionService.CancelCompetition)
	admin.Post("/competitions/:id/pause", competitionService.EmergencyPause)
	admin.Post("/competitions/:id/unpause", competitionService.EmergencyUnpause)
	admin.Post("/competitions/:id/extend-deadline", competitionService.ExtendDeadline)
	admin.Post("/competitions/:id/top-up", competitionService.TopUpPrizePool)
	admin.Post("/competitions/:id/booster/add", claimService.AddBoosterQuantity)
	admin.Put("/competitions/:id/booster/quantity", claimService.SetBoosterQuantity)
	admin.Put("/competitions/:id/metadata", metadataService.SetMetadata)
}
