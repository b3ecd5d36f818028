// handlers/consensus.go
package handlers

import (
	"stake-match-system/middleware"
	"stake-match-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupConsensusRoutes(app *fiber.App, consensusService *services.ConsensusService) {
	app.Get("/games/:id/proposals", consensusService.GetActiveProposals)
	app.Get("/games/:id/proposals/:seq", consensusService.GetProposal)
	app.Get("/games/:id/proposals/:seq/votes/:voter", consensusService.GetVoteWeight)

	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/games/:id/proposals", consensusService.ProposeMove)
	secured.Post("/games/:id/proposals/:seq/vote", consensusService.Vote)
	secured.Post("/games/:id/resolve", consensusService.ExecuteTopMove)
}
