// handlers/staking.go
package handlers

import (
	"stake-match-system/middleware"
	"stake-match-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupStakingRoutes(app *fiber.App, ledgerService *services.LedgerService) {
	app.Get("/ledger/tvl", ledgerService.GetTotalValueLocked)
	app.Get("/games/:id/balance", ledgerService.GetGameBalance)

	secured := app.Group("/", middleware.UserContextMiddleware())
	secured.Post("/games/:id/harvest", ledgerService.HarvestYield)
}
