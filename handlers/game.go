// handlers/game.go
package handlers

import (
	"stake-match-system/middleware"
	"stake-match-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupGameRoutes(app *fiber.App, gameService *services.GameService) {
	// 🔓 Public reads — no user context, but still behind Gateway auth
	app.Get("/games/active", gameService.GetActiveGames)
	app.Get("/games/:id", gameService.GetGame)
	app.Get("/games/:id/turn", gameService.GetCurrentTurn)
	app.Get("/games/:id/stake", gameService.GetStakeAmount)
	app.Get("/games/:id/moves", gameService.GetMoves)

	// 🔐 Mutations — require the Gateway-attached user context
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/games", gameService.CreateGame)
	secured.Post("/games/:id/join", gameService.JoinGame)
	secured.Post("/games/:id/move", gameService.ExecuteMove)
	secured.Post("/games/:id/timeout", gameService.ClaimTimeout)
	secured.Post("/games/:id/resign", gameService.Resign)
	secured.Post("/games/:id/settle", gameService.Settle)
	secured.Post("/games/:id/cancel", gameService.CancelGame)
}
