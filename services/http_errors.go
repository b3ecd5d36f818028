// services/http_errors.go
package services

import (
	"errors"
	"log"

	"stake-match-system/models"

	"github.com/gofiber/fiber/v2"
)

// respondDomainError maps domain sentinel errors onto HTTP statuses so every
// handler fails the same way. Unknown errors are logged and become a 500
// without leaking internals.
func respondDomainError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError

	switch {
	case errors.Is(err, models.ErrGameNotFound),
		errors.Is(err, models.ErrProposalNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, models.ErrNotJoinable),
		errors.Is(err, models.ErrNotActive),
		errors.Is(err, models.ErrNotCancellable),
		errors.Is(err, models.ErrTimeoutNotReached),
		errors.Is(err, models.ErrVotingClosed),
		errors.Is(err, models.ErrVotingStillOpen),
		errors.Is(err, models.ErrMoveExecuted),
		errors.Is(err, models.ErrDirectMovesDisabled),
		errors.Is(err, models.ErrConsensusDisabled):
		status = fiber.StatusConflict
	case errors.Is(err, models.ErrInvalidStake),
		errors.Is(err, models.ErrStakeMismatch),
		errors.Is(err, models.ErrZeroAmount),
		errors.Is(err, models.ErrInsufficientBalance):
		status = fiber.StatusBadRequest
	case errors.Is(err, models.ErrNotPlayer),
		errors.Is(err, models.ErrWrongTurn),
		errors.Is(err, models.ErrAlreadyVoted),
		errors.Is(err, models.ErrInsufficientShares),
		errors.Is(err, models.ErrSelfJoin):
		status = fiber.StatusForbidden
	case errors.Is(err, models.ErrTransferFailed):
		status = fiber.StatusBadGateway
	case errors.Is(err, models.ErrVaultEmpty):
		status = fiber.StatusInternalServerError
	}

	if status == fiber.StatusInternalServerError {
		log.Printf("❌ [API] unexpected error: %v", err)
		return c.Status(status).JSON(fiber.Map{"error": "internal error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
