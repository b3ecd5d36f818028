// services/game_service.go
package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"stake-match-system/models"
	"stake-match-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// MoveMode selects how move authority works for this deployment: either the
// player whose turn it is moves directly, or every move goes through a
// weighted ballot and direct moves are rejected.
type MoveMode string

const (
	MoveModeDirect    MoveMode = "direct"
	MoveModeConsensus MoveMode = "consensus"
)

// GameConfig carries the deployment constants of the orchestrator.
type GameConfig struct {
	MinStake uint64
	MaxStake uint64
	Timeout  time.Duration
	Mode     MoveMode
}

// GameConfigFromEnv loads the orchestrator constants, with defaults matching
// a casual deployment: stakes between 0.100 and 100.000, 24h move timeout.
func GameConfigFromEnv() GameConfig {
	cfg := GameConfig{
		MinStake: 100,
		MaxStake: 100 * utils.AmountScale,
		Timeout:  24 * time.Hour,
		Mode:     MoveModeDirect,
	}

	if v := os.Getenv("MIN_STAKE"); v != "" {
		amt, err := utils.ParseAmount(v)
		if err != nil {
			log.Fatalf("invalid MIN_STAKE: %v", err)
		}
		cfg.MinStake = amt
	}
	if v := os.Getenv("MAX_STAKE"); v != "" {
		amt, err := utils.ParseAmount(v)
		if err != nil {
			log.Fatalf("invalid MAX_STAKE: %v", err)
		}
		cfg.MaxStake = amt
	}
	if v := os.Getenv("GAME_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("invalid GAME_TIMEOUT: %v", err)
		}
		cfg.Timeout = d
	}
	if v := os.Getenv("MOVE_MODE"); v != "" {
		switch MoveMode(v) {
		case MoveModeDirect, MoveModeConsensus:
			cfg.Mode = MoveMode(v)
		default:
			log.Fatalf("invalid MOVE_MODE %q (want direct or consensus)", v)
		}
	}
	return cfg
}

// GameService owns the per-game state machine and mediates stake custody
// through the ledger. Every mutating call serializes on the service mutex and
// commits atomically; timeouts are checked lazily against the stored
// last-action timestamp, never by a background task.
type GameService struct {
	DB     *gorm.DB
	Ledger *LedgerService
	Config GameConfig

	mu sync.Mutex
}

func NewGameService(db *gorm.DB, ledger *LedgerService, cfg GameConfig) *GameService {
	return &GameService{DB: db, Ledger: ledger, Config: cfg}
}

// --- Core operations ---

// createGame opens a new pending game and pools the creator's stake.
func (s *GameService) createGame(player, name string, stake uint64) (*models.Game, error) {
	if stake < s.Config.MinStake || stake > s.Config.MaxStake {
		return nil, models.ErrInvalidStake
	}

	game := &models.Game{
		Name:         name,
		Slug:         slug.Make(name),
		PlayerOne:    player,
		StakeAmount:  stake,
		TotalPooled:  stake,
		State:        models.GameStatePending,
		LastActionAt: time.Now(),
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(game).Error; err != nil {
			return err
		}
		_, err := s.Ledger.DepositTx(tx, game.ID, player, stake)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[GAME] %d created by %s, stake %s", game.ID, player, utils.FormatAmount(stake))
	return game, nil
}

// joinGame fills the second seat with an exactly matching stake and starts
// the game, first move to the creator.
func (s *GameService) joinGame(id uint64, player string, stake uint64) (*models.Game, error) {
	var game models.Game
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&game, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrGameNotFound
			}
			return err
		}
		if game.State != models.GameStatePending {
			return models.ErrNotJoinable
		}
		if player == game.PlayerOne {
			return models.ErrSelfJoin
		}
		if stake != game.StakeAmount {
			return models.ErrStakeMismatch
		}

		game.PlayerTwo = &player
		game.State = models.GameStateActive
		game.CurrentTurn = game.PlayerOne
		game.TotalPooled += stake
		game.LastActionAt = time.Now()

		if err := tx.Save(&game).Error; err != nil {
			return err
		}
		_, err := s.Ledger.DepositTx(tx, game.ID, player, stake)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[GAME] %d joined by %s, pooled %s", game.ID, player, utils.FormatAmount(game.TotalPooled))
	return &game, nil
}

// executeMove applies a direct-turn move. Content is opaque; only turn order
// is enforced here.
func (s *GameService) executeMove(id uint64, player, move string) (*models.Game, error) {
	if s.Config.Mode != MoveModeDirect {
		return nil, models.ErrDirectMovesDisabled
	}

	var game models.Game
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&game, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrGameNotFound
			}
			return err
		}
		if game.State != models.GameStateActive {
			return models.ErrNotActive
		}
		if !game.IsPlayer(player) {
			return models.ErrNotPlayer
		}
		if player != game.CurrentTurn {
			return models.ErrWrongTurn
		}
		return s.applyMoveTx(tx, &game, move)
	})
	if err != nil {
		return nil, err
	}
	return &game, nil
}

// applyMoveTx records a move for the side whose turn it is and flips the
// turn. Shared by direct moves and ballot resolution.
func (s *GameService) applyMoveTx(tx *gorm.DB, game *models.Game, move string) error {
	mover := game.CurrentTurn
	game.MoveCount++
	game.CurrentTurn = game.Opponent(mover)
	game.LastActionAt = time.Now()

	record := models.GameMove{
		GameID:   game.ID,
		Seq:      game.MoveCount,
		Player:   mover,
		Move:     move,
		PlayedAt: game.LastActionAt,
	}
	if err := tx.Create(&record).Error; err != nil {
		return err
	}
	return tx.Save(game).Error
}

// resolveMoveTx is the consensus module's entry into the state machine: the
// winning ballot's move is applied as the current turn's move.
func (s *GameService) resolveMoveTx(tx *gorm.DB, gameID uint64, move string) (*models.Game, error) {
	var game models.Game
	if err := tx.First(&game, "id = ?", gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrGameNotFound
		}
		return nil, err
	}
	if game.State != models.GameStateActive {
		return nil, models.ErrNotActive
	}
	if err := s.applyMoveTx(tx, &game, move); err != nil {
		return nil, err
	}
	return &game, nil
}

// claimTimeout finishes a stalled game. The side whose turn it is has failed
// to act, so the pot goes to the other player.
func (s *GameService) claimTimeout(id uint64) (*models.Game, error) {
	var game models.Game
	var rec *models.SettlementRecord
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&game, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrGameNotFound
			}
			return err
		}
		if game.State != models.GameStateActive {
			return models.ErrNotActive
		}
		if time.Since(game.LastActionAt) <= s.Config.Timeout {
			return models.ErrTimeoutNotReached
		}

		winner := game.Opponent(game.CurrentTurn)
		var err error
		rec, err = s.settleTx(tx, &game, winner, "timeout")
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[GAME] %d timed out, pot to %s", game.ID, *game.Winner)
	s.archiveSettlement(rec)
	return &game, nil
}

// resign forfeits an active game; the opponent takes the pot.
func (s *GameService) resign(id uint64, player string) (*models.Game, error) {
	var game models.Game
	var rec *models.SettlementRecord
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&game, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrGameNotFound
			}
			return err
		}
		if game.State != models.GameStateActive {
			return models.ErrNotActive
		}
		if !game.IsPlayer(player) {
			return models.ErrNotPlayer
		}

		var err error
		rec, err = s.settleTx(tx, &game, game.Opponent(player), "resign")
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[GAME] %d: %s resigned, pot to %s", game.ID, player, *game.Winner)
	s.archiveSettlement(rec)
	return &game, nil
}

// settle completes an active game in favor of the given beneficiary and
// releases the full pooled value. A second call finds the game no longer
// active and fails without moving value again.
func (s *GameService) settle(id uint64, caller, beneficiary string) (*models.Game, error) {
	var game models.Game
	var rec *models.SettlementRecord
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&game, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrGameNotFound
			}
			return err
		}
		if game.State != models.GameStateActive {
			return models.ErrNotActive
		}
		if !game.IsPlayer(caller) {
			return models.ErrNotPlayer
		}
		if !game.IsPlayer(beneficiary) {
			return models.ErrNotPlayer
		}

		var err error
		rec, err = s.settleTx(tx, &game, beneficiary, "settle")
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[GAME] %d settled, pot to %s", game.ID, beneficiary)
	s.archiveSettlement(rec)
	return &game, nil
}

// cancelGame lets the creator back out before anyone joins; their stake plus
// whatever yield it accrued flows back.
func (s *GameService) cancelGame(id uint64, caller string) (*models.Game, error) {
	var game models.Game
	var rec *models.SettlementRecord
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&game, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrGameNotFound
			}
			return err
		}
		if game.State != models.GameStatePending {
			return models.ErrNotCancellable
		}
		if caller != game.PlayerOne {
			return models.ErrNotPlayer
		}

		game.State = models.GameStateCancelled
		game.LastActionAt = time.Now()
		if err := tx.Save(&game).Error; err != nil {
			return err
		}

		principal, yield, total, ref, err := s.Ledger.ReleaseAllTx(tx, game.ID, game.PlayerOne)
		if err != nil {
			return err
		}
		rec = &models.SettlementRecord{
			ID:          uuid.NewString(),
			GameID:      game.ID,
			Beneficiary: game.PlayerOne,
			Principal:   principal,
			Yield:       yield,
			Total:       total,
			Reason:      "cancel",
			TransferRef: ref,
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[GAME] %d cancelled by %s", game.ID, caller)
	s.archiveSettlement(rec)
	return &game, nil
}

// settleTx moves a game into completed and releases the pot exactly once.
func (s *GameService) settleTx(tx *gorm.DB, game *models.Game, winner, reason string) (*models.SettlementRecord, error) {
	game.State = models.GameStateCompleted
	game.Winner = &winner
	game.LastActionAt = time.Now()
	if err := tx.Save(game).Error; err != nil {
		return nil, err
	}

	principal, yield, total, ref, err := s.Ledger.ReleaseAllTx(tx, game.ID, winner)
	if err != nil {
		return nil, err
	}

	rec := &models.SettlementRecord{
		ID:          uuid.NewString(),
		GameID:      game.ID,
		Beneficiary: winner,
		Principal:   principal,
		Yield:       yield,
		Total:       total,
		Reason:      reason,
		TransferRef: ref,
	}
	return rec, tx.Create(rec).Error
}

// archiveSettlement ships the audit record to object storage, best effort:
// the pot is already paid, a failed archive only loses the offsite copy.
func (s *GameService) archiveSettlement(rec *models.SettlementRecord) {
	if rec == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		log.Printf("⚠️ failed to encode settlement %s for archive: %v", rec.ID, err)
		return
	}
	key := fmt.Sprintf("settlements/game-%d-%s.json", rec.GameID, rec.ID)
	if err := utils.ArchiveSettlement(key, payload); err != nil {
		log.Printf("⚠️ failed to archive settlement %s: %v", rec.ID, err)
	}
}

// --- HTTP handlers ---

// CreateGame opens a game with the caller's stake.
func (s *GameService) CreateGame(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	caller, _ := c.Locals("user_id").(string)
	var req struct {
		Name  string `json:"name"`
		Stake string `json:"stake"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name is required"})
	}
	stake, err := utils.ParseAmount(req.Stake)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	game, err := s.createGame(caller, req.Name, stake)
	if err != nil {
		return respondDomainError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(game)
}

// JoinGame fills the second seat of a pending game.
func (s *GameService) JoinGame(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	caller, _ := c.Locals("user_id").(string)
	id, err := utils.ParseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid game id"})
	}
	var req struct {
		Stake string `json:"stake"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	stake, err := utils.ParseAmount(req.Stake)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	game, err := s.joinGame(id, caller, stake)
	if err != nil {
		return respondDomainError(c, err)
	}
	return c.JSON(game)
}

// ExecuteMove plays a direct-turn move.
func (s *GameService) ExecuteMove(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	caller, _ := c.Locals("user_id").(string)
	id, err := utils.ParseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid game id"})
	}
	var req struct {
		Move string `json:"move"`
	}
	if err := c.BodyParser(&req); err != nil || req.Move == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "move is required"})
	}

	game, err := s.executeMove(id, caller, req.Move)
	if err != nil {
		return respondDomainError(c, err)
	}
	return c.JSON(game)
}

// ClaimTimeout finishes a game whose current player stalled past the limit.
func (s *GameService) ClaimTimeout(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := utils.ParseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid game id"})
	}
	game, err := s.claimTimeout(id)
	if err != nil {
		return respondDomainError(c, err)
	}
	return c.JSON(game)
}

// Resign forfeits an active game.
func (s *GameService) Resign(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	caller, _ := c.Locals("user_id").(string)
	id, err := utils.ParseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid game id"})
	}
	game, err := s.resign(id, caller)
	if err != nil {
		return respondDomainError(c, err)
	}
	return c.JSON(game)
}

// Settle completes an active game in favor of a named beneficiary.
func (s *GameService) Settle(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	caller, _ := c.Locals("user_id").(string)
	id, err := utils.ParseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid game id"})
	}
	var req struct {
		Beneficiary string `json:"beneficiary"`
	}
	if err := c.BodyParser(&req); err != nil || req.Beneficiary == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "beneficiary is required"})
	}

	game, err := s.settle(id, caller, req.Beneficiary)
	if err != nil {
		return respondDomainError(c, err)
	}
	return c.JSON(game)
}

// CancelGame withdraws a pending game before anyone joins.
func (s *GameService) CancelGame(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	caller, _ := c.Locals("user_id").(string)
	id, err := utils.ParseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid game id"})
	}
	game, err := s.cancelGame(id, caller)
	if err != nil {
		return respondDomainError(c, err)
	}
	return c.JSON(game)
}

// GetGame returns a single game.
func (s *GameService) GetGame(c *fiber.Ctx) error {
	id, err := utils.ParseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid game id"})
	}
	var game models.Game
	if err := s.DB.First(&game, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": models.ErrGameNotFound.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch game"})
	}
	return c.JSON(game)
}

// GetActiveGames lists games currently being played.
func (s *GameService) GetActiveGames(c *fiber.Ctx) error {
	var games []models.Game
	if err := s.DB.Where("state = ?", models.GameStateActive).Order("id").Find(&games).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch games"})
	}
	return c.JSON(games)
}

// GetCurrentTurn returns whose move it is.
func (s *GameService) GetCurrentTurn(c *fiber.Ctx) error {
	id, err := utils.ParseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid game id"})
	}
	var game models.Game
	if err := s.DB.First(&game, "id = ?", id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": models.ErrGameNotFound.Error()})
	}
	return c.JSON(fiber.Map{"game_id": game.ID, "state": game.State, "current_turn": game.CurrentTurn})
}

// GetStakeAmount returns the per-side stake of a game.
func (s *GameService) GetStakeAmount(c *fiber.Ctx) error {
	id, err := utils.ParseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid game id"})
	}
	var game models.Game
	if err := s.DB.First(&game, "id = ?", id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": models.ErrGameNotFound.Error()})
	}
	return c.JSON(fiber.Map{
		"game_id":      game.ID,
		"stake_amount": utils.FormatAmount(game.StakeAmount),
		"total_pooled": utils.FormatAmount(game.TotalPooled),
	})
}

// GetMoves returns a game's move log in play order.
func (s *GameService) GetMoves(c *fiber.Ctx) error {
	id, err := utils.ParseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid game id"})
	}
	var game models.Game
	if err := s.DB.First(&game, "id = ?", id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": models.ErrGameNotFound.Error()})
	}
	var moves []models.GameMove
	if err := s.DB.Where("game_id = ?", id).Order("seq").Find(&moves).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch moves"})
	}
	return c.JSON(moves)
}
